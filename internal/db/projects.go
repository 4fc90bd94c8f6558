package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bobarin/reelsmith/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const projectColumns = `
	id, user_id, title, prompt, status, style, media_source, brand_colors,
	voice_type, video_url, thumbnail_url, narration_script, error_message,
	has_audio, has_captions, duration, render_id, submitted_at, scenes,
	audio_url, created_at, updated_at
`

// terminalGuard keeps completed/failed rows from ever being rewritten.
const terminalGuard = `status NOT IN ('completed', 'failed')`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(row rowScanner) (*models.VideoProject, error) {
	p := &models.VideoProject{}
	err := row.Scan(
		&p.ID, &p.UserID, &p.Title, &p.Prompt, &p.Status, &p.Style,
		&p.MediaSource, &p.BrandColors, &p.VoiceType, &p.VideoURL,
		&p.ThumbnailURL, &p.NarrationScript, &p.ErrorMessage,
		&p.HasAudio, &p.HasCaptions, &p.Duration, &p.RenderID, &p.SubmittedAt,
		&p.Scenes, &p.AudioURL, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func (db *DB) CreateProject(ctx context.Context, project *models.VideoProject) error {
	query := `
		INSERT INTO video_projects (
			id, user_id, title, prompt, status, style, media_source,
			brand_colors, voice_type, narration_script, has_audio,
			has_captions, duration, scenes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		project.ID, project.UserID, project.Title, project.Prompt,
		project.Status, project.Style, project.MediaSource,
		project.BrandColors, project.VoiceType, project.NarrationScript,
		project.HasAudio, project.HasCaptions, project.Duration, project.Scenes,
	).Scan(&project.CreatedAt, &project.UpdatedAt)
}

func (db *DB) GetProject(ctx context.Context, id uuid.UUID) (*models.VideoProject, error) {
	query := `SELECT ` + projectColumns + ` FROM video_projects WHERE id = $1`

	project, err := scanProject(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return project, nil
}

// ListProjects returns a user's projects ordered by creation date (newest first).
// Supports optional status filter, limit, and offset for pagination.
func (db *DB) ListProjects(ctx context.Context, userID, status string, limit, offset int) ([]models.VideoProject, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseSelect := `SELECT ` + projectColumns + ` FROM video_projects WHERE user_id = $1`

	if status != "" {
		query := baseSelect + ` AND status = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`
		rows, err = db.QueryContext(ctx, query, userID, status, limit, offset)
	} else {
		query := baseSelect + ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		rows, err = db.QueryContext(ctx, query, userID, limit, offset)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	return collectProjects(rows)
}

// CountProjects returns the number of a user's projects, optionally filtered by status.
func (db *DB) CountProjects(ctx context.Context, userID, status string) (int, error) {
	var count int
	if status != "" {
		err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM video_projects WHERE user_id = $1 AND status = $2`,
			userID, status).Scan(&count)
		return count, err
	}
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM video_projects WHERE user_id = $1`, userID).Scan(&count)
	return count, err
}

// ListInFlightProjects returns processing projects that already have a render
// job id, i.e. the ones whose status poll must be resumed after a restart.
func (db *DB) ListInFlightProjects(ctx context.Context) ([]models.VideoProject, error) {
	query := `SELECT ` + projectColumns + `
		FROM video_projects
		WHERE status = ANY($1) AND render_id IS NOT NULL
		ORDER BY created_at
	`

	rows, err := db.QueryContext(ctx, query, pq.Array([]string{
		string(models.ProjectStatusPending),
		string(models.ProjectStatusProcessing),
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to list in-flight projects: %w", err)
	}
	defer rows.Close()

	return collectProjects(rows)
}

// ListStrandedProjects returns pending or processing projects without a
// render job that have not changed since before. Their run was lost between
// dequeue and submission, or their job never reached the queue.
func (db *DB) ListStrandedProjects(ctx context.Context, before time.Time) ([]models.VideoProject, error) {
	query := `SELECT ` + projectColumns + `
		FROM video_projects
		WHERE status = ANY($1) AND render_id IS NULL AND updated_at < $2
		ORDER BY created_at
	`

	rows, err := db.QueryContext(ctx, query, pq.Array([]string{
		string(models.ProjectStatusPending),
		string(models.ProjectStatusProcessing),
	}), before)
	if err != nil {
		return nil, fmt.Errorf("failed to list stranded projects: %w", err)
	}
	defer rows.Close()

	return collectProjects(rows)
}

func collectProjects(rows *sql.Rows) ([]models.VideoProject, error) {
	var projects []models.VideoProject
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// MarkProjectProcessing moves a pending project to processing. It reports
// false when the row was already past pending.
func (db *DB) MarkProjectProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE video_projects
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`
	return execApplied(db.ExecContext(ctx, query, models.ProjectStatusProcessing, id, models.ProjectStatusPending))
}

// SaveProjectScenes stores the resolved scene list. Once a project has
// scenes they are never replaced.
func (db *DB) SaveProjectScenes(ctx context.Context, id uuid.UUID, scenes models.Scenes) error {
	query := `
		UPDATE video_projects
		SET scenes = $1, duration = $2, updated_at = NOW()
		WHERE id = $3 AND (scenes IS NULL OR jsonb_array_length(scenes) = 0)
	`
	_, err := db.ExecContext(ctx, query, scenes, scenes.TotalDuration(), id)
	if err != nil {
		return fmt.Errorf("failed to save scenes: %w", err)
	}
	return nil
}

// SaveProjectNarration records the narration text actually used and the
// uploaded audio reference (nil when synthesis was skipped or failed).
func (db *DB) SaveProjectNarration(ctx context.Context, id uuid.UUID, script string, audioURL *string, hasAudio bool) error {
	query := `
		UPDATE video_projects
		SET narration_script = NULLIF($1, ''), audio_url = $2, has_audio = $3, updated_at = NOW()
		WHERE id = $4 AND ` + terminalGuard
	_, err := db.ExecContext(ctx, query, script, audioURL, hasAudio, id)
	if err != nil {
		return fmt.Errorf("failed to save narration: %w", err)
	}
	return nil
}

// SaveProjectRender records the submitted render job and its submission time.
func (db *DB) SaveProjectRender(ctx context.Context, id uuid.UUID, renderID string, duration float64, hasAudio, hasCaptions bool) error {
	query := `
		UPDATE video_projects
		SET render_id = $1, duration = $2, has_audio = $3, has_captions = $4,
			submitted_at = NOW(), updated_at = NOW()
		WHERE id = $5 AND ` + terminalGuard
	_, err := db.ExecContext(ctx, query, renderID, duration, hasAudio, hasCaptions, id)
	if err != nil {
		return fmt.Errorf("failed to save render: %w", err)
	}
	return nil
}

// MarkProjectCompleted sets the output URLs and the completed status. It
// reports false if the project had already reached a terminal state, in which
// case nothing was written.
func (db *DB) MarkProjectCompleted(ctx context.Context, id uuid.UUID, videoURL string, thumbnailURL *string) (bool, error) {
	query := `
		UPDATE video_projects
		SET status = $1, video_url = $2, thumbnail_url = $3, error_message = NULL, updated_at = NOW()
		WHERE id = $4 AND ` + terminalGuard
	return execApplied(db.ExecContext(ctx, query, models.ProjectStatusCompleted, videoURL, thumbnailURL, id))
}

// MarkProjectFailed records the failure message. Same terminal guard as
// MarkProjectCompleted.
func (db *DB) MarkProjectFailed(ctx context.Context, id uuid.UUID, message string) (bool, error) {
	query := `
		UPDATE video_projects
		SET status = $1, error_message = $2, video_url = NULL, updated_at = NOW()
		WHERE id = $3 AND ` + terminalGuard
	return execApplied(db.ExecContext(ctx, query, models.ProjectStatusFailed, message, id))
}

func execApplied(result sql.Result, err error) (bool, error) {
	if err != nil {
		return false, fmt.Errorf("failed to update project: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rows > 0, nil
}
