package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/bobarin/reelsmith/internal/models"
	"github.com/bobarin/reelsmith/internal/notify"
	"github.com/bobarin/reelsmith/internal/storage"
	"github.com/google/uuid"
)

// ProjectStore is the persistence the pipeline needs. Mark* methods apply
// only to non-terminal rows and report whether they did.
type ProjectStore interface {
	GetProject(ctx context.Context, id uuid.UUID) (*models.VideoProject, error)
	MarkProjectProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	SaveProjectScenes(ctx context.Context, id uuid.UUID, scenes models.Scenes) error
	SaveProjectNarration(ctx context.Context, id uuid.UUID, script string, audioURL *string, hasAudio bool) error
	SaveProjectRender(ctx context.Context, id uuid.UUID, renderID string, duration float64, hasAudio, hasCaptions bool) error
	MarkProjectCompleted(ctx context.Context, id uuid.UUID, videoURL string, thumbnailURL *string) (bool, error)
	MarkProjectFailed(ctx context.Context, id uuid.UUID, message string) (bool, error)
}

// Notifier receives milestone events. Emit must not block.
type Notifier interface {
	Emit(ev notify.Event)
}

// Deps wires the pipeline components.
type Deps struct {
	Store     ProjectStore
	Scenes    *SceneGenerator
	Footage   *FootageResolver
	Narration *NarrationSynthesizer
	Submitter *RenderSubmitter
	Objects   storage.ObjectStore
	Notifier  Notifier
}

// Pipeline runs one project from prompt to a submitted render.
type Pipeline struct {
	Deps
}

func New(deps Deps) *Pipeline {
	return &Pipeline{Deps: deps}
}

// Run executes scene generation, footage resolution, narration and render
// submission for a project, strictly in that order. It returns the render
// job to poll. Fatal errors mark the project failed before being returned.
func (p *Pipeline) Run(ctx context.Context, projectID uuid.UUID) (*SubmitResult, error) {
	project, err := p.Store.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project %s: %w", projectID, err)
	}

	if project.Status.IsTerminal() {
		log.Printf("[Pipeline] Project %s is already %s, skipping", projectID, project.Status)
		return nil, nil
	}
	if project.RenderID != nil && *project.RenderID != "" {
		log.Printf("[Pipeline] Project %s already submitted as render %s", projectID, *project.RenderID)
		return &SubmitResult{
			RenderID:    *project.RenderID,
			Duration:    project.Duration,
			HasAudio:    project.HasAudio,
			HasCaptions: project.HasCaptions,
		}, nil
	}

	applied, err := p.Store.MarkProjectProcessing(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if applied {
		p.Notifier.Emit(startedEvent(project))
	}

	start := time.Now()
	result, err := p.process(ctx, project)
	if err != nil {
		p.fail(ctx, project, err)
		return nil, err
	}

	log.Printf("[Pipeline] Project %s submitted in %v (render %s)", projectID, time.Since(start).Round(time.Millisecond), result.RenderID)
	return result, nil
}

func (p *Pipeline) process(ctx context.Context, project *models.VideoProject) (*SubmitResult, error) {
	scenes, err := p.resolveScenes(ctx, project)
	if err != nil {
		return nil, err
	}

	narrationText := ""
	if project.NarrationScript != nil {
		narrationText = *project.NarrationScript
	}

	narration, err := p.Narration.Synthesize(ctx, NarrationRequest{
		ProjectID: project.ID,
		UserID:    project.UserID,
		Script:    narrationText,
		VoiceID:   project.VoiceType,
		Scenes:    scenes,
		WantWords: project.HasCaptions,
	})

	var audioURL *string
	switch {
	case err != nil:
		log.Printf("[Pipeline] WARNING: project %s continues without audio: %v", project.ID, err)
		p.Notifier.Emit(warningEvent(project, err))
	case narration != nil:
		narrationText = narration.Script
		audioURL = &narration.AudioURL
	}
	if narrationText == "" {
		narrationText = DeriveNarration(scenes)
	}
	if err := p.Store.SaveProjectNarration(ctx, project.ID, narrationText, audioURL, audioURL != nil); err != nil {
		return nil, err
	}

	req := SubmitRequest{
		ProjectID:     project.ID.String(),
		Scenes:        scenes,
		Captions:      project.HasCaptions,
		NarrationText: narrationText,
		BrandColors:   project.BrandColors,
	}
	if audioURL != nil {
		req.AudioURL = *audioURL
	}
	if project.HasCaptions && narration != nil {
		req.CaptionFileURL = p.prepareCaptionFile(ctx, project.ID, narration)
	}

	result, err := p.Submitter.Submit(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := p.Store.SaveProjectRender(ctx, project.ID, result.RenderID, result.Duration, result.HasAudio, result.HasCaptions); err != nil {
		return nil, err
	}
	return result, nil
}

// resolveScenes reuses a previously resolved scene list (retries) or
// generates and resolves a new one.
func (p *Pipeline) resolveScenes(ctx context.Context, project *models.VideoProject) (models.Scenes, error) {
	if project.Scenes.Resolved() {
		log.Printf("[Pipeline] Project %s reusing %d resolved scenes", project.ID, len(project.Scenes))
		return project.Scenes, nil
	}

	generated, err := p.Scenes.Generate(ctx, project.Prompt, project.Style)
	if err != nil {
		return nil, err
	}

	footage, err := p.Footage.Resolve(ctx, project.MediaSource, generated)
	if err != nil {
		return nil, err
	}
	if len(footage.Dropped) > 0 {
		log.Printf("[Pipeline] Project %s dropped %d scenes without footage: %v", project.ID, len(footage.Dropped), footage.Dropped)
	}

	if err := p.Store.SaveProjectScenes(ctx, project.ID, footage.Scenes); err != nil {
		return nil, err
	}
	return footage.Scenes, nil
}

// prepareCaptionFile uploads an SRT built from the narration's word timings.
// It returns "" when no file could be prepared; captions then fall back to
// sentence overlays.
func (p *Pipeline) prepareCaptionFile(ctx context.Context, projectID uuid.UUID, narration *Narration) string {
	srt := BuildSRT(narration.Words)
	if srt == "" {
		return ""
	}
	url, err := p.Objects.Put(ctx, storage.ObjectKey(projectID, "captions.srt"), []byte(srt), "application/x-subrip")
	if err != nil {
		log.Printf("[Pipeline] WARNING: caption upload failed for project %s, using sentence overlays: %v", projectID, err)
		return ""
	}
	return url
}

// Abandon fails a project whose run stopped before a render was submitted.
// Projects that are terminal or already have a render are left alone. It
// reports whether the project was failed.
func (p *Pipeline) Abandon(ctx context.Context, projectID uuid.UUID) (bool, error) {
	project, err := p.Store.GetProject(ctx, projectID)
	if err != nil {
		return false, fmt.Errorf("failed to load project %s: %w", projectID, err)
	}
	if project.Status.IsTerminal() || (project.RenderID != nil && *project.RenderID != "") {
		return false, nil
	}

	cause := &InterruptedRunError{Status: project.Status, Since: project.UpdatedAt}
	return p.fail(ctx, project, cause), nil
}

// fail persists the failure even when ctx has been cancelled. It reports
// whether this call applied the transition.
func (p *Pipeline) fail(ctx context.Context, project *models.VideoProject, cause error) bool {
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	message := cause.Error()
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		message = "interrupted: " + message
	}

	applied, err := p.Store.MarkProjectFailed(failCtx, project.ID, message)
	if err != nil {
		log.Printf("[Pipeline] ERROR: could not mark project %s failed (%s): %v", project.ID, message, err)
		return false
	}
	if applied {
		log.Printf("[Pipeline] Project %s failed: %s", project.ID, message)
		p.Notifier.Emit(failedEvent(project, cause))
	}
	return applied
}

func startedEvent(project *models.VideoProject) notify.Event {
	return notify.Event{
		Milestone:    models.MilestoneStarted,
		UserID:       project.UserID,
		ProjectID:    project.ID,
		ProjectTitle: project.Title,
	}
}

func completedEvent(project *models.VideoProject, videoURL string) notify.Event {
	return notify.Event{
		Milestone:    models.MilestoneCompleted,
		UserID:       project.UserID,
		ProjectID:    project.ID,
		ProjectTitle: project.Title,
		VideoURL:     videoURL,
	}
}

func failedEvent(project *models.VideoProject, cause error) notify.Event {
	return notify.Event{
		Milestone:    models.MilestoneFailed,
		UserID:       project.UserID,
		ProjectID:    project.ID,
		ProjectTitle: project.Title,
		Error:        cause.Error(),
		Remediation:  Remediation(cause),
	}
}

func warningEvent(project *models.VideoProject, cause error) notify.Event {
	return notify.Event{
		Milestone:    models.MilestoneWarning,
		UserID:       project.UserID,
		ProjectID:    project.ID,
		ProjectTitle: project.Title,
		Error:        cause.Error(),
		Remediation:  Remediation(cause),
	}
}
