package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by stores when a row does not exist.
var ErrNotFound = errors.New("not found")

// Enums
type ProjectStatus string

const (
	ProjectStatusPending    ProjectStatus = "pending"
	ProjectStatusProcessing ProjectStatus = "processing"
	ProjectStatusCompleted  ProjectStatus = "completed"
	ProjectStatusFailed     ProjectStatus = "failed"
)

// IsTerminal reports whether no further transitions are expected.
func (s ProjectStatus) IsTerminal() bool {
	return s == ProjectStatusCompleted || s == ProjectStatusFailed
}

// IsValid reports whether s is one of the known statuses.
func (s ProjectStatus) IsValid() bool {
	switch s {
	case ProjectStatusPending, ProjectStatusProcessing, ProjectStatusCompleted, ProjectStatusFailed:
		return true
	}
	return false
}

func (s ProjectStatus) rank() int {
	switch s {
	case ProjectStatusPending:
		return 0
	case ProjectStatusProcessing:
		return 1
	case ProjectStatusCompleted, ProjectStatusFailed:
		return 2
	}
	return -1
}

// CanAdvanceTo reports whether moving from s to next respects
// pending -> processing -> {completed | failed}. Terminal states never move.
func (s ProjectStatus) CanAdvanceTo(next ProjectStatus) bool {
	if s.IsTerminal() || !next.IsValid() {
		return false
	}
	return next.rank() > s.rank()
}

type NotificationType string

const (
	NotificationTypeVideo   NotificationType = "video"
	NotificationTypePayment NotificationType = "payment"
	NotificationTypeAccount NotificationType = "account"
)

// Milestone names one user-facing pipeline event.
type Milestone string

const (
	MilestoneStarted   Milestone = "started"
	MilestoneCompleted Milestone = "completed"
	MilestoneFailed    Milestone = "failed"
	MilestoneWarning   Milestone = "warning"
)

// VoiceNone skips narration entirely.
const VoiceNone = "none"

// DefaultSceneDuration is used when the generator does not specify one.
const DefaultSceneDuration = 5.0

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONB source %T", value)
	}
	return json.Unmarshal(data, j)
}

// SceneDescriptor is one logical segment of the target video.
type SceneDescriptor struct {
	ID          string   `json:"id"`
	Title       string   `json:"scene"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	FootageURL  *string  `json:"footage_url,omitempty"`
	Duration    float64  `json:"duration"`
}

// HasFootage reports whether the scene has a resolved clip.
func (s SceneDescriptor) HasFootage() bool {
	return s.FootageURL != nil && *s.FootageURL != ""
}

// Scenes is the serialized scene list stored on a project row.
type Scenes []SceneDescriptor

func (s Scenes) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

func (s *Scenes) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported scenes source %T", value)
	}
	return json.Unmarshal(data, s)
}

// Resolved reports whether the list is non-empty and every scene has footage.
func (s Scenes) Resolved() bool {
	if len(s) == 0 {
		return false
	}
	for _, scene := range s {
		if !scene.HasFootage() {
			return false
		}
	}
	return true
}

// TotalDuration is the sum of scene durations in seconds.
func (s Scenes) TotalDuration() float64 {
	total := 0.0
	for _, scene := range s {
		total += scene.Duration
	}
	return total
}

// Models

// VideoProject is the persisted record of one render attempt.
type VideoProject struct {
	ID              uuid.UUID     `json:"id"`
	UserID          string        `json:"user_id"`
	Title           string        `json:"title"`
	Prompt          string        `json:"prompt"`
	Status          ProjectStatus `json:"status"`
	Style           string        `json:"style"`
	MediaSource     string        `json:"media_source"`
	BrandColors     string        `json:"brand_colors"`
	VoiceType       string        `json:"voice_type"`
	VideoURL        *string       `json:"video_url,omitempty"`
	ThumbnailURL    *string       `json:"thumbnail_url,omitempty"`
	NarrationScript *string       `json:"narration_script,omitempty"`
	ErrorMessage    *string       `json:"error_message,omitempty"`
	HasAudio        bool          `json:"has_audio"`
	HasCaptions     bool          `json:"has_captions"`
	Duration        float64       `json:"duration"`
	RenderID        *string       `json:"render_id,omitempty"`
	SubmittedAt     *time.Time    `json:"submitted_at,omitempty"`
	Scenes          Scenes        `json:"scenes,omitempty"`
	AudioURL        *string       `json:"audio_url,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Notification is a user-facing event record.
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	UserID    string           `json:"user_id"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	IsRead    bool             `json:"is_read"`
	Metadata  JSONB            `json:"metadata"`
	CreatedAt time.Time        `json:"created_at"`
}

// DedupeKey identifies one milestone of one project.
func DedupeKey(projectID uuid.UUID, milestone Milestone) string {
	return fmt.Sprintf("project:%s:%s", projectID, milestone)
}

// DTOs for API requests/responses

type CreateProjectRequest struct {
	Title       *string `json:"title,omitempty"`
	Prompt      string  `json:"prompt"`
	Style       *string `json:"style,omitempty"`        // Default: "cinematic"
	MediaSource *string `json:"media_source,omitempty"` // Default: env DEFAULT_MEDIA_SOURCE
	BrandColors *string `json:"brand_colors,omitempty"` // Caption colour, e.g. "#FFFFFF"
	VoiceType   *string `json:"voice_type,omitempty"`   // "none" disables narration
	Script      *string `json:"script,omitempty"`       // User-authored narration
	Captions    *bool   `json:"captions,omitempty"`
}

type CreateProjectResponse struct {
	ProjectID uuid.UUID     `json:"project_id"`
	Status    ProjectStatus `json:"status"`
}

// ProjectSummary is a lightweight DTO for the list endpoint, without scenes.
type ProjectSummary struct {
	ID           uuid.UUID     `json:"id"`
	Title        string        `json:"title"`
	Status       ProjectStatus `json:"status"`
	VideoURL     *string       `json:"video_url,omitempty"`
	ThumbnailURL *string       `json:"thumbnail_url,omitempty"`
	Duration     float64       `json:"duration"`
	SceneCount   int           `json:"scene_count"`
	ErrorMessage *string       `json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

type ListProjectsResponse struct {
	Projects []ProjectSummary `json:"projects"`
	Total    int              `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

type ListNotificationsResponse struct {
	Notifications []Notification `json:"notifications"`
	Unread        int            `json:"unread"`
}
