package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bobarin/reelsmith/internal/models"
	"github.com/bobarin/reelsmith/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	defaultStyle      = "cinematic"
	defaultVoice      = "default"
	maxTitleLength    = 60
	healthCheckBudget = 30 * time.Second
)

// Store is the persistence the HTTP surface reads and writes.
type Store interface {
	CreateProject(ctx context.Context, project *models.VideoProject) error
	GetProject(ctx context.Context, id uuid.UUID) (*models.VideoProject, error)
	ListProjects(ctx context.Context, userID, status string, limit, offset int) ([]models.VideoProject, error)
	CountProjects(ctx context.Context, userID, status string) (int, error)
	MarkProjectFailed(ctx context.Context, id uuid.UUID, message string) (bool, error)

	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, error)
	CountUnreadNotifications(ctx context.Context, userID string) (int, error)
	MarkNotificationRead(ctx context.Context, id uuid.UUID, userID string) error
	DeleteNotification(ctx context.Context, id uuid.UUID, userID string) error
}

// Enqueuer schedules the render pipeline for a project.
type Enqueuer interface {
	EnqueueRenderVideo(ctx context.Context, projectID uuid.UUID) error
}

// CreditSource reports the render account balance.
type CreditSource interface {
	GetCredits(ctx context.Context) (float64, error)
}

type Handler struct {
	store              Store
	queue              Enqueuer
	credits            CreditSource
	hub                *Hub
	health             *services.HealthChecker
	providers          map[string]services.Pinger
	defaultMediaSource string
}

func NewHandler(store Store, q Enqueuer, credits CreditSource, hub *Hub) *Handler {
	return &Handler{
		store:              store,
		queue:              q,
		credits:            credits,
		hub:                hub,
		health:             services.NewHealthChecker(),
		defaultMediaSource: "pexels",
	}
}

// WithProviders enables GET /v1/providers/health for the given clients.
func (h *Handler) WithProviders(checker *services.HealthChecker, providers map[string]services.Pinger) *Handler {
	if checker != nil {
		h.health = checker
	}
	h.providers = providers
	return h
}

// WithDefaultMediaSource sets the footage source used when a request omits one.
func (h *Handler) WithDefaultMediaSource(source string) *Handler {
	if source != "" {
		h.defaultMediaSource = source
	}
	return h
}

// CreateProject handles POST /v1/projects
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req models.CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		respondError(w, http.StatusBadRequest, "Prompt is required")
		return
	}

	project := &models.VideoProject{
		ID:          uuid.New(),
		UserID:      UserID(r.Context()),
		Title:       titleFromPrompt(req.Prompt),
		Prompt:      req.Prompt,
		Status:      models.ProjectStatusPending,
		Style:       defaultStyle,
		MediaSource: h.defaultMediaSource,
		VoiceType:   defaultVoice,
		HasAudio:    true,
		HasCaptions: true,
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) != "" {
		project.Title = strings.TrimSpace(*req.Title)
	}
	if req.Style != nil && *req.Style != "" {
		project.Style = *req.Style
	}
	if req.MediaSource != nil && *req.MediaSource != "" {
		project.MediaSource = strings.ToLower(*req.MediaSource)
	}
	if req.BrandColors != nil {
		project.BrandColors = *req.BrandColors
	}
	if req.VoiceType != nil && *req.VoiceType != "" {
		project.VoiceType = *req.VoiceType
		project.HasAudio = project.VoiceType != models.VoiceNone
	}
	if req.Script != nil && strings.TrimSpace(*req.Script) != "" {
		script := strings.TrimSpace(*req.Script)
		project.NarrationScript = &script
	}
	if req.Captions != nil {
		project.HasCaptions = *req.Captions
	}

	h.createAndEnqueue(w, r, project)
}

// RetryProject handles POST /v1/projects/{id}/retry. A failed project is
// retried as a new row; resolved scenes are carried over so the new attempt
// starts at narration.
func (h *Handler) RetryProject(w http.ResponseWriter, r *http.Request) {
	original, ok := h.loadOwnedProject(w, r)
	if !ok {
		return
	}

	if original.Status != models.ProjectStatusFailed {
		respondError(w, http.StatusConflict, "Only failed projects can be retried")
		return
	}

	project := &models.VideoProject{
		ID:          uuid.New(),
		UserID:      original.UserID,
		Title:       original.Title,
		Prompt:      original.Prompt,
		Status:      models.ProjectStatusPending,
		Style:       original.Style,
		MediaSource: original.MediaSource,
		BrandColors: original.BrandColors,
		VoiceType:   original.VoiceType,
		HasAudio:    original.VoiceType != models.VoiceNone,
		HasCaptions: original.HasCaptions,
	}
	if original.Scenes.Resolved() {
		project.Scenes = original.Scenes
		project.Duration = original.Scenes.TotalDuration()
		project.NarrationScript = original.NarrationScript
	}

	log.Printf("[API] Retrying project %s as %s (reusing scenes: %v)", original.ID, project.ID, project.Scenes != nil)
	h.createAndEnqueue(w, r, project)
}

func (h *Handler) createAndEnqueue(w http.ResponseWriter, r *http.Request, project *models.VideoProject) {
	if err := h.store.CreateProject(r.Context(), project); err != nil {
		log.Printf("[API] Failed to create project: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to create project")
		return
	}

	if err := h.queue.EnqueueRenderVideo(r.Context(), project.ID); err != nil {
		log.Printf("[API] Failed to enqueue project %s: %v", project.ID, err)
		// Nothing will pick the row up, so record it as failed
		failCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 10*time.Second)
		defer cancel()
		if _, markErr := h.store.MarkProjectFailed(failCtx, project.ID, "failed to schedule render: "+err.Error()); markErr != nil {
			log.Printf("[API] ERROR: could not mark project %s failed: %v", project.ID, markErr)
		}
		respondError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	respondJSON(w, http.StatusCreated, models.CreateProjectResponse{
		ProjectID: project.ID,
		Status:    project.Status,
	})
}

// ListProjects handles GET /v1/projects
// Query params:
//   - status: filter by project status (pending, processing, completed, failed)
//   - limit:  max results per page (default 20, max 100)
//   - offset: number of results to skip (default 0)
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	statusFilter := r.URL.Query().Get("status")
	if statusFilter != "" && !models.ProjectStatus(statusFilter).IsValid() {
		respondError(w, http.StatusBadRequest, "Invalid status filter. Allowed: pending, processing, completed, failed")
		return
	}

	limit := queryInt(r, "limit", 20, 1)
	if limit > 100 {
		limit = 100
	}
	offset := queryInt(r, "offset", 0, 0)
	userID := UserID(r.Context())

	total, err := h.store.CountProjects(r.Context(), userID, statusFilter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to count projects")
		return
	}

	projects, err := h.store.ListProjects(r.Context(), userID, statusFilter, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list projects")
		return
	}

	summaries := make([]models.ProjectSummary, 0, len(projects))
	for _, project := range projects {
		summaries = append(summaries, models.ProjectSummary{
			ID:           project.ID,
			Title:        project.Title,
			Status:       project.Status,
			VideoURL:     project.VideoURL,
			ThumbnailURL: project.ThumbnailURL,
			Duration:     project.Duration,
			SceneCount:   len(project.Scenes),
			ErrorMessage: project.ErrorMessage,
			CreatedAt:    project.CreatedAt,
			UpdatedAt:    project.UpdatedAt,
		})
	}

	respondJSON(w, http.StatusOK, models.ListProjectsResponse{
		Projects: summaries,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

// GetProject handles GET /v1/projects/{id}
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadOwnedProject(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, project)
}

// loadOwnedProject resolves {id} to a project of the requesting user.
// Projects of other users are reported as not found.
func (h *Handler) loadOwnedProject(w http.ResponseWriter, r *http.Request) (*models.VideoProject, bool) {
	projectID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid project ID")
		return nil, false
	}

	project, err := h.store.GetProject(r.Context(), projectID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Project not found")
		} else {
			respondError(w, http.StatusInternalServerError, "Failed to get project")
		}
		return nil, false
	}
	if project.UserID != UserID(r.Context()) {
		respondError(w, http.StatusNotFound, "Project not found")
		return nil, false
	}
	return project, true
}

// ListNotifications handles GET /v1/notifications?unread=true&limit=50
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	limit := queryInt(r, "limit", 50, 1)
	if limit > 200 {
		limit = 200
	}

	notifications, err := h.store.ListNotifications(r.Context(), userID, unreadOnly, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list notifications")
		return
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}

	unread, err := h.store.CountUnreadNotifications(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to count notifications")
		return
	}

	respondJSON(w, http.StatusOK, models.ListNotificationsResponse{
		Notifications: notifications,
		Unread:        unread,
	})
}

// UnreadCount handles GET /v1/notifications/unread-count
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	unread, err := h.store.CountUnreadNotifications(r.Context(), UserID(r.Context()))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to count notifications")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"unread": unread})
}

// MarkNotificationRead handles PATCH /v1/notifications/{id}/read
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	h.updateNotification(w, r, h.store.MarkNotificationRead)
}

// DeleteNotification handles DELETE /v1/notifications/{id}
func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	h.updateNotification(w, r, h.store.DeleteNotification)
}

func (h *Handler) updateNotification(w http.ResponseWriter, r *http.Request, apply func(context.Context, uuid.UUID, string) error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid notification ID")
		return
	}

	if err := apply(r.Context(), id, UserID(r.Context())); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Notification not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to update notification")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// StreamNotifications handles GET /v1/notifications/stream (websocket).
func (h *Handler) StreamNotifications(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "Notification stream is disabled")
		return
	}
	h.hub.Serve(w, r, UserID(r.Context()))
}

// GetRenderCredits handles GET /v1/render/credits
func (h *Handler) GetRenderCredits(w http.ResponseWriter, r *http.Request) {
	credits, err := h.credits.GetCredits(r.Context())
	if err != nil {
		log.Printf("[API] Credit lookup failed: %v", err)
		respondError(w, http.StatusBadGateway, "Failed to fetch render credits")
		return
	}
	respondJSON(w, http.StatusOK, map[string]float64{"credits": credits})
}

// GetProvidersHealth handles GET /v1/providers/health. It responds 503 when
// any configured provider fails validation.
func (h *Handler) GetProvidersHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckBudget)
	defer cancel()

	results := h.health.CheckProviders(ctx, h.providers)

	status := http.StatusOK
	for _, res := range results {
		if !res.OK {
			status = http.StatusServiceUnavailable
			break
		}
	}
	respondJSON(w, status, map[string]interface{}{"providers": results})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func titleFromPrompt(prompt string) string {
	prompt = strings.Join(strings.Fields(prompt), " ")
	if utf8.RuneCountInString(prompt) <= maxTitleLength {
		return prompt
	}
	runes := []rune(prompt)
	return strings.TrimSpace(string(runes[:maxTitleLength])) + "..."
}

func queryInt(r *http.Request, key string, def, min int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= min {
			return parsed
		}
	}
	return def
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
