package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bobarin/reelsmith/internal/models"
	"github.com/bobarin/reelsmith/internal/services"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type memStore struct {
	mu            sync.Mutex
	projects      map[uuid.UUID]*models.VideoProject
	notifications map[uuid.UUID]*models.Notification
	createErr     error
}

func newMemStore() *memStore {
	return &memStore{
		projects:      make(map[uuid.UUID]*models.VideoProject),
		notifications: make(map[uuid.UUID]*models.Notification),
	}
}

func (s *memStore) CreateProject(ctx context.Context, p *models.VideoProject) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *memStore) GetProject(ctx context.Context, id uuid.UUID) (*models.VideoProject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, models.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) ListProjects(ctx context.Context, userID, status string, limit, offset int) ([]models.VideoProject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.VideoProject
	for _, p := range s.projects {
		if p.UserID == userID && (status == "" || string(p.Status) == status) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *memStore) CountProjects(ctx context.Context, userID, status string) (int, error) {
	projects, _ := s.ListProjects(ctx, userID, status, 0, 0)
	return len(projects), nil
}

func (s *memStore) MarkProjectFailed(ctx context.Context, id uuid.UUID, message string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok || p.Status.IsTerminal() {
		return false, nil
	}
	p.Status = models.ProjectStatusFailed
	p.ErrorMessage = &message
	return true, nil
}

func (s *memStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for _, n := range s.notifications {
		if n.UserID == userID && (!unreadOnly || !n.IsRead) {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (s *memStore) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	unread, _ := s.ListNotifications(ctx, userID, true, 0)
	return len(unread), nil
}

func (s *memStore) MarkNotificationRead(ctx context.Context, id uuid.UUID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return fmt.Errorf("notification: %w", models.ErrNotFound)
	}
	n.IsRead = true
	return nil
}

func (s *memStore) DeleteNotification(ctx context.Context, id uuid.UUID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return fmt.Errorf("notification: %w", models.ErrNotFound)
	}
	delete(s.notifications, id)
	return nil
}

type fakeQueue struct {
	enqueued []uuid.UUID
	err      error
}

func (q *fakeQueue) EnqueueRenderVideo(ctx context.Context, projectID uuid.UUID) error {
	if q.err != nil {
		return q.err
	}
	q.enqueued = append(q.enqueued, projectID)
	return nil
}

type fakeCredits struct {
	credits float64
	err     error
}

func (c fakeCredits) GetCredits(ctx context.Context) (float64, error) { return c.credits, c.err }

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testEnv struct {
	store  *memStore
	queue  *fakeQueue
	hub    *Hub
	server *httptest.Server
}

func newTestEnv(t *testing.T, apiKey string) *testEnv {
	t.Helper()
	env := &testEnv{store: newMemStore(), queue: &fakeQueue{}, hub: NewHub()}
	h := NewHandler(env.store, env.queue, fakeCredits{credits: 12.5}, env.hub).
		WithDefaultMediaSource("pixabay").
		WithProviders(&services.HealthChecker{Attempts: 1}, map[string]services.Pinger{
			"shotstack": pingFunc(func(context.Context) error { return nil }),
		})
	env.server = httptest.NewServer(NewRouter(h, RouterConfig{BackendAPIKey: apiKey}))
	t.Cleanup(env.server.Close)
	return env
}

func (env *testEnv) do(t *testing.T, method, path, userID string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, env.server.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	env := newTestEnv(t, "secret")

	tests := []struct {
		name   string
		header map[string]string
		want   int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong", map[string]string{"X-API-Key": "nope"}, http.StatusForbidden},
		{"header", map[string]string{"X-API-Key": "secret"}, http.StatusOK},
		{"bearer", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/v1/render/credits", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	resp, err := http.Get(env.server.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health should be public, got %d", resp.StatusCode)
	}
}

func TestRequireUser(t *testing.T) {
	env := newTestEnv(t, "")
	resp := env.do(t, http.MethodGet, "/v1/projects", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestCreateProjectDefaults(t *testing.T) {
	env := newTestEnv(t, "")

	resp := env.do(t, http.MethodPost, "/v1/projects", "u1", map[string]string{
		"prompt": "  A day in the life of a lighthouse keeper  ",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var out models.CreateProjectResponse
	decode(t, resp, &out)

	if out.Status != models.ProjectStatusPending {
		t.Errorf("status = %s, want pending", out.Status)
	}
	if len(env.queue.enqueued) != 1 || env.queue.enqueued[0] != out.ProjectID {
		t.Fatalf("expected project to be enqueued, got %v", env.queue.enqueued)
	}

	p := env.store.projects[out.ProjectID]
	if p.UserID != "u1" {
		t.Errorf("user = %q", p.UserID)
	}
	if p.Prompt != "A day in the life of a lighthouse keeper" {
		t.Errorf("prompt = %q", p.Prompt)
	}
	if p.Title != p.Prompt {
		t.Errorf("title = %q, want prompt", p.Title)
	}
	if p.Style != "cinematic" || p.MediaSource != "pixabay" || p.VoiceType != "default" || !p.HasCaptions || !p.HasAudio {
		t.Errorf("unexpected defaults: %+v", p)
	}
	if p.NarrationScript != nil {
		t.Errorf("expected no script, got %q", *p.NarrationScript)
	}
}

func TestCreateProjectOptions(t *testing.T) {
	env := newTestEnv(t, "")

	resp := env.do(t, http.MethodPost, "/v1/projects", "u1", map[string]interface{}{
		"prompt":       "Ocean waves",
		"title":        "Waves",
		"media_source": "Pexels",
		"voice_type":   "none",
		"script":       "The sea never sleeps.",
		"captions":     false,
		"brand_colors": "#ff0000",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var out models.CreateProjectResponse
	decode(t, resp, &out)

	p := env.store.projects[out.ProjectID]
	if p.Title != "Waves" || p.MediaSource != "pexels" || p.VoiceType != "none" || p.HasAudio || p.HasCaptions || p.BrandColors != "#ff0000" {
		t.Errorf("options not applied: %+v", p)
	}
	if p.NarrationScript == nil || *p.NarrationScript != "The sea never sleeps." {
		t.Errorf("script not applied")
	}
}

func TestCreateProjectValidation(t *testing.T) {
	env := newTestEnv(t, "")

	resp := env.do(t, http.MethodPost, "/v1/projects", "u1", map[string]string{"prompt": "   "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if len(env.queue.enqueued) != 0 {
		t.Fatal("nothing should be enqueued")
	}
}

func TestCreateProjectEnqueueFailure(t *testing.T) {
	env := newTestEnv(t, "")
	env.queue.err = errors.New("redis down")

	resp := env.do(t, http.MethodPost, "/v1/projects", "u1", map[string]string{"prompt": "x"})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}

	if len(env.store.projects) != 1 {
		t.Fatalf("expected one stored project, got %d", len(env.store.projects))
	}
	for _, p := range env.store.projects {
		if p.Status != models.ProjectStatusFailed {
			t.Errorf("status = %s, want failed", p.Status)
		}
		if p.ErrorMessage == nil || !strings.Contains(*p.ErrorMessage, "redis down") {
			t.Errorf("error message = %v, want the enqueue error", p.ErrorMessage)
		}
		if p.RenderID != nil {
			t.Errorf("render id = %v, want nil", *p.RenderID)
		}
	}
}

func seedProject(store *memStore, userID string, status models.ProjectStatus) *models.VideoProject {
	p := &models.VideoProject{
		ID:          uuid.New(),
		UserID:      userID,
		Title:       "Lighthouse",
		Prompt:      "A lighthouse at dusk",
		Status:      status,
		Style:       "documentary",
		MediaSource: "pexels",
		VoiceType:   "default",
		HasCaptions: true,
		CreatedAt:   time.Now(),
	}
	store.projects[p.ID] = p
	return p
}

func TestGetProjectScopedToUser(t *testing.T) {
	env := newTestEnv(t, "")
	p := seedProject(env.store, "u1", models.ProjectStatusCompleted)

	resp := env.do(t, http.MethodGet, "/v1/projects/"+p.ID.String(), "u1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner: status = %d", resp.StatusCode)
	}
	var got models.VideoProject
	decode(t, resp, &got)
	if got.ID != p.ID {
		t.Errorf("id = %s", got.ID)
	}

	if resp := env.do(t, http.MethodGet, "/v1/projects/"+p.ID.String(), "u2", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("other user: status = %d, want 404", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodGet, "/v1/projects/not-a-uuid", "u1", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodGet, "/v1/projects/"+uuid.New().String(), "u1", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing: status = %d, want 404", resp.StatusCode)
	}
}

func TestListProjects(t *testing.T) {
	env := newTestEnv(t, "")
	seedProject(env.store, "u1", models.ProjectStatusCompleted)
	seedProject(env.store, "u1", models.ProjectStatusFailed)
	seedProject(env.store, "u2", models.ProjectStatusFailed)

	resp := env.do(t, http.MethodGet, "/v1/projects?status=failed&limit=500", "u1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out models.ListProjectsResponse
	decode(t, resp, &out)
	if out.Total != 1 || len(out.Projects) != 1 {
		t.Fatalf("expected 1 failed project, got total=%d len=%d", out.Total, len(out.Projects))
	}
	if out.Limit != 100 {
		t.Errorf("limit = %d, want clamp to 100", out.Limit)
	}

	if resp := env.do(t, http.MethodGet, "/v1/projects?status=rendering", "u1", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid status: got %d, want 400", resp.StatusCode)
	}
}

func TestRetryProjectReusesResolvedScenes(t *testing.T) {
	env := newTestEnv(t, "")
	p := seedProject(env.store, "u1", models.ProjectStatusFailed)
	url := "https://cdn.example/clip.mp4"
	script := "A lighthouse at dusk."
	p.Scenes = models.Scenes{{ID: "1", Title: "Dusk", FootageURL: &url, Duration: 6}}
	p.NarrationScript = &script

	resp := env.do(t, http.MethodPost, "/v1/projects/"+p.ID.String()+"/retry", "u1", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var out models.CreateProjectResponse
	decode(t, resp, &out)

	if out.ProjectID == p.ID {
		t.Fatal("retry must create a new project")
	}
	retried := env.store.projects[out.ProjectID]
	if retried.Status != models.ProjectStatusPending {
		t.Errorf("status = %s", retried.Status)
	}
	if !retried.Scenes.Resolved() || len(retried.Scenes) != 1 {
		t.Errorf("scenes not carried over: %+v", retried.Scenes)
	}
	if retried.Duration != 6 {
		t.Errorf("duration = %v, want 6", retried.Duration)
	}
	if !retried.HasAudio {
		t.Error("retry should keep the narration intent of a voiced project")
	}
	if retried.Style != p.Style || retried.Prompt != p.Prompt {
		t.Errorf("inputs not copied: %+v", retried)
	}
	if env.store.projects[p.ID].Status != models.ProjectStatusFailed {
		t.Error("original project must stay failed")
	}
}

func TestRetryProjectUnresolvedScenesRegenerates(t *testing.T) {
	env := newTestEnv(t, "")
	p := seedProject(env.store, "u1", models.ProjectStatusFailed)
	p.Scenes = models.Scenes{{ID: "1", Title: "Dusk", Duration: 6}}

	resp := env.do(t, http.MethodPost, "/v1/projects/"+p.ID.String()+"/retry", "u1", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var out models.CreateProjectResponse
	decode(t, resp, &out)
	if env.store.projects[out.ProjectID].Scenes != nil {
		t.Error("unresolved scenes must not be carried over")
	}
}

func TestRetryProjectRequiresFailed(t *testing.T) {
	env := newTestEnv(t, "")
	p := seedProject(env.store, "u1", models.ProjectStatusProcessing)

	resp := env.do(t, http.MethodPost, "/v1/projects/"+p.ID.String()+"/retry", "u1", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	if len(env.queue.enqueued) != 0 {
		t.Fatal("nothing should be enqueued")
	}
}

func seedNotification(store *memStore, userID string) *models.Notification {
	n := &models.Notification{ID: uuid.New(), UserID: userID, Title: "Video ready", Type: models.NotificationTypeVideo}
	store.notifications[n.ID] = n
	return n
}

func TestNotificationEndpoints(t *testing.T) {
	env := newTestEnv(t, "")
	n1 := seedNotification(env.store, "u1")
	n2 := seedNotification(env.store, "u1")
	seedNotification(env.store, "u2")

	resp := env.do(t, http.MethodGet, "/v1/notifications", "u1", nil)
	var list models.ListNotificationsResponse
	decode(t, resp, &list)
	if len(list.Notifications) != 2 || list.Unread != 2 {
		t.Fatalf("list = %d unread = %d, want 2/2", len(list.Notifications), list.Unread)
	}

	if resp := env.do(t, http.MethodPatch, "/v1/notifications/"+n1.ID.String()+"/read", "u1", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("mark read: status = %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodPatch, "/v1/notifications/"+n1.ID.String()+"/read", "u2", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("mark read by other user: status = %d, want 404", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/v1/notifications/unread-count", "u1", nil)
	var count map[string]int
	decode(t, resp, &count)
	if count["unread"] != 1 {
		t.Errorf("unread = %d, want 1", count["unread"])
	}

	resp = env.do(t, http.MethodGet, "/v1/notifications?unread=true", "u1", nil)
	decode(t, resp, &list)
	if len(list.Notifications) != 1 || list.Notifications[0].ID != n2.ID {
		t.Errorf("unread filter returned %+v", list.Notifications)
	}

	if resp := env.do(t, http.MethodDelete, "/v1/notifications/"+n2.ID.String(), "u1", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: status = %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodDelete, "/v1/notifications/"+n2.ID.String(), "u1", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete: status = %d, want 404", resp.StatusCode)
	}
}

func TestRenderCredits(t *testing.T) {
	env := newTestEnv(t, "")
	resp := env.do(t, http.MethodGet, "/v1/render/credits", "", nil)
	var out map[string]float64
	decode(t, resp, &out)
	if out["credits"] != 12.5 {
		t.Errorf("credits = %v, want 12.5", out["credits"])
	}
}

func TestProvidersHealth(t *testing.T) {
	store := newMemStore()
	h := NewHandler(store, &fakeQueue{}, fakeCredits{}, nil).
		WithProviders(&services.HealthChecker{Attempts: 1}, map[string]services.Pinger{
			"pexels":    pingFunc(func(context.Context) error { return nil }),
			"shotstack": pingFunc(func(context.Context) error { return errors.New("bad key") }),
		})
	srv := httptest.NewServer(NewRouter(h, RouterConfig{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/providers/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	var out struct {
		Providers []services.ProviderHealth `json:"providers"`
	}
	decode(t, resp, &out)
	if len(out.Providers) != 2 || !out.Providers[0].OK || out.Providers[1].OK {
		t.Errorf("unexpected results: %+v", out.Providers)
	}
}

func TestNotificationStream(t *testing.T) {
	env := newTestEnv(t, "")

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/v1/notifications/stream"
	header := http.Header{"X-User-ID": []string{"u1"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for env.hub.Connections("u1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	sent := &models.Notification{ID: uuid.New(), UserID: "u1", Title: "Video ready"}
	env.hub.Broadcast("u2", &models.Notification{ID: uuid.New(), UserID: "u2"})
	env.hub.Broadcast("u1", sent)

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var got models.Notification
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.ID != sent.ID {
		t.Errorf("received %s, want %s", got.ID, sent.ID)
	}
}

func TestTitleFromPrompt(t *testing.T) {
	long := strings.Repeat("word ", 30)
	got := titleFromPrompt(long)
	if !strings.HasSuffix(got, "...") || len([]rune(got)) > maxTitleLength+3 {
		t.Errorf("titleFromPrompt(long) = %q", got)
	}
	if got := titleFromPrompt("short\nprompt"); got != "short prompt" {
		t.Errorf("titleFromPrompt = %q", got)
	}
}
