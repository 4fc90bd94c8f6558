package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bobarin/reelsmith/internal/models"
	"github.com/bobarin/reelsmith/internal/notify"
	"github.com/bobarin/reelsmith/internal/services"
	"github.com/google/uuid"
)

// memStore mirrors the SQL store's guarded transitions in memory.
type memStore struct {
	mu       sync.Mutex
	projects map[uuid.UUID]*models.VideoProject
}

func newMemStore(projects ...*models.VideoProject) *memStore {
	s := &memStore{projects: make(map[uuid.UUID]*models.VideoProject)}
	for _, p := range projects {
		s.projects[p.ID] = p
	}
	return s
}

func (s *memStore) get(id uuid.UUID) models.VideoProject {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.projects[id]
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

func (s *memStore) MarkProjectProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.projects[id]
	if p.Status != models.ProjectStatusPending {
		return false, nil
	}
	p.Status = models.ProjectStatusProcessing
	return true, nil
}

func (s *memStore) SaveProjectScenes(ctx context.Context, id uuid.UUID, scenes models.Scenes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.projects[id]
	if len(p.Scenes) == 0 {
		p.Scenes = scenes
		p.Duration = scenes.TotalDuration()
	}
	return nil
}

func (s *memStore) SaveProjectNarration(ctx context.Context, id uuid.UUID, script string, audioURL *string, hasAudio bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.projects[id]
	if p.Status.IsTerminal() {
		return nil
	}
	if script != "" {
		p.NarrationScript = &script
	}
	p.AudioURL = audioURL
	p.HasAudio = hasAudio
	return nil
}

func (s *memStore) SaveProjectRender(ctx context.Context, id uuid.UUID, renderID string, duration float64, hasAudio, hasCaptions bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.projects[id]
	if p.Status.IsTerminal() {
		return nil
	}
	now := time.Now()
	p.RenderID = &renderID
	p.SubmittedAt = &now
	p.Duration = duration
	p.HasAudio = hasAudio
	p.HasCaptions = hasCaptions
	return nil
}

func (s *memStore) MarkProjectCompleted(ctx context.Context, id uuid.UUID, videoURL string, thumbnailURL *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.projects[id]
	if p.Status.IsTerminal() {
		return false, nil
	}
	p.Status = models.ProjectStatusCompleted
	p.VideoURL = &videoURL
	p.ThumbnailURL = thumbnailURL
	p.ErrorMessage = nil
	return true, nil
}

func (s *memStore) MarkProjectFailed(ctx context.Context, id uuid.UUID, message string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.projects[id]
	if p.Status.IsTerminal() {
		return false, nil
	}
	p.Status = models.ProjectStatusFailed
	p.ErrorMessage = &message
	p.VideoURL = nil
	return true, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Emit(ev notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) milestones() []models.Milestone {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.Milestone, len(n.events))
	for i, ev := range n.events {
		out[i] = ev.Milestone
	}
	return out
}

type fakeSceneProvider struct {
	plan  *services.ScenePlan
	err   error
	calls int
}

func (f *fakeSceneProvider) Name() string { return "openai" }

func (f *fakeSceneProvider) GenerateScenes(ctx context.Context, prompt string, opts *services.SceneOptions) (*services.ScenePlan, error) {
	f.calls++
	return f.plan, f.err
}

// fakeFootage returns one clip per keyword query unless the query is listed
// in empty or failing.
type fakeFootage struct {
	name    string
	empty   map[string]bool
	failing map[string]bool
	mu      sync.Mutex
	queries [][]string
}

func (f *fakeFootage) Name() string {
	if f.name == "" {
		return "pexels"
	}
	return f.name
}

func (f *fakeFootage) SearchVideos(ctx context.Context, keywords []string) ([]services.FootageVideo, error) {
	f.mu.Lock()
	f.queries = append(f.queries, keywords)
	f.mu.Unlock()

	q := keywords[0]
	if f.failing[q] {
		return nil, errors.New("search unavailable")
	}
	if f.empty[q] {
		return nil, nil
	}
	return []services.FootageVideo{
		{ID: q + "-1", URL: "https://footage/" + q + "-1.mp4"},
		{ID: q + "-2", URL: "https://footage/" + q + "-2.mp4"},
	}, nil
}

type fakeTTS struct {
	err   error
	words []services.WordTimestamp
	texts []string
}

func (f *fakeTTS) Name() string { return "elevenlabs" }

func (f *fakeTTS) GenerateSpeech(ctx context.Context, text, voiceID string) (*services.TTSResponse, error) {
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	return &services.TTSResponse{AudioData: []byte("mp3:" + text), Format: "mp3", Words: f.words}, nil
}

type fakeTranscriber struct {
	words []services.WordTimestamp
	err   error
	calls int
}

func (f *fakeTranscriber) TranscribeAudio(ctx context.Context, audio []byte, language string) ([]services.WordTimestamp, error) {
	f.calls++
	return f.words, f.err
}

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte)}
}

func (m *memObjects) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return "https://objects/" + key, nil
}

type fakeRender struct {
	mu          sync.Mutex
	credits     float64
	creditsErr  error
	submitErr   error
	submitted   []*services.RenderRequest
	statuses    []services.RenderStatus // returned in order; the last one repeats
	statusCalls int
}

func (f *fakeRender) GetCredits(ctx context.Context) (float64, error) {
	return f.credits, f.creditsErr
}

func (f *fakeRender) SubmitRender(ctx context.Context, req *services.RenderRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, req)
	return "R1", nil
}

func (f *fakeRender) GetRenderStatus(ctx context.Context, renderID string) (*services.RenderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return &services.RenderStatus{ID: renderID, Status: services.RenderRendering}, nil
	}
	i := f.statusCalls
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	f.statusCalls++
	st := f.statuses[i]
	st.ID = renderID
	return &st, nil
}

func (f *fakeRender) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

func strPtr(s string) *string { return &s }

func resolvedScenes(durations ...float64) models.Scenes {
	scenes := make(models.Scenes, len(durations))
	for i, d := range durations {
		scenes[i] = models.SceneDescriptor{
			ID:          fmt.Sprintf("%d", i+1),
			Title:       fmt.Sprintf("Scene %d", i+1),
			Description: fmt.Sprintf("Scene %d happens.", i+1),
			Keywords:    []string{fmt.Sprintf("kw%d", i+1)},
			FootageURL:  strPtr(fmt.Sprintf("https://footage/%d.mp4", i+1)),
			Duration:    d,
		}
	}
	return scenes
}

func newProject(status models.ProjectStatus) *models.VideoProject {
	return &models.VideoProject{
		ID:          uuid.New(),
		UserID:      "user-1",
		Title:       "Coffee history",
		Prompt:      "The history of coffee",
		Status:      status,
		Style:       "documentary",
		MediaSource: "pexels",
		VoiceType:   "default",
		HasAudio:    true,
		HasCaptions: true,
	}
}
