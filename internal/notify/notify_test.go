package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bobarin/reelsmith/internal/models"
	"github.com/google/uuid"
)

// dedupeStore keeps one row per dedupe key, like the unique index in Postgres.
type dedupeStore struct {
	mu       sync.Mutex
	rows     map[string]*models.Notification
	failures int
	calls    int
}

func newDedupeStore() *dedupeStore {
	return &dedupeStore{rows: make(map[string]*models.Notification)}
}

func (s *dedupeStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errors.New("connection reset")
	}
	key := n.Metadata["dedupe_key"].(string)
	if _, ok := s.rows[key]; !ok {
		s.rows[key] = n
	}
	return nil
}

func (s *dedupeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type recordingBroadcaster struct {
	mu    sync.Mutex
	users []string
}

func (b *recordingBroadcaster) Broadcast(userID string, n *models.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users = append(b.users, userID)
}

func TestBuildNotification(t *testing.T) {
	projectID := uuid.New()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	n := BuildNotification(Event{
		Milestone:    models.MilestoneFailed,
		UserID:       "u1",
		ProjectID:    projectID,
		ProjectTitle: "Coffee",
		Error:        "render timed out after 30m0s",
		Remediation:  "Retry the project.",
		At:           at,
	})

	if n.UserID != "u1" || n.Type != models.NotificationTypeVideo || n.IsRead {
		t.Errorf("unexpected notification %+v", n)
	}
	if n.Metadata["dedupe_key"] != models.DedupeKey(projectID, models.MilestoneFailed) {
		t.Errorf("missing dedupe key: %v", n.Metadata)
	}
	if n.Metadata["timestamp"] != "2026-03-01T12:00:00Z" {
		t.Errorf("unexpected timestamp %v", n.Metadata["timestamp"])
	}
	if !strings.Contains(n.Message, "render timed out") || !strings.HasSuffix(n.Message, "Retry the project.") {
		t.Errorf("unexpected message %q", n.Message)
	}

	completed := BuildNotification(Event{Milestone: models.MilestoneCompleted, ProjectID: projectID, VideoURL: "U1", At: at})
	if completed.Metadata["video_url"] != "U1" || !strings.Contains(completed.Message, "Untitled video") {
		t.Errorf("unexpected completed notification %+v", completed)
	}
}

func TestEmitterDeliversAndDeduplicates(t *testing.T) {
	store := newDedupeStore()
	broadcaster := &recordingBroadcaster{}
	emitter := NewEmitter(store, 16).WithBroadcaster(broadcaster)

	projectID := uuid.New()
	emitter.Emit(Event{Milestone: models.MilestoneStarted, UserID: "u1", ProjectID: projectID})
	emitter.Emit(Event{Milestone: models.MilestoneCompleted, UserID: "u1", ProjectID: projectID})
	emitter.Emit(Event{Milestone: models.MilestoneCompleted, UserID: "u1", ProjectID: projectID})

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Run drains everything already queued before returning
	if err := emitter.Run(ctx, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if store.count() != 2 {
		t.Errorf("expected 2 stored notifications, got %d", store.count())
	}
	if len(broadcaster.users) != 3 {
		t.Errorf("expected 3 broadcasts, got %d", len(broadcaster.users))
	}
}

func TestEmitterRetriesThenGivesUp(t *testing.T) {
	store := newDedupeStore()
	store.failures = 1
	emitter := NewEmitter(store, 4)
	emitter.delay = time.Millisecond

	emitter.deliver(context.Background(), Event{Milestone: models.MilestoneStarted, ProjectID: uuid.New()})
	if store.calls != 2 || store.count() != 1 {
		t.Errorf("expected success on second attempt, calls=%d rows=%d", store.calls, store.count())
	}

	store.failures = 5
	store.calls = 0
	emitter.deliver(context.Background(), Event{Milestone: models.MilestoneFailed, ProjectID: uuid.New()})
	if store.calls != 2 || store.count() != 1 {
		t.Errorf("expected two attempts and no new row, calls=%d rows=%d", store.calls, store.count())
	}
}

func TestEmitNeverBlocks(t *testing.T) {
	emitter := NewEmitter(newDedupeStore(), 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			emitter.Emit(Event{Milestone: models.MilestoneStarted, ProjectID: uuid.New()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked with a full buffer")
	}
	if len(emitter.events) != 1 {
		t.Errorf("expected buffer of 1 to hold one event, got %d", len(emitter.events))
	}
}

func TestFlushDeliversEventsEmittedAfterRun(t *testing.T) {
	store := newDedupeStore()
	emitter := NewEmitter(store, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := emitter.Run(ctx, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	emitter.Emit(Event{Milestone: models.MilestoneFailed, UserID: "u1", ProjectID: uuid.New()})
	emitter.Flush(context.Background())

	if store.count() != 1 {
		t.Errorf("expected late event to be stored, got %d rows", store.count())
	}
}

func TestSuperviseStoresEventsEmittedDuringShutdown(t *testing.T) {
	store := newDedupeStore()
	emitter := NewEmitter(store, 4)
	projectID := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		emitter.Supervise(ctx, 1, func(ctx context.Context) {
			emitter.Emit(Event{Milestone: models.MilestoneStarted, UserID: "u1", ProjectID: projectID})
			<-ctx.Done()
			// a job interrupted by shutdown is marked failed while unwinding
			time.Sleep(20 * time.Millisecond)
			emitter.Emit(Event{Milestone: models.MilestoneFailed, UserID: "u1", ProjectID: projectID})
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Supervise did not return after cancel")
	}

	if store.count() != 2 {
		t.Fatalf("expected started and failed rows, got %d", store.count())
	}
	store.mu.Lock()
	_, ok := store.rows[models.DedupeKey(projectID, models.MilestoneFailed)]
	store.mu.Unlock()
	if !ok {
		t.Error("failed notification emitted during shutdown was not stored")
	}
}
