package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bobarin/reelsmith/internal/models"
	"github.com/bobarin/reelsmith/internal/pipeline"
	"github.com/bobarin/reelsmith/internal/queue"
	"github.com/google/uuid"
)

type fakeQueue struct {
	mu         sync.Mutex
	polls      map[uuid.UUID]string
	enqueueErr error
}

func (q *fakeQueue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*queue.Job, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
		return nil, nil
	}
}

func (q *fakeQueue) EnqueuePollRender(ctx context.Context, projectID uuid.UUID, renderID string) error {
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.polls == nil {
		q.polls = make(map[uuid.UUID]string)
	}
	q.polls[projectID] = renderID
	return nil
}

type fakeRunner struct {
	result *pipeline.SubmitResult
	err    error

	mu        sync.Mutex
	abandoned []uuid.UUID
}

func (r *fakeRunner) Run(ctx context.Context, projectID uuid.UUID) (*pipeline.SubmitResult, error) {
	return r.result, r.err
}

func (r *fakeRunner) Abandon(ctx context.Context, projectID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abandoned = append(r.abandoned, projectID)
	return true, nil
}

type fakePoller struct {
	mu      sync.Mutex
	calls   map[uuid.UUID]int
	release chan struct{}
}

func newFakePoller() *fakePoller {
	return &fakePoller{calls: make(map[uuid.UUID]int), release: make(chan struct{})}
}

func (p *fakePoller) Run(ctx context.Context, projectID uuid.UUID, renderID string) error {
	p.mu.Lock()
	p.calls[projectID]++
	p.mu.Unlock()
	select {
	case <-p.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *fakePoller) count(id uuid.UUID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id]
}

type fakeLister struct {
	projects []models.VideoProject
	stranded []models.VideoProject
	err      error

	strandedBefore time.Time
}

func (l *fakeLister) ListInFlightProjects(ctx context.Context) ([]models.VideoProject, error) {
	return l.projects, l.err
}

func (l *fakeLister) ListStrandedProjects(ctx context.Context, before time.Time) ([]models.VideoProject, error) {
	l.strandedBefore = before
	var out []models.VideoProject
	for _, p := range l.stranded {
		if p.UpdatedAt.Before(before) {
			out = append(out, p)
		}
	}
	return out, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 1s")
}

func strPtr(s string) *string { return &s }

func TestHandleRenderVideoEnqueuesPoll(t *testing.T) {
	q := &fakeQueue{}
	w := New(q, &fakeRunner{result: &pipeline.SubmitResult{RenderID: "R1"}}, newFakePoller(), &fakeLister{})
	id := uuid.New()

	if err := w.handleRenderVideo(context.Background(), &queue.Job{ID: "j1", ProjectID: id}); err != nil {
		t.Fatalf("handleRenderVideo: %v", err)
	}
	if q.polls[id] != "R1" {
		t.Fatalf("expected poll job for R1, got %q", q.polls[id])
	}
}

func TestHandleRenderVideoSkippedProject(t *testing.T) {
	q := &fakeQueue{}
	w := New(q, &fakeRunner{}, newFakePoller(), &fakeLister{})

	if err := w.handleRenderVideo(context.Background(), &queue.Job{ID: "j1", ProjectID: uuid.New()}); err != nil {
		t.Fatalf("handleRenderVideo: %v", err)
	}
	if len(q.polls) != 0 {
		t.Fatalf("expected no poll jobs, got %d", len(q.polls))
	}
}

func TestHandleRenderVideoPipelineError(t *testing.T) {
	w := New(&fakeQueue{}, &fakeRunner{err: errors.New("boom")}, newFakePoller(), &fakeLister{})
	if err := w.handleRenderVideo(context.Background(), &queue.Job{ID: "j1", ProjectID: uuid.New()}); err == nil {
		t.Fatal("expected error")
	}
}

func TestHandleRenderVideoPollsLocallyWhenEnqueueFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller := newFakePoller()
	w := New(&fakeQueue{enqueueErr: errors.New("redis down")}, &fakeRunner{result: &pipeline.SubmitResult{RenderID: "R1"}}, poller, &fakeLister{})
	id := uuid.New()

	if err := w.handleRenderVideo(ctx, &queue.Job{ID: "j1", ProjectID: id}); err != nil {
		t.Fatalf("handleRenderVideo: %v", err)
	}
	waitFor(t, func() bool { return poller.count(id) == 1 })
	close(poller.release)
	w.polls.Wait()
}

func TestHandlePollRenderRequiresRenderID(t *testing.T) {
	w := New(&fakeQueue{}, &fakeRunner{}, newFakePoller(), &fakeLister{})
	job := &queue.Job{ID: "j1", Type: queue.JobTypePollRender, ProjectID: uuid.New()}
	if err := w.handlePollRender(context.Background(), job); err == nil {
		t.Fatal("expected error for missing render id")
	}
}

func TestStartPollOncePerProject(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller := newFakePoller()
	w := New(&fakeQueue{}, &fakeRunner{}, poller, &fakeLister{})
	id := uuid.New()

	if !w.startPoll(ctx, id, "R1") {
		t.Fatal("first poll should start")
	}
	if w.startPoll(ctx, id, "R1") {
		t.Fatal("second poll for the same project should be refused")
	}

	close(poller.release)
	w.polls.Wait()

	if poller.count(id) != 1 {
		t.Fatalf("expected 1 poll loop, got %d", poller.count(id))
	}
	if !w.startPoll(ctx, id, "R1") {
		t.Fatal("poll should restart once the previous loop finished")
	}
	w.polls.Wait()
}

func TestResumeStartsInFlightPolls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	a, b := uuid.New(), uuid.New()
	lister := &fakeLister{projects: []models.VideoProject{
		{ID: a, Status: models.ProjectStatusProcessing, RenderID: strPtr("R1")},
		{ID: b, Status: models.ProjectStatusProcessing, RenderID: strPtr("")},
	}}
	poller := newFakePoller()
	w := New(&fakeQueue{}, &fakeRunner{}, poller, lister)

	if err := w.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitFor(t, func() bool { return poller.count(a) == 1 })
	if poller.count(b) != 0 {
		t.Fatal("project without render id should not be polled")
	}

	cancel()
	w.polls.Wait()
}

func TestResumeListError(t *testing.T) {
	w := New(&fakeQueue{}, &fakeRunner{}, newFakePoller(), &fakeLister{err: errors.New("db down")})
	if err := w.Resume(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := New(&fakeQueue{}, &fakeRunner{}, newFakePoller(), &fakeLister{})

	done := make(chan struct{})
	go func() {
		w.Start(ctx, 2)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestResumeFailsStrandedProjects(t *testing.T) {
	stale, fresh := uuid.New(), uuid.New()
	lister := &fakeLister{stranded: []models.VideoProject{
		{ID: stale, Status: models.ProjectStatusPending, UpdatedAt: time.Now().Add(-2 * time.Hour)},
		{ID: fresh, Status: models.ProjectStatusProcessing, UpdatedAt: time.Now()},
	}}
	runner := &fakeRunner{}
	w := New(&fakeQueue{}, runner, newFakePoller(), lister).WithStrandedAfter(time.Hour)

	before := time.Now()
	if err := w.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if len(runner.abandoned) != 1 || runner.abandoned[0] != stale {
		t.Fatalf("expected only the stale project to be abandoned, got %v", runner.abandoned)
	}
	if cutoff := before.Add(-time.Hour); lister.strandedBefore.After(cutoff.Add(time.Second)) || lister.strandedBefore.Before(cutoff.Add(-time.Second)) {
		t.Errorf("stranded cutoff = %v, want about %v", lister.strandedBefore, cutoff)
	}
}
