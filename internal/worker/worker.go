package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bobarin/reelsmith/internal/models"
	"github.com/bobarin/reelsmith/internal/pipeline"
	"github.com/bobarin/reelsmith/internal/queue"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	dequeueTimeout = 5 * time.Second

	// DefaultStrandedAfter is how long a project may sit pending or
	// processing without a render before a restarted worker fails it.
	DefaultStrandedAfter = 30 * time.Minute
)

// JobQueue is the subset of the redis queue the worker consumes.
type JobQueue interface {
	Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*queue.Job, error)
	EnqueuePollRender(ctx context.Context, projectID uuid.UUID, renderID string) error
}

// Runner executes the pipeline stages for one project.
type Runner interface {
	Run(ctx context.Context, projectID uuid.UUID) (*pipeline.SubmitResult, error)
	Abandon(ctx context.Context, projectID uuid.UUID) (bool, error)
}

// StatusPoller follows one render until it is terminal.
type StatusPoller interface {
	Run(ctx context.Context, projectID uuid.UUID, renderID string) error
}

// InFlightLister finds projects left unfinished by a previous process:
// submitted renders that still need polling, and runs that never submitted.
type InFlightLister interface {
	ListInFlightProjects(ctx context.Context) ([]models.VideoProject, error)
	ListStrandedProjects(ctx context.Context, before time.Time) ([]models.VideoProject, error)
}

type Worker struct {
	queue    JobQueue
	pipeline Runner
	poller   StatusPoller
	projects InFlightLister

	strandedAfter time.Duration

	mu      sync.Mutex
	polling map[uuid.UUID]bool // projects with an active poll loop
	polls   sync.WaitGroup
}

func New(q JobQueue, runner Runner, poller StatusPoller, projects InFlightLister) *Worker {
	return &Worker{
		queue:    q,
		pipeline: runner,
		poller:   poller,
		projects: projects,
		polling:  make(map[uuid.UUID]bool),

		strandedAfter: DefaultStrandedAfter,
	}
}

// WithStrandedAfter overrides DefaultStrandedAfter.
func (w *Worker) WithStrandedAfter(d time.Duration) *Worker {
	if d > 0 {
		w.strandedAfter = d
	}
	return w
}

// Start resumes polling for in-flight renders, then consumes both queues
// until ctx is cancelled.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	if concurrency <= 0 {
		concurrency = 1
	}
	log.Printf("Worker started with concurrency: %d", concurrency)

	if err := w.Resume(ctx); err != nil {
		log.Printf("[Worker] Resume failed: %v", err)
	}

	g := new(errgroup.Group)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error { w.processQueue(ctx, queue.QueueRenderVideo, w.handleRenderVideo); return nil })
	}
	g.Go(func() error { w.processQueue(ctx, queue.QueuePollRender, w.handlePollRender); return nil })
	_ = g.Wait()

	log.Println("Worker shutting down, waiting for poll loops...")
	w.polls.Wait()
}

func (w *Worker) processQueue(ctx context.Context, queueName string, handler func(context.Context, *queue.Job) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			job, err := w.queue.Dequeue(ctx, queueName, dequeueTimeout)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("Error dequeuing from %s: %v", queueName, err)
				time.Sleep(time.Second)
				continue
			}
			if job == nil {
				continue
			}

			log.Printf("Processing job %s (type: %s, project: %s)", job.ID, job.Type, job.ProjectID)
			if err := handler(ctx, job); err != nil {
				log.Printf("Job %s failed: %v", job.ID, err)
			} else {
				log.Printf("Job %s completed successfully", job.ID)
			}
		}
	}
}

// handleRenderVideo runs the pipeline and hands the render to the poll queue.
func (w *Worker) handleRenderVideo(ctx context.Context, job *queue.Job) error {
	result, err := w.pipeline.Run(ctx, job.ProjectID)
	if err != nil {
		return fmt.Errorf("pipeline failed for project %s: %w", job.ProjectID, err)
	}
	if result == nil {
		return nil
	}

	if err := w.queue.EnqueuePollRender(ctx, job.ProjectID, result.RenderID); err != nil {
		// Poll in-process rather than leave the render untracked
		log.Printf("[Worker] Could not enqueue poll for project %s, polling locally: %v", job.ProjectID, err)
		w.startPoll(ctx, job.ProjectID, result.RenderID)
	}
	return nil
}

// handlePollRender starts a poll loop without blocking the queue consumer.
func (w *Worker) handlePollRender(ctx context.Context, job *queue.Job) error {
	renderID := job.RenderID()
	if renderID == "" {
		return fmt.Errorf("poll job %s has no render id", job.ID)
	}
	w.startPoll(ctx, job.ProjectID, renderID)
	return nil
}

// startPoll runs at most one poll loop per project.
func (w *Worker) startPoll(ctx context.Context, projectID uuid.UUID, renderID string) bool {
	w.mu.Lock()
	if w.polling[projectID] {
		w.mu.Unlock()
		log.Printf("[Worker] Project %s is already being polled", projectID)
		return false
	}
	w.polling[projectID] = true
	w.mu.Unlock()

	w.polls.Add(1)
	go func() {
		defer w.polls.Done()
		defer func() {
			w.mu.Lock()
			delete(w.polling, projectID)
			w.mu.Unlock()
		}()

		err := w.poller.Run(ctx, projectID, renderID)
		var timeout *pipeline.RenderTimeoutError
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			log.Printf("[Worker] Polling for project %s stopped; it will resume on restart", projectID)
		case errors.As(err, &timeout):
			log.Printf("[Worker] Project %s: %v", projectID, err)
		default:
			log.Printf("[Worker] Polling for project %s ended with error: %v", projectID, err)
		}
	}()
	return true
}

// Resume restarts poll loops for renders submitted before the last shutdown
// and fails projects whose run was lost before submission.
func (w *Worker) Resume(ctx context.Context) error {
	if err := w.failStranded(ctx); err != nil {
		log.Printf("[Worker] %v", err)
	}

	projects, err := w.projects.ListInFlightProjects(ctx)
	if err != nil {
		return fmt.Errorf("failed to list in-flight projects: %w", err)
	}

	resumed := 0
	for _, p := range projects {
		if p.RenderID == nil || *p.RenderID == "" {
			continue
		}
		if w.startPoll(ctx, p.ID, *p.RenderID) {
			resumed++
		}
	}
	if resumed > 0 {
		log.Printf("[Worker] Resumed polling for %d in-flight renders", resumed)
	}
	return nil
}

// failStranded marks stale unsubmitted projects failed so they show up as
// retryable instead of pending forever.
func (w *Worker) failStranded(ctx context.Context) error {
	stranded, err := w.projects.ListStrandedProjects(ctx, time.Now().Add(-w.strandedAfter))
	if err != nil {
		return fmt.Errorf("failed to list stranded projects: %w", err)
	}

	failed := 0
	for _, p := range stranded {
		applied, err := w.pipeline.Abandon(ctx, p.ID)
		if err != nil {
			log.Printf("[Worker] Could not fail stranded project %s: %v", p.ID, err)
			continue
		}
		if applied {
			failed++
		}
	}
	if failed > 0 {
		log.Printf("[Worker] Failed %d stranded projects that were never submitted", failed)
	}
	return nil
}
