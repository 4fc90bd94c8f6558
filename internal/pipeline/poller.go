package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/bobarin/reelsmith/internal/models"
	"github.com/bobarin/reelsmith/internal/services"
	"github.com/google/uuid"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultPollTimeout  = 30 * time.Minute
)

// Poller tracks a submitted render until the project reaches a terminal state.
type Poller struct {
	store    ProjectStore
	provider services.RenderProvider
	notifier Notifier
	interval time.Duration
	timeout  time.Duration // 0 polls until the context ends
}

func NewPoller(store ProjectStore, provider services.RenderProvider, notifier Notifier, interval, timeout time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		store:    store,
		provider: provider,
		notifier: notifier,
		interval: interval,
		timeout:  timeout,
	}
}

// PollOnce issues one status query and applies it. It returns the project's
// status after the poll. A poll never moves a project backwards: terminal
// projects are left untouched and "queued" never demotes a processing one.
func (p *Poller) PollOnce(ctx context.Context, projectID uuid.UUID, renderID string) (models.ProjectStatus, error) {
	project, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("failed to load project %s: %w", projectID, err)
	}
	if project.Status.IsTerminal() {
		return project.Status, nil
	}

	status, err := p.provider.GetRenderStatus(ctx, renderID)
	if err != nil {
		return project.Status, fmt.Errorf("failed to poll render %s: %w", renderID, err)
	}

	next := MapRenderStatus(status.Status)
	if !knownRenderStatus(status.Status) {
		log.Printf("[Poller] Render %s reported unrecognized status %q, assuming processing", renderID, status.Status)
	}

	switch next {
	case models.ProjectStatusCompleted:
		if status.URL == "" {
			log.Printf("[Poller] WARNING: render %s is done but has no output url; leaving project %s as %s", renderID, projectID, project.Status)
			return project.Status, nil
		}
		var thumbnail *string
		if status.Thumbnail != "" {
			thumbnail = &status.Thumbnail
		}
		applied, err := p.store.MarkProjectCompleted(ctx, projectID, status.URL, thumbnail)
		if err != nil {
			return project.Status, err
		}
		if applied {
			log.Printf("[Poller] Project %s completed: %s", projectID, status.URL)
			p.notifier.Emit(completedEvent(project, status.URL))
		}
		return models.ProjectStatusCompleted, nil

	case models.ProjectStatusFailed:
		failure := &RenderFailedError{RenderID: renderID, Reason: status.Error}
		applied, err := p.store.MarkProjectFailed(ctx, projectID, failure.Error())
		if err != nil {
			return project.Status, err
		}
		if applied {
			log.Printf("[Poller] Project %s failed: %v", projectID, failure)
			p.notifier.Emit(failedEvent(project, failure))
		}
		return models.ProjectStatusFailed, nil

	case models.ProjectStatusProcessing:
		if project.Status == models.ProjectStatusPending {
			if _, err := p.store.MarkProjectProcessing(ctx, projectID); err != nil {
				return project.Status, err
			}
			return models.ProjectStatusProcessing, nil
		}
	}

	return project.Status, nil
}

// Run polls on a fixed interval until the project is terminal, the context
// is cancelled, or the timeout expires. On timeout the project is failed.
// The timeout counts from the project's recorded submission time, so a
// resumed poll does not get a fresh budget.
func (p *Poller) Run(ctx context.Context, projectID uuid.UUID, renderID string) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if p.timeout > 0 {
		remaining, err := p.remaining(ctx, projectID)
		if err != nil {
			return err
		}
		if remaining <= 0 {
			// Budget already spent: one last look before giving up.
			status, err := p.PollOnce(ctx, projectID, renderID)
			if errors.Is(err, models.ErrNotFound) {
				return err
			}
			if err == nil && status.IsTerminal() {
				return nil
			}
			return p.expire(ctx, projectID, renderID)
		}
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		deadline = timer.C
	}

	polls := 0
	for {
		polls++
		status, err := p.PollOnce(ctx, projectID, renderID)
		switch {
		case errors.Is(err, models.ErrNotFound):
			return err
		case err != nil:
			log.Printf("[Poller] Poll %d for project %s failed (will retry): %v", polls, projectID, err)
		case status.IsTerminal():
			return nil
		}

		select {
		case <-ctx.Done():
			log.Printf("[Poller] Stopped polling project %s after %d polls: %v", projectID, polls, ctx.Err())
			return ctx.Err()
		case <-deadline:
			return p.expire(ctx, projectID, renderID)
		case <-ticker.C:
		}
	}
}

// remaining is the part of the timeout not yet used since submission.
// Projects without a submission time get the full timeout.
func (p *Poller) remaining(ctx context.Context, projectID uuid.UUID) (time.Duration, error) {
	project, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("failed to load project %s: %w", projectID, err)
	}
	if project.SubmittedAt == nil {
		return p.timeout, nil
	}
	return p.timeout - time.Since(*project.SubmittedAt), nil
}

func (p *Poller) expire(ctx context.Context, projectID uuid.UUID, renderID string) error {
	timeoutErr := &RenderTimeoutError{RenderID: renderID, After: p.timeout}

	project, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to load project %s: %w", projectID, err)
	}
	applied, err := p.store.MarkProjectFailed(ctx, projectID, timeoutErr.Error())
	if err != nil {
		return err
	}
	if applied {
		log.Printf("[Poller] Project %s: %v", projectID, timeoutErr)
		p.notifier.Emit(failedEvent(project, timeoutErr))
	}
	return timeoutErr
}

func knownRenderStatus(s string) bool {
	switch s {
	case services.RenderQueued, services.RenderFetching, services.RenderRendering,
		services.RenderSaving, services.RenderDone, services.RenderFailed:
		return true
	}
	return false
}
