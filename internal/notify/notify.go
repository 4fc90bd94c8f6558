package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bobarin/reelsmith/internal/models"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBuffer   = 256
	deliverAttempts = 2
	deliverDelay    = 500 * time.Millisecond
	deliverTimeout  = 10 * time.Second
)

// Event is one pipeline milestone for one project.
type Event struct {
	Milestone    models.Milestone
	UserID       string
	ProjectID    uuid.UUID
	ProjectTitle string
	VideoURL     string
	Error        string
	Remediation  string
	At           time.Time
}

// Store persists notification rows. Writes carrying an already-stored
// dedupe key must succeed without creating a second row.
type Store interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// Broadcaster pushes a transient acknowledgment to connected clients.
type Broadcaster interface {
	Broadcast(userID string, n *models.Notification)
}

// Emitter delivers notifications in the background. Emit never blocks the
// caller; delivery failures are logged and never reach the render job.
type Emitter struct {
	store       Store
	broadcaster Broadcaster
	events      chan Event
	attempts    int
	delay       time.Duration
}

func NewEmitter(store Store, buffer int) *Emitter {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Emitter{
		store:    store,
		events:   make(chan Event, buffer),
		attempts: deliverAttempts,
		delay:    deliverDelay,
	}
}

// WithBroadcaster attaches a live push channel (e.g. the websocket hub).
func (e *Emitter) WithBroadcaster(b Broadcaster) *Emitter {
	e.broadcaster = b
	return e
}

// Emit queues an event. If the buffer is full the event is dropped and logged.
func (e *Emitter) Emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case e.events <- ev:
	default:
		log.Printf("[Notify] WARNING: buffer full, dropping %s notification for project %s", ev.Milestone, ev.ProjectID)
	}
}

// Run delivers queued events with the given number of workers until ctx is
// cancelled, then drains whatever is still buffered. Cancel ctx only after
// every producer has stopped; events emitted later stay buffered until Flush.
func (e *Emitter) Run(ctx context.Context, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	log.Printf("[Notify] Starting %d notification workers", workers)

	g := new(errgroup.Group)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					e.Flush(context.Background())
					return nil
				case ev := <-e.events:
					e.deliver(ctx, ev)
				}
			}
		})
	}
	return g.Wait()
}

// Supervise runs the emitter for as long as work runs. work receives ctx and
// must return once ctx is cancelled; the emitter is stopped only after that,
// so events emitted while work unwinds are still stored.
func (e *Emitter) Supervise(ctx context.Context, workers int, work func(ctx context.Context)) {
	emitCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(emitCtx, workers)
	}()

	work(ctx)

	stop()
	<-done
	e.Flush(context.Background())
}

// Flush synchronously delivers every buffered event.
func (e *Emitter) Flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, deliverTimeout)
	defer cancel()
	for {
		select {
		case ev := <-e.events:
			e.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (e *Emitter) deliver(ctx context.Context, ev Event) {
	n := BuildNotification(ev)

	var err error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliverTimeout)
		err = e.store.CreateNotification(writeCtx, n)
		cancel()
		if err == nil {
			break
		}
		log.Printf("[Notify] Write attempt %d/%d for %s failed: %v", attempt, e.attempts, n.Metadata["dedupe_key"], err)
		if attempt < e.attempts {
			time.Sleep(e.delay)
		}
	}
	if err != nil {
		log.Printf("[Notify] WARNING: notification %s not stored: %v", n.Metadata["dedupe_key"], err)
	}

	if e.broadcaster != nil {
		e.broadcaster.Broadcast(n.UserID, n)
	}
}

// BuildNotification renders an event as a notification row. The metadata
// carries the dedupe key and the event timestamp.
func BuildNotification(ev Event) *models.Notification {
	title := ev.ProjectTitle
	if title == "" {
		title = "Untitled video"
	}

	n := &models.Notification{
		ID:     uuid.New(),
		UserID: ev.UserID,
		Type:   models.NotificationTypeVideo,
		Metadata: models.JSONB{
			"project_id": ev.ProjectID.String(),
			"milestone":  string(ev.Milestone),
			"dedupe_key": models.DedupeKey(ev.ProjectID, ev.Milestone),
			"timestamp":  ev.At.UTC().Format(time.RFC3339),
		},
		CreatedAt: ev.At,
	}

	switch ev.Milestone {
	case models.MilestoneStarted:
		n.Title = "Video generation started"
		n.Message = fmt.Sprintf("%q is being generated. We'll let you know when it's ready.", title)
	case models.MilestoneCompleted:
		n.Title = "Your video is ready"
		n.Message = fmt.Sprintf("%q finished rendering.", title)
		n.Metadata["video_url"] = ev.VideoURL
	case models.MilestoneFailed:
		n.Title = "Video generation failed"
		n.Message = fmt.Sprintf("%q failed: %s", title, ev.Error)
		n.Metadata["error"] = ev.Error
	case models.MilestoneWarning:
		n.Title = "Narration unavailable"
		n.Message = fmt.Sprintf("%q will be rendered without narration.", title)
		n.Metadata["error"] = ev.Error
	default:
		n.Title = "Video update"
		n.Message = fmt.Sprintf("%q: %s", title, ev.Milestone)
	}

	if ev.Remediation != "" {
		n.Message += " " + ev.Remediation
		n.Metadata["remediation"] = ev.Remediation
	}

	return n
}
