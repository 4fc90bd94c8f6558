package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	QueueRenderVideo = "queue:render_video"
	QueuePollRender  = "queue:poll_render"
)

const (
	JobTypeRenderVideo = "render_video"
	JobTypePollRender  = "poll_render"
)

type Queue struct {
	client *redis.Client
}

type Job struct {
	ID        uuid.UUID         `json:"id"`
	Type      string            `json:"type"`
	ProjectID uuid.UUID         `json:"project_id"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// RenderID returns the render job id carried by a poll job.
func (j *Job) RenderID() string {
	return j.Data["render_id"]
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client) *Queue {
	return &Queue{client: client}
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// Ping checks the redis connection.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *Queue) Enqueue(ctx context.Context, queueName string, job *Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.CreatedAt = time.Now()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := q.client.RPush(ctx, queueName, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue %s job: %w", job.Type, err)
	}
	return nil
}

// Dequeue blocks up to timeout for a job. It returns (nil, nil) when the
// queue stayed empty.
func (q *Queue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, queueName).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

func (q *Queue) GetQueueLength(ctx context.Context, queueName string) (int64, error) {
	return q.client.LLen(ctx, queueName).Result()
}

// EnqueueRenderVideo schedules the full pipeline for a project.
func (q *Queue) EnqueueRenderVideo(ctx context.Context, projectID uuid.UUID) error {
	return q.Enqueue(ctx, QueueRenderVideo, &Job{
		Type:      JobTypeRenderVideo,
		ProjectID: projectID,
	})
}

// EnqueuePollRender schedules status polling for a submitted render.
func (q *Queue) EnqueuePollRender(ctx context.Context, projectID uuid.UUID, renderID string) error {
	return q.Enqueue(ctx, QueuePollRender, &Job{
		Type:      JobTypePollRender,
		ProjectID: projectID,
		Data:      map[string]string{"render_id": renderID},
	})
}
