// Package queue hands submissions from the API to judge workers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/gema-lab-api/internal/models"
)

// ErrEmpty is returned by Dequeue when no job arrived before the timeout.
var ErrEmpty = errors.New("queue empty")

// Job is the unit of judge work for a single submission.
type Job struct {
	SubmissionID  uint                  `json:"submissionId"`
	QuestionID    uint                  `json:"questionId"`
	Code          string                `json:"code"`
	Language      string                `json:"language"`
	TimeLimitMs   int                   `json:"timeLimit"`
	MemoryLimitMB int                   `json:"memoryLimit"`
	JobType       models.SubmissionType `json:"jobType"`
	CustomInput   string                `json:"customInput,omitempty"`
	EnqueuedAt    time.Time             `json:"enqueuedAt"`
}

// Queue is a FIFO of judge jobs.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context, timeout time.Duration) (Job, error)
	Len(ctx context.Context) (int64, error)
}

// RedisQueue stores jobs in a Redis list. Producers push on the left and
// consumers block-pop from the right.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue builds a queue on the given list key.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "submission_queue"
	}
	return &RedisQueue{client: client, key: key}
}

// Key returns the Redis list backing the queue.
func (q *RedisQueue) Key() string {
	return q.key
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	if q == nil || q.client == nil {
		return errors.New("queue is not configured")
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push job %d: %w", job.SubmissionID, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (Job, error) {
	if q == nil || q.client == nil {
		return Job{}, errors.New("queue is not configured")
	}
	if timeout <= 0 {
		timeout = time.Second
	}

	values, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Job{}, ErrEmpty
		}
		return Job{}, err
	}
	if len(values) != 2 {
		return Job{}, fmt.Errorf("unexpected brpop reply of length %d", len(values))
	}

	var job Job
	if err := json.Unmarshal([]byte(values[1]), &job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
