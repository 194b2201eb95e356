// Package queue is a small Redis-backed job queue for the notification
// pipeline. Producers push named JSON jobs; a worker pops them with a
// blocking read and retries failures a bounded number of times.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Job is one unit of work on the queue.
type Job struct {
	Name     string          `json:"name"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
}

// Queue produces and consumes jobs on a single Redis list.
type Queue struct {
	client *redis.Client
	name   string
}

func NewQueue(client *redis.Client, name string) *Queue {
	return &Queue{client: client, name: name}
}

// Enqueue serializes payload and pushes a fresh job.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}
	return q.push(ctx, &Job{Name: name, Payload: raw})
}

// Requeue pushes a job back for another attempt.
func (q *Queue) Requeue(ctx context.Context, job *Job) error {
	return q.push(ctx, job)
}

func (q *Queue) push(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.name, raw).Err(); err != nil {
		return fmt.Errorf("push job %q: %w", job.Name, err)
	}
	return nil
}

// Dequeue blocks until a job arrives or the timeout elapses. A quiet queue
// returns (nil, nil) so the worker loop can check its context.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	res, err := q.client.BRPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop job: %w", err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of length %d", len(res))
	}

	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}
