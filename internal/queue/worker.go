package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/arkline/identity-api/internal/logging"
)

// HandlerFunc processes one job payload.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

// backend is the queue surface the worker needs; tests substitute an
// in-memory implementation.
type backend interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*Job, error)
	Requeue(ctx context.Context, job *Job) error
}

// Worker drains the queue, dispatching each job to its registered handler.
// A failing job goes back on the queue until it exhausts maxAttempts, then
// it is dropped with a log line.
type Worker struct {
	queue       backend
	logger      *logging.Logger
	handlers    map[string]HandlerFunc
	maxAttempts int
	popTimeout  time.Duration
}

func NewWorker(queue *Queue, logger *logging.Logger, maxAttempts int) *Worker {
	return &Worker{
		queue:       queue,
		logger:      logger,
		handlers:    make(map[string]HandlerFunc),
		maxAttempts: maxAttempts,
		popTimeout:  5 * time.Second,
	}
}

// Handle registers the handler for a job name. Call before Run.
func (w *Worker) Handle(name string, fn HandlerFunc) {
	w.handlers[name] = fn
}

// Run consumes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("queue worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("queue worker stopped")
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx, w.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("queue worker stopped")
				return
			}
			w.logger.Error("dequeue failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	handler, ok := w.handlers[job.Name]
	if !ok {
		w.logger.Error("no handler for job", "job", job.Name)
		return
	}

	if err := handler(ctx, job.Payload); err != nil {
		job.Attempts++
		if job.Attempts >= w.maxAttempts {
			w.logger.Error("job dropped after max attempts",
				"job", job.Name, "attempts", job.Attempts, "error", err)
			return
		}
		w.logger.Warn("job failed, requeueing",
			"job", job.Name, "attempts", job.Attempts, "error", err)
		if err := w.queue.Requeue(ctx, job); err != nil {
			w.logger.Error("requeue failed", "job", job.Name, "error", err)
		}
		return
	}

	w.logger.Info("job completed", "job", job.Name)
}
