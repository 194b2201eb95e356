package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkline/identity-api/internal/logging"
)

// memBackend is an in-memory queue for worker tests.
type memBackend struct {
	jobs []*Job
}

func (b *memBackend) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	if len(b.jobs) == 0 {
		return nil, nil
	}
	job := b.jobs[0]
	b.jobs = b.jobs[1:]
	return job, nil
}

func (b *memBackend) Requeue(ctx context.Context, job *Job) error {
	b.jobs = append(b.jobs, job)
	return nil
}

func newTestWorker(backend backend, maxAttempts int) *Worker {
	return &Worker{
		queue:       backend,
		logger:      logging.NewLogger(true),
		handlers:    make(map[string]HandlerFunc),
		maxAttempts: maxAttempts,
		popTimeout:  time.Millisecond,
	}
}

func TestWorkerProcessesJob(t *testing.T) {
	backend := &memBackend{}
	worker := newTestWorker(backend, 3)

	var got string
	worker.Handle("greet", func(ctx context.Context, payload json.RawMessage) error {
		return json.Unmarshal(payload, &got)
	})

	payload, err := json.Marshal("hello")
	require.NoError(t, err)
	worker.process(context.Background(), &Job{Name: "greet", Payload: payload})

	assert.Equal(t, "hello", got)
	assert.Empty(t, backend.jobs)
}

func TestWorkerRequeuesFailedJob(t *testing.T) {
	backend := &memBackend{}
	worker := newTestWorker(backend, 3)

	worker.Handle("flaky", func(ctx context.Context, payload json.RawMessage) error {
		return errors.New("smtp unavailable")
	})

	worker.process(context.Background(), &Job{Name: "flaky"})

	require.Len(t, backend.jobs, 1)
	assert.Equal(t, 1, backend.jobs[0].Attempts)
}

func TestWorkerDropsJobAfterMaxAttempts(t *testing.T) {
	backend := &memBackend{}
	worker := newTestWorker(backend, 3)

	calls := 0
	worker.Handle("flaky", func(ctx context.Context, payload json.RawMessage) error {
		calls++
		return errors.New("smtp unavailable")
	})

	worker.process(context.Background(), &Job{Name: "flaky"})
	for len(backend.jobs) > 0 {
		job := backend.jobs[0]
		backend.jobs = backend.jobs[1:]
		worker.process(context.Background(), job)
	}

	assert.Equal(t, 3, calls)
	assert.Empty(t, backend.jobs)
}

func TestWorkerIgnoresUnknownJob(t *testing.T) {
	backend := &memBackend{}
	worker := newTestWorker(backend, 3)

	worker.process(context.Background(), &Job{Name: "mystery"})
	assert.Empty(t, backend.jobs)
}
