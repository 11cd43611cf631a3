package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/espalier/pkg/ports"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWorkers = 4
	defaultBuffer  = 64
)

// Queue implements ports.TaskQueue with an in-process worker pool. Jobs are
// executed by the handler supplied at construction; completions are
// delivered on the shared results channel.
type Queue struct {
	handler ports.JobHandler
	jobs    chan ports.Job
	results chan ports.Result

	group  *errgroup.Group
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// QueueOption configures the queue.
type QueueOption func(*queueConfig)

type queueConfig struct {
	workers int
	buffer  int
}

// WithWorkers sets the worker pool size.
func WithWorkers(n int) QueueOption {
	return func(c *queueConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithBuffer sets the job and result channel capacity.
func WithBuffer(n int) QueueOption {
	return func(c *queueConfig) {
		if n > 0 {
			c.buffer = n
		}
	}
}

// NewQueue creates a queue and starts its workers.
func NewQueue(handler ports.JobHandler, opts ...QueueOption) *Queue {
	cfg := queueConfig{workers: defaultWorkers, buffer: defaultBuffer}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	q := &Queue{
		handler: handler,
		jobs:    make(chan ports.Job, cfg.buffer),
		results: make(chan ports.Result, cfg.buffer),
		group:   group,
		cancel:  cancel,
	}

	for i := 0; i < cfg.workers; i++ {
		group.Go(func() error {
			q.work(ctx)
			return nil
		})
	}
	return q
}

func (q *Queue) work(ctx context.Context) {
	for job := range q.jobs {
		out, err := q.handler(ctx, job)
		res := ports.Result{
			JobID:     job.ID,
			TaskID:    job.TaskID,
			SessionID: job.SessionID,
			Unit:      job.Unit,
			Output:    out,
		}
		if err != nil {
			res.Err = err.Error()
		}
		select {
		case q.results <- res:
		case <-ctx.Done():
			return
		}
	}
}

// Enqueue submits a job for execution.
func (q *Queue) Enqueue(ctx context.Context, job ports.Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("queue is closed")
	}
	q.mu.Unlock()

	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results delivers completion notifications.
func (q *Queue) Results() <-chan ports.Result {
	return q.results
}

// Close drains the workers and closes the results channel.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	close(q.jobs)
	err := q.group.Wait()
	q.cancel()
	close(q.results)
	return err
}
