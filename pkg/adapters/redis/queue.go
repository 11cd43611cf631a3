package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// Queue implements ports.TaskQueue over two redis lists: a job list shared
// by all workers and a result list pumped back to the enqueuing process.
// Workers may run in-process or as separate worker processes via RunWorker.
type Queue struct {
	client  *backend.Client
	prefix  string
	handler ports.JobHandler
	workers int
	popWait time.Duration
	logger  *slog.Logger

	results chan ports.Result
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

// QueueOption configures the queue.
type QueueOption func(*Queue)

// WithQueuePrefix overrides the key prefix.
func WithQueuePrefix(prefix string) QueueOption {
	return func(q *Queue) {
		q.prefix = prefix
	}
}

// WithWorkers sets the number of in-process workers. Zero disables them, for
// deployments where separate worker processes consume the job list.
func WithWorkers(n int) QueueOption {
	return func(q *Queue) {
		if n >= 0 {
			q.workers = n
		}
	}
}

// WithQueueLogger configures a logger for worker failures.
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// NewQueue creates the queue transport and starts its result pump. The
// handler executes jobs on the in-process workers; it may be nil when
// workers are disabled.
func NewQueue(client *backend.Client, handler ports.JobHandler, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		client:  client,
		prefix:  defaultPrefix,
		handler: handler,
		workers: 2,
		popWait: 250 * time.Millisecond,
		logger:  logging.NewNop(),
		results: make(chan ports.Result, 64),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(q)
	}

	q.wg.Add(1)
	go q.pump()

	if q.handler != nil {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func() {
				defer q.wg.Done()
				q.consume(q.ctx, q.handler)
			}()
		}
	}
	return q
}

func (q *Queue) jobsKey() string {
	return q.prefix + "queue:jobs"
}

func (q *Queue) resultsKey() string {
	return q.prefix + "queue:results"
}

// Enqueue pushes a job onto the shared job list.
func (q *Queue) Enqueue(ctx context.Context, job ports.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.jobsKey(), data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Results delivers completion notifications pumped from the result list.
func (q *Queue) Results() <-chan ports.Result {
	return q.results
}

// Close stops the workers and the pump and closes the results channel.
func (q *Queue) Close() error {
	q.once.Do(func() {
		q.cancel()
		q.wg.Wait()
		close(q.results)
	})
	return nil
}

// RunWorker consumes the job list until the context is done. It is the entry
// point for dedicated worker processes sharing this queue's redis instance.
func (q *Queue) RunWorker(ctx context.Context, handler ports.JobHandler) {
	q.consume(ctx, handler)
}

func (q *Queue) consume(ctx context.Context, handler ports.JobHandler) {
	for {
		vals, err := q.client.BRPop(ctx, q.popWait, q.jobsKey()).Result()
		if err != nil {
			if errors.Is(err, backend.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			q.logger.Warn("job pop failed", "err", err)
			continue
		}
		// BRPOP returns [key, value].
		if len(vals) != 2 {
			continue
		}

		var job ports.Job
		if err := json.Unmarshal([]byte(vals[1]), &job); err != nil {
			q.logger.Warn("dropping malformed job", "err", err)
			continue
		}

		res := ports.Result{
			JobID:     job.ID,
			TaskID:    job.TaskID,
			SessionID: job.SessionID,
			Unit:      job.Unit,
		}
		out, err := handler(ctx, job)
		if err != nil {
			res.Err = err.Error()
		} else {
			res.Output = out
		}

		data, err := json.Marshal(res)
		if err != nil {
			q.logger.Error("failed to marshal result", "job_id", job.ID, "err", err)
			continue
		}
		if err := q.client.LPush(ctx, q.resultsKey(), data).Err(); err != nil {
			q.logger.Error("failed to publish result", "job_id", job.ID, "err", err)
		}
	}
}

// pump moves results from the redis list onto the results channel.
func (q *Queue) pump() {
	defer q.wg.Done()
	for {
		vals, err := q.client.BRPop(q.ctx, q.popWait, q.resultsKey()).Result()
		if err != nil {
			if errors.Is(err, backend.Nil) {
				continue
			}
			if q.ctx.Err() != nil {
				return
			}
			q.logger.Warn("result pop failed", "err", err)
			continue
		}
		if len(vals) != 2 {
			continue
		}

		var res ports.Result
		if err := json.Unmarshal([]byte(vals[1]), &res); err != nil {
			q.logger.Warn("dropping malformed result", "err", err)
			continue
		}

		select {
		case q.results <- res:
		case <-q.ctx.Done():
			return
		}
	}
}
