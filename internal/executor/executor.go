// Package executor coordinates compiled invocation graphs over the task
// queue: per-stage fan-out, output aggregation, previous_result injection
// and delivery of the terminal synthetic event back into the engine.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/internal/metrics"
	"github.com/aretw0/espalier/internal/progress"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
	"github.com/aretw0/espalier/pkg/registry"
	"github.com/google/uuid"
)

// CompleteFunc re-enters the transition engine when a graph finishes. It is
// the executor's only path back into session state: the engine re-acquires
// the session lock and commits the terminal result; the executor itself
// never mutates a session.
type CompleteFunc func(ctx context.Context, sessionID, taskID, event, payload string, unitErr error)

// Launch describes one compiled graph ready to run. The engine builds it
// under the session lock; the executor runs it after the lock is released.
type Launch struct {
	SessionID string
	TaskID    string
	Event     string
	Stages    []domain.Stage
	Data      map[string]any
}

// Executor submits compiled stages to the task queue and enforces stage
// ordering. One dispatch goroutine consumes the queue's results channel and
// routes each completion to the goroutine coordinating its graph.
type Executor struct {
	registry *registry.Registry
	tracker  *progress.Tracker
	queue    ports.TaskQueue
	complete CompleteFunc
	logger   *slog.Logger
	metrics  *metrics.Collectors

	mu      sync.Mutex
	pending map[string]chan ports.Result
	inline  map[string]domain.UnitFunc

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures the executor.
type Option func(*Executor)

// WithLogger sets the executor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(x *Executor) {
		if logger != nil {
			x.logger = logger
		}
	}
}

// WithMetrics enables instrumentation.
func WithMetrics(m *metrics.Collectors) Option {
	return func(x *Executor) {
		x.metrics = m
	}
}

// New creates an executor. Bind must be called with a queue before the first
// Launch, and SetCompletion with the engine's re-entry point.
func New(reg *registry.Registry, tracker *progress.Tracker, opts ...Option) *Executor {
	ctx, cancel := context.WithCancel(context.Background())
	x := &Executor{
		registry: reg,
		tracker:  tracker,
		logger:   logging.NewNop(),
		pending:  make(map[string]chan ports.Result),
		inline:   make(map[string]domain.UnitFunc),
		baseCtx:  ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Handler returns the job handler queue workers run: inline units first,
// then the registry. Worker processes sharing a redis queue construct their
// queues with the same handler against their own registry.
func (x *Executor) Handler() ports.JobHandler {
	return func(ctx context.Context, job ports.Job) (string, error) {
		inv := domain.Invocation{SessionID: job.SessionID, Unit: job.Unit, Data: job.Data}

		x.mu.Lock()
		fn := x.inline[job.ID]
		x.mu.Unlock()

		if fn != nil {
			return fn(ctx, inv)
		}
		return x.registry.Invoke(ctx, job.Unit, inv)
	}
}

// Bind attaches the queue and starts the result dispatch loop.
func (x *Executor) Bind(queue ports.TaskQueue) {
	x.queue = queue
	x.wg.Add(1)
	go x.dispatchLoop()
}

// SetCompletion wires the engine's synthetic-event re-entry point. Set once
// during assembly; the one-directional dependency keeps the engine owning
// the executor, not the other way around.
func (x *Executor) SetCompletion(fn CompleteFunc) {
	x.complete = fn
}

// Close stops the dispatch loop and waits for in-flight graphs to unwind.
func (x *Executor) Close() {
	x.cancel()
	x.wg.Wait()
}

func (x *Executor) dispatchLoop() {
	defer x.wg.Done()
	for {
		select {
		case res, ok := <-x.queue.Results():
			if !ok {
				return
			}
			x.mu.Lock()
			ch := x.pending[res.JobID]
			delete(x.pending, res.JobID)
			delete(x.inline, res.JobID)
			x.mu.Unlock()

			if ch == nil {
				x.logger.Warn("dropping result for unknown job", "job_id", res.JobID, "unit", res.Unit)
				continue
			}
			ch <- res
		case <-x.baseCtx.Done():
			return
		}
	}
}

// Execute runs a compiled graph asynchronously and returns immediately. The
// caller must no longer hold the session lock: units run outside it, and the
// lock is only re-acquired by the completion path.
func (x *Executor) Execute(l Launch) {
	x.metrics.TaskStarted()
	x.wg.Add(1)
	go func() {
		defer x.wg.Done()
		defer x.metrics.TaskFinished()

		agg, err := x.runStages(x.baseCtx, &l, l.Stages, l.Data)

		payload := ""
		if err != nil {
			x.logger.Error("invocation graph failed",
				"session_id", l.SessionID, "task_id", l.TaskID, "err", err)
		} else {
			payload = flatten(agg)
		}
		x.complete(x.baseCtx, l.SessionID, l.TaskID, l.Event, payload, err)
	}()
}

type slotResult struct {
	name string
	out  any
	err  error
}

// runStages executes stages strictly in order. All units of a stage run in
// parallel; a unit failure lets the stage's siblings drain but stops any
// further stage from being enqueued.
func (x *Executor) runStages(ctx context.Context, l *Launch, stages []domain.Stage, base map[string]any) (any, error) {
	var prev any
	for i, stage := range stages {
		data := cloneData(base)
		if i > 0 {
			data["previous_result"] = prev
		}

		slots := make([]slotResult, len(stage.Units))
		var wg sync.WaitGroup
		for idx, unit := range stage.Units {
			wg.Add(1)
			go func(idx int, unit domain.Unit) {
				defer wg.Done()
				var out any
				var err error
				if len(unit.Sub) > 0 {
					out, err = x.runStages(ctx, l, unit.Sub, data)
				} else {
					out, err = x.runUnit(ctx, l, unit, data)
				}
				slots[idx] = slotResult{name: unit.Name, out: out, err: err}
			}(idx, unit)
		}
		wg.Wait()

		for _, slot := range slots {
			if slot.err != nil {
				return nil, slot.err
			}
		}

		if len(slots) == 1 {
			prev = slots[0].out
		} else {
			agg := make(map[string]any, len(slots))
			for _, slot := range slots {
				agg[slot.name] = slot.out
			}
			prev = agg
		}
	}
	return prev, nil
}

// runUnit enqueues one leaf unit and blocks until its completion arrives.
func (x *Executor) runUnit(ctx context.Context, l *Launch, unit domain.Unit, data map[string]any) (any, error) {
	jobID := uuid.NewString()
	ch := make(chan ports.Result, 1)

	x.mu.Lock()
	x.pending[jobID] = ch
	if unit.Fn != nil {
		x.inline[jobID] = unit.Fn
	}
	x.mu.Unlock()

	job := ports.Job{
		ID:        jobID,
		TaskID:    l.TaskID,
		SessionID: l.SessionID,
		Unit:      unit.Ref,
		Data:      data,
	}
	if err := x.queue.Enqueue(ctx, job); err != nil {
		x.mu.Lock()
		delete(x.pending, jobID)
		delete(x.inline, jobID)
		x.mu.Unlock()
		x.metrics.Unit("error")
		return nil, &domain.UnitExecutionError{
			SessionID: l.SessionID, TaskID: l.TaskID, Unit: unit.Name,
			Cause: fmt.Errorf("enqueue failed: %w", err),
		}
	}

	select {
	case res := <-ch:
		if res.Failed() {
			x.metrics.Unit("error")
			return nil, &domain.UnitExecutionError{
				SessionID: l.SessionID, TaskID: l.TaskID, Unit: unit.Name,
				Cause: fmt.Errorf("%s", res.Err),
			}
		}
		x.tracker.Increment(ctx, l.SessionID)
		x.metrics.Unit("ok")
		x.logger.Debug("unit completed",
			"session_id", l.SessionID, "task_id", l.TaskID, "unit", unit.Name)
		return res.Output, nil
	case <-ctx.Done():
		return nil, &domain.UnitExecutionError{
			SessionID: l.SessionID, TaskID: l.TaskID, Unit: unit.Name, Cause: ctx.Err(),
		}
	}
}

// flatten turns a stage aggregate into the payload string of the synthetic
// event: strings pass through, anything else is JSON.
func flatten(agg any) string {
	switch v := agg.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func cloneData(src map[string]any) map[string]any {
	out := make(map[string]any, len(src)+1)
	for k, v := range src {
		out[k] = v
	}
	return out
}
