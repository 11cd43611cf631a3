// Package espalier coordinates long-running, multi-stage asynchronous
// computations driven by finite-state dialogue machines. Sessions advance by
// submitting events; invoker states compile their invocation plans into
// stage graphs that run on a task queue while callers poll for readiness.
package espalier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/espalier/internal/executor"
	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/internal/metrics"
	"github.com/aretw0/espalier/internal/progress"
	"github.com/aretw0/espalier/internal/runtime"
	"github.com/aretw0/espalier/pkg/adapters/memory"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
	"github.com/aretw0/espalier/pkg/registry"
	"github.com/aretw0/espalier/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
)

// Version identifies the build. Overridden at release time via ldflags.
var Version = "dev"

// ActionPoll is the next action reported while an invocation graph runs.
const ActionPoll = runtime.ActionPoll

// Caller-facing result types of the transition engine.
type (
	Outcome     = runtime.Outcome
	StartResult = runtime.StartResult
	PollResult  = runtime.PollResult
)

// QueueFactory builds the task queue around the engine's job handler. It
// exists because queue workers need the handler while the engine needs the
// queue.
type QueueFactory func(h ports.JobHandler) (ports.TaskQueue, error)

type config struct {
	machines      []*domain.Machine
	registry      *registry.Registry
	renderer      ports.Renderer
	store         ports.SessionStore
	progressStore ports.ProgressStore
	queueFactory  QueueFactory
	locker        ports.DistributedLocker
	logger        *slog.Logger
	promRegistry  prometheus.Registerer
	lockTimeout   time.Duration
	lockTTL       time.Duration
	workers       int
}

// Option configures the engine.
type Option func(*config)

// WithMachine adds a machine definition. At least one is required.
func WithMachine(m *domain.Machine) Option {
	return func(c *config) {
		c.machines = append(c.machines, m)
	}
}

// WithRegistry sets the unit registry. The registry is frozen during
// construction; units cannot be added afterwards.
func WithRegistry(reg *registry.Registry) Option {
	return func(c *config) {
		c.registry = reg
	}
}

// WithRenderer sets the template renderer. Required.
func WithRenderer(r ports.Renderer) Option {
	return func(c *config) {
		c.renderer = r
	}
}

// WithStore sets the session store. Defaults to in-memory.
func WithStore(s ports.SessionStore) Option {
	return func(c *config) {
		c.store = s
	}
}

// WithProgressStore sets the progress store. Defaults to in-memory.
func WithProgressStore(p ports.ProgressStore) Option {
	return func(c *config) {
		c.progressStore = p
	}
}

// WithQueue sets the task queue factory. Defaults to an in-process worker
// pool.
func WithQueue(f QueueFactory) Option {
	return func(c *config) {
		c.queueFactory = f
	}
}

// WithLocker enables distributed session locking for multi-replica
// deployments.
func WithLocker(l ports.DistributedLocker) Option {
	return func(c *config) {
		c.locker = l
	}
}

// WithLockTimeout bounds lock acquisition; exceeding it fails the operation
// with domain.ErrLockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(c *config) {
		c.lockTimeout = d
	}
}

// WithLockTTL sets the distributed lock expiry.
func WithLockTTL(d time.Duration) Option {
	return func(c *config) {
		c.lockTTL = d
	}
}

// WithLogger sets the logger. Defaults to no-op.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics registers the engine's collectors on the given registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *config) {
		c.promRegistry = reg
	}
}

// WithWorkers sets the default in-process queue's worker count.
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

// Engine is the exposed session orchestrator.
type Engine struct {
	rt       *runtime.Engine
	exec     *executor.Executor
	queue    ports.TaskQueue
	sessions *session.Manager
	logger   *slog.Logger
}

// New validates the configured machines and wires the orchestration stack.
// Construction fails on any state without a usable work specification or
// with a malformed invocation plan.
func New(opts ...Option) (*Engine, error) {
	cfg := &config{
		logger:  logging.NewNop(),
		workers: 4,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.renderer == nil {
		return nil, fmt.Errorf("a renderer is required")
	}
	if cfg.store == nil {
		cfg.store = memory.NewStore()
	}
	if cfg.progressStore == nil {
		cfg.progressStore = memory.NewProgressStore()
	}
	if cfg.registry == nil {
		cfg.registry = registry.New()
	}
	cfg.registry.Freeze()

	var collectors *metrics.Collectors
	if cfg.promRegistry != nil {
		collectors = metrics.New(cfg.promRegistry)
	}

	sessionOpts := []session.Option{session.WithLogger(cfg.logger)}
	if cfg.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(cfg.locker))
	}
	if cfg.lockTimeout > 0 {
		sessionOpts = append(sessionOpts, session.WithTimeout(cfg.lockTimeout))
	}
	if cfg.lockTTL > 0 {
		sessionOpts = append(sessionOpts, session.WithLockTTL(cfg.lockTTL))
	}
	sessions := session.NewManager(cfg.store, sessionOpts...)

	tracker := progress.New(cfg.progressStore, cfg.logger)
	exec := executor.New(cfg.registry, tracker,
		executor.WithLogger(cfg.logger),
		executor.WithMetrics(collectors),
	)

	factory := cfg.queueFactory
	if factory == nil {
		factory = func(h ports.JobHandler) (ports.TaskQueue, error) {
			return memory.NewQueue(h, memory.WithWorkers(cfg.workers)), nil
		}
	}
	queue, err := factory(exec.Handler())
	if err != nil {
		return nil, fmt.Errorf("failed to build task queue: %w", err)
	}
	exec.Bind(queue)

	rt, err := runtime.New(runtime.Config{
		Machines: cfg.machines,
		Sessions: sessions,
		Tracker:  tracker,
		Executor: exec,
		Renderer: cfg.renderer,
		Registry: cfg.registry,
		Logger:   cfg.logger,
		Metrics:  collectors,
	})
	if err != nil {
		queue.Close()
		exec.Close()
		return nil, err
	}

	return &Engine{
		rt:       rt,
		exec:     exec,
		queue:    queue,
		sessions: sessions,
		logger:   cfg.logger,
	}, nil
}

// StartSession creates a session for the machine and returns its initial
// prompt.
func (e *Engine) StartSession(ctx context.Context, machineKey string) (*StartResult, error) {
	return e.rt.Start(ctx, machineKey)
}

// SubmitEvent applies an event to the session. It returns as soon as the
// transition commits; when the destination state triggers an invocation
// graph the caller is told to poll.
func (e *Engine) SubmitEvent(ctx context.Context, sessionID, event, payload string) (*Outcome, error) {
	return e.rt.Submit(ctx, sessionID, event, payload)
}

// PollStatus reports whether the session is ready for its next event,
// together with graph progress while one is running.
func (e *Engine) PollStatus(ctx context.Context, sessionID string) (*PollResult, error) {
	return e.rt.Poll(ctx, sessionID)
}

// GetSnapshot returns a consistent copy of the full session.
func (e *Engine) GetSnapshot(ctx context.Context, sessionID string) (*domain.Session, error) {
	return e.rt.Snapshot(ctx, sessionID)
}

// EndSession removes the session from the store.
func (e *Engine) EndSession(ctx context.Context, sessionID string) error {
	return e.sessions.Delete(ctx, sessionID)
}

// ListSessions returns the ids of all stored sessions.
func (e *Engine) ListSessions(ctx context.Context) ([]string, error) {
	return e.sessions.List(ctx)
}

// Machine returns a configured machine definition.
func (e *Engine) Machine(key string) (*domain.Machine, bool) {
	return e.rt.Machine(key)
}

// Handler exposes the job handler for external worker processes consuming a
// shared queue transport.
func (e *Engine) Handler() ports.JobHandler {
	return e.exec.Handler()
}

// Close stops the queue and the executor. In-flight graphs are abandoned.
func (e *Engine) Close() error {
	err := e.queue.Close()
	e.exec.Close()
	return err
}
