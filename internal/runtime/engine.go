// Package runtime implements the state transition engine: it evaluates
// events against machine definitions, computes transition metadata, drives
// the hook pipeline and commits session mutations under the per-session
// lock. Invocation graphs compiled from invoker states run outside the lock
// and re-enter through CompleteTask.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/espalier/internal/compiler"
	"github.com/aretw0/espalier/internal/executor"
	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/internal/metrics"
	"github.com/aretw0/espalier/internal/progress"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
	"github.com/aretw0/espalier/pkg/registry"
	"github.com/aretw0/espalier/pkg/session"
	"github.com/google/uuid"
)

// ActionPoll is the single next action reported while a graph is running.
const ActionPoll = "poll"

// Config wires the engine's collaborators. Machines, Sessions, Tracker,
// Executor and Renderer are required; Registry may be nil when every plan
// uses inline units.
type Config struct {
	Machines []*domain.Machine
	Sessions *session.Manager
	Tracker  *progress.Tracker
	Executor *executor.Executor
	Renderer ports.Renderer
	Registry *registry.Registry
	Logger   *slog.Logger
	Metrics  *metrics.Collectors
}

// Engine is the top-level transition coordinator. It owns the executor and
// the lock manager; the executor calls back only through CompleteTask.
type Engine struct {
	machines map[string]*domain.Machine
	plans    map[string]map[string][]domain.Stage

	sessions *session.Manager
	tracker  *progress.Tracker
	exec     *executor.Executor
	renderer ports.Renderer
	recorder *Recorder
	logger   *slog.Logger
	metrics  *metrics.Collectors
}

// Outcome is the caller-facing result of a committed transition.
type Outcome struct {
	NextActions []string
	Response    string
}

// StartResult reports a freshly created session together with its initial
// prompt.
type StartResult struct {
	Session     *domain.Session
	Response    string
	NextActions []string
}

// PollResult reports whether the session is ready for its next event. Total
// and Executed are set only while an invocation graph is running. Error
// carries the most recent graph failure, if any.
type PollResult struct {
	Ready       bool
	NextActions []string
	Total       *int
	Executed    *int
	Error       string
}

// New validates and compiles the configured machines and wires the executor's
// completion path back into the engine. Construction fails on the first
// machine whose states lack a usable work specification.
func New(cfg Config) (*Engine, error) {
	if len(cfg.Machines) == 0 {
		return nil, fmt.Errorf("no machines configured")
	}
	if cfg.Sessions == nil || cfg.Tracker == nil || cfg.Executor == nil || cfg.Renderer == nil {
		return nil, fmt.Errorf("sessions, tracker, executor and renderer are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}

	e := &Engine{
		machines: make(map[string]*domain.Machine, len(cfg.Machines)),
		plans:    make(map[string]map[string][]domain.Stage, len(cfg.Machines)),
		sessions: cfg.Sessions,
		tracker:  cfg.Tracker,
		exec:     cfg.Executor,
		renderer: cfg.Renderer,
		recorder: NewRecorder(cfg.Logger),
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}

	for _, m := range cfg.Machines {
		if m.Key == "" {
			return nil, fmt.Errorf("machine without a key")
		}
		if _, dup := e.machines[m.Key]; dup {
			return nil, fmt.Errorf("duplicate machine %q", m.Key)
		}
		plans, err := e.validate(m, cfg.Registry)
		if err != nil {
			return nil, err
		}
		e.machines[m.Key] = m
		e.plans[m.Key] = plans
	}

	e.exec.SetCompletion(e.CompleteTask)
	return e, nil
}

// validate checks a machine's construction invariants and compiles every
// invoker state's plan.
func (e *Engine) validate(m *domain.Machine, reg *registry.Registry) (map[string][]domain.Stage, error) {
	initial := m.State(m.Initial)
	if initial == nil {
		return nil, &domain.MissingWorkSpecError{
			Machine: m.Key, StateID: m.Initial,
			Reason: "initial state is not declared",
		}
	}
	if initial.Kind != domain.KindUser {
		return nil, &domain.MissingWorkSpecError{
			Machine: m.Key, StateID: m.Initial,
			Reason: "initial state must be a user state",
		}
	}

	for _, t := range m.Transitions {
		if m.State(t.Source) == nil {
			return nil, fmt.Errorf("machine %q: transition %q references undeclared source %q", m.Key, t.Event, t.Source)
		}
		if m.State(t.Target) == nil {
			return nil, fmt.Errorf("machine %q: transition %q references undeclared target %q", m.Key, t.Event, t.Target)
		}
	}

	plans := make(map[string][]domain.Stage)
	for id, st := range m.States {
		if st.ID == "" {
			st.ID = id
		}
		switch st.Kind {
		case domain.KindUser:
			if st.Template == "" {
				return nil, &domain.MissingWorkSpecError{
					Machine: m.Key, StateID: id,
					Reason: "user state has no template",
				}
			}
			if e.renderer != nil && !e.renderer.Has(st.Template) {
				return nil, &domain.MissingWorkSpecError{
					Machine: m.Key, StateID: id,
					Reason: fmt.Sprintf("template %q does not resolve", st.Template),
				}
			}

		case domain.KindInvoker:
			if st.Plan == nil {
				return nil, &domain.MissingWorkSpecError{
					Machine: m.Key, StateID: id,
					Reason: "invoker state has no invocation plan",
				}
			}
			stages, err := compiler.Compile(st.Plan)
			if err != nil {
				if cerr, ok := err.(*domain.CompilationError); ok {
					cerr.Machine = m.Key
					cerr.StateID = id
				}
				return nil, err
			}
			events := m.EventsFrom(id)
			if len(events) != 1 {
				return nil, &domain.MissingWorkSpecError{
					Machine: m.Key, StateID: id,
					Reason: fmt.Sprintf("invoker state needs exactly one outgoing completion event, has %d", len(events)),
				}
			}
			for _, ref := range compiler.Refs(stages) {
				if reg == nil || !reg.Has(ref) {
					return nil, &domain.MissingWorkSpecError{
						Machine: m.Key, StateID: id,
						Reason: fmt.Sprintf("unit %q is not registered", ref),
					}
				}
			}
			plans[id] = stages

		default:
			return nil, fmt.Errorf("machine %q: state %q has unknown kind %q", m.Key, id, st.Kind)
		}
	}
	return plans, nil
}

// Machine returns a configured machine definition.
func (e *Engine) Machine(key string) (*domain.Machine, bool) {
	m, ok := e.machines[key]
	return m, ok
}

// Start creates a new session for the machine, renders the initial state's
// prompt as the first dialogue element and persists the session.
func (e *Engine) Start(ctx context.Context, machineKey string) (*StartResult, error) {
	m, ok := e.machines[machineKey]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrMachineNotFound, machineKey)
	}

	s := domain.NewSession(uuid.NewString(), machineKey, m.Initial)
	initial := m.State(m.Initial)

	out, err := e.renderer.Render(ctx, initial.Template, renderData(s, initial))
	if err != nil {
		return nil, fmt.Errorf("render initial state %q: %w", m.Initial, err)
	}
	s.Append(domain.ActorAssistant, out)

	if err := e.sessions.Save(ctx, s); err != nil {
		return nil, err
	}
	e.logger.Info("session started", "session_id", s.ID, "machine", machineKey)

	return &StartResult{
		Session:     s,
		Response:    out,
		NextActions: m.EventsFrom(m.Initial),
	}, nil
}

// Submit applies an external event to the session. It returns as soon as the
// transition commits: when the destination is an invoker state the graph is
// enqueued after the lock is released and the caller is told to poll.
func (e *Engine) Submit(ctx context.Context, sessionID, event, payload string) (*Outcome, error) {
	var (
		out    *Outcome
		launch *executor.Launch
	)
	err := e.sessions.WithLock(ctx, sessionID, func(ctx context.Context) error {
		s, err := e.sessions.Store().Load(ctx, sessionID)
		if err != nil {
			return err
		}
		res, err := e.transition(ctx, s, event, payload)
		if err != nil {
			return err
		}
		if err := e.sessions.Store().Save(ctx, s); err != nil {
			return err
		}
		out = res.outcome
		launch = res.launch
		return nil
	})
	if err != nil {
		return nil, err
	}
	if launch != nil {
		e.exec.Execute(*launch)
	}
	return out, nil
}

// CompleteTask is the executor's re-entry point: it commits the terminal
// result of an invocation graph under a fresh lock acquisition. Results of a
// superseded graph are dropped. A failed graph still advances the machine
// with empty input so no poll is ever left hanging.
func (e *Engine) CompleteTask(ctx context.Context, sessionID, taskID, event, payload string, unitErr error) {
	var launch *executor.Launch
	err := e.sessions.WithLock(ctx, sessionID, func(ctx context.Context) error {
		s, err := e.sessions.Store().Load(ctx, sessionID)
		if err != nil {
			return err
		}
		if s.RunningTask != taskID {
			e.logger.Info("dropping result of superseded graph",
				"session_id", sessionID, "task_id", taskID)
			return nil
		}
		if unitErr != nil {
			s.TaskError = unitErr.Error()
			payload = ""
		}

		res, terr := e.transition(ctx, s, event, payload)
		if terr != nil {
			return e.abortTask(ctx, sessionID, taskID, unitErr, terr)
		}
		if res.launch == nil {
			s.RunningTask = ""
			if err := e.tracker.Finish(ctx, s.ID); err != nil {
				return err
			}
		}
		if err := e.sessions.Store().Save(ctx, s); err != nil {
			return err
		}
		launch = res.launch
		return nil
	})
	if err != nil {
		e.logger.Error("failed to commit graph completion",
			"session_id", sessionID, "task_id", taskID, "err", err)
		return
	}
	if launch != nil {
		e.exec.Execute(*launch)
	}
}

// abortTask clears the running graph after its completion could not be
// committed, so the failure surfaces on the next poll instead of hanging it.
// It reloads the session to discard partial transition mutations.
func (e *Engine) abortTask(ctx context.Context, sessionID, taskID string, unitErr, terr error) error {
	e.logger.Error("graph completion did not transition",
		"session_id", sessionID, "task_id", taskID, "err", terr)

	s, err := e.sessions.Store().Load(ctx, sessionID)
	if err != nil {
		return err
	}
	s.RunningTask = ""
	if unitErr != nil {
		s.TaskError = unitErr.Error()
	} else {
		s.TaskError = terr.Error()
	}
	s.UpdatedAt = time.Now().UTC()
	if err := e.tracker.Finish(ctx, s.ID); err != nil {
		return err
	}
	return e.sessions.Store().Save(ctx, s)
}

// Poll reports whether the session is ready for its next event. The read
// happens under the session lock, which makes an absent progress record
// authoritative: a poll racing a graph swap blocks until the new record is
// in place.
func (e *Engine) Poll(ctx context.Context, sessionID string) (*PollResult, error) {
	var res *PollResult
	err := e.sessions.WithLock(ctx, sessionID, func(ctx context.Context) error {
		s, err := e.sessions.Store().Load(ctx, sessionID)
		if err != nil {
			return err
		}
		m, ok := e.machines[s.Machine]
		if !ok {
			return fmt.Errorf("session %s references unknown machine %q", sessionID, s.Machine)
		}

		rec, err := e.tracker.Read(ctx, s.ID)
		if err != nil {
			return err
		}
		if rec != nil {
			total, executed := rec.Total, rec.Executed
			res = &PollResult{
				NextActions: []string{ActionPoll},
				Total:       &total,
				Executed:    &executed,
				Error:       s.TaskError,
			}
			return nil
		}
		res = &PollResult{
			Ready:       true,
			NextActions: m.EventsFrom(s.CurrentState),
			Error:       s.TaskError,
		}
		return nil
	})
	return res, err
}

// Snapshot returns a consistent copy of the session.
func (e *Engine) Snapshot(ctx context.Context, sessionID string) (*domain.Session, error) {
	return e.sessions.Load(ctx, sessionID)
}

type txn struct {
	outcome *Outcome
	launch  *executor.Launch
}

// transition selects and applies one transition to the in-memory session.
// The caller holds the session lock and is responsible for persisting the
// mutated session; on error nothing has been saved, so committed state is
// unchanged.
func (e *Engine) transition(ctx context.Context, s *domain.Session, event, payload string) (*txn, error) {
	m, ok := e.machines[s.Machine]
	if !ok {
		return nil, fmt.Errorf("session %s references unknown machine %q", s.ID, s.Machine)
	}
	source := m.State(s.CurrentState)
	if source == nil {
		return nil, fmt.Errorf("session %s is in undeclared state %q", s.ID, s.CurrentState)
	}

	var chosen *domain.Transition
	for _, t := range m.TransitionsFrom(s.CurrentState) {
		if t.Event != event {
			continue
		}
		if t.Guard == nil {
			chosen = &t
			break
		}
		ok, err := t.Guard(ctx, s, payload)
		if err != nil {
			return nil, fmt.Errorf("guard for event %q in state %q: %w", event, s.CurrentState, err)
		}
		if ok {
			chosen = &t
			break
		}
	}
	if chosen == nil {
		e.metrics.Transition(m.Key, "rejected")
		return nil, &domain.TransitionError{
			Machine:   m.Key,
			StateID:   source.ID,
			StateName: source.DisplayName(),
			Event:     event,
			Allowed:   m.EventsFrom(source.ID),
		}
	}

	target := m.State(chosen.Target)
	actor := source.Kind.AsActor()
	policy := domain.DefaultPolicy(domain.TransitionType{Source: source.Kind, Target: target.Kind})

	hc := &domain.HookContext{
		Event:   event,
		Source:  source,
		Target:  target,
		Policy:  &policy,
		Session: s,
	}
	if err := runHooks(ctx, hc, m.Before, source.OnExit); err != nil {
		return nil, err
	}

	s.CurrentState = target.ID
	s.Actor = actor
	s.ActorInput = payload
	s.UpdatedAt = time.Now().UTC()

	// Entry hooks run after the state commit and may override the policy
	// before the recorder consumes it.
	if err := runHooks(ctx, hc, target.OnEnter); err != nil {
		return nil, err
	}

	rendered := ""
	if target.Kind == domain.KindUser {
		out, err := e.renderer.Render(ctx, target.Template, renderData(s, target))
		if err != nil {
			return nil, fmt.Errorf("render state %q: %w", target.ID, err)
		}
		rendered = out
	}
	e.recorder.Record(s, policy, actor, payload, rendered)

	if err := runHooks(ctx, hc, m.After); err != nil {
		return nil, err
	}

	res := &txn{}
	if target.Kind == domain.KindInvoker {
		taskID := uuid.NewString()
		stages := e.plans[m.Key][target.ID]
		completion, _ := m.CompletionEvent(target.ID)

		s.RunningTask = taskID
		s.TaskError = ""

		// Creating the record replaces any superseded one in the same
		// lock acquisition, so a concurrent poll never observes a gap
		// between two graphs.
		if err := e.tracker.Start(ctx, s.ID, taskID, compiler.CountUnits(stages)); err != nil {
			return nil, err
		}

		res.launch = &executor.Launch{
			SessionID: s.ID,
			TaskID:    taskID,
			Event:     completion,
			Stages:    stages,
			Data:      renderData(s, target),
		}

		response := ""
		if actor == domain.ActorUser && policy != domain.PersistNone {
			if last := s.LastElement(); last != nil {
				response = last.Content
			}
		}
		res.outcome = &Outcome{NextActions: []string{ActionPoll}, Response: response}
	} else {
		res.outcome = &Outcome{NextActions: m.EventsFrom(target.ID), Response: rendered}
	}

	e.metrics.Transition(m.Key, "ok")
	e.logger.Debug("transition committed",
		"session_id", s.ID,
		"machine", m.Key,
		"event", event,
		"from", source.ID,
		"to", target.ID,
		"policy", string(policy),
	)
	return res, nil
}

func runHooks(ctx context.Context, hc *domain.HookContext, groups ...[]domain.Hook) error {
	for _, hooks := range groups {
		for _, h := range hooks {
			if err := h(ctx, hc); err != nil {
				return fmt.Errorf("hook for event %q: %w", hc.Event, err)
			}
		}
	}
	return nil
}
