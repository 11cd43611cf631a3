package domain

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a session ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrMachineNotFound is returned when a machine key is not registered with
// the engine.
var ErrMachineNotFound = errors.New("machine not found")

// ErrLockTimeout is returned when the session lock cannot be acquired within
// the configured bound. The operation is retryable.
var ErrLockTimeout = errors.New("session lock timeout")

// ErrNoApplicableTransition is returned when an event has no matching
// transition (source and guard) in the session's current state. The session
// is left unchanged.
var ErrNoApplicableTransition = errors.New("no applicable transition")

// TransitionError wraps ErrNoApplicableTransition with the context the
// caller needs to recover: the state it was in and the events it accepts.
type TransitionError struct {
	Machine   string
	StateID   string
	StateName string
	Event     string
	Allowed   []string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("no applicable transition for event %q in state %q (allowed: %v)",
		e.Event, e.StateID, e.Allowed)
}

func (e *TransitionError) Unwrap() error { return ErrNoApplicableTransition }

// MissingWorkSpecError reports a destination state without a work
// specification: a user state with no template, or an invoker state with no
// plan or no outgoing completion event. Fatal at machine construction.
type MissingWorkSpecError struct {
	Machine string
	StateID string
	Reason  string
}

func (e *MissingWorkSpecError) Error() string {
	return fmt.Sprintf("machine %q: state %q has no usable work specification: %s",
		e.Machine, e.StateID, e.Reason)
}

// CompilationError reports a malformed invocation plan. Fatal at machine
// construction.
type CompilationError struct {
	Machine string
	StateID string
	Reason  string
}

func (e *CompilationError) Error() string {
	if e.Machine == "" && e.StateID == "" {
		return fmt.Sprintf("invalid invocation plan: %s", e.Reason)
	}
	return fmt.Sprintf("machine %q: state %q has an invalid invocation plan: %s",
		e.Machine, e.StateID, e.Reason)
}

// UnitExecutionError reports the failure of a compiled-stage unit. It aborts
// the remaining stages of the graph and is annotated on the session.
type UnitExecutionError struct {
	SessionID string
	TaskID    string
	Unit      string
	Cause     error
}

func (e *UnitExecutionError) Error() string {
	return fmt.Sprintf("unit %q failed for session %s: %v", e.Unit, e.SessionID, e.Cause)
}

func (e *UnitExecutionError) Unwrap() error { return e.Cause }
