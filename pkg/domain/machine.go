package domain

import (
	"context"
	"strings"
)

// Guard decides whether a transition may fire for the given session and
// event payload. Guards are evaluated in declaration order; the first guard
// that passes (or the first unguarded transition) selects the transition.
type Guard func(ctx context.Context, s *Session, payload string) (bool, error)

// HookContext is the mutable view a lifecycle hook receives. Entry hooks of
// the destination state may override Policy before the recorder consumes it.
type HookContext struct {
	Event   string
	Source  *StateDef
	Target  *StateDef
	Policy  *PersistencePolicy
	Session *Session
}

// Hook is a typed lifecycle callback. Hooks are registered per state or per
// machine at construction time; there is no name-based dispatch.
type Hook func(ctx context.Context, hc *HookContext) error

// StateDef declares a single state of a machine.
type StateDef struct {
	ID   string
	Name string
	Kind StateKind

	// Template is the render specification of a user state. It is also used
	// by the recorder when a transition's policy is PersistRendered.
	Template string

	// Plan is the invocation specification of an invoker state.
	Plan *PlanNode

	OnEnter []Hook
	OnExit  []Hook
}

// DisplayName returns Name, or a formatted fallback derived from the ID.
func (s *StateDef) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	words := strings.Split(s.ID, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Transition declares a guarded edge of the machine. Descriptors are static,
// defined at construction time.
type Transition struct {
	Event  string
	Source string
	Target string
	Guard  Guard
}

// Machine is a complete finite-state dialogue definition. Machines are
// immutable after construction; a single definition serves any number of
// concurrent sessions.
type Machine struct {
	Key         string
	Initial     string
	States      map[string]*StateDef
	Transitions []Transition

	// Before and After run around every transition of the machine, outside
	// the per-state hooks.
	Before []Hook
	After  []Hook
}

// State returns the definition for id, or nil.
func (m *Machine) State(id string) *StateDef {
	return m.States[id]
}

// TransitionsFrom returns the declared transitions out of a state, in
// declaration order.
func (m *Machine) TransitionsFrom(stateID string) []Transition {
	var out []Transition
	for _, t := range m.Transitions {
		if t.Source == stateID {
			out = append(out, t)
		}
	}
	return out
}

// EventsFrom returns the distinct event names that can fire from a state, in
// first-declaration order. Terminal states return an empty slice.
func (m *Machine) EventsFrom(stateID string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, t := range m.Transitions {
		if t.Source != stateID || seen[t.Event] {
			continue
		}
		seen[t.Event] = true
		out = append(out, t.Event)
	}
	return out
}

// CompletionEvent returns the synthetic event delivered when an invoker
// state's graph finishes: the state's sole outgoing event. The second return
// is false when the state has no outgoing events.
func (m *Machine) CompletionEvent(stateID string) (string, bool) {
	events := m.EventsFrom(stateID)
	if len(events) == 0 {
		return "", false
	}
	return events[0], true
}
