package domain

// StateKind classifies a state by the work it performs on entry.
type StateKind string

const (
	// KindUser states render output synchronously and wait for external
	// input before the session can proceed.
	KindUser StateKind = "user"

	// KindInvoker states trigger an asynchronous invocation graph; the
	// session is not ready again until the graph's terminal event commits.
	KindInvoker StateKind = "invoker"
)

// AsActor maps a state kind to the actor responsible for its output.
func (k StateKind) AsActor() Actor {
	if k == KindInvoker {
		return ActorAssistant
	}
	return ActorUser
}

// TransitionType is the (source kind, target kind) pair of a transition. It
// determines the default persistence policy and the acting party.
type TransitionType struct {
	Source StateKind
	Target StateKind
}

// PersistencePolicy governs what, if anything, is appended to the dialogue
// log when a transition commits.
type PersistencePolicy string

const (
	// PersistNone appends nothing.
	PersistNone PersistencePolicy = "none"
	// PersistRaw appends the raw actor input.
	PersistRaw PersistencePolicy = "raw"
	// PersistRendered appends the rendered output of the target state.
	PersistRendered PersistencePolicy = "rendered"
)

// DefaultPolicy returns the default persistence policy for a transition type.
//
//	User→User       rendered, no graph
//	User→Invoker    raw, graph
//	Invoker→User    rendered, no graph
//	Invoker→Invoker none, graph
//
// Destination-state entry hooks may override the computed policy before the
// recorder consumes it.
func DefaultPolicy(t TransitionType) PersistencePolicy {
	switch {
	case t.Target == KindInvoker && t.Source == KindInvoker:
		return PersistNone
	case t.Target == KindInvoker:
		return PersistRaw
	default:
		return PersistRendered
	}
}
