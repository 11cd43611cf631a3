package domain

import "context"

// Invocation carries the execution context of a single unit: the session it
// belongs to, the resolved unit name and the render data. Data always holds
// the session attributes plus the derived keys (state_id, state_name,
// chat_history, actor_input) and, from the second stage of a plan on, the
// previous stage's aggregate under "previous_result".
type Invocation struct {
	SessionID string         `json:"session_id"`
	Unit      string         `json:"unit"`
	Data      map[string]any `json:"data"`
}

// UnitFunc is the executable form of a work unit. Units run on the task
// queue, outside the session lock; they must not touch the session directly.
type UnitFunc func(ctx context.Context, inv Invocation) (string, error)

// PlanNodeKind tags the variants of the invocation plan union.
type PlanNodeKind string

const (
	PlanAtomic PlanNodeKind = "atomic"
	PlanChain  PlanNodeKind = "chain"
	PlanBranch PlanNodeKind = "branch"
	PlanCustom PlanNodeKind = "custom"
)

// PlanNode is the declarative work specification of an invoker state: a
// single unit reference, an ordered chain, a named branch fan-out, or an
// inline custom unit. It is compiled once, at machine construction, into the
// flat stage sequence the executor runs.
type PlanNode struct {
	Kind PlanNodeKind

	// Unit is the registry reference for Atomic and Custom nodes.
	Unit string

	// Fn is the inline executable of a Custom node. When nil the unit is
	// resolved through the registry by name, like an Atomic node.
	Fn UnitFunc

	// Seq holds the ordered children of a Chain node.
	Seq []*PlanNode

	// Arms holds the named children of a Branch node in a fixed order.
	Arms []BranchArm
}

// BranchArm names one parallel child of a Branch node. The name keys the
// child's aggregate in the output delivered downstream.
type BranchArm struct {
	Name string
	Node *PlanNode
}

// Atomic references a registered unit by name.
func Atomic(unit string) *PlanNode {
	return &PlanNode{Kind: PlanAtomic, Unit: unit}
}

// Chain runs its children strictly in order, feeding each stage's aggregate
// to the next as previous_result.
func Chain(nodes ...*PlanNode) *PlanNode {
	return &PlanNode{Kind: PlanChain, Seq: nodes}
}

// Branch runs its named children in the same plan position. Arm order is the
// declaration order.
func Branch(arms ...BranchArm) *PlanNode {
	return &PlanNode{Kind: PlanBranch, Arms: arms}
}

// Arm constructs a named branch child.
func Arm(name string, node *PlanNode) BranchArm {
	return BranchArm{Name: name, Node: node}
}

// Custom wraps an inline function as a plan node. The name identifies the
// unit in aggregates and progress accounting.
func Custom(name string, fn UnitFunc) *PlanNode {
	return &PlanNode{Kind: PlanCustom, Unit: name, Fn: fn}
}

// Unit is one executable slot of a compiled stage. Exactly one of Ref/Fn/Sub
// drives execution: Ref resolves through the registry, Fn is an inline
// custom unit, and Sub is a nested stage program whose final aggregate is
// delivered under Name.
type Unit struct {
	Name string
	Ref  string
	Fn   UnitFunc
	Sub  []Stage
}

// Stage is a set of units executable in parallel. Stages are ordered: the
// aggregated output of stage n is injected into stage n+1 as
// previous_result.
type Stage struct {
	Units []Unit
}

// Width returns the number of parallel units in the stage.
func (s Stage) Width() int { return len(s.Units) }
