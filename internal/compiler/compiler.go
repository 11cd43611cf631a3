// Package compiler turns declarative invocation plans into the flat stage
// sequences the executor runs. Compilation is purely structural: no I/O, no
// side effects, deterministic for a given plan, so machines can be validated
// at construction time.
package compiler

import (
	"fmt"

	"github.com/aretw0/espalier/pkg/domain"
)

// Compile flattens a plan node into ordered stages.
//
// Atomic and Custom nodes compile to a single one-unit stage. A Chain
// concatenates its children's stages positionally. A Branch becomes one
// stage whose units run in parallel; a branch child that is itself a chain
// or branch compiles to a nested stage program executed within its slot,
// with its final aggregate delivered under the arm's name.
func Compile(node *domain.PlanNode) ([]domain.Stage, error) {
	if node == nil {
		return nil, &domain.CompilationError{Reason: "plan contains zero nodes"}
	}

	switch node.Kind {
	case domain.PlanAtomic:
		if node.Unit == "" {
			return nil, &domain.CompilationError{Reason: "atomic node without a unit reference"}
		}
		return []domain.Stage{{Units: []domain.Unit{{Name: node.Unit, Ref: node.Unit}}}}, nil

	case domain.PlanCustom:
		if node.Unit == "" {
			return nil, &domain.CompilationError{Reason: "custom node without a name"}
		}
		unit := domain.Unit{Name: node.Unit, Ref: node.Unit, Fn: node.Fn}
		return []domain.Stage{{Units: []domain.Unit{unit}}}, nil

	case domain.PlanChain:
		if len(node.Seq) == 0 {
			return nil, &domain.CompilationError{Reason: "chain contains zero nodes"}
		}
		var stages []domain.Stage
		for i, child := range node.Seq {
			sub, err := Compile(child)
			if err != nil {
				return nil, fmt.Errorf("chain position %d: %w", i, err)
			}
			stages = append(stages, sub...)
		}
		return stages, nil

	case domain.PlanBranch:
		if len(node.Arms) == 0 {
			return nil, &domain.CompilationError{Reason: "branch contains zero arms"}
		}
		stage := domain.Stage{}
		seen := make(map[string]bool, len(node.Arms))
		for _, arm := range node.Arms {
			if arm.Name == "" {
				return nil, &domain.CompilationError{Reason: "branch arm without a name"}
			}
			if seen[arm.Name] {
				return nil, &domain.CompilationError{Reason: fmt.Sprintf("duplicate branch arm %q", arm.Name)}
			}
			seen[arm.Name] = true

			sub, err := Compile(arm.Node)
			if err != nil {
				return nil, fmt.Errorf("branch arm %q: %w", arm.Name, err)
			}
			if len(sub) == 1 && len(sub[0].Units) == 1 {
				// Plain child: hoist its unit into this stage under the arm name.
				unit := sub[0].Units[0]
				unit.Name = arm.Name
				stage.Units = append(stage.Units, unit)
				continue
			}
			stage.Units = append(stage.Units, domain.Unit{Name: arm.Name, Sub: sub})
		}
		return []domain.Stage{stage}, nil

	default:
		return nil, &domain.CompilationError{Reason: fmt.Sprintf("unknown plan node kind %q", node.Kind)}
	}
}

// CountUnits returns the number of executable leaf units across the stages.
// The progress tracker uses it as the graph's total.
func CountUnits(stages []domain.Stage) int {
	total := 0
	for _, stage := range stages {
		for _, u := range stage.Units {
			if len(u.Sub) > 0 {
				total += CountUnits(u.Sub)
				continue
			}
			total++
		}
	}
	return total
}

// Refs collects the registry references the stages resolve at execution
// time. Units with an inline function are excluded.
func Refs(stages []domain.Stage) []string {
	var refs []string
	for _, stage := range stages {
		for _, u := range stage.Units {
			if len(u.Sub) > 0 {
				refs = append(refs, Refs(u.Sub)...)
				continue
			}
			if u.Fn == nil {
				refs = append(refs, u.Ref)
			}
		}
	}
	return refs
}
