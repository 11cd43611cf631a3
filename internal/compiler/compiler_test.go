package compiler

import (
	"context"
	"testing"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_Atomic(t *testing.T) {
	stages, err := Compile(domain.Atomic("summarize"))
	require.NoError(t, err)
	require.Len(t, stages, 1)
	require.Equal(t, 1, stages[0].Width())
	assert.Equal(t, "summarize", stages[0].Units[0].Name)
	assert.Equal(t, "summarize", stages[0].Units[0].Ref)
	assert.Equal(t, 1, CountUnits(stages))
}

func TestCompile_NilPlan(t *testing.T) {
	_, err := Compile(nil)
	var cerr *domain.CompilationError
	require.ErrorAs(t, err, &cerr)
}

func TestCompile_EmptyChainAndBranch(t *testing.T) {
	_, err := Compile(domain.Chain())
	assert.Error(t, err)

	_, err = Compile(domain.Branch())
	assert.Error(t, err)
}

func TestCompile_DuplicateArm(t *testing.T) {
	_, err := Compile(domain.Branch(
		domain.Arm("a", domain.Atomic("x")),
		domain.Arm("a", domain.Atomic("y")),
	))
	var cerr *domain.CompilationError
	require.ErrorAs(t, err, &cerr)
}

// The canonical shape: a chain of two parallel fan-outs followed by a single
// finalizer compiles to 3 stages with parallel widths {2, 2, 1}.
func TestCompile_ChainOfBranches(t *testing.T) {
	plan := domain.Chain(
		domain.Branch(
			domain.Arm("foo", domain.Atomic("foo")),
			domain.Arm("bar", domain.Atomic("bar")),
		),
		domain.Branch(
			domain.Arm("foo_foo", domain.Atomic("foo_foo")),
			domain.Arm("bar_bar", domain.Atomic("bar_bar")),
		),
		domain.Atomic("finalize"),
	)

	stages, err := Compile(plan)
	require.NoError(t, err)
	require.Len(t, stages, 3)
	assert.Equal(t, 2, stages[0].Width())
	assert.Equal(t, 2, stages[1].Width())
	assert.Equal(t, 1, stages[2].Width())

	assert.Equal(t, "foo", stages[0].Units[0].Name)
	assert.Equal(t, "bar", stages[0].Units[1].Name)
	assert.Equal(t, "finalize", stages[2].Units[0].Name)
	assert.Equal(t, 5, CountUnits(stages))
}

// A chain nested inside a branch keeps its internal sequencing and is
// delivered under the arm's name.
func TestCompile_NestedChainInBranch(t *testing.T) {
	plan := domain.Branch(
		domain.Arm("deep", domain.Chain(domain.Atomic("step_one"), domain.Atomic("step_two"))),
		domain.Arm("shallow", domain.Atomic("quick")),
	)

	stages, err := Compile(plan)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	require.Equal(t, 2, stages[0].Width())

	deep := stages[0].Units[0]
	assert.Equal(t, "deep", deep.Name)
	require.Len(t, deep.Sub, 2)
	assert.Equal(t, "step_one", deep.Sub[0].Units[0].Ref)
	assert.Equal(t, "step_two", deep.Sub[1].Units[0].Ref)

	assert.Equal(t, "shallow", stages[0].Units[1].Name)
	assert.Equal(t, "quick", stages[0].Units[1].Ref)
	assert.Equal(t, 3, CountUnits(stages))
}

func TestCompile_CustomUnit(t *testing.T) {
	called := false
	fn := func(ctx context.Context, inv domain.Invocation) (string, error) {
		called = true
		return "ok", nil
	}

	stages, err := Compile(domain.Custom("inline", fn))
	require.NoError(t, err)
	require.Len(t, stages, 1)
	require.NotNil(t, stages[0].Units[0].Fn)

	out, err := stages[0].Units[0].Fn(context.Background(), domain.Invocation{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.True(t, called)
	assert.Empty(t, Refs(stages), "inline units need no registry resolution")
}

func TestCompile_Deterministic(t *testing.T) {
	plan := domain.Chain(
		domain.Branch(
			domain.Arm("b", domain.Atomic("b")),
			domain.Arm("a", domain.Atomic("a")),
		),
		domain.Atomic("last"),
	)

	first, err := Compile(plan)
	require.NoError(t, err)
	second, err := Compile(plan)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		require.Equal(t, first[i].Width(), second[i].Width())
		for j := range first[i].Units {
			assert.Equal(t, first[i].Units[j].Name, second[i].Units[j].Name)
		}
	}
	// Arm order is declaration order, not alphabetical.
	assert.Equal(t, "b", first[0].Units[0].Name)
	assert.Equal(t, "a", first[0].Units[1].Name)
}
