package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/stretchr/testify/require"
)

func TestZZDebugMatrix(t *testing.T) {
	m := &domain.Machine{
		Key:     "matrix",
		Initial: "u1",
		States: map[string]*domain.StateDef{
			"u1": {Kind: domain.KindUser, Template: "intro"},
			"u2": {Kind: domain.KindUser, Template: "await_input"},
			"i1": {Kind: domain.KindInvoker, Plan: domain.Atomic("identity")},
			"i2": {Kind: domain.KindInvoker, Plan: domain.Atomic("identity")},
			"u3": {Kind: domain.KindUser, Template: "await_input"},
		},
		Transitions: []domain.Transition{
			{Event: "chat", Source: "u1", Target: "u2"},
			{Event: "invoke", Source: "u2", Target: "i1"},
			{Event: "chained", Source: "i1", Target: "i2"},
			{Event: "done", Source: "i2", Target: "u3"},
		},
	}
	gate := make(chan struct{})
	units := map[string]domain.UnitFunc{
		"identity": func(ctx context.Context, inv domain.Invocation) (string, error) {
			<-gate
			return "unit output", nil
		},
	}
	e := newEnv(t, []*domain.Machine{m}, echoSources(), units)
	ctx := context.Background()

	started, err := e.engine.Start(ctx, "matrix")
	require.NoError(t, err)
	id := started.Session.ID

	_, err = e.engine.Submit(ctx, id, "chat", "typed text")
	require.NoError(t, err)
	_, err = e.engine.Submit(ctx, id, "invoke", "raw question")
	require.NoError(t, err)

	close(gate)
	for i := 0; i < 40; i++ {
		snap, err := e.engine.Snapshot(ctx, id)
		require.NoError(t, err)
		t.Logf("t=%dms state=%s task=%q taskErr=%q dialogue=%d",
			i*50, snap.CurrentState, snap.RunningTask, snap.TaskError, len(snap.Dialogue))
		if snap.CurrentState == "u3" {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
}
