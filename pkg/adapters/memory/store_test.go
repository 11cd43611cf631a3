package memory_test

import (
	"context"
	"sync"
	"testing"

	"github.com/aretw0/espalier/pkg/adapters/memory"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	ports.RunSessionStoreContract(t, memory.NewStore())
}

func TestMemoryProgressStore_Contract(t *testing.T) {
	ports.RunProgressStoreContract(t, memory.NewProgressStore())
}

func TestMemoryStore_IsolatesCopies(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	s := domain.NewSession("s1", "demo", "intro")
	require.NoError(t, store.Save(ctx, s))

	// Mutating the original after save must not leak into the store.
	s.Append(domain.ActorUser, "leaked?")

	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, loaded.Dialogue)
}

func TestQueue_ExecutesJobs(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]bool)

	q := memory.NewQueue(func(ctx context.Context, job ports.Job) (string, error) {
		mu.Lock()
		seen[job.Unit] = true
		mu.Unlock()
		return "out:" + job.Unit, nil
	}, memory.WithWorkers(2))
	defer q.Close()

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, ports.Job{ID: "1", Unit: "a"}))
	require.NoError(t, q.Enqueue(ctx, ports.Job{ID: "2", Unit: "b"}))

	got := make(map[string]string)
	for i := 0; i < 2; i++ {
		res := <-q.Results()
		assert.False(t, res.Failed())
		got[res.Unit] = res.Output
	}
	assert.Equal(t, "out:a", got["a"])
	assert.Equal(t, "out:b", got["b"])
}

func TestQueue_ReportsFailure(t *testing.T) {
	q := memory.NewQueue(func(ctx context.Context, job ports.Job) (string, error) {
		return "", assert.AnError
	})
	defer q.Close()

	require.NoError(t, q.Enqueue(context.Background(), ports.Job{ID: "1", Unit: "boom"}))
	res := <-q.Results()
	assert.True(t, res.Failed())
	assert.Equal(t, assert.AnError.Error(), res.Err)
}

func TestQueue_EnqueueAfterClose(t *testing.T) {
	q := memory.NewQueue(func(ctx context.Context, job ports.Job) (string, error) {
		return "", nil
	})
	require.NoError(t, q.Close())
	assert.Error(t, q.Enqueue(context.Background(), ports.Job{ID: "1"}))
}
