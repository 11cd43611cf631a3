package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSessionStoreContract verifies the SessionStore behavior every adapter
// must satisfy. Adapter test suites call it with a fresh store.
func RunSessionStoreContract(t *testing.T, store SessionStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("LoadMissing", func(t *testing.T) {
		_, err := store.Load(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("SaveLoadRoundtrip", func(t *testing.T) {
		s := domain.NewSession("contract-1", "demo", "intro")
		s.Append(domain.ActorUser, "hello")
		s.Attrs["topic"] = "claims"
		require.NoError(t, store.Save(ctx, s))

		loaded, err := store.Load(ctx, "contract-1")
		require.NoError(t, err)
		assert.Equal(t, "intro", loaded.CurrentState)
		require.Len(t, loaded.Dialogue, 1)
		assert.Equal(t, "hello", loaded.Dialogue[0].Content)
		assert.Equal(t, domain.ActorUser, loaded.Dialogue[0].Actor)
	})

	t.Run("Overwrite", func(t *testing.T) {
		s := domain.NewSession("contract-2", "demo", "intro")
		require.NoError(t, store.Save(ctx, s))
		s.CurrentState = "await_input"
		require.NoError(t, store.Save(ctx, s))

		loaded, err := store.Load(ctx, "contract-2")
		require.NoError(t, err)
		assert.Equal(t, "await_input", loaded.CurrentState)
	})

	t.Run("Delete", func(t *testing.T) {
		s := domain.NewSession("contract-3", "demo", "intro")
		require.NoError(t, store.Save(ctx, s))
		require.NoError(t, store.Delete(ctx, "contract-3"))
		_, err := store.Load(ctx, "contract-3")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, domain.NewSession("contract-4", "demo", "intro")))
		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, "contract-4")
	})
}

// RunProgressStoreContract verifies the ProgressStore behavior every adapter
// must satisfy, including the no-op increment on an absent record.
func RunProgressStoreContract(t *testing.T, store ProgressStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("ReadMissing", func(t *testing.T) {
		rec, err := store.Read(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("IncrementMissingIsNoop", func(t *testing.T) {
		require.NoError(t, store.Increment(ctx, "missing"))
	})

	t.Run("Lifecycle", func(t *testing.T) {
		rec := domain.ProgressRecord{
			SessionID: "contract-p1",
			TaskID:    "task-1",
			Total:     3,
			CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, store.Create(ctx, rec))

		for i := 1; i <= 3; i++ {
			require.NoError(t, store.Increment(ctx, "contract-p1"))
			got, err := store.Read(ctx, "contract-p1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, i, got.Executed)
			assert.LessOrEqual(t, got.Executed, got.Total)
		}

		require.NoError(t, store.Delete(ctx, "contract-p1"))
		got, err := store.Read(ctx, "contract-p1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("CreateReplaces", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, domain.ProgressRecord{
			SessionID: "contract-p2", TaskID: "a", Total: 2,
		}))
		require.NoError(t, store.Increment(ctx, "contract-p2"))
		require.NoError(t, store.Create(ctx, domain.ProgressRecord{
			SessionID: "contract-p2", TaskID: "b", Total: 5,
		}))

		got, err := store.Read(ctx, "contract-p2")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "b", got.TaskID)
		assert.Equal(t, 5, got.Total)
		assert.Equal(t, 0, got.Executed)
	})
}
