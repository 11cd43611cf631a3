package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/espalier/pkg/adapters/redis"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := newClient(t)
	ports.RunSessionStoreContract(t, redis.NewStore(client))
}

func TestRedisProgressStore_Contract(t *testing.T) {
	_, client := newClient(t)
	ports.RunProgressStoreContract(t, redis.NewProgressStore(client))
}

func TestRedisStore_TTLExpiresSessions(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewStore(client, redis.WithTTL(time.Second))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, domain.NewSession("ttl-1", "demo", "intro")))

	mr.FastForward(2 * time.Second)

	_, err := store.Load(ctx, "ttl-1")
	assert.Error(t, err)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, "ttl-1", "expired sessions are pruned from the index")
}

func TestRedisLocker_LockUnlock(t *testing.T) {
	mr, client := newClient(t)
	locker := redis.NewLocker(client)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "s1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists("espalier:lock:s1"))

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("espalier:lock:s1"))
}

func TestRedisLocker_Contention(t *testing.T) {
	_, client := newClient(t)
	locker := redis.NewLocker(client, redis.WithRetryInterval(10*time.Millisecond))
	ctx := context.Background()

	unlock1, err := locker.Lock(ctx, "shared", 5*time.Second)
	require.NoError(t, err)

	// A second acquisition must wait until the first holder releases.
	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(waitCtx, "shared", 5*time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, redis.ErrLockAcquire)

	require.NoError(t, unlock1(ctx))

	unlock2, err := locker.Lock(ctx, "shared", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, unlock2(ctx))
}

func TestRedisLocker_StaleUnlockIsIgnored(t *testing.T) {
	mr, client := newClient(t)
	locker := redis.NewLocker(client, redis.WithRetryInterval(10*time.Millisecond))
	ctx := context.Background()

	unlock1, err := locker.Lock(ctx, "s1", time.Second)
	require.NoError(t, err)

	// The first holder's TTL lapses and another holder takes over.
	mr.FastForward(2 * time.Second)
	unlock2, err := locker.Lock(ctx, "s1", 5*time.Second)
	require.NoError(t, err)

	// The stale release must not free the new holder's lock.
	require.NoError(t, unlock1(ctx))
	assert.True(t, mr.Exists("espalier:lock:s1"))

	require.NoError(t, unlock2(ctx))
	assert.False(t, mr.Exists("espalier:lock:s1"))
}

func TestRedisQueue_Roundtrip(t *testing.T) {
	_, client := newClient(t)

	q := redis.NewQueue(client, func(ctx context.Context, job ports.Job) (string, error) {
		if job.Unit == "boom" {
			return "", errors.New("unit broke")
		}
		return "out:" + job.Unit, nil
	}, redis.WithWorkers(2))
	defer q.Close()

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, ports.Job{ID: "1", TaskID: "t", SessionID: "s", Unit: "a"}))
	require.NoError(t, q.Enqueue(ctx, ports.Job{ID: "2", TaskID: "t", SessionID: "s", Unit: "boom"}))

	got := make(map[string]ports.Result)
	for i := 0; i < 2; i++ {
		select {
		case res := <-q.Results():
			got[res.JobID] = res
		case <-time.After(5 * time.Second):
			t.Fatal("result not delivered")
		}
	}

	assert.False(t, got["1"].Failed())
	assert.Equal(t, "out:a", got["1"].Output)
	assert.True(t, got["2"].Failed())
	assert.Contains(t, got["2"].Err, "unit broke")
	assert.Equal(t, "s", got["2"].SessionID)
}

func TestRedisQueue_ExternalWorker(t *testing.T) {
	_, client := newClient(t)

	// The enqueuing side runs no workers of its own.
	q := redis.NewQueue(client, nil, redis.WithWorkers(0))
	defer q.Close()

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	go q.RunWorker(workerCtx, func(ctx context.Context, job ports.Job) (string, error) {
		return "from-worker", nil
	})

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, ports.Job{ID: "1", Unit: "u"}))

	select {
	case res := <-q.Results():
		assert.Equal(t, "from-worker", res.Output)
	case <-time.After(5 * time.Second):
		t.Fatal("external worker result not delivered")
	}
}
