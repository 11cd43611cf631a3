package ports

import (
	"context"
	"time"
)

// UnlockFunc releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker coordinates session access across process replicas. The
// session manager composes it with its in-process mutexes; a single logical
// operation never nests acquisitions for the same session.
type DistributedLocker interface {
	// Lock acquires the lock for key, blocking until it is acquired or the
	// context is done. The TTL bounds how long a crashed holder can keep
	// the lock. The returned UnlockFunc MUST be called on every exit path.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
