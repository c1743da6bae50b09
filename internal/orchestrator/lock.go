package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
)

const (
	lockKeyPrefix = "cohort:lock:"

	// DefaultLockTTL bounds lock staleness when a holder dies mid-run.
	DefaultLockTTL = 600 * time.Second
)

// releaseScript deletes the lock only when it is still held by the caller,
// so an expired-and-reacquired lock is never released by the old holder.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// TenantLocker is a redis-backed mutual-exclusion token per tenant. At most
// one valid (non-expired) holder exists per tenant at any time; holding the
// lock confers no other privilege.
type TenantLocker struct {
	pool    *redis.Pool
	ttl     time.Duration
	release *redis.Script
}

// NewTenantLocker creates a tenant locker with the given TTL.
func NewTenantLocker(pool *redis.Pool, ttl time.Duration) (*TenantLocker, error) {
	if pool == nil {
		return nil, fmt.Errorf("redis pool is required")
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &TenantLocker{
		pool:    pool,
		ttl:     ttl,
		release: redis.NewScript(1, releaseScript),
	}, nil
}

// Acquire attempts to take the tenant lock for the given holder using a
// single SET-if-absent with TTL. Returns false on contention; contention is
// expected, not an error.
func (l *TenantLocker) Acquire(ctx context.Context, tenant, holder string) (bool, error) {
	conn, err := l.pool.GetContext(ctx)
	if err != nil {
		return false, fmt.Errorf("get redis connection: %w", err)
	}
	defer conn.Close()

	reply, err := redis.String(redis.DoContext(conn, ctx, "SET",
		lockKeyPrefix+tenant, holder, "NX", "EX", int(l.ttl.Seconds())))
	if errors.Is(err, redis.ErrNil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire tenant lock: %w", err)
	}
	return reply == "OK", nil
}

// Release frees the tenant lock if it is still held by the given holder.
// Releasing an expired or foreign lock is a no-op.
func (l *TenantLocker) Release(ctx context.Context, tenant, holder string) error {
	conn, err := l.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("get redis connection: %w", err)
	}
	defer conn.Close()

	if _, err := l.release.Do(conn, lockKeyPrefix+tenant, holder); err != nil {
		return fmt.Errorf("release tenant lock: %w", err)
	}
	return nil
}
