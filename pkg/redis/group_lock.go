package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// luaReleaseLockIfMatch deletes the lock only while it still holds our token,
// so an expired lease never removes a lock taken over by another replica.
const luaReleaseLockIfMatch = `
local lockKey = KEYS[1]
local token = ARGV[1]
if redis.call('GET', lockKey) == token then
  return redis.call('DEL', lockKey)
end
return 0
`

// ErrLockTimeout is returned when a lease could not be taken before the wait
// budget ran out.
var ErrLockTimeout = errors.New("timed out waiting for lock")

// GroupLocker is a lease lock shared by every replica. A holder that dies
// loses the lease after ttl.
type GroupLocker struct {
	rdb   *rd.Client
	ttl   time.Duration
	wait  time.Duration
	retry time.Duration
}

// NewGroupLocker waits at most wait for a lease; zero means the lease ttl.
func NewGroupLocker(rdb *rd.Client, ttl, wait time.Duration) *GroupLocker {
	if wait <= 0 {
		wait = ttl
	}
	return &GroupLocker{rdb: rdb, ttl: ttl, wait: wait, retry: 20 * time.Millisecond}
}

// Lock polls SET NX PX until the lease is taken, ctx is done or the wait
// budget is spent.
func (l *GroupLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := LockKey(key)
	token := uuid.New().String()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.rdb.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}

	return func() {
		// The caller's context may already be cancelled; release regardless.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.rdb.Eval(releaseCtx, luaReleaseLockIfMatch, []string{lockKey}, token).Err()
	}, nil
}
