package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	rd "github.com/redis/go-redis/v9"
)

const (
	// IdemPending marks a key claimed by a request still being processed.
	IdemPending = "pending"
	// IdemDone marks a key whose pickup request was created.
	IdemDone = "done"
)

// luaClaimIdempotency claims a key atomically. A fresh key is stored as
// pending and nil is returned; an existing key returns {status, request_id}.
const luaClaimIdempotency = `
local key = KEYS[1]
local ttlSec = tonumber(ARGV[1])
if redis.call('EXISTS', key) == 1 then
  return redis.call('HMGET', key, 'status', 'request_id')
end
redis.call('HSET', key, 'status', 'pending', 'request_id', '')
redis.call('EXPIRE', key, ttlSec)
return false
`

// luaReleasePending drops a claim that never completed so the client may retry.
const luaReleasePending = `
if redis.call('HGET', KEYS[1], 'status') == 'pending' then
  return redis.call('DEL', KEYS[1])
end
return 0
`

// IdempotencyState is what an earlier call with the same key left behind.
type IdempotencyState struct {
	Status    string
	RequestID uint
}

// ClaimIdempotency returns claimed=true when this call owns the key. Otherwise
// state describes the earlier call.
func ClaimIdempotency(ctx context.Context, rdb *rd.Client, orgID uint, idemKey string, ttl time.Duration) (IdempotencyState, bool, error) {
	key := IdempotencyKey(orgID, idemKey)
	ttlSec := int64(ttl / time.Second)
	if ttlSec <= 0 {
		ttlSec = 1
	}

	vals, err := rdb.Eval(ctx, luaClaimIdempotency, []string{key}, ttlSec).Slice()
	if errors.Is(err, rd.Nil) {
		return IdempotencyState{Status: IdemPending}, true, nil
	}
	if err != nil {
		return IdempotencyState{}, false, err
	}
	if len(vals) != 2 {
		return IdempotencyState{}, false, fmt.Errorf("unexpected idempotency reply %v", vals)
	}

	state := IdempotencyState{Status: IdemPending}
	if s, ok := vals[0].(string); ok && s != "" {
		state.Status = s
	}
	if s, ok := vals[1].(string); ok && s != "" {
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return IdempotencyState{}, false, fmt.Errorf("invalid request_id %q under %s", s, key)
		}
		state.RequestID = uint(id)
	}
	return state, false, nil
}

// CompleteIdempotency records the request created under a claimed key and
// refreshes its TTL.
func CompleteIdempotency(ctx context.Context, rdb *rd.Client, orgID uint, idemKey string, requestID uint, ttl time.Duration) error {
	key := IdempotencyKey(orgID, idemKey)
	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"status", IdemDone,
		"request_id", strconv.FormatUint(uint64(requestID), 10),
	)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// ReleaseIdempotency forgets a pending claim. Completed keys are kept.
func ReleaseIdempotency(ctx context.Context, rdb *rd.Client, orgID uint, idemKey string) error {
	key := IdempotencyKey(orgID, idemKey)
	return rdb.Eval(ctx, luaReleasePending, []string{key}).Err()
}
