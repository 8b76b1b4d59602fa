/**
 * @description
 * Per-chain meta-transaction submission lock, backed by Redis.
 * Forwarder nonces are read once per chain and offset locally, which is only
 * safe while a single submitter owns that chain's queue. This lock enforces
 * that invariant across horizontally-scaled instances; an in-process mutex
 * would not.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9
 */

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	submissionLockPrefix = "juicy:metatx:lock:"
	submissionLockTTL    = 30 * time.Second
	lockAcquireTimeout   = 10 * time.Second
	lockRetryInterval    = 250 * time.Millisecond
)

// releaseScript deletes the lock only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

type SubmissionLock struct {
	Redis *redis.Client
}

func NewSubmissionLock(rdb *redis.Client) *SubmissionLock {
	return &SubmissionLock{Redis: rdb}
}

// Acquire takes the chain's submission lock, waiting up to lockAcquireTimeout.
// The returned release function is safe to call exactly once.
func (l *SubmissionLock) Acquire(ctx context.Context, chainID uint64) (func(), error) {
	key := fmt.Sprintf("%s%d", submissionLockPrefix, chainID)
	token := uuid.NewString()

	deadline := time.Now().Add(lockAcquireTimeout)
	for {
		ok, err := l.Redis.SetNX(ctx, key, token, submissionLockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire submission lock for chain %d: %w", chainID, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for submission lock on chain %d", chainID)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}

	release := func() {
		// Best-effort: an expired lock releases itself via the TTL.
		_, _ = releaseScript.Run(context.Background(), l.Redis, []string{key}, token).Result()
	}
	return release, nil
}
