package services

import (
	"context"
	"fmt"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testLock(t *testing.T) (*SubmissionLock, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return NewSubmissionLock(rdb), mr
}

func TestSubmissionLockAcquireRelease(t *testing.T) {
	lock, mr := testLock(t)
	ctx := context.Background()

	release, err := lock.Acquire(ctx, 8453)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	key := fmt.Sprintf("%s%d", submissionLockPrefix, 8453)
	if !mr.Exists(key) {
		t.Fatal("lock key should exist while held")
	}

	release()
	if mr.Exists(key) {
		t.Fatal("lock key should be gone after release")
	}
}

func TestSubmissionLockPerChain(t *testing.T) {
	lock, _ := testLock(t)
	ctx := context.Background()

	releaseA, err := lock.Acquire(ctx, 8453)
	if err != nil {
		t.Fatalf("acquire chain 8453 failed: %v", err)
	}
	defer releaseA()

	// A different chain's lock is independent.
	releaseB, err := lock.Acquire(ctx, 10)
	if err != nil {
		t.Fatalf("acquire chain 10 failed: %v", err)
	}
	defer releaseB()
}

func TestSubmissionLockBlocksSecondHolder(t *testing.T) {
	lock, _ := testLock(t)

	release, err := lock.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer release()

	// A second acquire on the same chain should give up once the context
	// expires rather than waiting out the full acquire timeout.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := lock.Acquire(ctx, 1); err == nil {
		t.Fatal("second acquire should fail while the lock is held")
	}
}

func TestSubmissionLockReleaseIsOwnershipChecked(t *testing.T) {
	lock, mr := testLock(t)
	ctx := context.Background()

	release, err := lock.Acquire(ctx, 1)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	// Simulate TTL expiry and a new holder taking the lock.
	key := fmt.Sprintf("%s%d", submissionLockPrefix, 1)
	mr.Del(key)
	mr.Set(key, "someone-else")

	release()
	got, _ := mr.Get(key)
	if got != "someone-else" {
		t.Fatal("release must not delete a lock it no longer owns")
	}
}
