package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const commitLockPrefix = "payment_commit:"

// releaseScript deletes the key only while it still holds the caller's value,
// so an expired guard taken over by another callback is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// CommitLock keeps two callbacks for the same gateway token from committing
// at the same time. It only saves gateway calls; the store's compare-and-swap
// decides the outcome.
type CommitLock struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewCommitLock(client *redis.Client, ttl time.Duration) *CommitLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CommitLock{Client: client, TTL: ttl}
}

// Acquire takes the guard for token on behalf of owner. It returns false when
// another owner holds it.
func (l *CommitLock) Acquire(ctx context.Context, token, owner string) (bool, error) {
	ok, err := l.Client.SetNX(ctx, commitLockPrefix+token, owner, l.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire commit lock: %w", err)
	}
	return ok, nil
}

// Release drops the guard if owner still holds it.
func (l *CommitLock) Release(ctx context.Context, token, owner string) error {
	if err := releaseScript.Run(ctx, l.Client, []string{commitLockPrefix + token}, owner).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release commit lock: %w", err)
	}
	return nil
}
