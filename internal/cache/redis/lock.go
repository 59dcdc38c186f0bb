package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// releaseScript deletes the lock only while it still carries our token, so
// a holder whose TTL lapsed cannot free a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

const releaseTimeout = 5 * time.Second

// LockManager serialises auction transactions across replicas with
// SET NX PX locks.
type LockManager struct {
	rdb *redis.Client
}

func NewLockManager(c *Client) *LockManager {
	return &LockManager{rdb: c.Underlying()}
}

func lockKey(key string) string { return "lock:" + key }

// heldLock is one successful acquisition.
type heldLock struct {
	rdb   *redis.Client
	key   string
	token string
	once  sync.Once
}

func (h *heldLock) release() {
	h.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		_ = releaseScript.Run(ctx, h.rdb, []string{h.key}, h.token).Err()
	})
}

// Acquire takes the lock for key for at most ttl, or returns
// domain.ErrLockHeld when another holder has it. The returned release
// function is idempotent.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	h := &heldLock{rdb: lm.rdb, key: lockKey(key), token: uuid.NewString()}

	ok, err := lm.rdb.SetNX(ctx, h.key, h.token, ttl).Result()
	switch {
	case err != nil:
		return nil, fmt.Errorf("redis: lock %s: %w", key, err)
	case !ok:
		return nil, domain.ErrLockHeld
	}
	return h.release, nil
}

var _ domain.LockManager = (*LockManager)(nil)
