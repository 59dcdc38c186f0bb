package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard records accepted request signatures with SET NX so every
// replica rejects a signed request it has already served.
type ReplayGuard struct {
	rdb *redis.Client
}

func NewReplayGuard(c *Client) *ReplayGuard {
	return &ReplayGuard{rdb: c.Underlying()}
}

func replayKey(key string) string { return "replay:" + key }

// FirstSeen reports whether key is new and keeps it for ttl.
func (g *ReplayGuard) FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, replayKey(key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: replay %s: %w", key, err)
	}
	return ok, nil
}
