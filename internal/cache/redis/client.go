// Package redis implements the auction cache, transaction locks, rate
// limiting and the event bus on top of go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the Redis client. Addr may
// also be a redis:// or rediss:// URL, in which case it takes precedence
// over the discrete fields it encodes.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Client owns the go-redis connection pool shared by the cache, lock, rate
// limiter and bus.
type Client struct {
	rdb *redis.Client
}

// New connects and pings Redis.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}
	opts.ClientName = "auctionhouse"

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", opts.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

func options(cfg ClientConfig) (*redis.Options, error) {
	if strings.HasPrefix(cfg.Addr, "redis://") || strings.HasPrefix(cfg.Addr, "rediss://") {
		opts, err := redis.ParseURL(cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("redis: parse url: %w", err)
		}
		if cfg.PoolSize > 0 {
			opts.PoolSize = cfg.PoolSize
		}
		opts.MaxRetries = cfg.MaxRetries
		return opts, nil
	}

	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}

// Ping is the health probe.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the driver client for the sibling stores.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
