// Package redis is the fast control-plane store: the scheduler's
// single-flight lock and the runtime watermark live here, separate from
// the transactional data-plane store so control writes never contend
// with event application.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps the control-plane redis operations.
type Client struct {
	rdb *redis.Client
}

// Config holds redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient connects and pings.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func tickLockKey(chainID uint64) string {
	return fmt.Sprintf("sync:tick-lock:%d", chainID)
}

func watermarkKey(chainID uint64) string {
	return fmt.Sprintf("sync:watermark:%d", chainID)
}

// AcquireTickLock takes the per-chain scheduler lock. Only one process
// may advance a chain's watermark at a time; losers skip the tick.
func (c *Client) AcquireTickLock(ctx context.Context, chainID uint64, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, tickLockKey(chainID), "locked", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// ReleaseTickLock releases the scheduler lock.
func (c *Client) ReleaseTickLock(ctx context.Context, chainID uint64) error {
	return c.rdb.Del(ctx, tickLockKey(chainID)).Err()
}

// RefreshTickLock extends the lock during a long tick.
func (c *Client) RefreshTickLock(ctx context.Context, chainID uint64, ttl time.Duration) error {
	return c.rdb.Expire(ctx, tickLockKey(chainID), ttl).Err()
}

// GetWatermark returns the runtime watermark. found is false when no
// watermark has been written since the last cold start; callers then
// fall back to the durable checkpoint in the primary store.
func (c *Client) GetWatermark(ctx context.Context, chainID uint64) (block uint64, found bool, err error) {
	val, err := c.rdb.Get(ctx, watermarkKey(chainID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get watermark: %w", err)
	}
	block, err = strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse watermark %q: %w", val, err)
	}
	return block, true, nil
}

// SetWatermark writes the runtime watermark.
func (c *Client) SetWatermark(ctx context.Context, chainID uint64, block uint64) error {
	return c.rdb.Set(ctx, watermarkKey(chainID), strconv.FormatUint(block, 10), 0).Err()
}
