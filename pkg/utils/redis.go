package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior.
type RedisConfig struct {
	Addr string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 10
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// KEYS[1] counter, ARGV[1] limit, ARGV[2] ttl in ms. Returns 1 when acquired.
var capAcquireScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 or redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  redis.call('DECR', KEYS[1])
  return 0
end
return 1
`)

// KEYS[1] counter. Deletes the key once it drops to zero.
var capReleaseScript = redis.NewScript(`
local current = redis.call('DECR', KEYS[1])
if current <= 0 then
  redis.call('DEL', KEYS[1])
end
return current
`)

// ConcurrencyCap is a Redis-backed counting semaphore keyed by caller-chosen keys.
// Acquire and release are atomic Lua scripts; the TTL bounds leaked slots.
type ConcurrencyCap struct {
	rdb   redis.Scripter
	limit int
	ttl   time.Duration
}

func NewConcurrencyCap(rdb redis.Scripter, limit int, ttl time.Duration) (*ConcurrencyCap, error) {
	if rdb == nil {
		return nil, errors.New("redis client is nil")
	}
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be > 0")
	}
	return &ConcurrencyCap{rdb: rdb, limit: limit, ttl: ttl}, nil
}

func (c *ConcurrencyCap) Limit() int { return c.limit }

// Acquire takes a slot for key. It returns false when the limit is reached.
func (c *ConcurrencyCap) Acquire(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("key is required")
	}
	res, err := capAcquireScript.Run(ctx, c.rdb, []string{key}, c.limit, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("concurrency cap acquire %s: %w", key, err)
	}
	return res == 1, nil
}

// Release returns a slot previously taken for key.
func (c *ConcurrencyCap) Release(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("key is required")
	}
	if err := capReleaseScript.Run(ctx, c.rdb, []string{key}).Err(); err != nil {
		return fmt.Errorf("concurrency cap release %s: %w", key, err)
	}
	return nil
}
