package utils

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisConfigDefaults(t *testing.T) {
	c := RedisConfig{Addr: "localhost:6379"}.withDefaults()
	if c.PoolSize != 10 || c.PingTimeout != 2*time.Second || c.ConnMaxLifetime != 30*time.Minute {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	c = RedisConfig{PoolSize: 3, DialTimeout: time.Second}.withDefaults()
	if c.PoolSize != 3 || c.DialTimeout != time.Second {
		t.Fatalf("expected explicit values to be kept: %+v", c)
	}
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestNewConcurrencyCap_Validation(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	if _, err := NewConcurrencyCap(nil, 1, time.Minute); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := NewConcurrencyCap(rdb, 0, time.Minute); err == nil {
		t.Fatalf("expected error for zero limit")
	}
	if _, err := NewConcurrencyCap(rdb, 1, 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}

	c, err := NewConcurrencyCap(rdb, 2, time.Minute)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.Limit() != 2 {
		t.Fatalf("expected limit 2, got %d", c.Limit())
	}
	if _, err := c.Acquire(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if err := c.Release(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestCapScriptsLoaded(t *testing.T) {
	if capAcquireScript == nil || capReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
	if capAcquireScript.Hash() == capReleaseScript.Hash() {
		t.Fatalf("expected distinct scripts")
	}
}
