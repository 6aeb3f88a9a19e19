package callcenter

import (
	"context"

	"callcenter/pkg/utils"
)

// DialLimiter caps concurrent outbound calls per agent.
type DialLimiter interface {
	Acquire(ctx context.Context, agentID string) (bool, error)
	Release(ctx context.Context, agentID string) error
}

// NoopLimiter never refuses a dial.
type NoopLimiter struct{}

func (NoopLimiter) Acquire(context.Context, string) (bool, error) { return true, nil }
func (NoopLimiter) Release(context.Context, string) error         { return nil }

// RedisLimiter keeps one counter per agent in Redis so the cap holds across
// restarts. Counters expire so a crashed process cannot leak slots forever.
type RedisLimiter struct {
	Cap *utils.ConcurrencyCap
}

func DialCapKey(agentID string) string {
	return "callcenter:dialcap:agent:" + agentID
}

func (l RedisLimiter) Acquire(ctx context.Context, agentID string) (bool, error) {
	return l.Cap.Acquire(ctx, DialCapKey(agentID))
}

func (l RedisLimiter) Release(ctx context.Context, agentID string) error {
	return l.Cap.Release(ctx, DialCapKey(agentID))
}
