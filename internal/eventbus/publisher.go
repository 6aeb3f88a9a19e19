package eventbus

import (
	"context"
	"log/slog"
)

// Publisher sends envelopes to an external broker.
type Publisher interface {
	Publish(ctx context.Context, key string, msg Envelope) error
	Close() error
}

// LogPublisher only logs. It stands in when no broker is configured or the
// configured one could not be reached at startup.
type LogPublisher struct {
	Log *slog.Logger
}

func (p LogPublisher) Publish(_ context.Context, key string, msg Envelope) error {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	log.Debug("event not mirrored, no broker", slog.String("key", key), slog.Uint64("seq", msg.Meta.Seq))
	return nil
}

func (LogPublisher) Close() error { return nil }
