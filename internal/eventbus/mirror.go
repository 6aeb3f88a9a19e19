package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"callcenter/internal/metrics"
	"callcenter/internal/relay"
)

const MirrorObserverID = "eventbus-mirror"

// Mirror is a relay observer that forwards every broadcast event to a Publisher.
//
// Publishing happens on the mirror's own goroutine. When the broker falls
// behind, events are dropped and counted; the mirror itself stays subscribed.
type Mirror struct {
	pub     Publisher
	log     *slog.Logger
	timeout time.Duration

	events chan relay.Event
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func NewMirror(pub Publisher, buffer int, log *slog.Logger) *Mirror {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = slog.Default()
	}
	m := &Mirror{
		pub:     pub,
		log:     log,
		timeout: 5 * time.Second,
		events:  make(chan relay.Event, buffer),
		done:    make(chan struct{}),
	}
	m.wg.Add(1)
	go m.run()
	return m
}

func (m *Mirror) ID() string { return MirrorObserverID }

func (m *Mirror) Deliver(ev relay.Event) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.events <- ev:
	default:
		metrics.EventBusDropped.WithLabelValues("buffer_full").Inc()
		m.log.Warn("eventbus mirror buffer full, event dropped", "event", ev.Name, "seq", ev.Seq)
	}
	return true
}

// Close stops accepting events. Queued events are still published.
func (m *Mirror) Close() {
	m.once.Do(func() { close(m.done) })
}

// Wait blocks until the queued events have been handed to the publisher.
func (m *Mirror) Wait() {
	m.wg.Wait()
}

func (m *Mirror) run() {
	defer m.wg.Done()
	for {
		select {
		case ev := <-m.events:
			m.publish(ev)
		case <-m.done:
			for {
				select {
				case ev := <-m.events:
					m.publish(ev)
				default:
					return
				}
			}
		}
	}
}

func (m *Mirror) publish(ev relay.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.pub.Publish(ctx, RoutingKey(ev.Name), FromRelayEvent(ev)); err != nil {
		metrics.EventBusDropped.WithLabelValues("publish_error").Inc()
		m.log.Error("eventbus publish failed", "event", ev.Name, "seq", ev.Seq, "err", err)
	}
}
