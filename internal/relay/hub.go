package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"callcenter/internal/metrics"
)

// Observer receives broadcast events.
//
// Deliver must not block. Returning false tells the Hub the observer cannot
// keep up, and the Hub disconnects it.
type Observer interface {
	ID() string
	Deliver(Event) bool
	Close()
}

// CommandHandler executes observer-issued commands.
type CommandHandler interface {
	HandleCommand(ctx context.Context, observerID string, cmd Command) error
}

// Hub is the observer registry and fan-out point.
//
// Publish holds the hub lock while it enqueues to every observer, so all
// observers see events in the same order the Hub assigned sequence numbers.
type Hub struct {
	mu        sync.Mutex
	observers map[string]Observer
	seq       uint64
	closed    bool

	handler CommandHandler
	log     *slog.Logger
	now     func() time.Time
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		observers: make(map[string]Observer),
		log:       log,
		now:       time.Now,
	}
}

// SetCommandHandler must be called before observers start issuing commands.
func (h *Hub) SetCommandHandler(handler CommandHandler) {
	h.mu.Lock()
	h.handler = handler
	h.mu.Unlock()
}

// Subscribe registers o. It returns false when an observer with the same id
// is already registered or the hub is closed.
func (h *Hub) Subscribe(o Observer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if _, ok := h.observers[o.ID()]; ok {
		return false
	}
	h.observers[o.ID()] = o
	metrics.RelayObservers.Set(float64(len(h.observers)))
	return true
}

// Unsubscribe removes and closes the observer. Unknown ids are ignored.
func (h *Hub) Unsubscribe(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeLocked(id)
}

func (h *Hub) removeLocked(id string) bool {
	o, ok := h.observers[id]
	if !ok {
		return false
	}
	delete(h.observers, id)
	o.Close()
	metrics.RelayObservers.Set(float64(len(h.observers)))
	return true
}

// Publish delivers an event to every observer connected at call time.
func (h *Hub) Publish(name string, data any) Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	ev := Event{Name: name, Data: data, Seq: h.seq, Time: h.now().UTC()}

	for id, o := range h.observers {
		if o.Deliver(ev) {
			continue
		}
		h.log.Warn("relay observer too slow, disconnecting", "observer_id", id, "event", name, "seq", ev.Seq)
		metrics.RelayObserversDropped.Inc()
		h.removeLocked(id)
	}
	metrics.RelayEventsPublished.WithLabelValues(name).Inc()
	return ev
}

// SendTo delivers an event to a single observer. It does not consume a
// broadcast sequence number.
func (h *Hub) SendTo(observerID, name string, data any) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	o, ok := h.observers[observerID]
	if !ok {
		return false
	}
	ev := Event{Name: name, Data: data, Time: h.now().UTC()}
	if !o.Deliver(ev) {
		metrics.RelayObserversDropped.Inc()
		h.removeLocked(observerID)
		return false
	}
	return true
}

var ErrNoCommandHandler = errors.New("relay: no command handler")

// Dispatch runs cmd through the command handler. Failures are reported back to
// the issuing observer only.
func (h *Hub) Dispatch(ctx context.Context, observerID string, cmd Command) error {
	h.mu.Lock()
	handler := h.handler
	h.mu.Unlock()

	err := ErrNoCommandHandler
	if handler != nil {
		err = handler.HandleCommand(ctx, observerID, cmd)
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		h.log.Warn("relay command failed", "observer_id", observerID, "command", cmd.Name, "call_id", cmd.CallID, "err", err)
		h.SendTo(observerID, EventCommandError, CommandErrorPayload{
			Command: string(cmd.Name),
			CallID:  cmd.CallID,
			Error:   err.Error(),
		})
	}
	metrics.RelayCommands.WithLabelValues(string(cmd.Name), outcome).Inc()
	return err
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// Close disconnects every observer. Later subscriptions are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id := range h.observers {
		h.removeLocked(id)
	}
}
