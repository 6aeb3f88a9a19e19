package eventbus

import (
	"strings"
	"time"

	"callcenter/internal/relay"

	"github.com/google/uuid"
)

// Producer names this service in every envelope.
const Producer = "callcenter"

type Meta struct {
	ID            string    `json:"id"`
	CorrelationID *string   `json:"correlation_id,omitempty"`
	Producer      *string   `json:"producer,omitempty"`
	Time          time.Time `json:"time"`
	// Type is the relay event name, e.g. call:answered.
	Type string `json:"type"`
	// Seq is the relay sequence number; consumers can use it to detect gaps.
	Seq uint64 `json:"seq"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// FromRelayEvent wraps a broadcast event for the bus.
func FromRelayEvent(ev relay.Event) Envelope {
	producer := Producer
	return Envelope{
		Meta: Meta{
			ID:       uuid.NewString(),
			Producer: &producer,
			Time:     ev.Time,
			Type:     ev.Name,
			Seq:      ev.Seq,
		},
		Data: ev.Data,
	}
}

// RoutingKey maps an event name to a dotted topic key:
// call:conference:created becomes callcenter.call.conference.created.
func RoutingKey(eventName string) string {
	r := strings.NewReplacer(":", ".", "_", ".")
	return Producer + "." + r.Replace(eventName)
}
