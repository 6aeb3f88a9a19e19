package audit

import (
	"time"

	"github.com/goccy/go-json"
)

// Event is an immutable, append-only record of an operator or provider action.
//
// Invariants:
// - Events are never updated or deleted.
// - Action is required.
// - Observer, agent and ip capture are best-effort; do not block call flows on audit failures.
//
// Storage: table audit_events (see migrations/000001_audit_events.up.sql).
type Event struct {
	ID string `json:"id" db:"id"`

	Action Action `json:"action" db:"action"`

	CallID     string `json:"call_id,omitempty" db:"call_id"`
	AgentID    string `json:"agent_id,omitempty" db:"agent_id"`
	ObserverID string `json:"observer_id,omitempty" db:"observer_id"`

	// IPAddress is the resolved client IP for HTTP-originated actions.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	Outcome Outcome `json:"outcome" db:"outcome"`
	// Message is a short human-readable description, usually the error text on failure.
	Message string `json:"message,omitempty" db:"message"`
	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Action string

const (
	ActionDial        Action = "dial"
	ActionTransfer    Action = "transfer"
	ActionConference  Action = "conference"
	ActionRecord      Action = "record"
	ActionAnswer      Action = "answer"
	ActionDecline     Action = "decline"
	ActionEnd         Action = "end"
	ActionAgentStatus Action = "agent_status"
)

type Outcome string

const (
	OutcomeOK    Outcome = "ok"
	OutcomeError Outcome = "error"
)

// Metadata encodes v as the JSON stored in Event.Metadata.
// Values that cannot be encoded yield "", which is stored as NULL.
func Metadata(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
