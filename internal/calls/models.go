package calls

import (
	"fmt"
	"strings"
	"time"
)

// Call is the canonical state of one provider call.
//
// Invariants:
// - Exactly one Call exists per provider call id.
// - StartTime is set once at creation and never changes.
// - EndTime is set exactly once, on the first transition into a terminal status.
// - Duration is never negative and never decreases.
//
// AgentID is a weak reference into the Roster. Nothing here owns the agent.
type Call struct {
	ID        string    `json:"id"`
	Direction Direction `json:"direction,omitempty"`
	Status    Status    `json:"status"`

	// ProviderStatus is the raw, lower-cased provider status last applied (e.g. "in-progress").
	ProviderStatus string `json:"providerStatus,omitempty"`

	CounterpartyNumber string `json:"counterpartyNumber"`

	// Duration is the call duration in seconds.
	Duration int `json:"duration"`

	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`

	AgentID      string `json:"agentId,omitempty"`
	RecordingID  string `json:"recordingId,omitempty"`
	ConferenceID string `json:"conferenceId,omitempty"`

	// Sequence is the highest provider sequence number applied so far (0 when unknown).
	Sequence int64 `json:"-"`

	UpdatedAt time.Time `json:"updatedAt"`
}

type Status string

const (
	StatusIncoming    Status = "incoming"
	StatusOutgoing    Status = "outgoing"
	StatusOngoing     Status = "ongoing"
	StatusCompleted   Status = "completed"
	StatusTransferred Status = "transferred"
	StatusConference  Status = "conference"
	StatusMissed      Status = "missed"
)

// Statuses lists the closed status set in lifecycle order.
var Statuses = []Status{
	StatusIncoming,
	StatusOutgoing,
	StatusOngoing,
	StatusTransferred,
	StatusConference,
	StatusCompleted,
	StatusMissed,
}

func (s Status) Valid() bool {
	switch s {
	case StatusIncoming, StatusOutgoing, StatusOngoing, StatusCompleted,
		StatusTransferred, StatusConference, StatusMissed:
		return true
	}
	return false
}

// IsTerminal reports whether the call is over.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusMissed
}

func (s Status) IsActive() bool {
	return s.Valid() && !s.IsTerminal()
}

// ParseStatus accepts any casing of a record status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("calls: unknown status %q", raw)
	}
	return s, nil
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Patch is a merge-patch keyed by CallID.
// Empty strings and nil pointers mean "leave unchanged".
type Patch struct {
	CallID string

	Direction      Direction
	Status         Status
	ProviderStatus string

	// CounterpartyNumber is user assigned and always overwrites.
	CounterpartyNumber string
	// FallbackCounterparty only fills a record that has no counterparty yet.
	FallbackCounterparty string

	Duration *int

	// StartTime is honoured only when the patch creates the record.
	StartTime time.Time
	// OccurredAt is the event time. It stamps EndTime on terminal transitions.
	OccurredAt time.Time

	AgentID      string
	RecordingID  string
	ConferenceID string

	// Sequence is the provider's per-call sequence number, 0 when not supplied.
	Sequence int64
}

// ApplyResult describes what a Store.Apply did.
type ApplyResult struct {
	Call           Call
	PreviousStatus Status

	Created bool
	Changed bool
	// Stale is set when the ordering policy refused the patch's status change.
	// Order-independent fields were still merged; Changed reports whether any did.
	Stale bool
	// BecameTerminal is set on the single transition into a terminal status.
	BecameTerminal bool
}

// StatusChanged reports whether the patch moved the record to a different status.
func (r ApplyResult) StatusChanged() bool {
	return !r.Created && r.Call.Status != r.PreviousStatus
}
