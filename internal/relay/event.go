package relay

import (
	"time"

	"callcenter/internal/calls"
)

// Event is one broadcast frame. Seq is assigned by the Hub and strictly increases.
type Event struct {
	Name string    `json:"event"`
	Data any       `json:"data"`
	Seq  uint64    `json:"seq"`
	Time time.Time `json:"time"`
}

const (
	EventNewCall            = "new_call"
	EventCallStatus         = "call_status"
	EventCallAnswered       = "call:answered"
	EventCallDeclined       = "call:declined"
	EventCallEnded          = "call:ended"
	EventCallTransferred    = "call:transferred"
	EventConferenceCreated  = "call:conference:created"
	EventRecordingStarted   = "call:recording:started"
	EventAgentStatusUpdated = "agent:status:updated"
	EventConnected          = "relay:connected"
	EventCommandError       = "command:error"
)

// NewCallPayload announces a record seen for the first time.
// Status is the provider's own status when the record came from the provider.
type NewCallPayload struct {
	ID               string          `json:"id"`
	Status           string          `json:"status"`
	NormalizedStatus calls.Status    `json:"normalizedStatus"`
	Direction        calls.Direction `json:"direction,omitempty"`
	PhoneNumber      string          `json:"phoneNumber"`
	StartTime        time.Time       `json:"startTime"`
	Duration         int             `json:"duration"`
	AgentID          string          `json:"agentId,omitempty"`
}

func NewCall(c calls.Call) NewCallPayload {
	status := c.ProviderStatus
	if status == "" {
		status = string(c.Status)
	}
	return NewCallPayload{
		ID:               c.ID,
		Status:           status,
		NormalizedStatus: c.Status,
		Direction:        c.Direction,
		PhoneNumber:      c.CounterpartyNumber,
		StartTime:        c.StartTime,
		Duration:         c.Duration,
		AgentID:          c.AgentID,
	}
}

type CallStatusPayload struct {
	CallSid        string       `json:"callSid"`
	Status         calls.Status `json:"status"`
	ProviderStatus string       `json:"providerStatus,omitempty"`
	Duration       int          `json:"duration"`
	EndTime        *time.Time   `json:"endTime,omitempty"`
	AgentID        string       `json:"agentId,omitempty"`
}

func CallStatus(c calls.Call) CallStatusPayload {
	return CallStatusPayload{
		CallSid:        c.ID,
		Status:         c.Status,
		ProviderStatus: c.ProviderStatus,
		Duration:       c.Duration,
		EndTime:        c.EndTime,
		AgentID:        c.AgentID,
	}
}

type CallActionPayload struct {
	CallID  string `json:"callId"`
	AgentID string `json:"agentId,omitempty"`
}

type TransferPayload struct {
	CallSid       string `json:"callSid"`
	TargetAgentID string `json:"targetAgentId"`
}

type ConferencePayload struct {
	CallSid       string   `json:"callSid"`
	ConferenceSid string   `json:"conferenceSid"`
	Participants  []string `json:"participants"`
}

type RecordingPayload struct {
	CallSid      string `json:"callSid"`
	RecordingSid string `json:"recordingSid"`
}

type CommandErrorPayload struct {
	Command string `json:"command"`
	CallID  string `json:"callId,omitempty"`
	Error   string `json:"error"`
}

type ConnectedPayload struct {
	ObserverID string `json:"observerId"`
}
