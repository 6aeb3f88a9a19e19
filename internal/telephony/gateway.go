package telephony

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Gateway is the provider-agnostic call-control surface used by the call center.
//
// Rules:
// - No provider SDK calls outside gateway implementations.
// - One attempt per call. Implementations never retry.
// - Failures are returned as *ProviderError or a validation error, never swallowed.
type Gateway interface {
	Name() string
	HealthCheck(ctx context.Context) error

	PlaceOutboundCall(ctx context.Context, req OutboundCallRequest) (OutboundCallResult, error)
	UpdateCallRouting(ctx context.Context, callID string, route Route) error
	CreateConferenceBridge(ctx context.Context, callID string, participants []string) (ConferenceResult, error)
	StartRecording(ctx context.Context, callID string) (RecordingResult, error)
	ListRecentCalls(ctx context.Context, limit int) ([]CallSummary, error)
}

// OutboundCallRequest asks the provider to dial To on behalf of AgentID.
type OutboundCallRequest struct {
	// To is E.164.
	To      string `json:"to"`
	AgentID string `json:"agent_id"`
}

type OutboundCallResult struct {
	CallID string `json:"call_id"`
	// Status is the provider's raw status for the new call (e.g. "queued").
	Status    string `json:"status"`
	Direction string `json:"direction"`
	From      string `json:"from"`
	To        string `json:"to"`
}

type RouteAction string

const (
	RouteConnectAgent RouteAction = "connect_agent"
	RouteConference   RouteAction = "conference"
	RouteHangup       RouteAction = "hangup"
	RouteReject       RouteAction = "reject"
)

// Route redirects a live call.
type Route struct {
	Action RouteAction `json:"action"`

	// AgentID is used when Action == connect_agent.
	AgentID string `json:"agent_id,omitempty"`
	// ConferenceName is used when Action == conference.
	ConferenceName string `json:"conference_name,omitempty"`
}

func (r Route) Validate() error {
	switch r.Action {
	case RouteConnectAgent:
		if r.AgentID == "" {
			return errors.New("telephony: agent id required for connect_agent route")
		}
	case RouteConference:
		if r.ConferenceName == "" {
			return errors.New("telephony: conference name required for conference route")
		}
	case RouteHangup, RouteReject:
	default:
		return fmt.Errorf("telephony: unknown route action %q", r.Action)
	}
	return nil
}

type ConferenceResult struct {
	ConferenceID string   `json:"conference_id"`
	Participants []string `json:"participants"`
	// ParticipantCallIDs maps participant id to the provider call created for it.
	ParticipantCallIDs map[string]string `json:"participant_call_ids,omitempty"`
}

type RecordingResult struct {
	RecordingID string `json:"recording_id"`
	Status      string `json:"status,omitempty"`
}

// CallSummary is one row of the provider's call log.
type CallSummary struct {
	ID           string    `json:"id"`
	Direction    string    `json:"direction"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	Counterparty string    `json:"counterpartyNumber"`
	Status       string    `json:"status"`
	Duration     int       `json:"duration"`
	StartTime    time.Time `json:"startTime"`
}

// ConferenceName is the bridge name used for a call's conference.
func ConferenceName(callID string) string {
	return "conf_" + callID
}

// ClientIdentity is the softphone identity for an agent.
func ClientIdentity(agentID string) string {
	return "agent_" + agentID
}

var ErrProviderUnavailable = errors.New("telephony: provider unavailable")

// ProviderError is a failed provider call.
type ProviderError struct {
	Provider string
	Op       string

	// Code is the provider's error code, HTTPStatus the provider's HTTP status (0 when unknown).
	Code       int
	HTTPStatus int
	Message    string

	Err error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != 0 {
		return fmt.Sprintf("telephony: %s %s failed (code %d): %s", e.Provider, e.Op, e.Code, msg)
	}
	return fmt.Sprintf("telephony: %s %s failed: %s", e.Provider, e.Op, msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RateLimited reports whether the provider throttled the request.
func (e *ProviderError) RateLimited() bool {
	return e.HTTPStatus == 429 || e.Code == 20429
}
