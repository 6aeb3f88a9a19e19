package telephony

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SandboxGateway is an in-memory provider for local runs without Twilio
// credentials. It assigns Twilio-shaped sids and keeps its own call log.
//
// It never calls back into webhooks; drive status changes by posting to
// /webhook/status yourself.
type SandboxGateway struct {
	mu    sync.Mutex
	calls []CallSummary
	byID  map[string]int
	now   func() time.Time

	// Fail, when set, is returned (wrapped in *ProviderError) by every call-control operation.
	Fail error
}

func NewSandboxGateway() *SandboxGateway {
	return &SandboxGateway{byID: map[string]int{}, now: time.Now}
}

func (g *SandboxGateway) Name() string { return "sandbox" }

func (g *SandboxGateway) HealthCheck(ctx context.Context) error { return nil }

func sid(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (g *SandboxGateway) fail(op string) error {
	if g.Fail == nil {
		return nil
	}
	return &ProviderError{Provider: g.Name(), Op: op, Err: g.Fail}
}

func (g *SandboxGateway) PlaceOutboundCall(ctx context.Context, req OutboundCallRequest) (OutboundCallResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail("create_call"); err != nil {
		return OutboundCallResult{}, err
	}
	if req.To == "" {
		return OutboundCallResult{}, errors.New("telephony: destination number required")
	}
	res := OutboundCallResult{CallID: sid("CA"), Status: "initiated", Direction: "outbound-api", To: req.To}
	g.byID[res.CallID] = len(g.calls)
	g.calls = append(g.calls, CallSummary{
		ID:           res.CallID,
		Direction:    res.Direction,
		To:           req.To,
		Counterparty: req.To,
		Status:       res.Status,
		StartTime:    g.now().UTC(),
	})
	return res, nil
}

func (g *SandboxGateway) UpdateCallRouting(ctx context.Context, callID string, route Route) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail("update_call"); err != nil {
		return err
	}
	if err := route.Validate(); err != nil {
		return err
	}
	if i, ok := g.byID[callID]; ok {
		switch route.Action {
		case RouteHangup:
			g.calls[i].Status = "completed"
		case RouteReject:
			g.calls[i].Status = "canceled"
		default:
			g.calls[i].Status = "in-progress"
		}
	}
	return nil
}

func (g *SandboxGateway) CreateConferenceBridge(ctx context.Context, callID string, participants []string) (ConferenceResult, error) {
	if len(participants) == 0 {
		return ConferenceResult{}, errors.New("telephony: at least one participant required")
	}
	name := ConferenceName(callID)
	if err := g.UpdateCallRouting(ctx, callID, Route{Action: RouteConference, ConferenceName: name}); err != nil {
		return ConferenceResult{}, err
	}
	res := ConferenceResult{
		ConferenceID:       name,
		Participants:       append([]string(nil), participants...),
		ParticipantCallIDs: make(map[string]string, len(participants)),
	}
	for _, p := range participants {
		res.ParticipantCallIDs[p] = sid("CA")
	}
	return res, nil
}

func (g *SandboxGateway) StartRecording(ctx context.Context, callID string) (RecordingResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail("create_recording"); err != nil {
		return RecordingResult{}, err
	}
	if callID == "" {
		return RecordingResult{}, errors.New("telephony: call id required")
	}
	return RecordingResult{RecordingID: sid("RE"), Status: "in-progress"}, nil
}

// ListRecentCalls returns the newest calls first.
func (g *SandboxGateway) ListRecentCalls(ctx context.Context, limit int) ([]CallSummary, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if limit <= 0 {
		return nil, fmt.Errorf("telephony: limit must be > 0, got %d", limit)
	}
	out := make([]CallSummary, 0, limit)
	for i := len(g.calls) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, g.calls[i])
	}
	return out, nil
}
