package callcenter

import (
	"context"
	"fmt"
	"strings"

	"callcenter/internal/audit"
	"callcenter/internal/calls"
	"callcenter/internal/normalizer"
	"callcenter/internal/relay"
	"callcenter/internal/telephony"
)

type DialRequest struct {
	To      string `json:"to" binding:"required"`
	AgentID string `json:"agentId" binding:"required"`
}

// Dial places an outbound call for an agent. It makes exactly one provider
// attempt. On failure nothing is broadcast and the agent's dial slot is returned.
func (s *Service) Dial(ctx context.Context, req DialRequest) (calls.Call, error) {
	to := s.cfg.Numbers.Format(req.To)
	agentID := strings.TrimSpace(req.AgentID)

	c, err := s.dial(ctx, to, agentID)
	s.record(ctx, audit.Event{Action: audit.ActionDial, CallID: c.ID, AgentID: agentID, Metadata: audit.Metadata(map[string]any{"to": to})}, err)
	return c, err
}

func (s *Service) dial(ctx context.Context, to, agentID string) (calls.Call, error) {
	if err := s.cfg.Numbers.Validate(to); err != nil {
		return calls.Call{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if agentID == "" {
		return calls.Call{}, validation("agentId is required")
	}
	if _, ok := s.roster.Get(agentID); !ok {
		return calls.Call{}, fmt.Errorf("%w: %s", calls.ErrUnknownAgent, agentID)
	}

	ok, err := s.limiter.Acquire(ctx, agentID)
	if err != nil {
		return calls.Call{}, fmt.Errorf("callcenter: dial limiter: %w", err)
	}
	if !ok {
		return calls.Call{}, fmt.Errorf("%w: agent %s", ErrDialLimitReached, agentID)
	}

	res, err := s.gateway.PlaceOutboundCall(ctx, telephony.OutboundCallRequest{To: to, AgentID: agentID})
	if err != nil {
		if rerr := s.limiter.Release(context.WithoutCancel(ctx), agentID); rerr != nil {
			s.log.Warn("dial slot release failed", "agent_id", agentID, "err", rerr)
		}
		return calls.Call{}, err
	}
	s.holdSlot(res.CallID, agentID)

	status := res.Status
	if status == "" {
		status = "initiated"
	}
	p, err := normalizer.Normalize(normalizer.Event{
		Kind: normalizer.KindCallInitiated,
		Fields: normalizer.Fields{
			"CallSid":    res.CallID,
			"CallStatus": status,
			"Direction":  "outbound-api",
			"To":         to,
		},
		AssignedNumber: to,
		AgentID:        agentID,
		ReceivedAt:     s.now().UTC(),
	})
	if err != nil {
		return calls.Call{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	applied, err := s.applyLocked(p, "", nil)
	if err != nil {
		return calls.Call{}, err
	}
	if applied.Call.Status.IsTerminal() {
		// A terminal callback overtook the dial response and already ran
		// finishLocked, before this slot was held.
		s.releaseSlot(applied.Call.ID)
		return applied.Call, nil
	}
	if a, err := s.roster.Assign(agentID, applied.Call.ID); err == nil {
		s.hub.Publish(relay.EventAgentStatusUpdated, a)
	}
	return applied.Call, nil
}

type TransferRequest struct {
	CallID        string `json:"callSid"`
	TargetAgentID string `json:"targetAgentId"`
}

// Transfer redirects a live call to another agent's softphone.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (calls.Call, error) {
	c, err := s.transfer(ctx, req)
	s.record(ctx, audit.Event{Action: audit.ActionTransfer, CallID: req.CallID, AgentID: req.TargetAgentID}, err)
	return c, err
}

func (s *Service) transfer(ctx context.Context, req TransferRequest) (calls.Call, error) {
	if req.CallID == "" || req.TargetAgentID == "" {
		return calls.Call{}, validation("callSid and targetAgentId are required")
	}
	if _, ok := s.roster.Get(req.TargetAgentID); !ok {
		return calls.Call{}, fmt.Errorf("%w: %s", calls.ErrUnknownAgent, req.TargetAgentID)
	}

	route := telephony.Route{Action: telephony.RouteConnectAgent, AgentID: req.TargetAgentID}
	if err := s.gateway.UpdateCallRouting(ctx, req.CallID, route); err != nil {
		return calls.Call{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferredLocked(req.CallID, req.TargetAgentID)
}

// transferredLocked records a transfer and hands the call to the target agent.
func (s *Service) transferredLocked(callID, targetAgentID string) (calls.Call, error) {
	res, err := s.commandApplyLocked(calls.Patch{
		CallID:  callID,
		Status:  calls.StatusTransferred,
		AgentID: targetAgentID,
	}, relay.EventCallTransferred, relay.TransferPayload{CallSid: callID, TargetAgentID: targetAgentID})
	if err != nil {
		return res.Call, err
	}
	for _, a := range s.roster.Release(callID) {
		s.hub.Publish(relay.EventAgentStatusUpdated, a)
	}
	if a, err := s.roster.Assign(targetAgentID, callID); err == nil {
		s.hub.Publish(relay.EventAgentStatusUpdated, a)
	}
	return res.Call, nil
}

type ConferenceRequest struct {
	CallID       string   `json:"callSid"`
	Participants []string `json:"participants"`
}

// CreateConference moves a call into a bridge and dials every participant.
func (s *Service) CreateConference(ctx context.Context, req ConferenceRequest) (telephony.ConferenceResult, error) {
	res, err := s.createConference(ctx, req)
	s.record(ctx, audit.Event{Action: audit.ActionConference, CallID: req.CallID, Metadata: audit.Metadata(map[string]any{"participants": req.Participants})}, err)
	return res, err
}

func (s *Service) createConference(ctx context.Context, req ConferenceRequest) (telephony.ConferenceResult, error) {
	if req.CallID == "" {
		return telephony.ConferenceResult{}, validation("callSid is required")
	}
	participants := make([]string, 0, len(req.Participants))
	seen := map[string]bool{}
	for _, p := range req.Participants {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		if _, ok := s.roster.Get(p); !ok {
			return telephony.ConferenceResult{}, fmt.Errorf("%w: %s", calls.ErrUnknownAgent, p)
		}
		seen[p] = true
		participants = append(participants, p)
	}
	if len(participants) == 0 {
		return telephony.ConferenceResult{}, validation("at least one participant is required")
	}

	res, err := s.gateway.CreateConferenceBridge(ctx, req.CallID, participants)
	if err != nil {
		return telephony.ConferenceResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	applied, err := s.applyLocked(calls.Patch{
		CallID:       req.CallID,
		Status:       calls.StatusConference,
		ConferenceID: res.ConferenceID,
	}, relay.EventConferenceCreated, relay.ConferencePayload{
		CallSid:       req.CallID,
		ConferenceSid: res.ConferenceID,
		Participants:  res.Participants,
	})
	if err != nil {
		return res, err
	}
	if applied.Stale {
		// The provider already bridged the call; report it but keep the record as is.
		s.log.Warn("conference created for a finished call", "call_id", req.CallID, "status", applied.Call.Status)
	}
	return res, nil
}

// StartRecording asks the provider to record a live call.
func (s *Service) StartRecording(ctx context.Context, callID string) (telephony.RecordingResult, error) {
	res, err := s.startRecording(ctx, callID)
	s.record(ctx, audit.Event{Action: audit.ActionRecord, CallID: callID}, err)
	return res, err
}

func (s *Service) startRecording(ctx context.Context, callID string) (telephony.RecordingResult, error) {
	if callID == "" {
		return telephony.RecordingResult{}, validation("callSid is required")
	}
	res, err := s.gateway.StartRecording(ctx, callID)
	if err != nil {
		return telephony.RecordingResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// No status in this patch, so ordering never drops it.
	if _, err := s.applyLocked(calls.Patch{
		CallID:      callID,
		RecordingID: res.RecordingID,
	}, relay.EventRecordingStarted, relay.RecordingPayload{CallSid: callID, RecordingSid: res.RecordingID}); err != nil {
		return res, err
	}
	return res, nil
}

// HistoryRow is one provider log entry with its status normalized.
type HistoryRow struct {
	telephony.CallSummary
	ProviderStatus string       `json:"providerStatus"`
	Status         calls.Status `json:"status"`
}

// History fetches the provider's recent call log. limit <= 0 means the default.
func (s *Service) History(ctx context.Context, limit int) ([]HistoryRow, error) {
	if limit <= 0 {
		limit = s.cfg.HistoryDefaultLimit
	}
	if limit > s.cfg.HistoryMaxLimit {
		limit = s.cfg.HistoryMaxLimit
	}

	rows, err := s.gateway.ListRecentCalls(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryRow, 0, len(rows))
	for _, r := range rows {
		raw := strings.ToLower(r.Status)
		dir := calls.DirectionOutbound
		if strings.HasPrefix(strings.ToLower(r.Direction), "inbound") {
			dir = calls.DirectionInbound
		}
		st, err := normalizer.MapStatus(raw, dir, normalizer.KindCallStatusChanged)
		if err != nil {
			s.log.Debug("history row with unknown status", "call_id", r.ID, "status", r.Status)
			st = calls.Status(raw)
		}
		out = append(out, HistoryRow{CallSummary: r, ProviderStatus: raw, Status: st})
	}
	return out, nil
}

func staleError(c calls.Call) error {
	return validation("call %s is already %s", c.ID, c.Status)
}
