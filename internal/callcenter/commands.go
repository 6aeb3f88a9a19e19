package callcenter

import (
	"context"
	"fmt"
	"strings"

	"callcenter/internal/audit"
	"callcenter/internal/calls"
	"callcenter/internal/relay"
	"callcenter/internal/telephony"
)

// HandleCommand executes an observer command.
//
// The derived event is broadcast as soon as the requested transition is
// applied locally. The provider call runs afterwards on the command pool; if
// it fails, only the issuing observer hears about it, as command:error. Later
// status callbacks correct the record.
func (s *Service) HandleCommand(ctx context.Context, observerID string, cmd relay.Command) error {
	cmd.CallID = strings.TrimSpace(cmd.CallID)
	cmd.AgentID = strings.TrimSpace(cmd.AgentID)
	cmd.TargetAgentID = strings.TrimSpace(cmd.TargetAgentID)

	switch cmd.Name {
	case relay.CommandAnswer:
		return s.answer(ctx, observerID, cmd)
	case relay.CommandDecline:
		return s.finishByCommand(ctx, observerID, cmd, calls.StatusMissed, relay.EventCallDeclined, audit.ActionDecline, telephony.RouteReject)
	case relay.CommandEnd:
		return s.finishByCommand(ctx, observerID, cmd, calls.StatusCompleted, relay.EventCallEnded, audit.ActionEnd, telephony.RouteHangup)
	case relay.CommandTransfer:
		return s.transferByCommand(ctx, observerID, cmd)
	case relay.CommandAgentStatus:
		if cmd.AgentID == "" {
			return validation("agentId is required")
		}
		_, err := s.SetAgentStatus(ctx, cmd.AgentID, calls.AgentStatus(strings.ToLower(strings.TrimSpace(cmd.Status))))
		return err
	}
	return validation("unknown command %q", cmd.Name)
}

func (s *Service) answer(ctx context.Context, observerID string, cmd relay.Command) error {
	if cmd.CallID == "" {
		return validation("callId is required")
	}
	if cmd.AgentID != "" {
		if _, ok := s.roster.Get(cmd.AgentID); !ok {
			return fmt.Errorf("%w: %s", calls.ErrUnknownAgent, cmd.AgentID)
		}
	}

	s.mu.Lock()
	_, err := s.commandApplyLocked(calls.Patch{
		CallID:  cmd.CallID,
		Status:  calls.StatusOngoing,
		AgentID: cmd.AgentID,
	}, relay.EventCallAnswered, relay.CallActionPayload{CallID: cmd.CallID, AgentID: cmd.AgentID})
	if err == nil && cmd.AgentID != "" {
		if a, aerr := s.roster.Assign(cmd.AgentID, cmd.CallID); aerr == nil {
			s.hub.Publish(relay.EventAgentStatusUpdated, a)
		}
	}
	s.mu.Unlock()

	e := audit.Event{Action: audit.ActionAnswer, CallID: cmd.CallID, AgentID: cmd.AgentID, ObserverID: observerID}
	if err != nil || cmd.AgentID == "" {
		// Without an agent there is no softphone to bridge to; the answer is local only.
		s.record(ctx, e, err)
		return err
	}
	s.routeAsync(ctx, observerID, cmd, e, telephony.Route{Action: telephony.RouteConnectAgent, AgentID: cmd.AgentID})
	return nil
}

func (s *Service) finishByCommand(ctx context.Context, observerID string, cmd relay.Command, status calls.Status, event string, action audit.Action, route telephony.RouteAction) error {
	if cmd.CallID == "" {
		return validation("callId is required")
	}

	s.mu.Lock()
	_, err := s.commandApplyLocked(calls.Patch{
		CallID:  cmd.CallID,
		Status:  status,
		AgentID: cmd.AgentID,
	}, event, relay.CallActionPayload{CallID: cmd.CallID, AgentID: cmd.AgentID})
	s.mu.Unlock()

	e := audit.Event{Action: action, CallID: cmd.CallID, AgentID: cmd.AgentID, ObserverID: observerID}
	if err != nil {
		s.record(ctx, e, err)
		return err
	}
	s.routeAsync(ctx, observerID, cmd, e, telephony.Route{Action: route})
	return nil
}

func (s *Service) transferByCommand(ctx context.Context, observerID string, cmd relay.Command) error {
	if cmd.CallID == "" || cmd.TargetAgentID == "" {
		return validation("callId and targetAgentId are required")
	}
	if _, ok := s.roster.Get(cmd.TargetAgentID); !ok {
		return fmt.Errorf("%w: %s", calls.ErrUnknownAgent, cmd.TargetAgentID)
	}

	s.mu.Lock()
	_, err := s.transferredLocked(cmd.CallID, cmd.TargetAgentID)
	s.mu.Unlock()

	e := audit.Event{Action: audit.ActionTransfer, CallID: cmd.CallID, AgentID: cmd.TargetAgentID, ObserverID: observerID}
	if err != nil {
		s.record(ctx, e, err)
		return err
	}
	s.routeAsync(ctx, observerID, cmd, e, telephony.Route{Action: telephony.RouteConnectAgent, AgentID: cmd.TargetAgentID})
	return nil
}

// commandApplyLocked applies a command's transition, or rejects the whole
// command when the record's status cannot move that way. s.mu must be held.
func (s *Service) commandApplyLocked(p calls.Patch, derived string, payload any) (calls.ApplyResult, error) {
	if cur, refused := s.refusedLocked(p); refused {
		return calls.ApplyResult{Call: cur, Stale: true}, staleError(cur)
	}
	return s.applyLocked(p, derived, payload)
}

// routeAsync sends the routing change to the provider off the event path.
// The request context is detached so a closing socket does not abort it.
func (s *Service) routeAsync(ctx context.Context, observerID string, cmd relay.Command, e audit.Event, route telephony.Route) {
	ctx = context.WithoutCancel(ctx)
	s.submit(func() {
		err := s.gateway.UpdateCallRouting(ctx, cmd.CallID, route)
		s.record(ctx, e, err)
		if err == nil {
			return
		}
		s.log.Warn("provider rejected command",
			"observer_id", observerID, "command", cmd.Name, "call_id", cmd.CallID, "route", route.Action, "err", err)
		s.hub.SendTo(observerID, relay.EventCommandError, relay.CommandErrorPayload{
			Command: string(cmd.Name),
			CallID:  cmd.CallID,
			Error:   err.Error(),
		})
	})
}
