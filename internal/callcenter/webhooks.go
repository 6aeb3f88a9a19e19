package callcenter

import (
	"context"

	"callcenter/internal/calls"
	"callcenter/internal/normalizer"
	"callcenter/internal/telephony"
)

// HandleInboundCall records a ringing inbound call and tells the provider to
// greet the caller and park them in the queue.
func (s *Service) HandleInboundCall(ctx context.Context, ev telephony.WebhookEvent) (telephony.InboundCallResult, error) {
	p, err := normalizer.Normalize(normalizer.Event{
		Kind:       normalizer.KindCallIncoming,
		Fields:     ev.Fields,
		ReceivedAt: ev.ReceivedAt,
	})
	if err != nil {
		return telephony.InboundCallResult{}, err
	}
	if p.Direction == "" {
		p.Direction = calls.DirectionInbound
	}

	s.mu.Lock()
	_, err = s.applyLocked(p, "", nil)
	s.mu.Unlock()
	if err != nil {
		return telephony.InboundCallResult{}, err
	}

	return telephony.InboundCallResult{
		CallID:   p.CallID,
		Action:   telephony.InboundActionEnqueue,
		Greeting: s.cfg.Greeting,
		Queue:    s.cfg.QueueName,
	}, nil
}

// HandleStatusCallback applies a provider status change. Unknown call ids
// create a record; stale or repeated callbacks are accepted and ignored.
func (s *Service) HandleStatusCallback(ctx context.Context, ev telephony.WebhookEvent) error {
	p, err := normalizer.Normalize(normalizer.Event{
		Kind:       normalizer.KindCallStatusChanged,
		Fields:     ev.Fields,
		ReceivedAt: ev.ReceivedAt,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	res, err := s.applyLocked(p, "", nil)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if res.Stale {
		s.log.Info("out-of-order status callback ignored",
			"call_id", p.CallID, "status", p.ProviderStatus, "current_status", res.Call.Status)
	}
	return nil
}
