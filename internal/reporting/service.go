package reporting

import (
	"context"
	"errors"
	"time"

	"callcenter/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Source abstracts where call and agent records are read from.
type Source interface {
	ListCalls(ctx context.Context, from, to time.Time) ([]calls.Call, error)
	ListAgents(ctx context.Context) ([]calls.Agent, error)
}

type Service struct {
	src Source
}

func NewService(src Source) *Service { return &Service{src: src} }

func (s *Service) Summary(ctx context.Context, req SummaryRequest) (Summary, error) {
	r := req.Range
	if !r.From.IsZero() && !r.To.IsZero() && !r.To.After(r.From) {
		return Summary{}, ErrInvalidRequest
	}
	if s.src == nil {
		return Summary{}, errors.New("reporting: source not configured")
	}

	rows, err := s.src.ListCalls(ctx, r.From, r.To)
	if err != nil {
		return Summary{}, err
	}
	agents, err := s.src.ListAgents(ctx)
	if err != nil {
		return Summary{}, err
	}

	out := Summary{
		Range:    r,
		ByStatus: make(map[calls.Status]int, len(calls.Statuses)),
		Agents:   map[calls.AgentStatus]int{},
	}
	for _, st := range calls.Statuses {
		out.ByStatus[st] = 0
	}

	completed := 0
	for _, c := range rows {
		out.TotalCalls++
		out.ByStatus[c.Status]++
		switch c.Direction {
		case calls.DirectionInbound:
			out.InboundCalls++
		case calls.DirectionOutbound:
			out.OutboundCalls++
		}
		if c.RecordingID != "" {
			out.RecordedCalls++
		}
		if c.Status.IsActive() {
			out.ActiveCalls++
		}
		if !c.Status.IsTerminal() {
			continue
		}
		out.FinishedCalls++
		out.TotalDurationSeconds += c.Duration
		switch c.Status {
		case calls.StatusCompleted:
			completed++
		case calls.StatusMissed:
			out.MissedCalls++
		}
	}
	if out.FinishedCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.FinishedCalls
		out.AnswerRate = float64(completed) / float64(out.FinishedCalls)
	}

	for _, st := range []calls.AgentStatus{calls.AgentAvailable, calls.AgentBusy, calls.AgentOffline} {
		out.Agents[st] = 0
	}
	for _, a := range agents {
		out.Agents[a.Status]++
	}
	return out, nil
}
