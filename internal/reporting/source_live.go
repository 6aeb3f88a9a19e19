package reporting

import (
	"context"
	"time"

	"callcenter/internal/calls"
)

// LiveSource reads straight from the in-memory store and roster.
type LiveSource struct {
	Store  *calls.Store
	Roster *calls.Roster
}

func (s LiveSource) ListCalls(_ context.Context, from, to time.Time) ([]calls.Call, error) {
	all := s.Store.List()
	out := make([]calls.Call, 0, len(all))
	for _, c := range all {
		if !from.IsZero() && c.StartTime.Before(from) {
			continue
		}
		if !to.IsZero() && !c.StartTime.Before(to) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s LiveSource) ListAgents(context.Context) ([]calls.Agent, error) {
	return s.Roster.List(), nil
}
