package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"callcenter/internal/calls"
)

func intp(n int) *int { return &n }

func seed(t *testing.T) LiveSource {
	t.Helper()
	store := calls.NewStore()
	base := time.Unix(1700000000, 0).UTC()
	patches := []calls.Patch{
		{CallID: "CA1", Direction: calls.DirectionOutbound, Status: calls.StatusOutgoing, StartTime: base},
		{CallID: "CA1", Status: calls.StatusCompleted, Duration: intp(30), RecordingID: "RE1"},
		{CallID: "CA2", Direction: calls.DirectionInbound, Status: calls.StatusIncoming, StartTime: base.Add(time.Minute)},
		{CallID: "CA2", Status: calls.StatusMissed},
		{CallID: "CA3", Direction: calls.DirectionInbound, Status: calls.StatusOngoing, StartTime: base.Add(2 * time.Hour)},
	}
	for _, p := range patches {
		if _, err := store.Apply(p); err != nil {
			t.Fatalf("seed apply: %v", err)
		}
	}
	agents, err := calls.ParseRoster(calls.DefaultRoster)
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	return LiveSource{Store: store, Roster: calls.NewRoster(agents)}
}

func TestSummary_Aggregates(t *testing.T) {
	svc := NewService(seed(t))

	out, err := svc.Summary(context.Background(), SummaryRequest{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 3 || out.InboundCalls != 2 || out.OutboundCalls != 1 {
		t.Fatalf("unexpected totals: %+v", out)
	}
	if out.ActiveCalls != 1 || out.FinishedCalls != 2 || out.MissedCalls != 1 {
		t.Fatalf("unexpected lifecycle counts: %+v", out)
	}
	if out.TotalDurationSeconds != 30 || out.AverageDurationSeconds != 15 {
		t.Fatalf("unexpected durations: total=%d avg=%d", out.TotalDurationSeconds, out.AverageDurationSeconds)
	}
	if out.RecordedCalls != 1 {
		t.Fatalf("expected 1 recorded call, got %d", out.RecordedCalls)
	}
	if out.AnswerRate != 0.5 {
		t.Fatalf("expected answer rate 0.5, got %v", out.AnswerRate)
	}
	if out.ByStatus[calls.StatusTransferred] != 0 || out.ByStatus[calls.StatusOngoing] != 1 {
		t.Fatalf("unexpected status counts: %v", out.ByStatus)
	}
	if out.Agents[calls.AgentAvailable] != 1 || out.Agents[calls.AgentOffline] != 1 || out.Agents[calls.AgentBusy] != 0 {
		t.Fatalf("unexpected agent counts: %v", out.Agents)
	}
}

func TestSummary_RangeFiltersByStartTime(t *testing.T) {
	svc := NewService(seed(t))
	base := time.Unix(1700000000, 0).UTC()

	out, err := svc.Summary(context.Background(), SummaryRequest{Range: TimeRange{From: base, To: base.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 2 {
		t.Fatalf("expected 2 calls in range, got %d", out.TotalCalls)
	}

	out, err = svc.Summary(context.Background(), SummaryRequest{Range: TimeRange{From: base.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 1 || out.ActiveCalls != 1 {
		t.Fatalf("expected only the ongoing call, got %+v", out)
	}
}

func TestSummary_InvalidRange(t *testing.T) {
	svc := NewService(seed(t))
	now := time.Now()
	_, err := svc.Summary(context.Background(), SummaryRequest{Range: TimeRange{From: now, To: now.Add(-time.Minute)}})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestSummary_Empty(t *testing.T) {
	agents, _ := calls.ParseRoster("1:A:busy")
	svc := NewService(LiveSource{Store: calls.NewStore(), Roster: calls.NewRoster(agents)})
	out, err := svc.Summary(context.Background(), SummaryRequest{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 0 || out.AverageDurationSeconds != 0 || out.AnswerRate != 0 {
		t.Fatalf("expected zero summary, got %+v", out)
	}
	if out.Agents[calls.AgentBusy] != 1 {
		t.Fatalf("expected busy agent counted")
	}
}
