package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"
)

func TestService_AppendRequiresAction(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{CallID: "CA1"}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if err := svc.Append(context.Background(), Event{Action: ActionDial, Outcome: "maybe"}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent for unknown outcome, got %v", err)
	}
	if len(repo.Events()) != 0 {
		t.Fatalf("expected nothing appended")
	}
}

func TestService_AppendStampsIDAndTime(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{Action: ActionTransfer, CallID: "CA1", IPAddress: "1.2.3.4"}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and created_at to be set")
	}
	if evs[0].IPAddress != "1.2.3.4" {
		t.Fatalf("expected ip captured")
	}
	if evs[0].Outcome != OutcomeOK {
		t.Fatalf("expected default outcome ok, got %q", evs[0].Outcome)
	}
}

func TestService_RecordCapturesFailure(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Record(context.Background(), Event{Action: ActionDial, AgentID: "1"}, errors.New("invalid number")); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	ev := repo.Events()[0]
	if ev.Outcome != OutcomeError || ev.Message != "invalid number" {
		t.Fatalf("expected error outcome with message, got %+v", ev)
	}
}

func TestService_NoRepository(t *testing.T) {
	svc := NewService(nil)
	if err := svc.Append(context.Background(), Event{Action: ActionEnd}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPostgresRepo_NilDB(t *testing.T) {
	if err := NewPostgresRepo(nil).Append(context.Background(), Event{Action: ActionEnd}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestService_AppendTakesIPFromContext(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	ctx := WithClientIP(context.Background(), "10.0.0.7")
	if err := svc.Append(ctx, Event{Action: ActionDial}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got := repo.Events()[0].IPAddress; got != "10.0.0.7" {
		t.Fatalf("expected ip from context, got %q", got)
	}
	if ClientIPFromContext(WithClientIP(context.Background(), "")) != "" {
		t.Fatalf("expected empty ip to be ignored")
	}
}

func TestMetadata_IsValidJSON(t *testing.T) {
	got := Metadata(map[string]any{"to": "12\x01\"\\"})
	var back map[string]string
	if err := json.Unmarshal([]byte(got), &back); err != nil {
		t.Fatalf("metadata %q is not valid JSON: %v", got, err)
	}
	if back["to"] != "12\x01\"\\" {
		t.Fatalf("round trip mismatch: %q", back["to"])
	}
	if got := Metadata(map[string]any{"bad": make(chan int)}); got != "" {
		t.Fatalf("expected empty metadata for unencodable value, got %q", got)
	}
}
