package telephony

import (
	"strings"
	"testing"
)

func TestRenderInboundTwiML_GreetingThenEnqueue(t *testing.T) {
	out, err := RenderInboundTwiML(InboundCallResult{
		Action:   InboundActionEnqueue,
		Greeting: "Welcome to our call center.",
		Queue:    "support",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	say := strings.Index(out, "<Say>Welcome to our call center.</Say>")
	enq := strings.Index(out, "<Enqueue>support</Enqueue>")
	if say < 0 || enq < 0 || say > enq {
		t.Fatalf("expected Say before Enqueue, got %s", out)
	}
}

func TestRenderInboundTwiML_Reject(t *testing.T) {
	out, err := RenderInboundTwiML(InboundCallResult{Action: InboundActionReject, Greeting: "ignored"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, "<Reject") || strings.Contains(out, "<Say>") {
		t.Fatalf("expected lone Reject verb, got %s", out)
	}
}

func TestRenderInboundTwiML_Errors(t *testing.T) {
	if _, err := RenderInboundTwiML(InboundCallResult{Action: InboundActionEnqueue}); err == nil {
		t.Fatalf("expected error for missing queue")
	}
	if _, err := RenderInboundTwiML(InboundCallResult{Action: InboundActionConnect}); err == nil {
		t.Fatalf("expected error for missing agent")
	}
	if _, err := RenderInboundTwiML(InboundCallResult{Action: "dance"}); err == nil {
		t.Fatalf("expected error for unknown action")
	}
}

func TestRenderRouteTwiML(t *testing.T) {
	out, err := RenderRouteTwiML(Route{Action: RouteConnectAgent, AgentID: "1"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, "<Dial>") || !strings.Contains(out, "agent_1") {
		t.Fatalf("expected Dial Client, got %s", out)
	}

	out, err = RenderRouteTwiML(Route{Action: RouteConference, ConferenceName: "conf_CA1"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, "conf_CA1</Conference>") {
		t.Fatalf("expected Conference, got %s", out)
	}

	out, err = RenderRouteTwiML(Route{Action: RouteHangup})
	if err != nil || !strings.Contains(out, "<Hangup") {
		t.Fatalf("expected Hangup, got %s (%v)", out, err)
	}

	if _, err := RenderRouteTwiML(Route{Action: RouteConference}); err == nil {
		t.Fatalf("expected error for missing conference name")
	}
}
