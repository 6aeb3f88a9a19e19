package telephony

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"callcenter/internal/normalizer"

	"github.com/gin-gonic/gin"
)

type fakeSink struct {
	inbound []WebhookEvent
	status  []WebhookEvent
	err     error
}

func (s *fakeSink) HandleInboundCall(_ context.Context, ev WebhookEvent) (InboundCallResult, error) {
	s.inbound = append(s.inbound, ev)
	if s.err != nil {
		return InboundCallResult{}, s.err
	}
	return InboundCallResult{CallID: ev.CallSid, Action: InboundActionEnqueue, Greeting: "Hello", Queue: "support"}, nil
}

func (s *fakeSink) HandleStatusCallback(_ context.Context, ev WebhookEvent) error {
	s.status = append(s.status, ev)
	return s.err
}

func formRequest(path string, form url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func testRouter(h TwilioWebhookHandler, mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/webhook", mw...)
	g.POST("/voice", h.HandleInboundCall)
	g.POST("/status", h.HandleStatusCallback)
	return r
}

func TestParseTwilioWebhook(t *testing.T) {
	at := time.Unix(1700000000, 0).UTC()
	r := formRequest("/webhook/voice", url.Values{"CallSid": {"CA123"}, "From": {"+15551234567"}, "To": {"+15557654321"}})

	ev, err := ParseTwilioWebhook(r, at)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ev.CallSid != "CA123" {
		t.Fatalf("expected CallSid, got %q", ev.CallSid)
	}
	if ev.Fields.Get("from") != "+15551234567" || ev.Fields.Get("to") != "+15557654321" {
		t.Fatalf("unexpected fields: %v", ev.Fields)
	}
	if !ev.ReceivedAt.Equal(at) {
		t.Fatalf("expected received at %v", at)
	}

	if _, err := ParseTwilioWebhook(formRequest("/webhook/voice", url.Values{"From": {"+1"}}), at); err != ErrMissingCallSid {
		t.Fatalf("expected ErrMissingCallSid, got %v", err)
	}
}

func TestHandleInboundCall_WritesTwiML(t *testing.T) {
	sink := &fakeSink{}
	r := testRouter(TwilioWebhookHandler{Sink: sink})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, formRequest("/webhook/voice", url.Values{"CallSid": {"CA999"}, "From": {"+919999999999"}}))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Fatalf("expected xml content type, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "<Enqueue>support</Enqueue>") {
		t.Fatalf("expected Enqueue, got %s", w.Body.String())
	}
	if len(sink.inbound) != 1 || sink.inbound[0].CallSid != "CA999" {
		t.Fatalf("expected sink to receive CA999")
	}
}

func TestHandleInboundCall_BadRequest(t *testing.T) {
	r := testRouter(TwilioWebhookHandler{Sink: &fakeSink{}})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, formRequest("/webhook/voice", url.Values{"From": {"+919999999999"}}))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleStatusCallback(t *testing.T) {
	sink := &fakeSink{}
	r := testRouter(TwilioWebhookHandler{Sink: sink})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, formRequest("/webhook/status", url.Values{"CallSid": {"CA123"}, "CallStatus": {"in-progress"}}))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if len(sink.status) != 1 || sink.status[0].Fields.Get("CallStatus") != "in-progress" {
		t.Fatalf("expected sink to receive status")
	}
}

func TestHandleStatusCallback_ValidationErrorIs400(t *testing.T) {
	sink := &fakeSink{err: &normalizer.ValidationError{Field: "CallStatus", Reason: "unknown"}}
	r := testRouter(TwilioWebhookHandler{Sink: sink})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, formRequest("/webhook/status", url.Values{"CallSid": {"CA123"}, "CallStatus": {"teleported"}}))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandler_NoSink(t *testing.T) {
	r := testRouter(TwilioWebhookHandler{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, formRequest("/webhook/status", url.Values{"CallSid": {"CA1"}}))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

// sign reproduces Twilio's webhook signature: HMAC-SHA1 over the URL followed
// by every POST parameter sorted by name.
func sign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestRequireTwilioSignature(t *testing.T) {
	const token = "secret-token"
	const base = "https://cc.example.com"
	sink := &fakeSink{}
	r := testRouter(TwilioWebhookHandler{Sink: sink}, RequireTwilioSignature(token, base+"/"))
	form := url.Values{"CallSid": {"CA1"}, "CallStatus": {"ringing"}}

	req := formRequest("/webhook/status", form)
	req.Header.Set(headerTwilioSignature, sign(token, base+"/webhook/status", form))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for valid signature, got %d", w.Code)
	}

	req = formRequest("/webhook/status", form)
	req.Header.Set(headerTwilioSignature, sign("wrong", base+"/webhook/status", form))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for bad signature, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, formRequest("/webhook/status", form))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing signature, got %d", w.Code)
	}
	if len(sink.status) != 1 {
		t.Fatalf("expected only the signed request to reach the sink, got %d", len(sink.status))
	}
}
