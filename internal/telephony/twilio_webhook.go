package telephony

import (
	"errors"
	"net/http"
	"time"

	"callcenter/internal/normalizer"
)

// WebhookEvent is a parsed Twilio voice webhook.
// Twilio sends application/x-www-form-urlencoded; every posted field is kept
// so the normalizer can pick what it needs regardless of casing.
type WebhookEvent struct {
	CallSid    string
	Fields     normalizer.Fields
	ReceivedAt time.Time
}

var ErrMissingCallSid = errors.New("telephony: webhook carries no CallSid")

func ParseTwilioWebhook(r *http.Request, receivedAt time.Time) (WebhookEvent, error) {
	if err := r.ParseForm(); err != nil {
		return WebhookEvent{}, err
	}
	fields := normalizer.FieldsFromValues(r.PostForm)
	ev := WebhookEvent{
		CallSid:    fields.Get("CallSid"),
		Fields:     fields,
		ReceivedAt: receivedAt,
	}
	if ev.CallSid == "" {
		return WebhookEvent{}, ErrMissingCallSid
	}
	return ev, nil
}
