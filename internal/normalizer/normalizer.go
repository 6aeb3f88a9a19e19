package normalizer

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"callcenter/internal/calls"
)

// Kind is the provider event family an Event belongs to.
type Kind string

const (
	KindCallInitiated     Kind = "call-initiated"
	KindCallIncoming      Kind = "call-incoming"
	KindCallStatusChanged Kind = "call-status-changed"
)

func (k Kind) Valid() bool {
	return k == KindCallInitiated || k == KindCallIncoming || k == KindCallStatusChanged
}

var ErrInvalidEvent = errors.New("normalizer: invalid event")

// ValidationError names the offending field of a malformed event.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "normalizer: " + e.Reason
	}
	return fmt.Sprintf("normalizer: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidEvent }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Fields is a provider payload. Keys match case-insensitively and ignore '_' and '-'.
type Fields map[string]string

func FieldsFromValues(v url.Values) Fields {
	out := make(Fields, len(v))
	for k, vals := range v {
		if len(vals) > 0 {
			out[k] = vals[0]
		}
	}
	return out
}

// Get returns the first non-empty value among names.
func (f Fields) Get(names ...string) string {
	for _, name := range names {
		want := foldKey(name)
		for k, v := range f {
			if foldKey(k) == want {
				if v = strings.TrimSpace(v); v != "" {
					return v
				}
			}
		}
	}
	return ""
}

func foldKey(k string) string {
	k = strings.ToLower(k)
	return strings.NewReplacer("_", "", "-", "").Replace(k)
}

// Event is one raw provider observation.
type Event struct {
	Kind   Kind
	Fields Fields

	// AssignedNumber is the number the user dialled, when known. It wins over payload numbers.
	AssignedNumber string
	AgentID        string

	ReceivedAt time.Time
}

var timestampLayouts = []string{time.RFC1123Z, time.RFC1123, time.RFC3339Nano}

// Normalize turns a provider event into a merge-patch for the call store.
// It is pure: the same event always yields the same patch.
func Normalize(e Event) (calls.Patch, error) {
	if !e.Kind.Valid() {
		return calls.Patch{}, invalid("kind", "unknown event kind %q", e.Kind)
	}
	f := e.Fields

	callID := f.Get("CallSid", "callId", "id", "sid")
	if callID == "" {
		return calls.Patch{}, invalid("CallSid", "required")
	}

	direction := directionOf(f.Get("Direction"), e.Kind)
	raw := strings.ToLower(f.Get("CallStatus", "status"))
	status, err := MapStatus(raw, direction, e.Kind)
	if err != nil {
		return calls.Patch{}, err
	}

	p := calls.Patch{
		CallID:         callID,
		Direction:      direction,
		Status:         status,
		ProviderStatus: raw,
		AgentID:        strings.TrimSpace(e.AgentID),
		StartTime:      e.ReceivedAt,
		OccurredAt:     e.ReceivedAt,
	}

	switch direction {
	case calls.DirectionOutbound:
		p.FallbackCounterparty = f.Get("To", "Called")
	default:
		p.FallbackCounterparty = f.Get("From", "Caller")
	}
	if n := strings.TrimSpace(e.AssignedNumber); n != "" {
		p.CounterpartyNumber = n
	}

	if v := f.Get("CallDuration", "Duration"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil {
			return calls.Patch{}, invalid("CallDuration", "not an integer: %q", v)
		}
		if d < 0 {
			return calls.Patch{}, invalid("CallDuration", "negative: %d", d)
		}
		p.Duration = &d
	}

	if v := f.Get("SequenceNumber"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return calls.Patch{}, invalid("SequenceNumber", "not a non-negative integer: %q", v)
		}
		// Twilio counts from 0; the store treats 0 as "unknown".
		p.Sequence = n + 1
	}

	if v := f.Get("Timestamp", "StartTime"); v != "" {
		ts, err := parseTimestamp(v)
		if err != nil {
			return calls.Patch{}, invalid("Timestamp", "unparseable: %q", v)
		}
		p.OccurredAt = ts
		if e.Kind != KindCallStatusChanged {
			p.StartTime = ts
		}
	}
	return p, nil
}

func parseTimestamp(v string) (time.Time, error) {
	var err error
	for _, layout := range timestampLayouts {
		var ts time.Time
		if ts, err = time.Parse(layout, v); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, err
}

func directionOf(raw string, kind Kind) calls.Direction {
	raw = strings.ToLower(raw)
	switch {
	case strings.HasPrefix(raw, "outbound"):
		return calls.DirectionOutbound
	case raw == "inbound":
		return calls.DirectionInbound
	}
	switch kind {
	case KindCallInitiated:
		return calls.DirectionOutbound
	case KindCallIncoming:
		return calls.DirectionInbound
	}
	return ""
}

// MapStatus maps a lower-cased provider status onto the record status set.
// Pre-answer statuses depend on direction; an unknown direction counts as outbound
// because status callbacks are only requested for dialled calls.
func MapStatus(raw string, direction calls.Direction, kind Kind) (calls.Status, error) {
	switch raw {
	case "":
		switch kind {
		case KindCallInitiated:
			return calls.StatusOutgoing, nil
		case KindCallIncoming:
			return calls.StatusIncoming, nil
		}
		return "", invalid("CallStatus", "required")
	case "queued", "initiated", "ringing":
		if direction == calls.DirectionInbound {
			return calls.StatusIncoming, nil
		}
		return calls.StatusOutgoing, nil
	case "in-progress", "in_progress", "answered":
		return calls.StatusOngoing, nil
	case "completed":
		return calls.StatusCompleted, nil
	case "busy", "no-answer", "no_answer", "failed", "canceled", "cancelled":
		return calls.StatusMissed, nil
	}
	if s := calls.Status(raw); s.Valid() {
		return s, nil
	}
	return "", invalid("CallStatus", "unknown status %q", raw)
}
