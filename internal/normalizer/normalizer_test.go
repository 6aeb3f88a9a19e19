package normalizer

import (
	"testing"
	"time"

	"callcenter/internal/calls"

	"github.com/stretchr/testify/require"
)

var received = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestNormalize_InboundWebhook(t *testing.T) {
	p, err := Normalize(Event{
		Kind:       KindCallIncoming,
		Fields:     Fields{"CallSid": "CA999", "From": "+919999999999", "To": "+15550001111", "CallStatus": "ringing", "Direction": "inbound"},
		ReceivedAt: received,
	})
	require.NoError(t, err)
	require.Equal(t, "CA999", p.CallID)
	require.Equal(t, calls.StatusIncoming, p.Status)
	require.Equal(t, calls.DirectionInbound, p.Direction)
	require.Equal(t, "+919999999999", p.FallbackCounterparty)
	require.Empty(t, p.CounterpartyNumber)
	require.Nil(t, p.Duration)
	require.Equal(t, received, p.StartTime)
}

func TestNormalize_StatusCasingAndFieldCasing(t *testing.T) {
	p, err := Normalize(Event{
		Kind:   KindCallStatusChanged,
		Fields: Fields{"call_sid": "CA123", "callStatus": "In-Progress", "call-duration": "7"},
	})
	require.NoError(t, err)
	require.Equal(t, "CA123", p.CallID)
	require.Equal(t, calls.StatusOngoing, p.Status)
	require.Equal(t, "in-progress", p.ProviderStatus)
	require.NotNil(t, p.Duration)
	require.Equal(t, 7, *p.Duration)
}

func TestNormalize_OutboundDialResponse(t *testing.T) {
	p, err := Normalize(Event{
		Kind:           KindCallInitiated,
		Fields:         Fields{"CallSid": "CA123", "CallStatus": "initiated", "To": "+911234567890", "Direction": "outbound-api"},
		AssignedNumber: "+911234567890",
		AgentID:        "1",
	})
	require.NoError(t, err)
	require.Equal(t, calls.StatusOutgoing, p.Status)
	require.Equal(t, "initiated", p.ProviderStatus)
	require.Equal(t, "+911234567890", p.CounterpartyNumber)
	require.Equal(t, "1", p.AgentID)
}

func TestNormalize_StatusMapping(t *testing.T) {
	cases := []struct {
		raw       string
		direction string
		want      calls.Status
	}{
		{"queued", "outbound-api", calls.StatusOutgoing},
		{"ringing", "inbound", calls.StatusIncoming},
		{"ringing", "", calls.StatusOutgoing},
		{"answered", "", calls.StatusOngoing},
		{"completed", "", calls.StatusCompleted},
		{"busy", "", calls.StatusMissed},
		{"no-answer", "", calls.StatusMissed},
		{"failed", "", calls.StatusMissed},
		{"canceled", "", calls.StatusMissed},
		{"TRANSFERRED", "", calls.StatusTransferred},
		{"conference", "", calls.StatusConference},
	}
	for _, tc := range cases {
		t.Run(tc.raw+"/"+tc.direction, func(t *testing.T) {
			p, err := Normalize(Event{
				Kind:   KindCallStatusChanged,
				Fields: Fields{"CallSid": "CA1", "CallStatus": tc.raw, "Direction": tc.direction},
			})
			require.NoError(t, err)
			require.Equal(t, tc.want, p.Status)
		})
	}
}

func TestNormalize_ValidationErrors(t *testing.T) {
	cases := map[string]Event{
		"unknown kind":      {Kind: "call-exploded", Fields: Fields{"CallSid": "CA1"}},
		"missing id":        {Kind: KindCallIncoming, Fields: Fields{"From": "+919999999999"}},
		"missing status":    {Kind: KindCallStatusChanged, Fields: Fields{"CallSid": "CA1"}},
		"unknown status":    {Kind: KindCallStatusChanged, Fields: Fields{"CallSid": "CA1", "CallStatus": "teleported"}},
		"bad duration":      {Kind: KindCallStatusChanged, Fields: Fields{"CallSid": "CA1", "CallStatus": "completed", "CallDuration": "ten"}},
		"negative duration": {Kind: KindCallStatusChanged, Fields: Fields{"CallSid": "CA1", "CallStatus": "completed", "CallDuration": "-3"}},
		"bad sequence":      {Kind: KindCallStatusChanged, Fields: Fields{"CallSid": "CA1", "CallStatus": "completed", "SequenceNumber": "x"}},
		"bad timestamp":     {Kind: KindCallStatusChanged, Fields: Fields{"CallSid": "CA1", "CallStatus": "completed", "Timestamp": "yesterday"}},
	}
	for name, ev := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize(ev)
			require.ErrorIs(t, err, ErrInvalidEvent)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

func TestNormalize_SequenceAndTimestamp(t *testing.T) {
	p, err := Normalize(Event{
		Kind: KindCallStatusChanged,
		Fields: Fields{
			"CallSid":        "CA1",
			"CallStatus":     "ringing",
			"SequenceNumber": "0",
			"Timestamp":      "Sun, 01 Mar 2026 10:00:05 +0000",
		},
		ReceivedAt: received,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), p.Sequence)
	require.Equal(t, received.Add(5*time.Second), p.OccurredAt)
	require.Equal(t, received, p.StartTime)
}

func TestNormalize_IsPure(t *testing.T) {
	ev := Event{Kind: KindCallStatusChanged, Fields: Fields{"CallSid": "CA1", "CallStatus": "completed", "CallDuration": "5"}, ReceivedAt: received}
	a, err := Normalize(ev)
	require.NoError(t, err)
	b, err := Normalize(ev)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestNumberPolicy(t *testing.T) {
	p := DefaultNumberPolicy()

	require.Equal(t, "+911234567890", p.Format("1234567890"))
	require.Equal(t, "+911234567890", p.Format("91 12345 67890"))
	require.Equal(t, "+911234567890", p.Format("+91-1234567890"))
	require.Equal(t, "12345", p.Format(" 12345 "))

	require.NoError(t, p.Validate("+911234567890"))
	require.ErrorIs(t, p.Validate(""), ErrInvalidEvent)
	require.ErrorIs(t, p.Validate("+15551234567"), ErrInvalidEvent)
	require.ErrorIs(t, p.Validate("12345"), ErrInvalidEvent)
}
