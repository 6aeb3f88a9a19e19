package telephony

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

func strp(s string) *string { return &s }

type fakeTwilio struct {
	mu      sync.Mutex
	created []*openapi.CreateCallParams
	updated map[string]*openapi.UpdateCallParams
	calls   int

	createErr error
	updateErr error
	rows      []openapi.ApiV2010Call
}

func (f *fakeTwilio) CreateCall(p *openapi.CreateCallParams) (*openapi.ApiV2010Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, p)
	sid := "CA" + string(rune('0'+len(f.created)))
	return &openapi.ApiV2010Call{Sid: &sid, Status: strp("queued"), Direction: strp("outbound-api"), To: p.To}, nil
}

func (f *fakeTwilio) UpdateCall(sid string, p *openapi.UpdateCallParams) (*openapi.ApiV2010Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	if f.updated == nil {
		f.updated = map[string]*openapi.UpdateCallParams{}
	}
	f.updated[sid] = p
	return &openapi.ApiV2010Call{Sid: &sid}, nil
}

func (f *fakeTwilio) CreateCallRecording(callSid string, _ *openapi.CreateCallRecordingParams) (*openapi.ApiV2010CallRecording, error) {
	return &openapi.ApiV2010CallRecording{Sid: strp("RE1"), CallSid: &callSid}, nil
}

func (f *fakeTwilio) ListCall(p *openapi.ListCallParams) ([]openapi.ApiV2010Call, error) {
	return f.rows, nil
}

func (f *fakeTwilio) FetchAccount(sid string) (*openapi.ApiV2010Account, error) {
	return &openapi.ApiV2010Account{Sid: &sid}, nil
}

func testGateway(api twilioAPI) *TwilioGateway {
	return newTwilioGateway(api, TwilioConfig{
		AccountSID:  "AC1",
		AuthToken:   "token",
		PhoneNumber: "+15550000000",
		BaseURL:     "https://cc.example.com/",
	}, nil)
}

func TestTwilioGateway_PlaceOutboundCall(t *testing.T) {
	api := &fakeTwilio{}
	g := testGateway(api)

	res, err := g.PlaceOutboundCall(context.Background(), OutboundCallRequest{To: "+911234567890", AgentID: "1"})
	require.NoError(t, err)
	require.Equal(t, "CA1", res.CallID)
	require.Equal(t, "queued", res.Status)
	require.Equal(t, "+911234567890", res.To)

	p := api.created[0]
	require.Equal(t, "+911234567890", *p.To)
	require.Equal(t, "+15550000000", *p.From)
	require.Equal(t, "https://cc.example.com/webhook/voice", *p.Url)
	require.Equal(t, "https://cc.example.com/webhook/status", *p.StatusCallback)
	require.Equal(t, []string{"initiated", "ringing", "answered", "completed"}, *p.StatusCallbackEvent)
}

func TestTwilioGateway_ProviderErrorIsWrappedWithoutRetry(t *testing.T) {
	api := &fakeTwilio{createErr: &client.TwilioRestError{Code: 21211, Status: 400, Message: "Invalid 'To' Phone Number"}}
	g := testGateway(api)

	_, err := g.PlaceOutboundCall(context.Background(), OutboundCallRequest{To: "+910000000000"})
	require.Error(t, err)

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, 21211, pe.Code)
	require.Equal(t, 400, pe.HTTPStatus)
	require.Contains(t, pe.Error(), "Invalid 'To' Phone Number")
	require.Equal(t, 1, api.calls)
}

func TestTwilioGateway_BreakerOpensOnServerErrors(t *testing.T) {
	api := &fakeTwilio{createErr: &client.TwilioRestError{Code: 20500, Status: 500, Message: "internal"}}
	g := newTwilioGateway(api, TwilioConfig{BreakerFailures: 2, BreakerOpenTimeout: time.Minute}, nil)

	for i := 0; i < 2; i++ {
		_, err := g.PlaceOutboundCall(context.Background(), OutboundCallRequest{To: "+911234567890"})
		require.Error(t, err)
	}
	_, err := g.PlaceOutboundCall(context.Background(), OutboundCallRequest{To: "+911234567890"})
	require.ErrorIs(t, err, ErrProviderUnavailable)
	require.Equal(t, 2, api.calls)
}

func TestTwilioGateway_ClientErrorsDoNotTripBreaker(t *testing.T) {
	api := &fakeTwilio{createErr: &client.TwilioRestError{Code: 21211, Status: 400}}
	g := newTwilioGateway(api, TwilioConfig{BreakerFailures: 1}, nil)

	for i := 0; i < 3; i++ {
		_, err := g.PlaceOutboundCall(context.Background(), OutboundCallRequest{To: "+911234567890"})
		require.NotErrorIs(t, err, ErrProviderUnavailable)
	}
	require.Equal(t, 3, api.calls)
}

func TestTwilioGateway_UpdateCallRouting(t *testing.T) {
	api := &fakeTwilio{}
	g := testGateway(api)

	require.NoError(t, g.UpdateCallRouting(context.Background(), "CA1", Route{Action: RouteConnectAgent, AgentID: "2"}))
	require.Contains(t, *api.updated["CA1"].Twiml, "agent_2")

	require.NoError(t, g.UpdateCallRouting(context.Background(), "CA2", Route{Action: RouteHangup}))
	require.Equal(t, "completed", *api.updated["CA2"].Status)
	require.Nil(t, api.updated["CA2"].Twiml)

	require.Error(t, g.UpdateCallRouting(context.Background(), "CA3", Route{Action: RouteConnectAgent}))
	require.Error(t, g.UpdateCallRouting(context.Background(), "", Route{Action: RouteHangup}))
}

func TestTwilioGateway_CreateConferenceBridge(t *testing.T) {
	api := &fakeTwilio{}
	g := testGateway(api)

	res, err := g.CreateConferenceBridge(context.Background(), "CA9", []string{"1", "2"})
	require.NoError(t, err)
	require.Equal(t, "conf_CA9", res.ConferenceID)
	require.Equal(t, []string{"1", "2"}, res.Participants)
	require.Len(t, res.ParticipantCallIDs, 2)
	require.Contains(t, *api.updated["CA9"].Twiml, "conf_CA9")

	var targets []string
	for _, p := range api.created {
		targets = append(targets, *p.To)
		require.Contains(t, *p.Twiml, "conf_CA9")
	}
	require.ElementsMatch(t, []string{"client:agent_1", "client:agent_2"}, targets)
}

func TestTwilioGateway_ConferenceFailsWhenRedirectFails(t *testing.T) {
	api := &fakeTwilio{updateErr: errors.New("network down")}
	g := testGateway(api)

	_, err := g.CreateConferenceBridge(context.Background(), "CA9", []string{"1"})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	require.Empty(t, api.created)
}

func TestTwilioGateway_StartRecording(t *testing.T) {
	g := testGateway(&fakeTwilio{})
	res, err := g.StartRecording(context.Background(), "CA1")
	require.NoError(t, err)
	require.Equal(t, "RE1", res.RecordingID)
}

func TestTwilioGateway_ListRecentCalls(t *testing.T) {
	api := &fakeTwilio{rows: []openapi.ApiV2010Call{
		{Sid: strp("CA1"), Direction: strp("inbound"), From: strp("+919999999999"), To: strp("+15550000000"), Status: strp("completed"), Duration: strp("42"), StartTime: strp("Sun, 01 Mar 2026 10:00:00 +0000")},
		{Sid: strp("CA2"), Direction: strp("outbound-api"), From: strp("+15550000000"), To: strp("+911234567890"), Status: strp("no-answer")},
	}}
	g := testGateway(api)

	rows, err := g.ListRecentCalls(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "+919999999999", rows[0].Counterparty)
	require.Equal(t, 42, rows[0].Duration)
	require.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), rows[0].StartTime)
	require.Equal(t, "+911234567890", rows[1].Counterparty)
	require.Equal(t, 0, rows[1].Duration)

	_, err = g.ListRecentCalls(context.Background(), 0)
	require.Error(t, err)
}

func TestTwilioGateway_HealthCheck(t *testing.T) {
	require.NoError(t, testGateway(&fakeTwilio{}).HealthCheck(context.Background()))
}

func TestNewTwilioGateway_RequiresCredentials(t *testing.T) {
	_, err := NewTwilioGateway(TwilioConfig{}, nil)
	require.Error(t, err)
}
