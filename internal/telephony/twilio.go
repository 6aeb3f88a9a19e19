package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"callcenter/internal/metrics"

	"github.com/sony/gobreaker/v2"
	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"golang.org/x/sync/errgroup"
)

// twilioAPI is the subset of the Twilio REST client the gateway uses.
// *openapi.ApiService satisfies it.
type twilioAPI interface {
	CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error)
	UpdateCall(sid string, params *openapi.UpdateCallParams) (*openapi.ApiV2010Call, error)
	CreateCallRecording(callSid string, params *openapi.CreateCallRecordingParams) (*openapi.ApiV2010CallRecording, error)
	ListCall(params *openapi.ListCallParams) ([]openapi.ApiV2010Call, error)
	FetchAccount(sid string) (*openapi.ApiV2010Account, error)
}

// TwilioConfig configures TwilioGateway.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// PhoneNumber is the caller id for outbound calls.
	PhoneNumber string
	// BaseURL is the public URL the provider reaches webhooks on.
	BaseURL string

	// Breaker trips after ConsecutiveFailures provider failures and stays open for OpenTimeout.
	BreakerFailures    uint32
	BreakerOpenTimeout time.Duration
}

// TwilioGateway places and controls calls through the Twilio REST API.
type TwilioGateway struct {
	api     twilioAPI
	cfg     TwilioConfig
	breaker *gobreaker.CircuitBreaker[any]
	log     *slog.Logger
}

func NewTwilioGateway(cfg TwilioConfig, log *slog.Logger) (*TwilioGateway, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("telephony: twilio account sid and auth token are required")
	}
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilioGateway(rest.Api, cfg, log), nil
}

func newTwilioGateway(api twilioAPI, cfg TwilioConfig, log *slog.Logger) *TwilioGateway {
	if log == nil {
		log = slog.Default()
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerOpenTimeout <= 0 {
		cfg.BreakerOpenTimeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	g := &TwilioGateway{api: api, cfg: cfg, log: log}
	g.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "twilio",
		Timeout: cfg.BreakerOpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// Client errors (bad number, unknown call) say nothing about provider health.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var rest *client.TwilioRestError
			if errors.As(err, &rest) {
				return rest.Status >= 400 && rest.Status < 500 && rest.Status != 429
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("provider circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return g
}

func (g *TwilioGateway) Name() string { return "twilio" }

func (g *TwilioGateway) StatusCallbackURL() string { return g.cfg.BaseURL + "/webhook/status" }

func (g *TwilioGateway) VoiceURL() string { return g.cfg.BaseURL + "/webhook/voice" }

// call runs fn once through the breaker and records latency.
func call[T any](g *TwilioGateway, op string, fn func() (T, error)) (T, error) {
	start := time.Now()
	out, err := g.breaker.Execute(func() (any, error) { return fn() })
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.GatewayRequestDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())

	var zero T
	if err != nil {
		return zero, g.wrap(op, err)
	}
	v, _ := out.(T)
	return v, nil
}

func (g *TwilioGateway) wrap(op string, err error) error {
	pe := &ProviderError{Provider: g.Name(), Op: op, Err: err}
	var rest *client.TwilioRestError
	switch {
	case errors.As(err, &rest):
		pe.Code = rest.Code
		pe.HTTPStatus = rest.Status
		pe.Message = rest.Message
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		pe.Err = fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return pe
}

func (g *TwilioGateway) HealthCheck(ctx context.Context) error {
	_, err := call(g, "health_check", func() (*openapi.ApiV2010Account, error) {
		return g.api.FetchAccount(g.cfg.AccountSID)
	})
	return err
}

func (g *TwilioGateway) PlaceOutboundCall(ctx context.Context, req OutboundCallRequest) (OutboundCallResult, error) {
	if req.To == "" {
		return OutboundCallResult{}, errors.New("telephony: destination number required")
	}
	params := &openapi.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(g.cfg.PhoneNumber)
	params.SetUrl(g.VoiceURL())
	params.SetStatusCallback(g.StatusCallbackURL())
	params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	params.SetStatusCallbackMethod("POST")

	resp, err := call(g, "create_call", func() (*openapi.ApiV2010Call, error) {
		return g.api.CreateCall(params)
	})
	if err != nil {
		return OutboundCallResult{}, err
	}
	out := OutboundCallResult{
		CallID:    deref(resp.Sid),
		Status:    deref(resp.Status),
		Direction: deref(resp.Direction),
		From:      deref(resp.From),
		To:        deref(resp.To),
	}
	if out.CallID == "" {
		return OutboundCallResult{}, &ProviderError{Provider: g.Name(), Op: "create_call", Message: "response carried no call sid"}
	}
	if out.To == "" {
		out.To = req.To
	}
	g.log.Info("outbound call placed", "call_sid", out.CallID, "status", out.Status, "agent_id", req.AgentID)
	return out, nil
}

func (g *TwilioGateway) UpdateCallRouting(ctx context.Context, callID string, route Route) error {
	if callID == "" {
		return errors.New("telephony: call id required")
	}
	params := &openapi.UpdateCallParams{}
	if route.Action == RouteHangup {
		if err := route.Validate(); err != nil {
			return err
		}
		params.SetStatus("completed")
	} else {
		doc, err := RenderRouteTwiML(route)
		if err != nil {
			return err
		}
		params.SetTwiml(doc)
	}
	_, err := call(g, "update_call", func() (*openapi.ApiV2010Call, error) {
		return g.api.UpdateCall(callID, params)
	})
	return err
}

// CreateConferenceBridge moves the call into conf_<callID> and dials every
// participant's softphone into the same room.
func (g *TwilioGateway) CreateConferenceBridge(ctx context.Context, callID string, participants []string) (ConferenceResult, error) {
	if callID == "" {
		return ConferenceResult{}, errors.New("telephony: call id required")
	}
	if len(participants) == 0 {
		return ConferenceResult{}, errors.New("telephony: at least one participant required")
	}
	name := ConferenceName(callID)
	if err := g.UpdateCallRouting(ctx, callID, Route{Action: RouteConference, ConferenceName: name}); err != nil {
		return ConferenceResult{}, err
	}
	doc, err := RenderConferenceTwiML(name)
	if err != nil {
		return ConferenceResult{}, err
	}

	legs := make([]string, len(participants))
	eg, _ := errgroup.WithContext(ctx)
	for i, pid := range participants {
		eg.Go(func() error {
			params := &openapi.CreateCallParams{}
			params.SetTo("client:" + ClientIdentity(pid))
			params.SetFrom(g.cfg.PhoneNumber)
			params.SetTwiml(doc)
			resp, err := call(g, "create_call", func() (*openapi.ApiV2010Call, error) {
				return g.api.CreateCall(params)
			})
			if err != nil {
				return err
			}
			legs[i] = deref(resp.Sid)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return ConferenceResult{}, err
	}

	res := ConferenceResult{
		ConferenceID:       name,
		Participants:       append([]string(nil), participants...),
		ParticipantCallIDs: make(map[string]string, len(participants)),
	}
	for i, pid := range participants {
		res.ParticipantCallIDs[pid] = legs[i]
	}
	return res, nil
}

func (g *TwilioGateway) StartRecording(ctx context.Context, callID string) (RecordingResult, error) {
	if callID == "" {
		return RecordingResult{}, errors.New("telephony: call id required")
	}
	resp, err := call(g, "create_recording", func() (*openapi.ApiV2010CallRecording, error) {
		return g.api.CreateCallRecording(callID, &openapi.CreateCallRecordingParams{})
	})
	if err != nil {
		return RecordingResult{}, err
	}
	return RecordingResult{RecordingID: deref(resp.Sid), Status: deref(resp.Status)}, nil
}

func (g *TwilioGateway) ListRecentCalls(ctx context.Context, limit int) ([]CallSummary, error) {
	if limit <= 0 {
		return nil, errors.New("telephony: limit must be > 0")
	}
	params := &openapi.ListCallParams{}
	params.SetPageSize(limit)
	params.SetLimit(limit)

	rows, err := call(g, "list_calls", func() ([]openapi.ApiV2010Call, error) {
		return g.api.ListCall(params)
	})
	if err != nil {
		return nil, err
	}
	out := make([]CallSummary, 0, len(rows))
	for _, r := range rows {
		s := CallSummary{
			ID:        deref(r.Sid),
			Direction: deref(r.Direction),
			From:      deref(r.From),
			To:        deref(r.To),
			Status:    deref(r.Status),
		}
		s.Counterparty = s.To
		if s.Direction == "inbound" {
			s.Counterparty = s.From
		}
		if d, err := strconv.Atoi(deref(r.Duration)); err == nil {
			s.Duration = d
		}
		if ts, err := time.Parse(time.RFC1123Z, deref(r.StartTime)); err == nil {
			s.StartTime = ts.UTC()
		}
		out = append(out, s)
	}
	return out, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
