package callcenter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"callcenter/internal/audit"
	"callcenter/internal/calls"
	"callcenter/internal/metrics"
	"callcenter/internal/normalizer"
	"callcenter/internal/relay"
	"callcenter/internal/telephony"

	"github.com/panjf2000/ants/v2"
)

var (
	ErrValidation       = errors.New("callcenter: validation failed")
	ErrDialLimitReached = errors.New("callcenter: agent dial limit reached")
)

func validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Config carries the tunables the service needs from the process config.
type Config struct {
	Numbers normalizer.NumberPolicy

	QueueName string
	Greeting  string

	HistoryDefaultLimit int
	HistoryMaxLimit     int

	// CommandWorkers sizes the pool that runs optimistic gateway calls.
	CommandWorkers int
}

func (c Config) withDefaults() Config {
	out := c
	if out.Numbers.CountryCode == "" || out.Numbers.NationalDigits <= 0 {
		out.Numbers = normalizer.DefaultNumberPolicy()
	}
	if out.QueueName == "" {
		out.QueueName = "support"
	}
	if out.HistoryDefaultLimit <= 0 {
		out.HistoryDefaultLimit = 20
	}
	if out.HistoryMaxLimit <= 0 {
		out.HistoryMaxLimit = 100
	}
	if out.HistoryDefaultLimit > out.HistoryMaxLimit {
		out.HistoryDefaultLimit = out.HistoryMaxLimit
	}
	if out.CommandWorkers <= 0 {
		out.CommandWorkers = 16
	}
	return out
}

// Deps are the collaborators of the service. Store, Roster, Hub and Gateway are required.
type Deps struct {
	Store   *calls.Store
	Roster  *calls.Roster
	Hub     *relay.Hub
	Gateway telephony.Gateway

	// Limiter defaults to NoopLimiter, Audit to an in-memory trail.
	Limiter DialLimiter
	Audit   *audit.Service
	Log     *slog.Logger
}

// Service is the call-center orchestrator.
//
// Every store mutation and the broadcast derived from it happen under mu, so
// observers see events in the same order the store applied them.
type Service struct {
	cfg Config

	store   *calls.Store
	roster  *calls.Roster
	hub     *relay.Hub
	gateway telephony.Gateway
	limiter DialLimiter
	audit   *audit.Service
	log     *slog.Logger

	mu sync.Mutex

	// slots maps an outbound call to the agent holding its dial slot.
	slotsMu sync.Mutex
	slots   map[string]string

	pool     *ants.Pool
	inflight sync.WaitGroup

	now func() time.Time
}

func NewService(cfg Config, d Deps) (*Service, error) {
	if d.Store == nil || d.Roster == nil || d.Hub == nil || d.Gateway == nil {
		return nil, errors.New("callcenter: store, roster, hub and gateway are required")
	}
	cfg = cfg.withDefaults()
	if d.Limiter == nil {
		d.Limiter = NoopLimiter{}
	}
	if d.Audit == nil {
		d.Audit = audit.NewService(audit.NewMemoryRepo())
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}

	pool, err := ants.NewPool(cfg.CommandWorkers, ants.WithPreAlloc(true))
	if err != nil {
		return nil, fmt.Errorf("callcenter: create command pool: %w", err)
	}

	s := &Service{
		cfg:     cfg,
		store:   d.Store,
		roster:  d.Roster,
		hub:     d.Hub,
		gateway: d.Gateway,
		limiter: d.Limiter,
		audit:   d.Audit,
		log:     d.Log,
		slots:   map[string]string{},
		pool:    pool,
		now:     time.Now,
	}
	d.Hub.SetCommandHandler(s)
	return s, nil
}

// Close waits for in-flight gateway calls and releases the pool.
func (s *Service) Close() {
	s.inflight.Wait()
	s.log.Info("releasing command pool", "running_workers", s.pool.Running(), "free_workers", s.pool.Free())
	s.pool.Release()
}

// HealthCheck reports whether the provider gateway is reachable.
func (s *Service) HealthCheck(ctx context.Context) error {
	return s.gateway.HealthCheck(ctx)
}

// GatewayName names the active provider.
func (s *Service) GatewayName() string { return s.gateway.Name() }

// Calls returns the in-memory records, newest first.
func (s *Service) Calls(limit int) []calls.Call {
	return s.store.Recent(limit)
}

func (s *Service) Agents() []calls.Agent {
	return s.roster.List()
}

func (s *Service) Agent(id string) (calls.Agent, error) {
	a, ok := s.roster.Get(id)
	if !ok {
		return calls.Agent{}, fmt.Errorf("%w: %s", calls.ErrUnknownAgent, id)
	}
	return a, nil
}

// SetAgentStatus changes an agent's availability and broadcasts it.
func (s *Service) SetAgentStatus(ctx context.Context, agentID string, status calls.AgentStatus) (calls.Agent, error) {
	if !status.Valid() {
		return calls.Agent{}, validation("unknown agent status %q", status)
	}
	s.mu.Lock()
	a, err := s.roster.SetStatus(agentID, status)
	if err == nil {
		s.hub.Publish(relay.EventAgentStatusUpdated, a)
	}
	s.mu.Unlock()

	s.record(ctx, audit.Event{Action: audit.ActionAgentStatus, AgentID: agentID, Metadata: audit.Metadata(map[string]any{"status": status})}, err)
	return a, err
}

// applyLocked applies p and broadcasts what changed. s.mu must be held.
//
// A new record is announced with new_call, followed by derived when given.
// A changed record gets call_status unless derived names the event to
// broadcast instead. A stale patch never carries its derived event; if its
// order-independent fields changed the record, call_status reports them.
func (s *Service) applyLocked(p calls.Patch, derived string, payload any) (calls.ApplyResult, error) {
	res, err := s.store.Apply(p)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if res.Stale {
		metrics.StaleEventsRejected.Inc()
		s.log.Debug("stale call status dropped",
			"call_id", p.CallID, "status", p.Status, "current_status", res.Call.Status, "policy", s.store.Policy().Name())
		if res.Changed {
			s.hub.Publish(relay.EventCallStatus, relay.CallStatus(res.Call))
		}
		return res, nil
	}

	switch {
	case res.Created:
		s.hub.Publish(relay.EventNewCall, relay.NewCall(res.Call))
		if derived != "" {
			s.hub.Publish(derived, payload)
		}
	case derived != "":
		s.hub.Publish(derived, payload)
	case res.Changed:
		s.hub.Publish(relay.EventCallStatus, relay.CallStatus(res.Call))
	}

	if res.BecameTerminal {
		s.finishLocked(res.Call)
	}
	return res, nil
}

// refusedLocked reports whether the ordering policy would refuse p's status
// change on the existing record. Commands check this before applying so a
// rejected command leaves no trace on the record. s.mu must be held.
func (s *Service) refusedLocked(p calls.Patch) (calls.Call, bool) {
	cur, ok := s.store.Get(p.CallID)
	if !ok {
		return calls.Call{}, false
	}
	return cur, !s.store.Policy().Admit(cur, p)
}

// finishLocked frees the agents and dial slot held by a finished call.
func (s *Service) finishLocked(c calls.Call) {
	for _, a := range s.roster.Release(c.ID) {
		s.hub.Publish(relay.EventAgentStatusUpdated, a)
	}
	s.releaseSlot(c.ID)
}

func (s *Service) holdSlot(callID, agentID string) {
	s.slotsMu.Lock()
	s.slots[callID] = agentID
	s.slotsMu.Unlock()
}

func (s *Service) releaseSlot(callID string) {
	s.slotsMu.Lock()
	agentID, ok := s.slots[callID]
	delete(s.slots, callID)
	s.slotsMu.Unlock()
	if !ok {
		return
	}
	s.submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.limiter.Release(ctx, agentID); err != nil {
			s.log.Warn("dial slot release failed", "agent_id", agentID, "call_id", callID, "err", err)
		}
	})
}

// submit runs fn on the command pool, or inline when the pool refuses it.
func (s *Service) submit(fn func()) {
	s.inflight.Add(1)
	task := func() {
		defer s.inflight.Done()
		fn()
	}
	if err := s.pool.Submit(task); err != nil {
		s.log.Warn("command pool rejected task, running inline", "err", err)
		task()
	}
}

// record writes an audit event. Audit failures are logged, never returned.
func (s *Service) record(ctx context.Context, e audit.Event, err error) {
	if aerr := s.audit.Record(ctx, e, err); aerr != nil {
		s.log.Warn("audit append failed", "action", e.Action, "call_id", e.CallID, "err", aerr)
	}
}
