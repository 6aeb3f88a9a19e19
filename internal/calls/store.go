package calls

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrInvalidPatch = errors.New("calls: invalid patch")

// Store is the in-process Call Record set.
//
// Records are kept in first-observation order and never deleted.
// All mutation goes through Apply.
type Store struct {
	mu     sync.RWMutex
	byID   map[string]*Call
	order  []string
	policy OrderingPolicy
	now    func() time.Time
}

type StoreOption func(*Store)

func WithOrderingPolicy(p OrderingPolicy) StoreOption {
	return func(s *Store) {
		if p != nil {
			s.policy = p
		}
	}
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		byID:   make(map[string]*Call),
		policy: Monotonic{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Policy() OrderingPolicy { return s.policy }

// Apply merges p into the record keyed by p.CallID, creating the record when
// the id has not been seen before.
func (s *Store) Apply(p Patch) (ApplyResult, error) {
	if p.CallID == "" {
		return ApplyResult{}, fmt.Errorf("%w: call id is required", ErrInvalidPatch)
	}
	if p.Status != "" && !p.Status.Valid() {
		return ApplyResult{}, fmt.Errorf("%w: unknown status %q", ErrInvalidPatch, p.Status)
	}
	if p.Duration != nil && *p.Duration < 0 {
		return ApplyResult{}, fmt.Errorf("%w: negative duration %d", ErrInvalidPatch, *p.Duration)
	}

	now := s.now().UTC()
	at := p.OccurredAt
	if at.IsZero() {
		at = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[p.CallID]
	if !ok {
		c := newCall(p, at, now)
		s.byID[c.ID] = c
		s.order = append(s.order, c.ID)
		return ApplyResult{
			Call:           *c,
			Created:        true,
			Changed:        true,
			BecameTerminal: c.Status.IsTerminal(),
		}, nil
	}

	res := ApplyResult{PreviousStatus: cur.Status}
	next := *cur
	mergeDetails(&next, p)

	if !s.policy.Admit(*cur, p) {
		// Only the lifecycle move is refused; order-independent details still merge.
		res.Stale = true
	} else {
		if p.Status != "" {
			next.Status = p.Status
		}
		if p.ProviderStatus != "" {
			next.ProviderStatus = p.ProviderStatus
		}
		if p.Sequence > next.Sequence {
			next.Sequence = p.Sequence
		}
		if next.Status.IsTerminal() && next.EndTime == nil {
			end := at
			next.EndTime = &end
			res.BecameTerminal = true
		}
	}

	if sameState(*cur, next) {
		res.Call = *cur
		return res, nil
	}
	next.UpdatedAt = now
	*cur = next
	res.Call = next
	res.Changed = true
	return res, nil
}

// mergeDetails copies the order-independent fields of p onto c.
func mergeDetails(c *Call, p Patch) {
	if c.Direction == "" && p.Direction != "" {
		c.Direction = p.Direction
	}
	if p.CounterpartyNumber != "" {
		c.CounterpartyNumber = p.CounterpartyNumber
	} else if c.CounterpartyNumber == "" && p.FallbackCounterparty != "" {
		c.CounterpartyNumber = p.FallbackCounterparty
	}
	if p.Duration != nil && *p.Duration > c.Duration {
		c.Duration = *p.Duration
	}
	if p.AgentID != "" {
		c.AgentID = p.AgentID
	}
	if p.RecordingID != "" {
		c.RecordingID = p.RecordingID
	}
	if p.ConferenceID != "" {
		c.ConferenceID = p.ConferenceID
	}
}

func newCall(p Patch, at, now time.Time) *Call {
	c := &Call{
		ID:                 p.CallID,
		Direction:          p.Direction,
		Status:             p.Status,
		ProviderStatus:     p.ProviderStatus,
		CounterpartyNumber: p.CounterpartyNumber,
		StartTime:          p.StartTime,
		AgentID:            p.AgentID,
		RecordingID:        p.RecordingID,
		ConferenceID:       p.ConferenceID,
		Sequence:           p.Sequence,
		UpdatedAt:          now,
	}
	if c.Status == "" {
		c.Status = StatusIncoming
		if c.Direction == DirectionOutbound {
			c.Status = StatusOutgoing
		}
	}
	if c.CounterpartyNumber == "" {
		c.CounterpartyNumber = p.FallbackCounterparty
	}
	if p.Duration != nil {
		c.Duration = *p.Duration
	}
	if c.StartTime.IsZero() {
		c.StartTime = at
	}
	if c.Status.IsTerminal() {
		end := at
		c.EndTime = &end
	}
	return c
}

// sameState ignores UpdatedAt.
func sameState(a, b Call) bool {
	if (a.EndTime == nil) != (b.EndTime == nil) {
		return false
	}
	a.EndTime, b.EndTime = nil, nil
	a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	return a == b
}

func (s *Store) Get(id string) (Call, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return Call{}, false
	}
	return *c, true
}

// List returns a copy of every record in first-observation order.
func (s *Store) List() []Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Call, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(limit int) []Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.order) {
		limit = len(s.order)
	}
	out := make([]Call, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *s.byID[s.order[i]])
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
