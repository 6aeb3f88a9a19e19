package calls

import (
	"fmt"
	"strings"
)

// OrderingPolicy decides whether a patch for an existing record may be applied.
type OrderingPolicy interface {
	Name() string
	Admit(current Call, p Patch) bool
}

const (
	OrderingMonotonic     = "monotonic"
	OrderingLastWriteWins = "last_write_wins"
)

// PolicyByName resolves a configured policy name.
func PolicyByName(name string) (OrderingPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", OrderingMonotonic:
		return Monotonic{}, nil
	case OrderingLastWriteWins:
		return LastWriteWins{}, nil
	}
	return nil, fmt.Errorf("calls: unknown ordering policy %q", name)
}

// Monotonic never moves a call backwards in its lifecycle.
//
// Ranks: incoming/outgoing < ongoing/transferred/conference < completed/missed.
// Terminal statuses are final. When the provider supplies sequence numbers,
// a patch older than the last applied one is stale regardless of status.
type Monotonic struct{}

func (Monotonic) Name() string { return OrderingMonotonic }

func (Monotonic) Admit(current Call, p Patch) bool {
	if p.Sequence > 0 && current.Sequence > 0 && p.Sequence < current.Sequence {
		return false
	}
	if p.Status == "" || p.Status == current.Status {
		return true
	}
	if current.Status.IsTerminal() {
		return false
	}
	return rank(p.Status) >= rank(current.Status)
}

func rank(s Status) int {
	switch s {
	case StatusIncoming, StatusOutgoing:
		return 0
	case StatusOngoing, StatusTransferred, StatusConference:
		return 1
	case StatusCompleted, StatusMissed:
		return 2
	}
	return -1
}

// LastWriteWins applies every patch in delivery order.
type LastWriteWins struct{}

func (LastWriteWins) Name() string { return OrderingLastWriteWins }

func (LastWriteWins) Admit(Call, Patch) bool { return true }
