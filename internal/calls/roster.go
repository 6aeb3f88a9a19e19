package calls

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Agent is a call-center operator seeded from the static roster.
type Agent struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Status        AgentStatus `json:"status"`
	CurrentCallID string      `json:"currentCallId,omitempty"`
}

type AgentStatus string

const (
	AgentAvailable AgentStatus = "available"
	AgentBusy      AgentStatus = "busy"
	AgentOffline   AgentStatus = "offline"
)

func (s AgentStatus) Valid() bool {
	return s == AgentAvailable || s == AgentBusy || s == AgentOffline
}

var ErrUnknownAgent = errors.New("calls: unknown agent")

// DefaultRoster is used when no roster is configured.
const DefaultRoster = "1:John Doe:available,2:Jane Smith:offline"

// ParseRoster reads "id:name:status" entries separated by commas.
// Status may be omitted and defaults to offline.
func ParseRoster(raw string) ([]Agent, error) {
	var out []Agent
	seen := map[string]bool{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("calls: roster entry %q must be id:name[:status]", entry)
		}
		a := Agent{
			ID:     strings.TrimSpace(parts[0]),
			Name:   strings.TrimSpace(parts[1]),
			Status: AgentOffline,
		}
		if len(parts) == 3 {
			a.Status = AgentStatus(strings.ToLower(strings.TrimSpace(parts[2])))
		}
		if a.ID == "" || a.Name == "" {
			return nil, fmt.Errorf("calls: roster entry %q has an empty id or name", entry)
		}
		if !a.Status.Valid() {
			return nil, fmt.Errorf("calls: roster entry %q has unknown status %q", entry, a.Status)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("calls: duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
		out = append(out, a)
	}
	if len(out) == 0 {
		return nil, errors.New("calls: roster is empty")
	}
	return out, nil
}

// Roster holds the Agent Records. Agents are never added or removed after startup.
type Roster struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	order  []string
}

func NewRoster(agents []Agent) *Roster {
	r := &Roster{agents: make(map[string]*Agent, len(agents))}
	for _, a := range agents {
		if _, dup := r.agents[a.ID]; dup {
			continue
		}
		a := a
		r.agents[a.ID] = &a
		r.order = append(r.order, a.ID)
	}
	return r
}

func (r *Roster) Get(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return Agent{}, false
	}
	return *a, true
}

func (r *Roster) List() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.agents[id])
	}
	return out
}

// SetStatus changes an agent's availability. Leaving busy clears the current call.
func (r *Roster) SetStatus(id string, status AgentStatus) (Agent, error) {
	if !status.Valid() {
		return Agent{}, fmt.Errorf("calls: unknown agent status %q", status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return Agent{}, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	a.Status = status
	if status != AgentBusy {
		a.CurrentCallID = ""
	}
	return *a, nil
}

// Assign marks the agent busy on callID.
func (r *Roster) Assign(id, callID string) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return Agent{}, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	a.Status = AgentBusy
	a.CurrentCallID = callID
	return *a, nil
}

// Release frees every agent whose current call is callID and returns them.
func (r *Roster) Release(callID string) []Agent {
	if callID == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Agent
	for _, id := range r.order {
		a := r.agents[id]
		if a.CurrentCallID != callID {
			continue
		}
		a.CurrentCallID = ""
		a.Status = AgentAvailable
		out = append(out, *a)
	}
	return out
}
