package relay

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

type CommandName string

const (
	CommandAnswer      CommandName = "call:answer"
	CommandDecline     CommandName = "call:decline"
	CommandTransfer    CommandName = "call:transfer"
	CommandEnd         CommandName = "call:end"
	CommandAgentStatus CommandName = "agent:status"
)

func (n CommandName) Valid() bool {
	switch n {
	case CommandAnswer, CommandDecline, CommandTransfer, CommandEnd, CommandAgentStatus:
		return true
	}
	return false
}

// Command is a one-way signal from an observer.
type Command struct {
	Name          CommandName `json:"-"`
	CallID        string      `json:"callId"`
	AgentID       string      `json:"agentId"`
	TargetAgentID string      `json:"targetAgentId"`
	Status        string      `json:"status"`
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

var ErrMalformedCommand = errors.New("relay: malformed command")

// DecodeCommand parses {"event": "<command>", "data": {...}}.
func DecodeCommand(b []byte) (Command, error) {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	cmd := Command{Name: CommandName(f.Event)}
	if !cmd.Name.Valid() {
		return Command{}, fmt.Errorf("%w: unknown command %q", ErrMalformedCommand, f.Event)
	}
	if len(f.Data) > 0 && string(f.Data) != "null" {
		if err := json.Unmarshal(f.Data, &cmd); err != nil {
			return Command{}, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
		}
	}
	cmd.Name = CommandName(f.Event)
	return cmd, nil
}

// Encode renders an event as a text frame.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}
