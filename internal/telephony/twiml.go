package telephony

import (
	"errors"
	"strings"

	"github.com/twilio/twilio-go/twiml"
)

// InboundAction is what the provider should do with a freshly arrived call.
type InboundAction string

const (
	InboundActionEnqueue InboundAction = "enqueue"
	InboundActionConnect InboundAction = "connect"
	InboundActionReject  InboundAction = "reject"
)

// InboundCallResult drives the TwiML answer to an inbound-call webhook.
type InboundCallResult struct {
	CallID string        `json:"call_id"`
	Action InboundAction `json:"action"`

	// Greeting is spoken before the action when non-empty.
	Greeting string `json:"greeting,omitempty"`
	// Queue is used when Action == enqueue.
	Queue string `json:"queue,omitempty"`
	// AgentID is used when Action == connect.
	AgentID string `json:"agent_id,omitempty"`
}

// RenderInboundTwiML maps an InboundCallResult to TwiML.
func RenderInboundTwiML(res InboundCallResult) (string, error) {
	var verbs []twiml.Element
	if g := strings.TrimSpace(res.Greeting); g != "" {
		verbs = append(verbs, &twiml.VoiceSay{Message: g})
	}

	switch res.Action {
	case InboundActionEnqueue:
		if strings.TrimSpace(res.Queue) == "" {
			return "", errors.New("telephony: queue required for enqueue action")
		}
		verbs = append(verbs, &twiml.VoiceEnqueue{Name: res.Queue})
	case InboundActionConnect:
		if strings.TrimSpace(res.AgentID) == "" {
			return "", errors.New("telephony: agent id required for connect action")
		}
		verbs = append(verbs, dialClient(res.AgentID))
	case InboundActionReject:
		// <Reject> must be the only verb.
		verbs = []twiml.Element{&twiml.VoiceReject{Reason: "busy"}}
	default:
		return "", errors.New("telephony: unknown inbound action")
	}
	return twiml.Voice(verbs)
}

// RenderRouteTwiML renders the TwiML a live call is redirected to.
func RenderRouteTwiML(r Route) (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	var verb twiml.Element
	switch r.Action {
	case RouteConnectAgent:
		verb = dialClient(r.AgentID)
	case RouteConference:
		verb = dialConference(r.ConferenceName)
	case RouteHangup:
		verb = &twiml.VoiceHangup{}
	case RouteReject:
		verb = &twiml.VoiceReject{Reason: "rejected"}
	}
	return twiml.Voice([]twiml.Element{verb})
}

// RenderConferenceTwiML joins a participant leg to the named conference.
func RenderConferenceTwiML(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("telephony: conference name required")
	}
	return twiml.Voice([]twiml.Element{dialConference(name)})
}

func dialClient(agentID string) twiml.Element {
	return &twiml.VoiceDial{
		InnerElements: []twiml.Element{&twiml.VoiceClient{Identity: ClientIdentity(agentID)}},
	}
}

func dialConference(name string) twiml.Element {
	return &twiml.VoiceDial{
		InnerElements: []twiml.Element{&twiml.VoiceConference{Name: name}},
	}
}
