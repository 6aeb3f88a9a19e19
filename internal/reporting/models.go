package reporting

import (
	"time"

	"callcenter/internal/calls"
)

// TimeRange filters calls by start time. A zero bound is open.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type SummaryRequest struct {
	Range TimeRange `json:"range"`
}

// Summary is a live snapshot of the call center.
type Summary struct {
	Range TimeRange `json:"range"`

	TotalCalls    int                  `json:"totalCalls"`
	InboundCalls  int                  `json:"inboundCalls"`
	OutboundCalls int                  `json:"outboundCalls"`
	ByStatus      map[calls.Status]int `json:"byStatus"`

	ActiveCalls   int `json:"activeCalls"`
	FinishedCalls int `json:"finishedCalls"`
	MissedCalls   int `json:"missedCalls"`
	RecordedCalls int `json:"recordedCalls"`

	// Durations cover finished calls only.
	TotalDurationSeconds   int `json:"totalDurationSeconds"`
	AverageDurationSeconds int `json:"averageDurationSeconds"`

	// AnswerRate is completed / finished, 0 when nothing finished.
	AnswerRate float64 `json:"answerRate"`

	Agents map[calls.AgentStatus]int `json:"agents"`
}
