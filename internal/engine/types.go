package engine

import (
	"time"

	"signal-executor/internal/order"
	"signal-executor/internal/risk"
	"signal-executor/internal/session"
	"signal-executor/internal/signal"
	"signal-executor/internal/transport"
	"signal-executor/pkg/venue"
)

// Signal outcomes published on the bus.
const (
	OutcomeExecuted = "executed"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// SignalOutcome records what the engine did with one signal.
type SignalOutcome struct {
	Signal  signal.Signal `json:"signal"`
	Outcome string        `json:"outcome"`
	Reason  string        `json:"reason,omitempty"`
	Detail  string        `json:"detail,omitempty"`
	Ticket  int64         `json:"ticket,omitempty"`
	Volume  float64       `json:"volume,omitempty"`
	Closed  int           `json:"closed,omitempty"`
	Time    time.Time     `json:"time"`
}

// TickReport is published after every tick.
type TickReport struct {
	Seq       uint64        `json:"seq"`
	Time      time.Time     `json:"time"`
	Duration  time.Duration `json:"duration_ns"`
	Signals   int           `json:"signals"`
	Halted    bool          `json:"halted"`
	Recovered bool          `json:"recovered,omitempty"`
}

// Meta describes this engine instance.
type Meta struct {
	InstanceID  string   `json:"instance_id"`
	Name        string   `json:"name"`
	StrategyTag int64    `json:"strategy_tag"`
	Version     string   `json:"version"`
	Venue       string   `json:"venue"`
	Instruments []string `json:"instruments"`
}

// Counters are cumulative since start.
type Counters struct {
	Ticks           uint64 `json:"ticks"`
	SignalsReceived uint64 `json:"signals_received"`
	Executed        uint64 `json:"executed"`
	Rejected        uint64 `json:"rejected"`
	Failed          uint64 `json:"failed"`
	StopsMoved      uint64 `json:"stops_moved"`
	Panics          uint64 `json:"panics"`
}

// Status is the copy of engine state handed to observers after each tick.
type Status struct {
	Meta         Meta                  `json:"meta"`
	StartedAt    time.Time             `json:"started_at"`
	LastTick     time.Time             `json:"last_tick"`
	TickDuration time.Duration         `json:"tick_duration_ns"`
	Account      venue.AccountSnapshot `json:"account"`
	AccountError string                `json:"account_error,omitempty"`
	Risk         risk.State            `json:"risk"`
	Transport    transport.Stats       `json:"transport"`
	Session      *session.Status       `json:"session,omitempty"`
	Positions    []order.Position      `json:"positions"`
	Counters     Counters              `json:"counters"`
}
