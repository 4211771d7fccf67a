package order

import (
	"fmt"
	"time"

	"signal-executor/pkg/venue"
)

// TradeResult reports the outcome of one execution attempt.
type TradeResult struct {
	SignalID       string     `json:"signal_id"`
	Action         string     `json:"action"`
	Ticket         int64      `json:"ticket"`
	Instrument     string     `json:"instrument"`
	Side           venue.Side `json:"side,omitempty"`
	Volume         float64    `json:"volume"`
	Success        bool       `json:"success"`
	ErrorCode      int        `json:"error_code"`
	Error          string     `json:"error,omitempty"`
	ExecutionPrice float64    `json:"execution_price"`
	Slippage       float64    `json:"slippage"`
	Time           time.Time  `json:"time"`
}

// Reporter delivers trade results back to the decision service.
type Reporter interface {
	ReportTrade(TradeResult)
}

// ExecutionError is a venue refusal to place, modify or close an order.
type ExecutionError struct {
	Op       string
	Ticket   int64
	SignalID string
	Code     int
	Err      error
}

func (e *ExecutionError) Error() string {
	if e.Ticket != 0 {
		return fmt.Sprintf("%s #%d failed (code %d): %v", e.Op, e.Ticket, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s failed (code %d): %v", e.Op, e.SignalID, e.Code, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// CloseEvent is published when a managed position leaves the index.
type CloseEvent struct {
	Position Position  `json:"position"`
	Reason   string    `json:"reason"`
	Time     time.Time `json:"time"`
}

// StopMove is published when a trailing stop is tightened.
type StopMove struct {
	Ticket     int64     `json:"ticket"`
	Instrument string    `json:"instrument"`
	From       float64   `json:"from"`
	To         float64   `json:"to"`
	Time       time.Time `json:"time"`
}
