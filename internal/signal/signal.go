package signal

import (
	"fmt"
	"strings"
	"time"

	"signal-executor/pkg/venue"
)

// Action is the instruction carried by a signal.
type Action string

const (
	ActionBuy      Action = "BUY"
	ActionSell     Action = "SELL"
	ActionClose    Action = "CLOSE"
	ActionCloseAll Action = "CLOSE_ALL"
)

// ParseAction accepts the spellings decision services use in practice.
func ParseAction(s string) (Action, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG", "0":
		return ActionBuy, true
	case "SELL", "SHORT", "1":
		return ActionSell, true
	case "CLOSE", "EXIT":
		return ActionClose, true
	case "CLOSE_ALL", "CLOSEALL", "CLOSE-ALL":
		return ActionCloseAll, true
	}
	return "", false
}

// IsEntry reports whether the action opens a position.
func (a Action) IsEntry() bool { return a == ActionBuy || a == ActionSell }

// Side maps an entry action onto a venue side.
func (a Action) Side() venue.Side {
	if a == ActionSell {
		return venue.SideSell
	}
	return venue.SideBuy
}

// Signal is the canonical record every transport produces.
// Zero EntryPrice, StopLoss or TakeProfit means "derive from volatility".
type Signal struct {
	ID         string    `json:"signal_id"`
	Instrument string    `json:"instrument"`
	Action     Action    `json:"action"`
	Volume     float64   `json:"requested_volume,omitempty"`
	EntryPrice float64   `json:"entry_price,omitempty"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	Confidence float64   `json:"confidence"`
	Ticket     int64     `json:"ticket,omitempty"`
	Comment    string    `json:"comment,omitempty"`
	Source     string    `json:"source"`
	IssuedAt   time.Time `json:"issued_at,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

func (s Signal) String() string {
	return fmt.Sprintf("%s %s %s conf=%.2f", s.ID, s.Action, s.Instrument, s.Confidence)
}

// Reason classifies why an inbound record was not turned into a signal.
type Reason string

const (
	ReasonMalformed         Reason = "malformed"
	ReasonMissingID         Reason = "missing_signal_id"
	ReasonUnknownAction     Reason = "unknown_action"
	ReasonUnknownType       Reason = "unknown_type"
	ReasonMissingConfidence Reason = "missing_confidence"
	ReasonLowConfidence     Reason = "low_confidence"
)

// Rejection is the non-signal branch of a decode.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return "signal rejected: " + string(r.Reason)
	}
	return fmt.Sprintf("signal rejected: %s: %s", r.Reason, r.Detail)
}

func reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
