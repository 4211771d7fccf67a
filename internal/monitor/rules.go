package monitor

import (
	"fmt"
	"time"

	"signal-executor/internal/engine"
	"signal-executor/internal/events"
	"signal-executor/internal/order"
	"signal-executor/internal/risk"
	"signal-executor/internal/session"
)

// Rule inspects one bus message and may raise an alert. Rules are called
// from the monitor goroutine only.
type Rule interface {
	Check(msg events.Message) (Alert, bool)
}

// DefaultRules returns the stock rule set.
func DefaultRules(slowTick time.Duration, failureStreak int) []Rule {
	return []Rule{
		HaltRule{},
		PanicRule{},
		&DisconnectRule{},
		&FailureStreakRule{Limit: failureStreak},
		SlowTickRule{Threshold: slowTick},
	}
}

// HaltRule fires when the risk governor stops trading.
type HaltRule struct{}

func (HaltRule) Check(msg events.Message) (Alert, bool) {
	b, ok := msg.Payload.(risk.Breach)
	if !ok {
		return Alert{}, false
	}
	return Alert{
		Rule:     "risk_halt",
		Severity: SeverityCritical,
		Message:  fmt.Sprintf("trading halted: %s, all tagged positions are being closed", b.Kind),
		Attrs: map[string]any{
			"equity":    b.Equity,
			"baseline":  b.Baseline,
			"drawdown":  b.Drawdown,
			"threshold": b.Threshold,
		},
	}, true
}

// PanicRule fires when a tick recovered from a panic.
type PanicRule struct{}

func (PanicRule) Check(msg events.Message) (Alert, bool) {
	r, ok := msg.Payload.(engine.TickReport)
	if !ok || !r.Recovered {
		return Alert{}, false
	}
	return Alert{
		Rule:     "tick_panic",
		Severity: SeverityCritical,
		Message:  fmt.Sprintf("tick %d panicked and was recovered", r.Seq),
	}, true
}

// DisconnectRule fires when an established session drops.
type DisconnectRule struct {
	wasConnected bool
}

func (r *DisconnectRule) Check(msg events.Message) (Alert, bool) {
	st, ok := msg.Payload.(session.Status)
	if !ok {
		return Alert{}, false
	}
	dropped := r.wasConnected && st.State == session.StateDisconnected
	r.wasConnected = st.State == session.StateConnected
	if !dropped {
		return Alert{}, false
	}
	return Alert{
		Rule:     "session_lost",
		Severity: SeverityWarning,
		Message:  "signal session disconnected, reconnecting",
		Attrs:    map[string]any{"reconnects": st.Reconnects},
	}, true
}

// FailureStreakRule fires once when Limit trade results in a row fail.
type FailureStreakRule struct {
	Limit  int
	streak int
}

func (r *FailureStreakRule) Check(msg events.Message) (Alert, bool) {
	res, ok := msg.Payload.(order.TradeResult)
	if !ok || r.Limit <= 0 {
		return Alert{}, false
	}
	if res.Success {
		r.streak = 0
		return Alert{}, false
	}
	r.streak++
	if r.streak != r.Limit {
		return Alert{}, false
	}
	return Alert{
		Rule:     "execution_failures",
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("%d consecutive execution failures", r.streak),
		Attrs:    map[string]any{"last_error": res.Error, "last_code": res.ErrorCode},
	}, true
}

// SlowTickRule fires when a tick takes longer than Threshold.
type SlowTickRule struct {
	Threshold time.Duration
}

func (r SlowTickRule) Check(msg events.Message) (Alert, bool) {
	rep, ok := msg.Payload.(engine.TickReport)
	if !ok || r.Threshold <= 0 || rep.Duration <= r.Threshold {
		return Alert{}, false
	}
	return Alert{
		Rule:     "slow_tick",
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("tick %d took %s", rep.Seq, rep.Duration),
	}, true
}
