package risk

import (
	"fmt"
	"time"

	"signal-executor/pkg/venue"
)

// Daily loss baseline policies.
const (
	DailyResetSession  = "session"
	DailyResetCalendar = "calendar"
)

// breachEpsilon keeps an exact-threshold drawdown from slipping past on float noise.
const breachEpsilon = 1e-12

// GovernorConfig defines the account-wide circuit breaker thresholds.
type GovernorConfig struct {
	MaxDrawdown    float64 // fraction of session start balance, 0 disables
	DailyLossLimit float64 // fraction of the daily baseline, 0 disables
	DailyReset     string
	Location       *time.Location
}

// Breach describes the threshold that halted trading.
type Breach struct {
	Kind      string    `json:"kind"`
	Equity    float64   `json:"equity"`
	Baseline  float64   `json:"baseline"`
	Drawdown  float64   `json:"drawdown"`
	Threshold float64   `json:"threshold"`
	At        time.Time `json:"at"`
}

func (b *Breach) Error() string {
	return fmt.Sprintf("risk breach: %s (equity %.2f, baseline %.2f, drawdown %.2f%%, limit %.2f%%)",
		b.Kind, b.Equity, b.Baseline, b.Drawdown*100, b.Threshold*100)
}

// Governor tracks RiskState and trips the halt on drawdown or daily loss.
type Governor struct {
	cfg     GovernorConfig
	state   State
	started bool
}

// NewGovernor creates a governor; the session start balance is captured on
// the first Start or Evaluate call.
func NewGovernor(cfg GovernorConfig) *Governor {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DailyReset == "" {
		cfg.DailyReset = DailyResetSession
	}
	return &Governor{cfg: cfg}
}

// Start captures the session start balance. Later calls are ignored.
func (g *Governor) Start(snap venue.AccountSnapshot, now time.Time) {
	if g.started {
		return
	}
	g.started = true
	g.state.SessionStartBalance = snap.Balance
	g.rollDay(snap, now)
}

// State returns a copy of the risk state.
func (g *Governor) State() State { return g.state }

// Halted reports whether trading is halted for the rest of the session.
func (g *Governor) Halted() bool { return g.state.Halted }

func (g *Governor) rollDay(snap venue.AccountSnapshot, now time.Time) {
	day := now.In(g.cfg.Location).Format("2006-01-02")
	if day != g.state.Day {
		g.state.Day = day
		g.state.DayStartBalance = snap.Balance
	}
}

// dailyBaseline returns the balance the daily loss limit is measured from.
func (g *Governor) dailyBaseline() float64 {
	if g.cfg.DailyReset == DailyResetCalendar {
		return g.state.DayStartBalance
	}
	return g.state.SessionStartBalance
}

// Evaluate checks snap against the thresholds. It returns a *Breach only on
// the tick that trips the halt; once halted it returns nil and stays halted.
func (g *Governor) Evaluate(snap venue.AccountSnapshot, now time.Time) *Breach {
	g.Start(snap, now)
	g.rollDay(snap, now)

	start := g.state.SessionStartBalance
	if start <= 0 {
		return nil
	}
	drawdown := (start - snap.Equity) / start
	if drawdown > g.state.PeakDrawdown {
		g.state.PeakDrawdown = drawdown
	}
	if g.state.Halted {
		return nil
	}

	var breach *Breach
	if g.cfg.MaxDrawdown > 0 && drawdown >= g.cfg.MaxDrawdown-breachEpsilon {
		breach = &Breach{Kind: "max_drawdown", Equity: snap.Equity, Baseline: start, Drawdown: drawdown, Threshold: g.cfg.MaxDrawdown, At: now}
	} else if base := g.dailyBaseline(); g.cfg.DailyLossLimit > 0 && base > 0 && snap.Equity < base*(1-g.cfg.DailyLossLimit) {
		breach = &Breach{Kind: "daily_loss", Equity: snap.Equity, Baseline: base, Drawdown: (base - snap.Equity) / base, Threshold: g.cfg.DailyLossLimit, At: now}
	}
	if breach == nil {
		return nil
	}

	g.state.Halted = true
	g.state.HaltedReason = breach.Error()
	g.state.HaltedAt = now
	return breach
}
