package risk

import (
	"fmt"
	"time"

	"signal-executor/pkg/venue"
)

// Tier maps a minimum confidence to a risk multiplier.
type Tier struct {
	MinConfidence float64 `json:"min_confidence"`
	Multiplier    float64 `json:"multiplier"`
}

// Config defines the validation filters and sizing parameters.
// Fractions are of account equity (0.01 = 1%).
type Config struct {
	Trading         bool
	StrategyTag     int64
	Instruments     []string // empty allows every instrument
	MaxSpread       float64  // price units, 0 disables
	SpreadOverrides map[string]float64

	MaxPerInstrument int // 0 disables
	MaxOpenPositions int // 0 disables

	// Trading window in Location; equal hours means always open.
	TradingStartHour int
	TradingEndHour   int
	Location         *time.Location

	MinConfidence float64
	MaxSignalAge  time.Duration

	RiskBasedSizing bool
	DefaultVolume   float64

	BaseRisk        float64
	MaxRiskPerTrade float64
	Tiers           []Tier

	VolHighThreshold float64
	VolHighFactor    float64
	VolLowThreshold  float64
	VolLowFactor     float64

	DefaultStopDistance float64
	SLMultiplier        float64
	TPMultiplier        float64
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		Trading:          true,
		MaxPerInstrument: 1,
		MaxOpenPositions: 5,
		Location:         time.UTC,
		RiskBasedSizing:  true,
		DefaultVolume:    0.01,
		BaseRisk:         0.01,
		MaxRiskPerTrade:  0.05,
		Tiers: []Tier{
			{MinConfidence: 0.90, Multiplier: 4.0},
			{MinConfidence: 0.85, Multiplier: 2.5},
			{MinConfidence: 0.80, Multiplier: 1.5},
		},
		VolHighThreshold:    0.02,
		VolHighFactor:       0.8,
		VolLowThreshold:     0.005,
		VolLowFactor:        1.2,
		DefaultStopDistance: 0.0050,
		SLMultiplier:        2,
		TPMultiplier:        3,
	}
}

// Reason identifies why a signal was not turned into an order.
type Reason string

const (
	ReasonNotEntry        Reason = "not_entry"
	ReasonTradingDisabled Reason = "trading_disabled"
	ReasonInstrument      Reason = "instrument_out_of_scope"
	ReasonStale           Reason = "stale_signal"
	ReasonLowConfidence   Reason = "low_confidence"
	ReasonSpread          Reason = "spread_too_wide"
	ReasonTradingHours    Reason = "outside_trading_hours"
	ReasonInstrumentCap   Reason = "instrument_position_cap"
	ReasonGlobalCap       Reason = "global_position_cap"
	ReasonHalted          Reason = "halted"
	ReasonRiskCap         Reason = "risk_cap_exceeded"
	ReasonMarketData      Reason = "market_data_unavailable"
	ReasonInvalidLevels   Reason = "invalid_levels"
)

// Rejection is an expected, non-error outcome of validation.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return "rejected: " + string(r.Reason)
	}
	return fmt.Sprintf("rejected: %s: %s", r.Reason, r.Detail)
}

func reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// OrderRequest is a signal that passed validation, ready for placement.
type OrderRequest struct {
	SignalID   string     `json:"signal_id"`
	Instrument string     `json:"instrument"`
	Side       venue.Side `json:"side"`
	Volume     float64    `json:"volume"`
	StopLoss   float64    `json:"stop_loss"`
	TakeProfit float64    `json:"take_profit"`
	Tag        int64      `json:"strategy_tag"`
	Comment    string     `json:"comment,omitempty"`

	Price          float64 `json:"price"`
	StopDistance   float64 `json:"stop_distance"`
	RiskAmount     float64 `json:"risk_amount"`
	RiskFraction   float64 `json:"risk_fraction"`
	TierMultiplier float64 `json:"tier_multiplier"`
	VolFactor      float64 `json:"volatility_factor"`
	Confidence     float64 `json:"confidence"`
}

// State is the account-wide risk state owned by the Governor.
type State struct {
	SessionStartBalance float64   `json:"session_start_balance"`
	Halted              bool      `json:"is_halted"`
	HaltedReason        string    `json:"halted_reason,omitempty"`
	HaltedAt            time.Time `json:"halted_at,omitempty"`
	DayStartBalance     float64   `json:"day_start_balance"`
	Day                 string    `json:"day,omitempty"`
	PeakDrawdown        float64   `json:"peak_drawdown"`
}
