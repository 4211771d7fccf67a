package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"signal-executor/internal/signal"
	"signal-executor/pkg/venue"
)

// riskTolerance absorbs float noise when comparing against the risk ceiling.
const riskTolerance = 1e-9

// Sizer validates signals and turns them into sized order requests.
type Sizer struct {
	cfg    Config
	market venue.MarketData
	tiers  []Tier
	scope  map[string]struct{}
	now    func() time.Time
	log    *slog.Logger
}

// NewSizer creates a validator and sizer over the given market data.
func NewSizer(cfg Config, market venue.MarketData, logger *slog.Logger) *Sizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	tiers := append([]Tier(nil), cfg.Tiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinConfidence > tiers[j].MinConfidence })

	var scope map[string]struct{}
	if len(cfg.Instruments) > 0 {
		scope = make(map[string]struct{}, len(cfg.Instruments))
		for _, sym := range cfg.Instruments {
			scope[strings.ToUpper(sym)] = struct{}{}
		}
	}
	return &Sizer{
		cfg:    cfg,
		market: market,
		tiers:  tiers,
		scope:  scope,
		now:    time.Now,
		log:    logger.With("component", "sizer"),
	}
}

// SetClock replaces the time source.
func (s *Sizer) SetClock(now func() time.Time) { s.now = now }

// TierMultiplier returns the multiplier of the highest tier conf reaches.
func (s *Sizer) TierMultiplier(conf float64) float64 {
	for _, t := range s.tiers {
		if conf >= t.MinConfidence {
			return t.Multiplier
		}
	}
	return 1.0
}

// VolatilityFactor scales risk down in volatile markets and up in quiet ones.
// A zero ratio means volatility is unknown and leaves risk unchanged.
func (s *Sizer) VolatilityFactor(ratio float64) float64 {
	switch {
	case ratio <= 0:
		return 1.0
	case s.cfg.VolHighThreshold > 0 && ratio > s.cfg.VolHighThreshold:
		return s.cfg.VolHighFactor
	case s.cfg.VolLowThreshold > 0 && ratio < s.cfg.VolLowThreshold:
		return s.cfg.VolLowFactor
	}
	return 1.0
}

// RiskFraction combines base risk, tier and volatility, capped at the ceiling.
func (s *Sizer) RiskFraction(conf, volRatio float64) (fraction, tier, volFactor float64) {
	tier = s.TierMultiplier(conf)
	volFactor = s.VolatilityFactor(volRatio)
	fraction = s.cfg.BaseRisk * tier * volFactor
	if fraction > s.cfg.MaxRiskPerTrade {
		fraction = s.cfg.MaxRiskPerTrade
	}
	return fraction, tier, volFactor
}

// InTradingHours reports whether t falls in the configured window.
func (s *Sizer) InTradingHours(t time.Time) bool {
	start, end := s.cfg.TradingStartHour, s.cfg.TradingEndHour
	if start == end {
		return true
	}
	h := t.In(s.cfg.Location).Hour()
	if start < end {
		return h >= start && h < end
	}
	return h >= start || h < end
}

func (s *Sizer) maxSpread(symbol string) float64 {
	if v, ok := s.cfg.SpreadOverrides[symbol]; ok {
		return v
	}
	return s.cfg.MaxSpread
}

// ValidateAndSize checks sig against filters and account state and returns a
// sized order request, or a *Rejection.
func (s *Sizer) ValidateAndSize(ctx context.Context, sig signal.Signal, snap venue.AccountSnapshot, state State, open []venue.Position) (OrderRequest, error) {
	if err := s.validate(sig, state, open); err != nil {
		return OrderRequest{}, err
	}

	side := sig.Action.Side()
	q, err := s.market.CurrentPrice(ctx, sig.Instrument)
	if err != nil {
		return OrderRequest{}, reject(ReasonMarketData, "price: %v", err)
	}
	if q.Bid <= 0 || q.Ask <= 0 {
		return OrderRequest{}, reject(ReasonMarketData, "no quote for %s", sig.Instrument)
	}
	spread, err := s.market.Spread(ctx, sig.Instrument)
	if err != nil {
		return OrderRequest{}, reject(ReasonMarketData, "spread: %v", err)
	}
	if limit := s.maxSpread(sig.Instrument); limit > 0 && spread > limit {
		return OrderRequest{}, reject(ReasonSpread, "%.5f > %.5f", spread, limit)
	}
	minStop, err := s.market.MinStopDistance(ctx, sig.Instrument)
	if err != nil {
		return OrderRequest{}, reject(ReasonMarketData, "min stop: %v", err)
	}
	lots, err := s.market.LotConstraints(ctx, sig.Instrument)
	if err != nil {
		return OrderRequest{}, reject(ReasonMarketData, "lots: %v", err)
	}
	if lots.UnitValue <= 0 || (lots.Max > 0 && lots.Max < lots.Min) {
		return OrderRequest{}, reject(ReasonMarketData, "bad lot constraints %+v", lots)
	}
	atr, err := s.market.Volatility(ctx, sig.Instrument)
	if err != nil {
		s.log.Warn("volatility unavailable, using defaults", "instrument", sig.Instrument, "err", err)
		atr = 0
	}

	lv := s.cfg.ProtectiveLevels(side, q, atr, minStop, sig.StopLoss, sig.TakeProfit)
	if lv.StopLoss <= 0 || lv.TakeProfit <= 0 {
		return OrderRequest{}, reject(ReasonInvalidLevels, "sl=%.5f tp=%.5f", lv.StopLoss, lv.TakeProfit)
	}

	volRatio := 0.0
	if atr > 0 {
		volRatio = atr / q.Mid()
	}
	fraction, tier, volFactor := s.RiskFraction(sig.Confidence, volRatio)
	ceiling := s.cfg.MaxRiskPerTrade * snap.Equity

	var volume float64
	if s.cfg.RiskBasedSizing {
		if snap.Equity <= 0 {
			return OrderRequest{}, reject(ReasonRiskCap, "no equity")
		}
		raw := fraction * snap.Equity / (lv.StopDistance * lots.UnitValue)
		volume = NormalizeVolume(raw, lots)
	} else {
		volume = sig.Volume
		if volume <= 0 {
			volume = s.cfg.DefaultVolume
		}
		volume = NormalizeVolume(volume, lots)
	}

	implied := volume * lv.StopDistance * lots.UnitValue
	if implied > ceiling*(1+riskTolerance) {
		return OrderRequest{}, reject(ReasonRiskCap, "volume %.2f risks %.2f > %.2f", volume, implied, ceiling)
	}

	return OrderRequest{
		SignalID:       sig.ID,
		Instrument:     sig.Instrument,
		Side:           side,
		Volume:         volume,
		StopLoss:       lv.StopLoss,
		TakeProfit:     lv.TakeProfit,
		Tag:            s.cfg.StrategyTag,
		Comment:        sig.Comment,
		Price:          lv.Price,
		StopDistance:   lv.StopDistance,
		RiskAmount:     implied,
		RiskFraction:   fraction,
		TierMultiplier: tier,
		VolFactor:      volFactor,
		Confidence:     sig.Confidence,
	}, nil
}

func (s *Sizer) validate(sig signal.Signal, state State, open []venue.Position) error {
	if !sig.Action.IsEntry() {
		return reject(ReasonNotEntry, "%s", sig.Action)
	}
	if state.Halted {
		return reject(ReasonHalted, "%s", state.HaltedReason)
	}
	if !s.cfg.Trading {
		return &Rejection{Reason: ReasonTradingDisabled}
	}
	if s.scope != nil {
		if _, ok := s.scope[sig.Instrument]; !ok {
			return reject(ReasonInstrument, "%s", sig.Instrument)
		}
	}
	now := s.now()
	if s.cfg.MaxSignalAge > 0 && !sig.IssuedAt.IsZero() {
		if age := now.Sub(sig.IssuedAt); age > s.cfg.MaxSignalAge {
			return reject(ReasonStale, "age %s", age.Round(time.Second))
		}
	}
	if !(sig.Confidence >= s.cfg.MinConfidence) {
		return reject(ReasonLowConfidence, "%.2f < %.2f", sig.Confidence, s.cfg.MinConfidence)
	}
	if !s.InTradingHours(now) {
		return reject(ReasonTradingHours, "%s", now.In(s.cfg.Location).Format("15:04"))
	}

	perInstrument := 0
	for _, p := range open {
		if p.Symbol == sig.Instrument {
			perInstrument++
		}
	}
	if s.cfg.MaxPerInstrument > 0 && perInstrument >= s.cfg.MaxPerInstrument {
		return reject(ReasonInstrumentCap, "%d open on %s", perInstrument, sig.Instrument)
	}
	if s.cfg.MaxOpenPositions > 0 && len(open) >= s.cfg.MaxOpenPositions {
		return reject(ReasonGlobalCap, "%d open", len(open))
	}
	return nil
}

// Describe renders a request for logs.
func (r OrderRequest) Describe() string {
	return fmt.Sprintf("%s %s %.2f @ %.5f sl=%.5f tp=%.5f risk=%.2f (x%.2f vol x%.2f)",
		r.Side, r.Instrument, r.Volume, r.Price, r.StopLoss, r.TakeProfit, r.RiskAmount, r.TierMultiplier, r.VolFactor)
}
