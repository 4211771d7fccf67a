package risk

import (
	"signal-executor/pkg/venue"
)

// TrailingConfig controls trailing stop behaviour, in price units.
type TrailingConfig struct {
	Enabled  bool
	Distance float64
	// Start is the profit the position must show before trailing arms.
	Start float64
	// Step is the minimum stop improvement worth a modify call.
	Step float64
}

// Tighter reports whether candidate protects side better than current.
// A zero current stop means the position is unprotected.
func Tighter(side venue.Side, current, candidate float64) bool {
	if candidate <= 0 {
		return false
	}
	if current <= 0 {
		return true
	}
	if side == venue.SideSell {
		return candidate < current
	}
	return candidate > current
}

// Next returns the trailed stop for a position and whether it should move.
// The returned stop is never looser than current.
func (c TrailingConfig) Next(side venue.Side, openPrice, current float64, q venue.Quote, minStop float64) (float64, bool) {
	if !c.Enabled || c.Distance <= 0 {
		return current, false
	}
	exit := q.Exit(side)
	if exit <= 0 {
		return current, false
	}
	if c.Start > 0 && (exit-openPrice)*side.Sign() < c.Start {
		return current, false
	}

	var candidate float64
	if side == venue.SideSell {
		candidate = exit + c.Distance
		if floor := exit + minStop; candidate < floor {
			candidate = floor
		}
	} else {
		candidate = exit - c.Distance
		if ceil := exit - minStop; candidate > ceil {
			candidate = ceil
		}
	}

	if !Tighter(side, current, candidate) {
		return current, false
	}
	if current > 0 && c.Step > 0 && (candidate-current)*side.Sign() < c.Step {
		return current, false
	}
	return candidate, true
}
