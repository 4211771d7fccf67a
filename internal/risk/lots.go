package risk

import (
	"github.com/shopspring/decimal"

	"signal-executor/pkg/venue"
)

// NormalizeVolume rounds v down to the lot step and clamps it to the venue
// range. Bounds that are not step multiples are pulled inside the range.
func NormalizeVolume(v float64, lots venue.LotConstraints) float64 {
	step := lots.Step
	if step <= 0 {
		step = lots.Min
	}
	if step <= 0 {
		return v
	}
	st := decimal.NewFromFloat(step)

	// Round away float noise (7.9999999999 -> 8) before flooring to the step.
	vol := decimal.NewFromFloat(v).Round(8).Div(st).Floor().Mul(st)

	lo := decimal.NewFromFloat(lots.Min).Div(st).Ceil().Mul(st)
	if lo.LessThan(st) {
		lo = st
	}
	if vol.LessThan(lo) {
		vol = lo
	}
	if lots.Max > 0 {
		hi := decimal.NewFromFloat(lots.Max).Div(st).Floor().Mul(st)
		if vol.GreaterThan(hi) {
			vol = hi
		}
	}
	out, _ := vol.Float64()
	return out
}
