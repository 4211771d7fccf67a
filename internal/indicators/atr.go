package indicators

import "math"

// ATR approximates average true range from a close-only series: the mean
// absolute change between consecutive closes over the last period moves.
func ATR(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 0
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += math.Abs(values[i] - values[i-1])
	}
	return sum / float64(period)
}
