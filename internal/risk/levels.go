package risk

import (
	"math"

	"signal-executor/pkg/venue"
)

// Levels are the protective prices of a new order.
type Levels struct {
	Price      float64
	StopLoss   float64
	TakeProfit float64
	// StopDistance is |Price - StopLoss| after clamping.
	StopDistance float64
}

// ProtectiveLevels derives stop loss and take profit for an entry on side.
// Missing levels come from volatility multiples around the entry price; all
// levels are then pushed outward to respect minStop from the exit price.
func (c Config) ProtectiveLevels(side venue.Side, q venue.Quote, atr, minStop, stopLoss, takeProfit float64) Levels {
	sign := side.Sign()
	price := q.Entry(side)
	ref := q.Exit(side)

	slDist := atr * c.SLMultiplier
	if slDist <= 0 {
		slDist = c.DefaultStopDistance
	}
	tpDist := atr * c.TPMultiplier
	if tpDist <= 0 {
		tpDist = c.DefaultStopDistance
		if c.SLMultiplier > 0 && c.TPMultiplier > 0 {
			tpDist = c.DefaultStopDistance * c.TPMultiplier / c.SLMultiplier
		}
	}

	sl := stopLoss
	if sl <= 0 {
		sl = price - sign*slDist
	}
	tp := takeProfit
	if tp <= 0 {
		tp = price + sign*tpDist
	}

	if side == venue.SideBuy {
		sl = math.Min(sl, ref-minStop)
		tp = math.Max(tp, ref+minStop)
	} else {
		sl = math.Max(sl, ref+minStop)
		tp = math.Min(tp, ref-minStop)
	}

	dist := math.Abs(price - sl)
	if dist <= 0 {
		dist = c.DefaultStopDistance
		sl = price - sign*dist
	}
	return Levels{Price: price, StopLoss: sl, TakeProfit: tp, StopDistance: dist}
}
