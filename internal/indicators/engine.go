package indicators

import "sync"

// Engine maintains per-symbol price windows and derives volatility from them.
type Engine struct {
	mu     sync.Mutex
	prices map[string][]float64
	window int
	period int
}

// NewEngine builds an indicator engine measuring volatility over period samples.
func NewEngine(period, window int) *Engine {
	if period <= 0 {
		period = 14
	}
	if window <= period {
		window = period + 1
	}
	return &Engine{
		prices: make(map[string][]float64),
		window: window,
		period: period,
	}
}

// Update ingests a new price and returns the latest computed values.
func (e *Engine) Update(symbol string, price float64) map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	arr := append(e.prices[symbol], price)
	if len(arr) > e.window {
		arr = arr[len(arr)-e.window:]
	}
	e.prices[symbol] = arr

	return map[string]float64{
		"sma": SMA(arr, e.period),
		"atr": ATR(arr, e.period),
	}
}

// Volatility returns the current ATR for symbol, or 0 while warming up.
func (e *Engine) Volatility(symbol string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ATR(e.prices[symbol], e.period)
}
