// Package paper simulates an execution venue, market data and account in
// memory for dry runs and tests.
package paper

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"signal-executor/internal/indicators"
	"signal-executor/pkg/venue"
)

// Venue return codes, modelled on terminal trade server codes.
const (
	CodeInvalidVolume = 10014
	CodeInvalidStops  = 10016
	CodeUnknownSymbol = 10013
	CodeNoMoney       = 10019
)

// Leverage used for the simulated margin requirement.
const Leverage = 100

// Instrument describes one simulated symbol.
type Instrument struct {
	Symbol  string
	Mid     float64
	Spread  float64
	MinStop float64
	Lots    venue.LotConstraints
	// ATR overrides the computed volatility when positive.
	ATR float64
	// StepBps is the random-walk step size in basis points.
	StepBps float64
}

type instrument struct {
	Instrument
	quote venue.Quote
}

// Venue is an in-memory venue implementing venue.ExecutionVenue,
// venue.MarketData and venue.AccountSource.
type Venue struct {
	mu          sync.Mutex
	instruments map[string]*instrument
	positions   map[int64]*venue.Position
	balance     float64
	nextTicket  int64
	failures    map[string]error
	indicators  *indicators.Engine
	rng         *rand.Rand
	now         func() time.Time
}

// New creates a paper venue with an initial balance.
func New(balance float64, instruments ...Instrument) *Venue {
	v := &Venue{
		instruments: make(map[string]*instrument),
		positions:   make(map[int64]*venue.Position),
		balance:     balance,
		nextTicket:  1000,
		failures:    make(map[string]error),
		indicators:  indicators.NewEngine(14, 64),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		now:         time.Now,
	}
	for _, inst := range instruments {
		v.AddInstrument(inst)
	}
	return v
}

// AddInstrument registers or replaces a symbol.
func (v *Venue) AddInstrument(inst Instrument) {
	v.mu.Lock()
	defer v.mu.Unlock()
	inst.Symbol = strings.ToUpper(inst.Symbol)
	in := &instrument{Instrument: inst}
	v.instruments[inst.Symbol] = in
	v.setMidLocked(in, inst.Mid)
}

// SetClock replaces the time source.
func (v *Venue) SetClock(now func() time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = now
}

// Fail makes the next call of op return err. Ops: place, modify, close,
// list, price, volatility, snapshot.
func (v *Venue) Fail(op string, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failures[op] = err
}

func (v *Venue) failure(op string) error {
	if err, ok := v.failures[op]; ok {
		delete(v.failures, op)
		return err
	}
	return nil
}

// SetMid moves the price of symbol and triggers resting stops and targets.
func (v *Venue) SetMid(symbol string, mid float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if in, ok := v.instruments[strings.ToUpper(symbol)]; ok {
		v.setMidLocked(in, mid)
	}
}

// Step advances every symbol by one random-walk move.
func (v *Venue) Step() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, in := range v.instruments {
		step := in.Mid * in.StepBps / 10000
		v.setMidLocked(in, in.Mid+(v.rng.Float64()*2-1)*step)
	}
}

func (v *Venue) setMidLocked(in *instrument, mid float64) {
	in.Mid = mid
	in.quote = venue.Quote{Bid: mid - in.Spread/2, Ask: mid + in.Spread/2, Time: v.now()}
	v.indicators.Update(in.Symbol, mid)
	v.triggerLocked(in)
}

// triggerLocked closes positions whose stop or target was crossed.
func (v *Venue) triggerLocked(in *instrument) {
	for ticket, p := range v.positions {
		if p.Symbol != in.Symbol {
			continue
		}
		exit := in.quote.Exit(p.Side)
		hitSL := p.StopLoss > 0 && (p.Side == venue.SideBuy && exit <= p.StopLoss || p.Side == venue.SideSell && exit >= p.StopLoss)
		hitTP := p.TakeProfit > 0 && (p.Side == venue.SideBuy && exit >= p.TakeProfit || p.Side == venue.SideSell && exit <= p.TakeProfit)
		if hitSL || hitTP {
			v.realizeLocked(p, exit)
			delete(v.positions, ticket)
		}
	}
}

func (v *Venue) realizeLocked(p *venue.Position, exit float64) {
	in := v.instruments[p.Symbol]
	if in == nil {
		return
	}
	v.balance += (exit - p.OpenPrice) * p.Side.Sign() * p.Volume * in.Lots.UnitValue
}

func (v *Venue) lookup(symbol string) (*instrument, error) {
	in, ok := v.instruments[strings.ToUpper(symbol)]
	if !ok {
		return nil, &venue.Error{Code: CodeUnknownSymbol, Message: "unknown symbol " + symbol}
	}
	return in, nil
}

// PlaceOrder fills a market order at the current quote.
func (v *Venue) PlaceOrder(ctx context.Context, req venue.OrderRequest) (venue.Fill, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.failure("place"); err != nil {
		return venue.Fill{}, err
	}
	in, err := v.lookup(req.Symbol)
	if err != nil {
		return venue.Fill{}, err
	}
	if req.Volume < in.Lots.Min || req.Volume > in.Lots.Max {
		return venue.Fill{}, &venue.Error{Code: CodeInvalidVolume, Message: fmt.Sprintf("volume %.4f outside [%.4f, %.4f]", req.Volume, in.Lots.Min, in.Lots.Max)}
	}
	price := in.quote.Entry(req.Side)
	if err := checkStops(req.Side, in.quote, in.MinStop, req.StopLoss, req.TakeProfit); err != nil {
		return venue.Fill{}, err
	}
	margin := req.Volume * price * in.Lots.UnitValue / Leverage
	if margin > v.freeMarginLocked() {
		return venue.Fill{}, &venue.Error{Code: CodeNoMoney, Message: "not enough money"}
	}

	v.nextTicket++
	now := v.now()
	v.positions[v.nextTicket] = &venue.Position{
		Ticket:     v.nextTicket,
		Symbol:     in.Symbol,
		Side:       req.Side,
		Volume:     req.Volume,
		OpenPrice:  price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Tag:        req.Tag,
		OpenedAt:   now,
	}
	return venue.Fill{Ticket: v.nextTicket, Price: price, Time: now}, nil
}

// checkStops enforces the minimum stop distance from the exit price.
func checkStops(side venue.Side, q venue.Quote, minStop, sl, tp float64) error {
	ref := q.Exit(side)
	const eps = 1e-9
	if sl > 0 {
		if side == venue.SideBuy && sl > ref-minStop+eps || side == venue.SideSell && sl < ref+minStop-eps {
			return &venue.Error{Code: CodeInvalidStops, Message: fmt.Sprintf("stop loss %.5f too close to %.5f", sl, ref)}
		}
	}
	if tp > 0 {
		if side == venue.SideBuy && tp < ref+minStop-eps || side == venue.SideSell && tp > ref-minStop+eps {
			return &venue.Error{Code: CodeInvalidStops, Message: fmt.Sprintf("take profit %.5f too close to %.5f", tp, ref)}
		}
	}
	return nil
}

// ModifyOrder replaces the protective levels of an open position.
func (v *Venue) ModifyOrder(ctx context.Context, ticket int64, stopLoss, takeProfit float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.failure("modify"); err != nil {
		return err
	}
	p, ok := v.positions[ticket]
	if !ok {
		return venue.ErrPositionNotFound
	}
	in := v.instruments[p.Symbol]
	if err := checkStops(p.Side, in.quote, in.MinStop, stopLoss, takeProfit); err != nil {
		return err
	}
	p.StopLoss, p.TakeProfit = stopLoss, takeProfit
	return nil
}

// CloseOrder closes a position at the current quote.
func (v *Venue) CloseOrder(ctx context.Context, ticket int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.failure("close"); err != nil {
		return err
	}
	p, ok := v.positions[ticket]
	if !ok {
		return venue.ErrPositionNotFound
	}
	if in := v.instruments[p.Symbol]; in != nil {
		v.realizeLocked(p, in.quote.Exit(p.Side))
	}
	delete(v.positions, ticket)
	return nil
}

// ListOpenPositions returns positions carrying tag, ordered by ticket.
func (v *Venue) ListOpenPositions(ctx context.Context, tag int64) ([]venue.Position, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.failure("list"); err != nil {
		return nil, err
	}
	out := make([]venue.Position, 0, len(v.positions))
	for _, p := range v.positions {
		if p.Tag == tag {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out, nil
}

// OpenPositions returns every open position regardless of tag.
func (v *Venue) OpenPositions() []venue.Position {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]venue.Position, 0, len(v.positions))
	for _, p := range v.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out
}

// Inject adds a position directly, as if opened manually in the terminal.
func (v *Venue) Inject(p venue.Position) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextTicket++
	p.Ticket = v.nextTicket
	p.Symbol = strings.ToUpper(p.Symbol)
	if p.OpenedAt.IsZero() {
		p.OpenedAt = v.now()
	}
	v.positions[p.Ticket] = &p
	return p.Ticket
}

// Deposit adjusts the balance; negative amounts withdraw.
func (v *Venue) Deposit(amount float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balance += amount
}

// CurrentPrice returns the current bid/ask.
func (v *Venue) CurrentPrice(ctx context.Context, symbol string) (venue.Quote, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.failure("price"); err != nil {
		return venue.Quote{}, err
	}
	in, err := v.lookup(symbol)
	if err != nil {
		return venue.Quote{}, err
	}
	return in.quote, nil
}

// Volatility returns the configured ATR, or the computed one.
func (v *Venue) Volatility(ctx context.Context, symbol string) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.failure("volatility"); err != nil {
		return 0, err
	}
	in, err := v.lookup(symbol)
	if err != nil {
		return 0, err
	}
	if in.ATR > 0 {
		return in.ATR, nil
	}
	return v.indicators.Volatility(in.Symbol), nil
}

// Spread returns ask minus bid.
func (v *Venue) Spread(ctx context.Context, symbol string) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	in, err := v.lookup(symbol)
	if err != nil {
		return 0, err
	}
	return in.quote.Ask - in.quote.Bid, nil
}

// MinStopDistance returns the minimum distance of stops from price.
func (v *Venue) MinStopDistance(ctx context.Context, symbol string) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	in, err := v.lookup(symbol)
	if err != nil {
		return 0, err
	}
	return in.MinStop, nil
}

// LotConstraints returns the volume grid of symbol.
func (v *Venue) LotConstraints(ctx context.Context, symbol string) (venue.LotConstraints, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	in, err := v.lookup(symbol)
	if err != nil {
		return venue.LotConstraints{}, err
	}
	return in.Lots, nil
}

// Snapshot values the account at current quotes.
func (v *Venue) Snapshot(ctx context.Context) (venue.AccountSnapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.failure("snapshot"); err != nil {
		return venue.AccountSnapshot{}, err
	}
	equity := v.equityLocked()
	margin := v.marginLocked()
	return venue.AccountSnapshot{
		Balance:    round2(v.balance),
		Equity:     round2(equity),
		Margin:     round2(margin),
		FreeMargin: round2(equity - margin),
	}, nil
}

func (v *Venue) equityLocked() float64 {
	equity := v.balance
	for _, p := range v.positions {
		in := v.instruments[p.Symbol]
		if in == nil {
			continue
		}
		equity += (in.quote.Exit(p.Side) - p.OpenPrice) * p.Side.Sign() * p.Volume * in.Lots.UnitValue
	}
	return equity
}

func (v *Venue) marginLocked() float64 {
	margin := 0.0
	for _, p := range v.positions {
		if in := v.instruments[p.Symbol]; in != nil {
			margin += p.Volume * p.OpenPrice * in.Lots.UnitValue / Leverage
		}
	}
	return margin
}

func (v *Venue) freeMarginLocked() float64 {
	return v.equityLocked() - v.marginLocked()
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

var (
	_ venue.ExecutionVenue = (*Venue)(nil)
	_ venue.MarketData     = (*Venue)(nil)
	_ venue.AccountSource  = (*Venue)(nil)
)
