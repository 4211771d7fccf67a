package order

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"signal-executor/internal/events"
	"signal-executor/internal/risk"
	"signal-executor/pkg/venue"
)

// Close reasons.
const (
	ReasonSignal   = "signal"
	ReasonGovernor = "risk_governor"
	ReasonVenue    = "venue"
)

// Config holds the lifecycle settings.
type Config struct {
	Tag      int64
	Trailing risk.TrailingConfig
}

// Manager owns the index of open positions created by this engine. It is
// driven from the tick handler only and holds no locks.
type Manager struct {
	cfg       Config
	venue     venue.ExecutionVenue
	market    venue.MarketData
	bus       *events.Bus
	reporter  Reporter
	log       *slog.Logger
	positions map[int64]*Position
	now       func() time.Time
}

// NewManager creates a lifecycle manager. bus may be nil.
func NewManager(cfg Config, v venue.ExecutionVenue, md venue.MarketData, bus *events.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		venue:     v,
		market:    md,
		bus:       bus,
		log:       logger.With("component", "orders"),
		positions: make(map[int64]*Position),
		now:       time.Now,
	}
}

// SetReporter sets where trade results are sent besides the bus.
func (m *Manager) SetReporter(r Reporter) { m.reporter = r }

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

func (m *Manager) publish(e events.Event, payload any) {
	if m.bus != nil {
		m.bus.Publish(e, payload)
	}
}

func (m *Manager) report(res TradeResult) {
	if m.reporter != nil {
		m.reporter.ReportTrade(res)
	}
	m.publish(events.EventTradeResult, res)
}

// Open places a validated request. A venue refusal is reported once and
// returned as *ExecutionError; the request is never retried.
func (m *Manager) Open(ctx context.Context, req risk.OrderRequest) (*Position, error) {
	pos := &Position{
		SignalID:   req.SignalID,
		Instrument: req.Instrument,
		Side:       req.Side,
		Volume:     req.Volume,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Tag:        m.cfg.Tag,
		State:      StatePending,
	}

	fill, err := m.venue.PlaceOrder(ctx, venue.OrderRequest{
		Symbol:     req.Instrument,
		Side:       req.Side,
		Volume:     req.Volume,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Tag:        m.cfg.Tag,
		Comment:    req.SignalID,
	})
	if err != nil {
		execErr := &ExecutionError{Op: "place", SignalID: req.SignalID, Code: venue.Code(err), Err: err}
		m.log.Error("order placement failed", "signal_id", req.SignalID, "instrument", req.Instrument, "code", execErr.Code, "err", err)
		m.report(TradeResult{
			SignalID:   req.SignalID,
			Action:     string(req.Side),
			Instrument: req.Instrument,
			Side:       req.Side,
			Volume:     req.Volume,
			ErrorCode:  execErr.Code,
			Error:      err.Error(),
			Time:       m.now(),
		})
		return nil, execErr
	}

	pos.Ticket = fill.Ticket
	pos.OpenPrice = fill.Price
	pos.OpenedAt = fill.Time
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = m.now()
	}
	pos.State = StateOpen
	m.positions[pos.Ticket] = pos

	slippage := 0.0
	if req.Price > 0 {
		slippage = (fill.Price - req.Price) * req.Side.Sign()
	}
	m.log.Info("position opened", "ticket", pos.Ticket, "signal_id", req.SignalID, "detail", req.Describe(), "fill", fill.Price)
	m.publish(events.EventPositionOpened, *pos)
	m.report(TradeResult{
		SignalID:       req.SignalID,
		Action:         string(req.Side),
		Ticket:         pos.Ticket,
		Instrument:     req.Instrument,
		Side:           req.Side,
		Volume:         req.Volume,
		Success:        true,
		ExecutionPrice: fill.Price,
		Slippage:       slippage,
		Time:           pos.OpenedAt,
	})
	return pos, nil
}

// UpdateTrailing tightens stops of open positions and returns how many moved.
func (m *Manager) UpdateTrailing(ctx context.Context) int {
	if !m.cfg.Trailing.Enabled {
		return 0
	}
	moved := 0
	for _, pos := range m.sorted() {
		if pos.State != StateOpen {
			continue
		}
		q, err := m.market.CurrentPrice(ctx, pos.Instrument)
		if err != nil {
			m.log.Warn("trailing skipped: no price", "ticket", pos.Ticket, "err", err)
			continue
		}
		minStop, err := m.market.MinStopDistance(ctx, pos.Instrument)
		if err != nil {
			m.log.Warn("trailing skipped: no stop level", "ticket", pos.Ticket, "err", err)
			continue
		}
		next, ok := m.cfg.Trailing.Next(pos.Side, pos.OpenPrice, pos.StopLoss, q, minStop)
		if !ok || !risk.Tighter(pos.Side, pos.StopLoss, next) {
			continue
		}
		if err := m.venue.ModifyOrder(ctx, pos.Ticket, next, pos.TakeProfit); err != nil {
			if errors.Is(err, venue.ErrPositionNotFound) {
				m.drop(pos, ReasonVenue)
				continue
			}
			m.log.Error("trailing stop modify failed", "ticket", pos.Ticket, "code", venue.Code(err), "err", err)
			continue
		}
		prev := pos.StopLoss
		pos.StopLoss = next
		moved++
		m.log.Debug("trailing stop moved", "ticket", pos.Ticket, "from", prev, "to", next)
		m.publish(events.EventStopMoved, StopMove{Ticket: pos.Ticket, Instrument: pos.Instrument, From: prev, To: next, Time: m.now()})
	}
	return moved
}

// Close closes one managed position. Unknown or already closed tickets are a no-op.
func (m *Manager) Close(ctx context.Context, ticket int64, reason, signalID string) error {
	pos, ok := m.positions[ticket]
	if !ok {
		return nil
	}
	return m.closePosition(ctx, pos, reason, signalID)
}

// CloseInstrument closes every managed position on symbol.
func (m *Manager) CloseInstrument(ctx context.Context, symbol, reason, signalID string) (int, error) {
	closed := 0
	var errs []error
	for _, pos := range m.sorted() {
		if pos.Instrument != symbol {
			continue
		}
		if err := m.closePosition(ctx, pos, reason, signalID); err != nil {
			errs = append(errs, err)
			continue
		}
		closed++
	}
	return closed, errors.Join(errs...)
}

// CloseAll closes every position carrying this engine's tag, including ones
// the venue knows about that are missing from the index.
func (m *Manager) CloseAll(ctx context.Context, reason, signalID string) (int, error) {
	if err := m.Reconcile(ctx); err != nil {
		m.log.Warn("close-all: venue listing failed, closing indexed positions", "err", err)
	}
	closed := 0
	var errs []error
	for _, pos := range m.sorted() {
		if pos.Tag != m.cfg.Tag {
			continue
		}
		if err := m.closePosition(ctx, pos, reason, signalID); err != nil {
			errs = append(errs, err)
			continue
		}
		closed++
	}
	return closed, errors.Join(errs...)
}

func (m *Manager) closePosition(ctx context.Context, pos *Position, reason, signalID string) error {
	pos.State = StateClosing
	err := m.venue.CloseOrder(ctx, pos.Ticket)
	if err != nil && !errors.Is(err, venue.ErrPositionNotFound) {
		execErr := &ExecutionError{Op: "close", Ticket: pos.Ticket, SignalID: signalID, Code: venue.Code(err), Err: err}
		m.log.Error("close failed", "ticket", pos.Ticket, "reason", reason, "code", execErr.Code, "err", err)
		m.report(TradeResult{
			SignalID:   signalID,
			Action:     "CLOSE",
			Ticket:     pos.Ticket,
			Instrument: pos.Instrument,
			Side:       pos.Side,
			Volume:     pos.Volume,
			ErrorCode:  execErr.Code,
			Error:      err.Error(),
			Time:       m.now(),
		})
		return execErr
	}

	exit := 0.0
	if q, qerr := m.market.CurrentPrice(ctx, pos.Instrument); qerr == nil {
		exit = q.Exit(pos.Side)
	}
	m.drop(pos, reason)
	m.report(TradeResult{
		SignalID:       signalID,
		Action:         "CLOSE",
		Ticket:         pos.Ticket,
		Instrument:     pos.Instrument,
		Side:           pos.Side,
		Volume:         pos.Volume,
		Success:        true,
		ExecutionPrice: exit,
		Time:           m.now(),
	})
	return nil
}

func (m *Manager) drop(pos *Position, reason string) {
	pos.State = StateClosed
	delete(m.positions, pos.Ticket)
	m.log.Info("position closed", "ticket", pos.Ticket, "instrument", pos.Instrument, "reason", reason)
	m.publish(events.EventPositionClosed, CloseEvent{Position: *pos, Reason: reason, Time: m.now()})
}

// Reconcile syncs the index with the venue: managed tickets the venue no
// longer reports were closed venue-side; tagged tickets missing from the
// index are adopted.
func (m *Manager) Reconcile(ctx context.Context) error {
	open, err := m.venue.ListOpenPositions(ctx, m.cfg.Tag)
	if err != nil {
		return err
	}
	live := make(map[int64]venue.Position, len(open))
	for _, p := range open {
		if p.Tag != m.cfg.Tag {
			continue
		}
		live[p.Ticket] = p
	}
	for _, pos := range m.sorted() {
		if _, ok := live[pos.Ticket]; !ok {
			m.drop(pos, ReasonVenue)
		}
	}
	for ticket, p := range live {
		if _, ok := m.positions[ticket]; ok {
			continue
		}
		adopted := fromVenue(p)
		m.positions[ticket] = adopted
		m.log.Info("adopted venue position", "position", adopted.String())
		m.publish(events.EventPositionOpened, *adopted)
	}
	return nil
}

// Positions returns a snapshot of managed positions ordered by ticket.
func (m *Manager) Positions() []Position {
	out := make([]Position, 0, len(m.positions))
	for _, p := range m.sorted() {
		out = append(out, *p)
	}
	return out
}

// VenuePositions returns managed positions in venue form for validation.
func (m *Manager) VenuePositions() []venue.Position {
	out := make([]venue.Position, 0, len(m.positions))
	for _, p := range m.sorted() {
		out = append(out, p.venuePosition())
	}
	return out
}

// Managed reports whether ticket is in the index.
func (m *Manager) Managed(ticket int64) bool {
	_, ok := m.positions[ticket]
	return ok
}

// Count returns the number of managed positions.
func (m *Manager) Count() int { return len(m.positions) }

func (m *Manager) sorted() []*Position {
	out := make([]*Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out
}
