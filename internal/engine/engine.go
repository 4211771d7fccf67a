package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"signal-executor/internal/events"
	"signal-executor/internal/order"
	"signal-executor/internal/risk"
	"signal-executor/internal/session"
	"signal-executor/internal/signal"
	"signal-executor/internal/transport"
	"signal-executor/pkg/venue"
)

// Config wires the engine's collaborators.
type Config struct {
	Transport transport.Transport
	Account   venue.AccountSource
	Sizer     *risk.Sizer
	Governor  *risk.Governor
	Orders    *order.Manager
	Bus       *events.Bus
	Logger    *slog.Logger
	Meta      Meta

	// CallTimeout bounds the account snapshot taken at the start of a tick.
	CallTimeout time.Duration
}

// Engine owns RiskState and the position index. Tick is the only method
// that touches them and must not be called concurrently.
type Engine struct {
	transport transport.Transport
	account   venue.AccountSource
	sizer     *risk.Sizer
	gov       *risk.Governor
	orders    *order.Manager
	bus       *events.Bus
	log       *slog.Logger
	meta      Meta
	timeout   time.Duration

	now       time.Time
	startedAt time.Time
	lastSnap  venue.AccountSnapshot
	snapErr   string
	counters  Counters

	status atomic.Pointer[Status]
}

var _ Service = (*Engine)(nil)

// New assembles an engine. Trade results flow to the transport's reporter.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Transport == nil:
		return nil, errors.New("engine: transport is required")
	case cfg.Account == nil:
		return nil, errors.New("engine: account source is required")
	case cfg.Sizer == nil, cfg.Governor == nil, cfg.Orders == nil:
		return nil, errors.New("engine: sizer, governor and order manager are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 2 * time.Second
	}

	e := &Engine{
		transport: cfg.Transport,
		account:   cfg.Account,
		sizer:     cfg.Sizer,
		gov:       cfg.Governor,
		orders:    cfg.Orders,
		bus:       cfg.Bus,
		log:       logger.With("component", "engine"),
		meta:      cfg.Meta,
		timeout:   cfg.CallTimeout,
	}
	clock := func() time.Time { return e.now }
	e.sizer.SetClock(clock)
	e.orders.SetClock(clock)
	e.orders.SetReporter(cfg.Transport)
	return e, nil
}

// Start captures the session baseline and adopts positions already open
// under this engine's tag. A failure here is not fatal; the first
// successful tick captures the baseline instead.
func (e *Engine) Start(ctx context.Context, now time.Time) error {
	e.now = now
	e.startedAt = now
	defer e.publishStatus(now, 0)

	snap, err := e.snapshot(ctx)
	if err != nil {
		e.snapErr = err.Error()
		return fmt.Errorf("initial snapshot: %w", err)
	}
	e.lastSnap = snap
	e.gov.Start(snap, now)
	if err := e.orders.Reconcile(ctx); err != nil {
		return fmt.Errorf("initial reconcile: %w", err)
	}
	e.log.Info("engine started",
		"balance", snap.Balance,
		"equity", snap.Equity,
		"adopted_positions", e.orders.Count(),
		"transport", e.transport.Name())
	return nil
}

// Tick runs one engine cycle at logical time now. A panic inside the cycle
// is recovered and returned as an error.
func (e *Engine) Tick(ctx context.Context, now time.Time) (err error) {
	started := time.Now()
	e.now = now
	if e.startedAt.IsZero() {
		e.startedAt = now
	}
	e.counters.Ticks++
	report := TickReport{Seq: e.counters.Ticks, Time: now}

	defer func() {
		if r := recover(); r != nil {
			e.counters.Panics++
			report.Recovered = true
			err = fmt.Errorf("tick %d: panic: %v", report.Seq, r)
			e.log.Error("tick panic recovered", "tick", report.Seq, "panic", r, "stack", string(debug.Stack()))
		}
		report.Duration = time.Since(started)
		report.Halted = e.gov.Halted()
		e.publishStatus(now, report.Duration)
		e.bus.Publish(events.EventTick, report)
	}()

	report.Signals = e.tick(ctx, now)
	return nil
}

func (e *Engine) tick(ctx context.Context, now time.Time) int {
	snap, snapErr := e.snapshot(ctx)
	var current *venue.AccountSnapshot
	if snapErr != nil {
		e.snapErr = snapErr.Error()
		e.log.Warn("account snapshot unavailable, skipping intake", "err", snapErr)
	} else {
		e.snapErr = ""
		e.lastSnap = snap
		current = &snap
	}

	if s, ok := e.transport.(transport.Servicer); ok {
		s.Service(ctx, current, now)
	}

	if e.gov.Halted() {
		if d, ok := e.transport.(transport.Discarder); ok {
			d.Discard(now)
		}
		e.liquidate(ctx)
		return 0
	}

	var sigs []signal.Signal
	if current != nil {
		sigs = e.transport.Poll(ctx, now)
		e.counters.SignalsReceived += uint64(len(sigs))
		if breach := e.gov.Evaluate(snap, now); breach != nil {
			e.halt(ctx, breach)
		}
	}
	if e.gov.Halted() {
		for _, sig := range sigs {
			e.record(SignalOutcome{Signal: sig, Outcome: OutcomeRejected, Reason: string(risk.ReasonHalted)})
		}
		return len(sigs)
	}

	if err := e.orders.Reconcile(ctx); err != nil {
		e.log.Warn("position reconcile failed", "err", err)
	}
	e.counters.StopsMoved += uint64(e.orders.UpdateTrailing(ctx))

	for _, sig := range sigs {
		e.handle(ctx, sig, snap)
	}
	return len(sigs)
}

func (e *Engine) snapshot(ctx context.Context) (venue.AccountSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.account.Snapshot(ctx)
}

func (e *Engine) halt(ctx context.Context, breach *risk.Breach) {
	e.log.Error("risk governor halted trading",
		"kind", breach.Kind,
		"equity", breach.Equity,
		"baseline", breach.Baseline,
		"drawdown", breach.Drawdown,
		"limit", breach.Threshold)
	e.bus.Publish(events.EventRiskHalted, *breach)
	e.liquidate(ctx)
}

// liquidate closes every tagged position. Halted ticks repeat it so a
// close that failed earlier is retried.
func (e *Engine) liquidate(ctx context.Context) {
	closed, err := e.orders.CloseAll(ctx, order.ReasonGovernor, "")
	if err != nil {
		e.log.Error("close-all incomplete", "closed", closed, "err", err)
		return
	}
	if closed > 0 {
		e.log.Warn("close-all completed", "closed", closed)
	}
}

func (e *Engine) handle(ctx context.Context, sig signal.Signal, snap venue.AccountSnapshot) {
	switch sig.Action {
	case signal.ActionCloseAll:
		closed, err := e.orders.CloseAll(ctx, order.ReasonSignal, sig.ID)
		e.recordClose(sig, closed, err)

	case signal.ActionClose:
		if sig.Ticket != 0 {
			closed := 0
			if e.orders.Managed(sig.Ticket) {
				closed = 1
			}
			err := e.orders.Close(ctx, sig.Ticket, order.ReasonSignal, sig.ID)
			if err != nil {
				closed = 0
			}
			e.recordClose(sig, closed, err)
			return
		}
		closed, err := e.orders.CloseInstrument(ctx, sig.Instrument, order.ReasonSignal, sig.ID)
		e.recordClose(sig, closed, err)

	default:
		req, err := e.sizer.ValidateAndSize(ctx, sig, snap, e.gov.State(), e.orders.VenuePositions())
		if err != nil {
			out := SignalOutcome{Signal: sig, Outcome: OutcomeRejected, Detail: err.Error()}
			var rej *risk.Rejection
			if errors.As(err, &rej) {
				out.Reason, out.Detail = string(rej.Reason), rej.Detail
			}
			e.log.Info("signal rejected", "signal_id", sig.ID, "instrument", sig.Instrument, "reason", out.Reason, "detail", out.Detail)
			e.record(out)
			return
		}
		pos, err := e.orders.Open(ctx, req)
		if err != nil {
			out := SignalOutcome{Signal: sig, Outcome: OutcomeFailed, Detail: err.Error(), Volume: req.Volume}
			var execErr *order.ExecutionError
			if errors.As(err, &execErr) {
				out.Reason = fmt.Sprintf("venue_%d", execErr.Code)
			}
			e.record(out)
			return
		}
		e.record(SignalOutcome{Signal: sig, Outcome: OutcomeExecuted, Ticket: pos.Ticket, Volume: pos.Volume})
	}
}

func (e *Engine) recordClose(sig signal.Signal, closed int, err error) {
	if err != nil {
		e.record(SignalOutcome{Signal: sig, Outcome: OutcomeFailed, Detail: err.Error(), Closed: closed})
		return
	}
	e.record(SignalOutcome{Signal: sig, Outcome: OutcomeExecuted, Closed: closed})
}

func (e *Engine) record(out SignalOutcome) {
	out.Time = e.now
	switch out.Outcome {
	case OutcomeExecuted:
		e.counters.Executed++
	case OutcomeRejected:
		e.counters.Rejected++
	case OutcomeFailed:
		e.counters.Failed++
	}
	e.bus.Publish(events.EventSignal, out)
}

type sessionReporter interface {
	Session() session.Status
}

func (e *Engine) publishStatus(now time.Time, d time.Duration) {
	st := &Status{
		Meta:         e.meta,
		StartedAt:    e.startedAt,
		LastTick:     now,
		TickDuration: d,
		Account:      e.lastSnap,
		AccountError: e.snapErr,
		Risk:         e.gov.State(),
		Transport:    e.transport.Stats(),
		Positions:    e.orders.Positions(),
		Counters:     e.counters,
	}
	if s, ok := e.transport.(sessionReporter); ok {
		ss := s.Session()
		st.Session = &ss
	}
	e.status.Store(st)
}

// Status returns the state published after the last tick.
func (e *Engine) Status() Status {
	if st := e.status.Load(); st != nil {
		return *st
	}
	return Status{Meta: e.meta}
}

// Positions returns the managed positions as of the last tick.
func (e *Engine) Positions() []order.Position {
	st := e.status.Load()
	if st == nil {
		return nil
	}
	return append([]order.Position(nil), st.Positions...)
}

// Halted reports whether the risk governor has stopped trading.
func (e *Engine) Halted() bool {
	st := e.status.Load()
	return st != nil && st.Risk.Halted
}
