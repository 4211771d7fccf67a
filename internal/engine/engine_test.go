package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-executor/internal/events"
	"signal-executor/internal/order"
	"signal-executor/internal/risk"
	"signal-executor/internal/signal"
	"signal-executor/internal/transport"
	"signal-executor/pkg/venue"
	"signal-executor/pkg/venue/paper"
)

const tag = 20240501

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fakeTransport struct {
	batches  [][]signal.Signal
	polls    int
	panicNow bool
	discards int
	reported []order.TradeResult
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Poll(context.Context, time.Time) []signal.Signal {
	if f.panicNow {
		f.panicNow = false
		panic("decoder exploded")
	}
	f.polls++
	if len(f.batches) == 0 {
		return nil
	}
	next := f.batches[0]
	f.batches = f.batches[1:]
	return next
}

func (f *fakeTransport) Stats() transport.Stats { return transport.Stats{Name: "fake", Fetches: f.polls} }

func (f *fakeTransport) ReportTrade(res order.TradeResult) { f.reported = append(f.reported, res) }

func (f *fakeTransport) Discard(time.Time) int {
	f.discards++
	return 0
}

type harness struct {
	eng     *Engine
	pv      *paper.Venue
	bus     *events.Bus
	outcome <-chan any
}

func newHarness(t *testing.T, tr transport.Transport, tweak func(*risk.Config)) harness {
	t.Helper()
	pv := paper.New(10000, paper.Instrument{
		Symbol:  "XAUUSD",
		Mid:     1000,
		MinStop: 10,
		Lots:    venue.LotConstraints{Min: 0.01, Max: 100, Step: 0.01, UnitValue: 1},
	})
	pv.SetClock(func() time.Time { return t0 })

	cfg := risk.DefaultConfig()
	cfg.StrategyTag = tag
	if tweak != nil {
		tweak(&cfg)
	}
	bus := events.NewBus()
	outcomes, unsub := bus.Subscribe(events.EventSignal, 32)
	t.Cleanup(unsub)

	eng, err := New(Config{
		Transport: tr,
		Account:   pv,
		Sizer:     risk.NewSizer(cfg, pv, nil),
		Governor:  risk.NewGovernor(risk.GovernorConfig{MaxDrawdown: 0.15, DailyLossLimit: 0.05}),
		Orders:    order.NewManager(order.Config{Tag: tag}, pv, pv, bus, nil),
		Bus:       bus,
		Meta:      Meta{InstanceID: "test", StrategyTag: tag},
	})
	require.NoError(t, err)
	return harness{eng: eng, pv: pv, bus: bus, outcome: outcomes}
}

func (h harness) nextOutcome(t *testing.T) SignalOutcome {
	t.Helper()
	select {
	case v := <-h.outcome:
		return v.(SignalOutcome)
	default:
		t.Fatal("no signal outcome published")
		return SignalOutcome{}
	}
}

func goldBuy(id string) signal.Signal {
	return signal.Signal{ID: id, Instrument: "XAUUSD", Action: signal.ActionBuy, Confidence: 0.92, StopLoss: 950, ReceivedAt: t0}
}

func TestEntryIsSizedAndExecuted(t *testing.T) {
	tr := &fakeTransport{batches: [][]signal.Signal{{goldBuy("s1")}}}
	h := newHarness(t, tr, nil)
	ctx := context.Background()
	require.NoError(t, h.eng.Start(ctx, t0))
	require.NoError(t, h.eng.Tick(ctx, t0))

	open := h.pv.OpenPositions()
	require.Len(t, open, 1)
	assert.InDelta(t, 8.00, open[0].Volume, 1e-9)
	assert.Equal(t, int64(tag), open[0].Tag)
	assert.Equal(t, 950.0, open[0].StopLoss)

	out := h.nextOutcome(t)
	assert.Equal(t, OutcomeExecuted, out.Outcome)
	assert.Equal(t, open[0].Ticket, out.Ticket)

	require.Len(t, tr.reported, 1)
	assert.True(t, tr.reported[0].Success)

	st := h.eng.Status()
	assert.Equal(t, uint64(1), st.Counters.Executed)
	assert.Len(t, st.Positions, 1)
	assert.Equal(t, 10000.0, st.Risk.SessionStartBalance)
	assert.Len(t, h.eng.Positions(), 1)
}

func TestDrawdownHaltClosesOnlyTaggedPositions(t *testing.T) {
	tr := &fakeTransport{}
	h := newHarness(t, tr, nil)
	ctx := context.Background()
	halts, unsub := h.bus.Subscribe(events.EventRiskHalted, 1)
	defer unsub()

	tagged := h.pv.Inject(venue.Position{Symbol: "XAUUSD", Side: venue.SideBuy, Volume: 10, OpenPrice: 1000, Tag: tag})
	manual := h.pv.Inject(venue.Position{Symbol: "XAUUSD", Side: venue.SideBuy, Volume: 5, OpenPrice: 1000})
	require.NoError(t, h.eng.Start(ctx, t0))
	require.Len(t, h.eng.Positions(), 1)
	assert.Equal(t, tagged, h.eng.Positions()[0].Ticket)

	// equity 10000 - 1000 - 500 = 8500, exactly 15% down
	h.pv.SetMid("XAUUSD", 900)
	require.NoError(t, h.eng.Tick(ctx, t0.Add(time.Second)))

	assert.True(t, h.eng.Halted())
	left := h.pv.OpenPositions()
	require.Len(t, left, 1)
	assert.Equal(t, manual, left[0].Ticket)
	assert.Empty(t, h.eng.Positions())

	require.Len(t, halts, 1)
	breach := (<-halts).(risk.Breach)
	assert.Equal(t, "max_drawdown", breach.Kind)
	assert.InDelta(t, 8500, breach.Equity, 1e-9)
}

func TestHaltIsSticky(t *testing.T) {
	tr := &fakeTransport{}
	h := newHarness(t, tr, nil)
	ctx := context.Background()
	h.pv.Inject(venue.Position{Symbol: "XAUUSD", Side: venue.SideBuy, Volume: 20, OpenPrice: 1000, Tag: tag})
	require.NoError(t, h.eng.Start(ctx, t0))

	h.pv.SetMid("XAUUSD", 920)
	require.NoError(t, h.eng.Tick(ctx, t0.Add(time.Second)))
	require.True(t, h.eng.Halted())
	polls := tr.polls

	h.pv.SetMid("XAUUSD", 1000)
	h.pv.Deposit(5000)
	tr.batches = [][]signal.Signal{{goldBuy("after-halt")}}
	for i := 2; i < 5; i++ {
		require.NoError(t, h.eng.Tick(ctx, t0.Add(time.Duration(i)*time.Second)))
	}

	assert.True(t, h.eng.Halted(), "recovery does not clear the halt")
	assert.Equal(t, polls, tr.polls, "no intake while halted")
	assert.Equal(t, 3, tr.discards, "halted ticks keep reading the peer")
	assert.Empty(t, h.pv.OpenPositions())
}

func TestSignalsArrivingOnHaltTickAreRejected(t *testing.T) {
	tr := &fakeTransport{batches: [][]signal.Signal{{goldBuy("late")}}}
	h := newHarness(t, tr, nil)
	ctx := context.Background()
	h.pv.Inject(venue.Position{Symbol: "XAUUSD", Side: venue.SideSell, Volume: 20, OpenPrice: 1000, Tag: tag})
	require.NoError(t, h.eng.Start(ctx, t0))

	h.pv.SetMid("XAUUSD", 1080)
	require.NoError(t, h.eng.Tick(ctx, t0.Add(time.Second)))

	out := h.nextOutcome(t)
	assert.Equal(t, OutcomeRejected, out.Outcome)
	assert.Equal(t, string(risk.ReasonHalted), out.Reason)
	assert.Empty(t, h.pv.OpenPositions())
}

func TestDuplicateSignalExecutesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.csv")
	row := fmt.Sprintf("trend,XAUUSD,BUY,,950,,,92,%d\n", t0.Unix())
	require.NoError(t, os.WriteFile(path, []byte(row), 0o644))

	batch, err := transport.NewBatch(path, time.Second, transport.Options{
		Normalizer: signal.Normalizer{Policy: signal.PolicyDefault, Default: 0.8},
	})
	require.NoError(t, err)
	h := newHarness(t, batch, func(c *risk.Config) {
		c.MaxPerInstrument = 0
		c.MaxOpenPositions = 0
	})
	ctx := context.Background()
	require.NoError(t, h.eng.Start(ctx, t0))

	for i := 0; i < 3; i++ {
		require.NoError(t, h.eng.Tick(ctx, t0.Add(time.Duration(i)*2*time.Second)))
	}
	assert.Len(t, h.pv.OpenPositions(), 1)
	st := h.eng.Status()
	assert.Equal(t, 2, st.Transport.Duplicates)
	assert.Equal(t, uint64(1), st.Counters.Executed)
}

func TestSnapshotFailureSkipsIntakeOnly(t *testing.T) {
	tr := &fakeTransport{batches: [][]signal.Signal{{goldBuy("s1")}}}
	h := newHarness(t, tr, nil)
	ctx := context.Background()
	require.NoError(t, h.eng.Start(ctx, t0))

	h.pv.Fail("snapshot", errors.New("terminal busy"))
	require.NoError(t, h.eng.Tick(ctx, t0.Add(time.Second)))
	assert.Zero(t, tr.polls)
	assert.Contains(t, h.eng.Status().AccountError, "terminal busy")

	require.NoError(t, h.eng.Tick(ctx, t0.Add(2*time.Second)))
	assert.Equal(t, 1, tr.polls)
	assert.Empty(t, h.eng.Status().AccountError)
	assert.Len(t, h.pv.OpenPositions(), 1)
}

func TestPanicInsideTickIsRecovered(t *testing.T) {
	tr := &fakeTransport{panicNow: true}
	h := newHarness(t, tr, nil)
	ctx := context.Background()
	ticks, unsub := h.bus.Subscribe(events.EventTick, 4)
	defer unsub()

	err := h.eng.Tick(ctx, t0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoder exploded")
	assert.Equal(t, uint64(1), h.eng.Status().Counters.Panics)
	assert.True(t, (<-ticks).(TickReport).Recovered)

	tr.batches = [][]signal.Signal{{goldBuy("s2")}}
	require.NoError(t, h.eng.Tick(ctx, t0.Add(time.Second)))
	assert.Len(t, h.pv.OpenPositions(), 1)
}

func TestCloseSignals(t *testing.T) {
	tr := &fakeTransport{}
	h := newHarness(t, tr, func(c *risk.Config) { c.MaxPerInstrument = 0 })
	ctx := context.Background()
	manual := h.pv.Inject(venue.Position{Symbol: "XAUUSD", Side: venue.SideSell, Volume: 1, OpenPrice: 1000})
	require.NoError(t, h.eng.Start(ctx, t0))

	tr.batches = [][]signal.Signal{
		{goldBuy("a"), goldBuy("b")},
		{{ID: "c1", Action: signal.ActionClose, Ticket: manual}},
		{{ID: "c2", Action: signal.ActionCloseAll}},
	}
	require.NoError(t, h.eng.Tick(ctx, t0))
	require.Len(t, h.eng.Positions(), 2)
	h.nextOutcome(t)
	h.nextOutcome(t)

	require.NoError(t, h.eng.Tick(ctx, t0.Add(time.Second)))
	out := h.nextOutcome(t)
	assert.Equal(t, OutcomeExecuted, out.Outcome)
	assert.Zero(t, out.Closed, "manual positions are not ours to close")
	assert.Len(t, h.pv.OpenPositions(), 3)

	require.NoError(t, h.eng.Tick(ctx, t0.Add(2*time.Second)))
	out = h.nextOutcome(t)
	assert.Equal(t, 2, out.Closed)
	left := h.pv.OpenPositions()
	require.Len(t, left, 1)
	assert.Equal(t, manual, left[0].Ticket)
}

func TestRejectedSignalCarriesReason(t *testing.T) {
	sig := goldBuy("x")
	sig.Instrument = "GBPUSD"
	tr := &fakeTransport{batches: [][]signal.Signal{{sig}}}
	h := newHarness(t, tr, func(c *risk.Config) { c.Instruments = []string{"XAUUSD"} })
	ctx := context.Background()
	require.NoError(t, h.eng.Start(ctx, t0))
	require.NoError(t, h.eng.Tick(ctx, t0))

	out := h.nextOutcome(t)
	assert.Equal(t, OutcomeRejected, out.Outcome)
	assert.Equal(t, string(risk.ReasonInstrument), out.Reason)
	assert.Equal(t, uint64(1), h.eng.Status().Counters.Rejected)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
