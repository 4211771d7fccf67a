package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-executor/internal/engine"
	"signal-executor/internal/events"
	"signal-executor/internal/order"
	"signal-executor/internal/risk"
	"signal-executor/internal/signal"
	"signal-executor/pkg/db"
	"signal-executor/pkg/venue"
)

func openDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))
	return database
}

func TestBatchWriterFlushesOnSize(t *testing.T) {
	database := openDB(t)
	bw := NewBatchWriter(database, 2, time.Hour, nil)
	defer bw.Close()

	q, args := db.RiskEventInsert(db.RiskEvent{Kind: "daily_loss"})
	bw.WriteQuery("risk_events", q, args...)
	assert.Equal(t, 1, bw.Pending())

	q, args = db.RiskEventInsert(db.RiskEvent{Kind: "max_drawdown"})
	bw.WriteQuery("risk_events", q, args...)
	assert.Equal(t, 0, bw.Pending())

	halts, err := database.RiskEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, halts, 2)

	m := bw.Metrics()
	assert.Equal(t, uint64(2), m.TotalWrites)
	assert.Equal(t, uint64(1), m.TotalBatches)
	assert.Equal(t, 2, m.LastBatchSize)
	assert.False(t, m.LastFlushTime.IsZero())
}

func TestBatchWriterRollsBackBadBatch(t *testing.T) {
	database := openDB(t)
	bw := NewBatchWriter(database, 10, time.Hour, nil)
	defer bw.Close()

	q, args := db.RiskEventInsert(db.RiskEvent{Kind: "daily_loss"})
	bw.WriteQuery("risk_events", q, args...)
	bw.WriteQuery("missing", "INSERT INTO missing_table VALUES (1)")

	require.Error(t, bw.Flush())
	assert.Equal(t, uint64(1), bw.Metrics().TotalErrors)
	assert.Zero(t, bw.Pending())

	halts, err := database.RiskEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, halts)
}

func TestBatchWriterCloseFlushes(t *testing.T) {
	database := openDB(t)
	bw := NewBatchWriter(database, 10, time.Hour, nil)

	q, args := db.RiskEventInsert(db.RiskEvent{Kind: "daily_loss"})
	bw.WriteQuery("risk_events", q, args...)
	require.NoError(t, bw.Close())
	require.NoError(t, bw.Close())

	halts, err := database.RiskEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, halts, 1)
}

func TestJournalRecordsEngineEvents(t *testing.T) {
	database := openDB(t)
	j := NewJournal(database, events.NewBus(), 100, time.Hour, nil)
	defer j.writer.Close()

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	sig := signal.Signal{ID: "s-1", Instrument: "XAUUSD", Action: signal.ActionBuy, Confidence: 0.92, Source: "csv"}
	pos := order.Position{Ticket: 7, Instrument: "XAUUSD", Side: venue.SideBuy, Volume: 8, OpenPrice: 1000, StopLoss: 950, OpenedAt: at}

	j.Record(events.Message{Event: events.EventSignal, Payload: engine.SignalOutcome{Signal: sig, Outcome: engine.OutcomeExecuted, Ticket: 7, Volume: 8, Time: at}})
	j.Record(events.Message{Event: events.EventTradeResult, Payload: order.TradeResult{SignalID: "s-1", Action: "OPEN", Ticket: 7, Success: true, Time: at}})
	j.Record(events.Message{Event: events.EventPositionOpened, Payload: pos})
	j.Record(events.Message{Event: events.EventStopMoved, Payload: order.StopMove{Ticket: 7, Instrument: "XAUUSD", From: 950, To: 960, Time: at.Add(time.Second)}})
	j.Record(events.Message{Event: events.EventPositionClosed, Payload: order.CloseEvent{Position: pos, Reason: "governor", Time: at.Add(2 * time.Second)}})
	j.Record(events.Message{Event: events.EventTick, Payload: engine.TickReport{Seq: 1}})
	j.Record(events.Message{Event: events.EventRiskHalted, Payload: risk.Breach{Kind: "max_drawdown", Equity: 8500, Baseline: 10000, Drawdown: 0.15, Threshold: 0.15, At: at}})

	// The halt forces a flush of everything queued before it.
	assert.Zero(t, j.writer.Pending())

	ctx := context.Background()
	sigs, err := database.RecentSignals(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, "executed", sigs[0].Outcome)
	assert.Equal(t, "XAUUSD", sigs[0].Instrument)

	trades, err := database.RecentTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Success)

	hist, err := database.PositionHistory(ctx, 7)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, "opened", hist[0].Event)
	assert.Equal(t, "stop_moved", hist[1].Event)
	assert.InDelta(t, 960.0, hist[1].StopLoss, 1e-9)
	assert.Equal(t, "closed", hist[2].Event)
	assert.Equal(t, "governor", hist[2].Reason)

	halts, err := database.RiskEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, halts, 1)
}

func TestJournalRunConsumesBus(t *testing.T) {
	database := openDB(t)
	bus := events.NewBus()
	j := NewJournal(database, bus, 1, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	sig := signal.Signal{ID: "s-9", Instrument: "XAUUSD", Action: signal.ActionSell, Source: "stream"}
	require.Eventually(t, func() bool {
		bus.Publish(events.EventSignal, engine.SignalOutcome{Signal: sig, Outcome: engine.OutcomeRejected, Reason: "halted", Time: time.Now()})
		rows, err := database.RecentSignals(context.Background(), 10)
		return err == nil && len(rows) > 0
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("journal did not stop")
	}

	rows, err := database.RecentSignals(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, "halted", rows[0].Reason)
}
