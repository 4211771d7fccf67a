package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openJournal(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, ApplyMigrations(database))
	return database
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	database := openJournal(t)
	require.NoError(t, ApplyMigrations(database))

	ok, err := columnExists(database.DB, "trade_results", "slippage")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = columnExists(database.DB, "signals", "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewRejectsEmptyPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestSignalJournal(t *testing.T) {
	database := openJournal(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, database.InsertSignal(ctx, SignalRecord{
		SignalID: "s-1", Source: "csv", Instrument: "XAUUSD", Action: "BUY", Confidence: 0.9,
		Outcome: "executed", Ticket: 7, Volume: 8, IssuedAt: base, CreatedAt: base,
	}))
	require.NoError(t, database.InsertSignal(ctx, SignalRecord{
		SignalID: "s-2", Source: "csv", Instrument: "EURUSD", Action: "SELL", Confidence: 0.5,
		Outcome: "rejected", Reason: "instrument_out_of_scope", CreatedAt: base.Add(time.Second),
	}))

	got, err := database.RecentSignals(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s-2", got[0].SignalID)
	assert.Equal(t, "instrument_out_of_scope", got[0].Reason)
	assert.True(t, got[0].IssuedAt.IsZero())
	assert.NotEmpty(t, got[0].ID)

	assert.Equal(t, "s-1", got[1].SignalID)
	assert.Equal(t, int64(7), got[1].Ticket)
	assert.InDelta(t, 8.0, got[1].Volume, 1e-9)
	assert.True(t, got[1].IssuedAt.Equal(base))

	one, err := database.RecentSignals(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestTradesAndSummary(t *testing.T) {
	database := openJournal(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, database.InsertTrade(ctx, TradeRecord{
		SignalID: "s-1", Action: "OPEN", Ticket: 7, Instrument: "XAUUSD", Side: "BUY",
		Volume: 8, Success: true, ExecutionPrice: 1000.1, Slippage: 0.1, CreatedAt: base,
	}))
	require.NoError(t, database.InsertTrade(ctx, TradeRecord{
		SignalID: "s-2", Action: "OPEN", Instrument: "XAUUSD", Side: "SELL",
		Volume: 1, Success: false, ErrorCode: 10019, Error: "no money", CreatedAt: base.Add(time.Second),
	}))
	require.NoError(t, database.InsertSignal(ctx, SignalRecord{SignalID: "s-1", Source: "csv", Action: "BUY", Outcome: "executed", CreatedAt: base}))
	require.NoError(t, database.InsertSignal(ctx, SignalRecord{SignalID: "s-2", Source: "csv", Action: "SELL", Outcome: "failed", CreatedAt: base}))
	require.NoError(t, database.InsertSignal(ctx, SignalRecord{SignalID: "s-3", Source: "csv", Action: "SELL", Outcome: "failed", CreatedAt: base}))
	require.NoError(t, database.InsertRiskEvent(ctx, RiskEvent{
		Kind: "max_drawdown", Equity: 8500, Baseline: 10000, Drawdown: 0.15, Threshold: 0.15, CreatedAt: base.Add(time.Minute),
	}))

	trades, err := database.RecentTrades(ctx, 0)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.False(t, trades[0].Success)
	assert.Equal(t, 10019, trades[0].ErrorCode)
	assert.True(t, trades[1].Success)
	assert.InDelta(t, 0.1, trades[1].Slippage, 1e-9)

	s, err := database.Summary(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"executed": 1, "failed": 2}, s.Signals)
	assert.Equal(t, 2, s.Trades)
	assert.Equal(t, 1, s.TradeErrors)
	assert.Equal(t, 1, s.Halts)
	assert.Equal(t, "max_drawdown", s.LastHaltKind)
	require.NotNil(t, s.LastHaltAt)

	later, err := database.Summary(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, later.Signals)
	assert.Zero(t, later.Halts)

	halts, err := database.RiskEvents(ctx, 5)
	require.NoError(t, err)
	require.Len(t, halts, 1)
	assert.InDelta(t, 8500.0, halts[0].Equity, 1e-9)
}

func TestPositionHistoryInOrder(t *testing.T) {
	database := openJournal(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	steps := []PositionEvent{
		{Ticket: 7, Event: "opened", Instrument: "XAUUSD", Side: "BUY", Volume: 8, Price: 1000, StopLoss: 990, CreatedAt: base},
		{Ticket: 7, Event: "stop_moved", Instrument: "XAUUSD", Side: "BUY", Volume: 8, StopLoss: 995, CreatedAt: base.Add(time.Second)},
		{Ticket: 8, Event: "opened", Instrument: "XAUUSD", Side: "SELL", Volume: 1, CreatedAt: base.Add(time.Second)},
		{Ticket: 7, Event: "closed", Instrument: "XAUUSD", Side: "BUY", Volume: 8, Reason: "signal", CreatedAt: base.Add(2 * time.Second)},
	}
	for _, e := range steps {
		require.NoError(t, database.InsertPositionEvent(ctx, e))
	}

	hist, err := database.PositionHistory(ctx, 7)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, []string{"opened", "stop_moved", "closed"}, []string{hist[0].Event, hist[1].Event, hist[2].Event})
	assert.Equal(t, "signal", hist[2].Reason)
}

func TestWithTxRollsBack(t *testing.T) {
	database := openJournal(t)
	ctx := context.Background()

	err := database.WithTx(ctx, func(tx *sql.Tx) error {
		q, args := RiskEventInsert(RiskEvent{Kind: "daily_loss"})
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	halts, err := database.RiskEvents(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, halts)
}
