package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-executor/pkg/config"
)

func testConfig() *config.Config {
	return &config.Config{
		StrategyTag:         42,
		Trading:             true,
		Instruments:         []string{"XAUUSD"},
		TradingTimezone:     "UTC",
		BaseRisk:            0.01,
		MaxRiskPerTrade:     0.05,
		Tiers:               []config.Tier{{MinConfidence: 0.9, Multiplier: 4}},
		DefaultStopDistance: 0.5,
		MaxPerInstrument:    2,
		PaperBalance:        10000,
		PaperPrices:         map[string]float64{"XAUUSD": 2000, "EURUSD": 1.1},
		PaperSpread:         0.1,
		PaperMinStop:        1,
		PaperLotMin:         0.01,
		PaperLotMax:         50,
		PaperLotStep:        0.01,
		PaperUnitValue:      100,
	}
}

func TestRiskConfigMapsSettings(t *testing.T) {
	rc := riskConfig(testConfig())
	assert.Equal(t, int64(42), rc.StrategyTag)
	assert.Equal(t, []string{"XAUUSD"}, rc.Instruments)
	assert.Equal(t, 2, rc.MaxPerInstrument)
	assert.InDelta(t, 0.05, rc.MaxRiskPerTrade, 1e-12)
	require.Len(t, rc.Tiers, 1)
	assert.Equal(t, 4.0, rc.Tiers[0].Multiplier)
	assert.Equal(t, time.UTC, rc.Location)
}

func TestPaperVenueFromConfig(t *testing.T) {
	pv := newPaperVenue(testConfig())
	ctx := context.Background()

	snap, err := pv.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, snap.Balance)

	lots, err := pv.LotConstraints(ctx, "XAUUSD")
	require.NoError(t, err)
	assert.Equal(t, 50.0, lots.Max)
	assert.Equal(t, 100.0, lots.UnitValue)

	_, err = pv.CurrentPrice(ctx, "EURUSD")
	require.NoError(t, err)
	_, err = pv.CurrentPrice(ctx, "GBPUSD")
	assert.Error(t, err)
}

func TestNewLoggerLevels(t *testing.T) {
	ctx := context.Background()
	assert.True(t, newLogger("debug", "text").Enabled(ctx, slog.LevelDebug))
	assert.False(t, newLogger("warn", "json").Enabled(ctx, slog.LevelInfo))
	assert.True(t, newLogger("bogus", "text").Enabled(ctx, slog.LevelInfo))
}
