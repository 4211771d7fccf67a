package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"signal-executor/internal/api"
	"signal-executor/internal/engine"
	"signal-executor/internal/events"
	"signal-executor/internal/monitor"
	"signal-executor/internal/order"
	"signal-executor/internal/persistence"
	"signal-executor/internal/risk"
	"signal-executor/internal/session"
	"signal-executor/internal/transport"
	"signal-executor/pkg/config"
	"signal-executor/pkg/db"
	"signal-executor/pkg/venue"
	"signal-executor/pkg/venue/paper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}
	transport.Version = buildVersion

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, buildVersion); err != nil {
		logger.Error("signal executor stopped with error", "err", err)
		os.Exit(1)
	}
	logger.Info("signal executor stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, version string) error {
	bus := events.NewBus()
	var (
		wg       sync.WaitGroup
		database *db.Database
		journal  *persistence.Journal
	)

	// Observers get their own context so they drain after the tick loop
	// stops; the journal closes only once they are done.
	obsCtx, stopObservers := context.WithCancel(context.Background())
	defer func() {
		stopObservers()
		wg.Wait()
		if database != nil {
			if err := database.Close(); err != nil {
				logger.Warn("journal close failed", "err", err)
			}
		}
	}()

	if cfg.JournalPath != "" {
		d, err := db.New(cfg.JournalPath)
		if err != nil {
			return err
		}
		database = d
		if err := db.ApplyMigrations(d); err != nil {
			return err
		}
		journal = persistence.NewJournal(d, bus, 50, 500*time.Millisecond, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			journal.Run(obsCtx)
		}()
		logger.Info("execution journal enabled", "path", cfg.JournalPath)
	}

	mon := monitor.New(bus, monitor.DefaultRules(cfg.TickInterval, 3), logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		mon.Run(obsCtx)
	}()

	// Paper venue stands in for the trading terminal.
	pv := newPaperVenue(cfg)

	instanceID := session.InstanceID("signal-executor")
	tr, err := transport.FromConfig(cfg, instanceID, bus, logger)
	if err != nil {
		return err
	}

	sizer := risk.NewSizer(riskConfig(cfg), pv, logger)
	gov := risk.NewGovernor(risk.GovernorConfig{
		MaxDrawdown:    cfg.MaxDrawdown,
		DailyLossLimit: cfg.DailyLossLimit,
		DailyReset:     cfg.DailyLossReset,
		Location:       cfg.Location(),
	})
	orders := order.NewManager(order.Config{
		Tag: cfg.StrategyTag,
		Trailing: risk.TrailingConfig{
			Enabled:  cfg.TrailingEnabled,
			Distance: cfg.TrailingDistance,
			Start:    cfg.TrailingStart,
			Step:     cfg.TrailingStep,
		},
	}, pv, pv, bus, logger)

	eng, err := engine.New(engine.Config{
		Transport:   tr,
		Account:     pv,
		Sizer:       sizer,
		Governor:    gov,
		Orders:      orders,
		Bus:         bus,
		Logger:      logger,
		CallTimeout: cfg.TransportTimeout,
		Meta: engine.Meta{
			InstanceID:  instanceID,
			Name:        cfg.InstanceName,
			StrategyTag: cfg.StrategyTag,
			Version:     version,
			Venue:       "paper",
			Instruments: cfg.Instruments,
		},
	})
	if err != nil {
		return err
	}

	if cfg.APIAddr != "" {
		server := api.NewServer(api.Config{
			Engine:  eng,
			Bus:     bus,
			Journal: database,
			Writer:  journal,
			Monitor: mon,
			Logger:  logger,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Start(obsCtx, cfg.APIAddr); err != nil {
				logger.Error("status API stopped", "err", err)
			}
		}()
	}

	logger.Info("signal executor starting",
		"instance", instanceID,
		"strategy_tag", cfg.StrategyTag,
		"transport", tr.Name(),
		"tick_interval", cfg.TickInterval,
		"trading", cfg.Trading,
		"version", version)

	if err := eng.Start(ctx, time.Now()); err != nil {
		logger.Warn("engine start incomplete, baseline deferred to first tick", "err", err)
	}

	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			if c, ok := tr.(interface{ Close() error }); ok {
				if err := c.Close(); err != nil {
					logger.Warn("transport close failed", "err", err)
				}
			}
			return nil
		case now := <-ticker.C:
			pv.Step()
			if err := eng.Tick(ctx, now); err != nil {
				logger.Error("tick failed", "err", err)
			}
		}
	}
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func riskConfig(cfg *config.Config) risk.Config {
	rc := risk.DefaultConfig()
	rc.Trading = cfg.Trading
	rc.StrategyTag = cfg.StrategyTag
	rc.Instruments = cfg.Instruments
	rc.MaxSpread = cfg.MaxSpread
	rc.SpreadOverrides = cfg.SpreadOverrides
	rc.MaxPerInstrument = cfg.MaxPerInstrument
	rc.MaxOpenPositions = cfg.MaxOpenPositions
	rc.TradingStartHour = cfg.TradingStartHour
	rc.TradingEndHour = cfg.TradingEndHour
	rc.Location = cfg.Location()
	rc.MinConfidence = cfg.MinConfidence
	rc.MaxSignalAge = cfg.MaxSignalAge
	rc.RiskBasedSizing = cfg.RiskBasedSizing
	rc.DefaultVolume = cfg.DefaultVolume
	rc.BaseRisk = cfg.BaseRisk
	rc.MaxRiskPerTrade = cfg.MaxRiskPerTrade
	rc.Tiers = make([]risk.Tier, 0, len(cfg.Tiers))
	for _, t := range cfg.Tiers {
		rc.Tiers = append(rc.Tiers, risk.Tier{MinConfidence: t.MinConfidence, Multiplier: t.Multiplier})
	}
	rc.VolHighThreshold = cfg.VolHighThreshold
	rc.VolHighFactor = cfg.VolHighFactor
	rc.VolLowThreshold = cfg.VolLowThreshold
	rc.VolLowFactor = cfg.VolLowFactor
	rc.DefaultStopDistance = cfg.DefaultStopDistance
	rc.SLMultiplier = cfg.SLMultiplier
	rc.TPMultiplier = cfg.TPMultiplier
	return rc
}

func newPaperVenue(cfg *config.Config) *paper.Venue {
	symbols := make([]string, 0, len(cfg.PaperPrices))
	for sym := range cfg.PaperPrices {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	pv := paper.New(cfg.PaperBalance)
	for _, sym := range symbols {
		pv.AddInstrument(paper.Instrument{
			Symbol:  sym,
			Mid:     cfg.PaperPrices[sym],
			Spread:  cfg.PaperSpread,
			MinStop: cfg.PaperMinStop,
			Lots: venue.LotConstraints{
				Min:       cfg.PaperLotMin,
				Max:       cfg.PaperLotMax,
				Step:      cfg.PaperLotStep,
				UnitValue: cfg.PaperUnitValue,
			},
			StepBps: cfg.PaperVolatilityBps,
		})
	}
	return pv
}
