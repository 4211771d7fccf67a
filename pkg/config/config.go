package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrInvalid marks configuration that cannot be used to start the engine.
var ErrInvalid = errors.New("invalid config")

// Transport names accepted by SIGNAL_TRANSPORT.
const (
	TransportBatch  = "batch"
	TransportHTTP   = "http"
	TransportStream = "stream"
)

// Confidence policies accepted by CONFIDENCE_POLICY.
const (
	ConfidenceDefault  = "default"
	ConfidenceRequired = "required"
)

// Daily loss reset policies accepted by DAILY_LOSS_RESET.
const (
	DailyResetSession  = "session"
	DailyResetCalendar = "calendar"
)

// Tier maps a minimum confidence to a risk multiplier.
type Tier struct {
	MinConfidence float64 `yaml:"min_confidence"`
	Multiplier    float64 `yaml:"multiplier"`
}

// Config holds environment-driven settings for the signal executor.
// Risk values ending in Percent in the environment are stored here as fractions.
type Config struct {
	InstanceName string
	StrategyTag  int64
	Instruments  []string // empty means any instrument
	Trading      bool

	// Tick loop
	TickInterval     time.Duration
	TransportTimeout time.Duration

	// Transport
	Transport        string
	BatchSource      string
	BatchInterval    time.Duration
	SignalURL        string
	PollInterval     time.Duration
	SignalAPISecret  string
	ResultURL        string
	StreamAddr       string
	ReconnectDelay   time.Duration
	HeartbeatEvery   time.Duration
	StaleAfter       time.Duration
	MaxFrameBytes    int
	DedupeCapacity   int
	ConfidencePolicy string
	DefaultConf      float64
	MinConfidence    float64
	MaxSignalAge     time.Duration

	// Sizing
	RiskBasedSizing     bool
	DefaultVolume       float64
	BaseRisk            float64
	MaxRiskPerTrade     float64
	Tiers               []Tier
	VolHighThreshold    float64
	VolHighFactor       float64
	VolLowThreshold     float64
	VolLowFactor        float64
	DefaultStopDistance float64
	SLMultiplier        float64
	TPMultiplier        float64

	// Validation filters
	MaxSpread         float64
	SpreadOverrides   map[string]float64
	MaxPerInstrument  int
	MaxOpenPositions  int
	TradingStartHour  int
	TradingEndHour    int
	TradingTimezone   string
	TrailingEnabled   bool
	TrailingDistance  float64
	TrailingStart     float64
	TrailingStep      float64
	MaxDrawdown       float64
	DailyLossLimit    float64
	DailyLossReset    string
	RiskProfilePath   string
	JournalPath       string
	APIAddr           string
	LogLevel          string
	LogFormat         string

	// Paper venue
	PaperBalance       float64
	PaperPrices        map[string]float64
	PaperSpread        float64
	PaperMinStop       float64
	PaperLotMin        float64
	PaperLotMax        float64
	PaperLotStep       float64
	PaperUnitValue     float64
	PaperVolatilityBps float64
}

// DefaultTiers mirrors the stock confidence ladder.
func DefaultTiers() []Tier {
	return []Tier{
		{MinConfidence: 0.90, Multiplier: 4.0},
		{MinConfidence: 0.85, Multiplier: 2.5},
		{MinConfidence: 0.80, Multiplier: 1.5},
	}
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		InstanceName:     getEnv("INSTANCE_NAME", "signal-executor"),
		StrategyTag:      int64(getEnvInt("STRATEGY_TAG", 20240501)),
		Instruments:      splitAndTrim(getEnv("INSTRUMENTS", "")),
		Trading:          getEnvBool("TRADING_ENABLED", true),
		TickInterval:     getEnvDuration("TICK_INTERVAL", time.Second),
		TransportTimeout: getEnvDuration("TRANSPORT_TIMEOUT", 2*time.Second),

		Transport:        strings.ToLower(getEnv("SIGNAL_TRANSPORT", TransportBatch)),
		BatchSource:      getEnv("BATCH_SOURCE", "./data/signals.csv"),
		BatchInterval:    getEnvDuration("BATCH_INTERVAL", 10*time.Second),
		SignalURL:        getEnv("SIGNAL_URL", "http://127.0.0.1:8000/signals"),
		PollInterval:     getEnvDuration("POLL_INTERVAL", 5*time.Second),
		SignalAPISecret:  os.Getenv("SIGNAL_API_SECRET"),
		ResultURL:        getEnv("RESULT_URL", ""),
		StreamAddr:       getEnv("STREAM_ADDR", "127.0.0.1:9090"),
		ReconnectDelay:   getEnvDuration("RECONNECT_INTERVAL", 5*time.Second),
		HeartbeatEvery:   getEnvDuration("HEARTBEAT_INTERVAL", 10*time.Second),
		StaleAfter:       getEnvDuration("STALE_AFTER", 0),
		MaxFrameBytes:    getEnvInt("MAX_FRAME_BYTES", 1<<20),
		DedupeCapacity:   getEnvInt("DEDUPE_CAPACITY", 1024),
		ConfidencePolicy: strings.ToLower(getEnv("CONFIDENCE_POLICY", ConfidenceDefault)),
		DefaultConf:      getEnvFloat("DEFAULT_CONFIDENCE", 0.80),
		MinConfidence:    getEnvFloat("MIN_CONFIDENCE", 0),
		MaxSignalAge:     getEnvDuration("MAX_SIGNAL_AGE", 0),

		RiskBasedSizing:     getEnvBool("RISK_BASED_SIZING", true),
		DefaultVolume:       getEnvFloat("DEFAULT_VOLUME", 0.01),
		BaseRisk:            getEnvPercent("BASE_RISK_PERCENT", 1),
		MaxRiskPerTrade:     getEnvPercent("MAX_RISK_PER_TRADE_PERCENT", 5),
		Tiers:               DefaultTiers(),
		VolHighThreshold:    getEnvFloat("VOL_HIGH_THRESHOLD", 0.02),
		VolHighFactor:       getEnvFloat("VOL_HIGH_FACTOR", 0.8),
		VolLowThreshold:     getEnvFloat("VOL_LOW_THRESHOLD", 0.005),
		VolLowFactor:        getEnvFloat("VOL_LOW_FACTOR", 1.2),
		DefaultStopDistance: getEnvFloat("DEFAULT_STOP_DISTANCE", 0.0050),
		SLMultiplier:        getEnvFloat("SL_ATR_MULTIPLIER", 2),
		TPMultiplier:        getEnvFloat("TP_ATR_MULTIPLIER", 3),

		MaxSpread:        getEnvFloat("MAX_SPREAD", 0),
		SpreadOverrides:  map[string]float64{},
		MaxPerInstrument: getEnvInt("MAX_POSITIONS_PER_INSTRUMENT", 1),
		MaxOpenPositions: getEnvInt("MAX_OPEN_POSITIONS", 5),
		TradingStartHour: getEnvInt("TRADING_START_HOUR", 0),
		TradingEndHour:   getEnvInt("TRADING_END_HOUR", 0),
		TradingTimezone:  getEnv("TRADING_TIMEZONE", "UTC"),
		TrailingEnabled:  getEnvBool("TRAILING_ENABLED", true),
		TrailingDistance: getEnvFloat("TRAILING_DISTANCE", 0.0030),
		TrailingStart:    getEnvFloat("TRAILING_START", 0),
		TrailingStep:     getEnvFloat("TRAILING_STEP", 0),
		MaxDrawdown:      getEnvPercent("MAX_DRAWDOWN_PERCENT", 15),
		DailyLossLimit:   getEnvPercent("DAILY_LOSS_LIMIT_PERCENT", 5),
		DailyLossReset:   strings.ToLower(getEnv("DAILY_LOSS_RESET", DailyResetSession)),
		RiskProfilePath:  getEnv("RISK_PROFILE_PATH", ""),
		JournalPath:      getEnv("JOURNAL_PATH", "./data/journal.db"),
		APIAddr:          getEnv("API_ADDR", ":8080"),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(getEnv("LOG_FORMAT", "text")),

		PaperBalance:       getEnvFloat("PAPER_INITIAL_BALANCE", 10000),
		PaperPrices:        parsePrices(getEnv("PAPER_PRICES", "EURUSD=1.1000")),
		PaperSpread:        getEnvFloat("PAPER_SPREAD", 0.0001),
		PaperMinStop:       getEnvFloat("PAPER_MIN_STOP", 0.0010),
		PaperLotMin:        getEnvFloat("PAPER_LOT_MIN", 0.01),
		PaperLotMax:        getEnvFloat("PAPER_LOT_MAX", 100),
		PaperLotStep:       getEnvFloat("PAPER_LOT_STEP", 0.01),
		PaperUnitValue:     getEnvFloat("PAPER_UNIT_VALUE", 100000),
		PaperVolatilityBps: getEnvFloat("PAPER_VOLATILITY_BPS", 5),
	}

	if cfg.RiskProfilePath != "" {
		profile, err := LoadProfile(cfg.RiskProfilePath)
		if err != nil {
			return nil, fmt.Errorf("load risk profile: %w", err)
		}
		profile.Apply(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Location resolves TradingTimezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TradingTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportBatch, TransportHTTP, TransportStream:
	default:
		return fmt.Errorf("%w: unknown SIGNAL_TRANSPORT %q", ErrInvalid, c.Transport)
	}
	switch c.ConfidencePolicy {
	case ConfidenceDefault, ConfidenceRequired:
	default:
		return fmt.Errorf("%w: unknown CONFIDENCE_POLICY %q", ErrInvalid, c.ConfidencePolicy)
	}
	switch c.DailyLossReset {
	case DailyResetSession, DailyResetCalendar:
	default:
		return fmt.Errorf("%w: unknown DAILY_LOSS_RESET %q", ErrInvalid, c.DailyLossReset)
	}
	if c.MaxRiskPerTrade <= 0 || c.MaxRiskPerTrade > 1 {
		return fmt.Errorf("%w: max risk per trade must be within (0, 100] percent", ErrInvalid)
	}
	if c.BaseRisk <= 0 {
		return fmt.Errorf("%w: base risk must be positive", ErrInvalid)
	}
	if c.DefaultStopDistance <= 0 {
		return fmt.Errorf("%w: DEFAULT_STOP_DISTANCE must be positive", ErrInvalid)
	}
	if c.DedupeCapacity <= 0 {
		return fmt.Errorf("%w: DEDUPE_CAPACITY must be positive", ErrInvalid)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("%w: TICK_INTERVAL must be positive", ErrInvalid)
	}
	if c.TransportTimeout <= 0 {
		return fmt.Errorf("%w: TRANSPORT_TIMEOUT must be positive", ErrInvalid)
	}
	if c.DefaultConf < 0 || c.DefaultConf > 1 {
		return fmt.Errorf("%w: DEFAULT_CONFIDENCE must be within [0, 1]", ErrInvalid)
	}
	if c.TradingStartHour < 0 || c.TradingStartHour > 23 || c.TradingEndHour < 0 || c.TradingEndHour > 23 {
		return fmt.Errorf("%w: trading hours must be within 0-23", ErrInvalid)
	}
	return ValidateTiers(c.Tiers)
}

// ValidateTiers checks that multipliers never decrease as confidence rises.
// Confidence below the lowest tier sizes at 1.0, so no tier may go under it.
func ValidateTiers(tiers []Tier) error {
	for i, t := range tiers {
		if t.Multiplier < 1 {
			return fmt.Errorf("%w: tier %d multiplier %.2f is below the untiered 1.0", ErrInvalid, i, t.Multiplier)
		}
		for _, o := range tiers {
			if o.MinConfidence > t.MinConfidence && o.Multiplier < t.Multiplier {
				return fmt.Errorf("%w: tier multipliers must not decrease with confidence (%.2f -> %.2f)",
					ErrInvalid, t.MinConfidence, o.MinConfidence)
			}
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// getEnvPercent reads a percent value and returns it as a fraction.
func getEnvPercent(key string, def float64) float64 {
	return getEnvFloat(key, def) / 100
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parsePrices reads "EURUSD=1.1,XAUUSD=2000".
func parsePrices(val string) map[string]float64 {
	out := make(map[string]float64)
	for _, item := range splitAndTrim(val) {
		sym, price, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(price), 64)
		if err != nil || f <= 0 {
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(sym))] = f
	}
	return out
}
