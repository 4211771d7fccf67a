package transport

import (
	"fmt"
	"log/slog"

	"signal-executor/internal/events"
	"signal-executor/internal/session"
	"signal-executor/internal/signal"
	"signal-executor/pkg/config"
)

// Version is reported in EA_INFO.
var Version = "dev"

// FromConfig builds the transport selected by SIGNAL_TRANSPORT.
func FromConfig(cfg *config.Config, instanceID string, bus *events.Bus, logger *slog.Logger) (Transport, error) {
	opts := Options{
		Normalizer: signal.Normalizer{
			Policy:        cfg.ConfidencePolicy,
			Default:       cfg.DefaultConf,
			MinConfidence: cfg.MinConfidence,
		},
		DedupeCapacity: cfg.DedupeCapacity,
		Timeout:        cfg.TransportTimeout,
		Logger:         logger,
	}

	switch cfg.Transport {
	case config.TransportBatch:
		return NewBatch(cfg.BatchSource, cfg.BatchInterval, opts)

	case config.TransportHTTP:
		return NewHTTPPull(HTTPConfig{
			URL:         cfg.SignalURL,
			ResultURL:   cfg.ResultURL,
			Secret:      cfg.SignalAPISecret,
			InstanceID:  instanceID,
			StrategyTag: cfg.StrategyTag,
			Interval:    cfg.PollInterval,
		}, opts)

	case config.TransportStream:
		sess := session.New(session.Config{
			Addr:              cfg.StreamAddr,
			ReconnectInterval: cfg.ReconnectDelay,
			HeartbeatInterval: cfg.HeartbeatEvery,
			StaleAfter:        cfg.StaleAfter,
			IOTimeout:         cfg.TransportTimeout,
			MaxFrameBytes:     cfg.MaxFrameBytes,
			Info: session.Info{
				InstanceID:  instanceID,
				Name:        cfg.InstanceName,
				StrategyTag: cfg.StrategyTag,
				Version:     Version,
			},
		}, bus, logger)
		return NewStream(sess, opts)

	default:
		return nil, fmt.Errorf("unsupported transport: %s", cfg.Transport)
	}
}
