// Package monitor turns the engine's event stream into counters, latency
// histograms and operator alerts.
package monitor

import (
	"context"
	"log/slog"
	"sync"

	"signal-executor/internal/engine"
	"signal-executor/internal/events"
	"signal-executor/internal/order"
	"signal-executor/internal/risk"
	"signal-executor/internal/session"
)

// Monitor watches events, maintains metrics and emits alerts.
type Monitor struct {
	bus     *events.Bus
	metrics *Metrics
	rules   []Rule
	sinks   []AlertSink
	log     *slog.Logger

	mu     sync.Mutex
	recent []Alert
}

const recentAlerts = 50

// New builds a monitor. With no sinks, alerts go to the log.
func New(bus *events.Bus, rules []Rule, logger *slog.Logger, sinks ...AlertSink) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "monitor")
	if len(sinks) == 0 {
		sinks = []AlertSink{LogSink{Logger: logger}}
	}
	return &Monitor{
		bus:     bus,
		metrics: NewMetrics(),
		rules:   rules,
		sinks:   sinks,
		log:     logger,
	}
}

// Metrics exposes the underlying metrics.
func (m *Monitor) Metrics() *Metrics { return m.metrics }

// Snapshot returns the metrics including the bus drop counter.
func (m *Monitor) Snapshot() Snapshot {
	s := m.metrics.Snapshot()
	s.BusDropped = m.bus.Dropped()
	return s
}

// Alerts returns the most recent alerts, oldest first.
func (m *Monitor) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Alert(nil), m.recent...)
}

// Run consumes the bus until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	if m.bus == nil {
		m.log.Warn("monitor has no event bus; skipping")
		return
	}
	stream, unsub := m.bus.SubscribeAll(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-stream:
			if !ok {
				return
			}
			m.Observe(ctx, msg)
		}
	}
}

// Observe updates metrics for one message and evaluates the rules.
func (m *Monitor) Observe(ctx context.Context, msg events.Message) {
	mt := m.metrics
	switch p := msg.Payload.(type) {
	case engine.TickReport:
		mt.ticks.Add(1)
		mt.TickLatency.RecordDuration(p.Duration)
		if p.Recovered {
			mt.recoveredPanics.Add(1)
		}
	case engine.SignalOutcome:
		mt.signals.Add(1)
		switch p.Outcome {
		case engine.OutcomeExecuted:
			mt.executed.Add(1)
		case engine.OutcomeRejected:
			mt.rejectedFor(p.Reason)
		case engine.OutcomeFailed:
			mt.failed.Add(1)
		}
		if !p.Signal.ReceivedAt.IsZero() && p.Time.After(p.Signal.ReceivedAt) {
			mt.SignalLatency.RecordDuration(p.Time.Sub(p.Signal.ReceivedAt))
		}
	case order.TradeResult:
		if p.Success {
			mt.ordersPlaced.Add(1)
		} else {
			mt.ordersFailed.Add(1)
		}
	case order.StopMove:
		mt.stopsMoved.Add(1)
	case order.CloseEvent:
		mt.closes.Add(1)
	case risk.Breach:
		mt.halts.Add(1)
	case session.Status:
		if p.State == session.StateDisconnected {
			mt.disconnects.Add(1)
		}
	}

	for _, r := range m.rules {
		if a, ok := r.Check(msg); ok {
			m.raise(ctx, a)
		}
	}
}

func (m *Monitor) raise(ctx context.Context, a Alert) {
	m.metrics.alerts.Add(1)
	m.mu.Lock()
	m.recent = append(m.recent, a)
	if len(m.recent) > recentAlerts {
		m.recent = m.recent[len(m.recent)-recentAlerts:]
	}
	m.mu.Unlock()

	for _, sink := range m.sinks {
		if err := sink.Send(ctx, a); err != nil {
			m.log.Warn("alert delivery failed", "rule", a.Rule, "err", err)
		}
	}
}
