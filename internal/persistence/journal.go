package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"signal-executor/internal/engine"
	"signal-executor/internal/events"
	"signal-executor/internal/order"
	"signal-executor/internal/risk"
	"signal-executor/pkg/db"
)

// Journal mirrors engine events into the SQLite journal.
type Journal struct {
	writer *BatchWriter
	bus    *events.Bus
	log    *slog.Logger
}

// NewJournal wraps a batch writer over database.
func NewJournal(database *db.Database, bus *events.Bus, maxBatch int, interval time.Duration, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		writer: NewBatchWriter(database, maxBatch, interval, logger),
		bus:    bus,
		log:    logger.With("component", "journal"),
	}
}

// Run consumes bus events until ctx is done, then flushes and stops the writer.
func (j *Journal) Run(ctx context.Context) {
	msgs, unsub := j.bus.SubscribeAll(512)
	defer func() {
		unsub()
		if err := j.writer.Close(); err != nil {
			j.log.Warn("journal close failed", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			// Drain what is already queued before stopping.
			for {
				select {
				case msg, ok := <-msgs:
					if !ok {
						return
					}
					j.Record(msg)
				default:
					return
				}
			}
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			j.Record(msg)
		}
	}
}

// Record queues the journal row for one bus message. Topics without a
// table are ignored.
func (j *Journal) Record(msg events.Message) {
	switch p := msg.Payload.(type) {
	case engine.SignalOutcome:
		q, args := db.SignalInsert(db.SignalRecord{
			SignalID:   p.Signal.ID,
			Source:     p.Signal.Source,
			Instrument: p.Signal.Instrument,
			Action:     string(p.Signal.Action),
			Confidence: p.Signal.Confidence,
			Outcome:    p.Outcome,
			Reason:     p.Reason,
			Detail:     p.Detail,
			Comment:    p.Signal.Comment,
			Ticket:     p.Ticket,
			Volume:     p.Volume,
			IssuedAt:   p.Signal.IssuedAt,
			CreatedAt:  p.Time,
		})
		j.writer.WriteQuery("signals", q, args...)

	case order.TradeResult:
		q, args := db.TradeInsert(db.TradeRecord{
			SignalID:       p.SignalID,
			Action:         p.Action,
			Ticket:         p.Ticket,
			Instrument:     p.Instrument,
			Side:           string(p.Side),
			Volume:         p.Volume,
			Success:        p.Success,
			ErrorCode:      p.ErrorCode,
			Error:          p.Error,
			ExecutionPrice: p.ExecutionPrice,
			Slippage:       p.Slippage,
			CreatedAt:      p.Time,
		})
		j.writer.WriteQuery("trade_results", q, args...)

	case risk.Breach:
		q, args := db.RiskEventInsert(db.RiskEvent{
			Kind:      p.Kind,
			Equity:    p.Equity,
			Baseline:  p.Baseline,
			Drawdown:  p.Drawdown,
			Threshold: p.Threshold,
			CreatedAt: p.At,
		})
		j.writer.WriteQuery("risk_events", q, args...)
		// Halts must reach disk even if the process dies next.
		if err := j.writer.Flush(); err != nil {
			j.log.Error("risk event not journaled", "kind", p.Kind, "err", err)
		}

	case order.Position:
		j.position("opened", p, p.OpenPrice, "", p.OpenedAt)

	case order.CloseEvent:
		j.position("closed", p.Position, 0, p.Reason, p.Time)

	case order.StopMove:
		q, args := db.PositionEventInsert(db.PositionEvent{
			Ticket:     p.Ticket,
			Event:      "stop_moved",
			Instrument: p.Instrument,
			StopLoss:   p.To,
			Reason:     fmt.Sprintf("trailing from %g", p.From),
			CreatedAt:  p.Time,
		})
		j.writer.WriteQuery("position_events", q, args...)
	}
}

func (j *Journal) position(event string, p order.Position, price float64, reason string, at time.Time) {
	q, args := db.PositionEventInsert(db.PositionEvent{
		Ticket:     p.Ticket,
		Event:      event,
		Instrument: p.Instrument,
		Side:       string(p.Side),
		Volume:     p.Volume,
		Price:      price,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		Reason:     reason,
		CreatedAt:  at,
	})
	j.writer.WriteQuery("position_events", q, args...)
}

// Flush forces buffered rows to disk.
func (j *Journal) Flush() error { return j.writer.Flush() }

// Metrics reports the writer's counters.
func (j *Journal) Metrics() BatchWriterMetrics { return j.writer.Metrics() }
