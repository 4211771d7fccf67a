package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// SignalRecord is one signal and what the engine did with it.
type SignalRecord struct {
	ID         string    `json:"id"`
	SignalID   string    `json:"signal_id"`
	Source     string    `json:"source"`
	Instrument string    `json:"instrument"`
	Action     string    `json:"action"`
	Confidence float64   `json:"confidence"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason"`
	Detail     string    `json:"detail"`
	Comment    string    `json:"comment"`
	Ticket     int64     `json:"ticket"`
	Volume     float64   `json:"volume"`
	IssuedAt   time.Time `json:"issued_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// TradeRecord is one execution attempt reported back to the decision service.
type TradeRecord struct {
	ID             string    `json:"id"`
	SignalID       string    `json:"signal_id"`
	Action         string    `json:"action"`
	Ticket         int64     `json:"ticket"`
	Instrument     string    `json:"instrument"`
	Side           string    `json:"side"`
	Volume         float64   `json:"volume"`
	Success        bool      `json:"success"`
	ErrorCode      int       `json:"error_code"`
	Error          string    `json:"error"`
	ExecutionPrice float64   `json:"execution_price"`
	Slippage       float64   `json:"slippage"`
	CreatedAt      time.Time `json:"created_at"`
}

// RiskEvent is a governor halt.
type RiskEvent struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Equity    float64   `json:"equity"`
	Baseline  float64   `json:"baseline"`
	Drawdown  float64   `json:"drawdown"`
	Threshold float64   `json:"threshold"`
	CreatedAt time.Time `json:"created_at"`
}

// PositionEvent is a lifecycle step of a managed position.
type PositionEvent struct {
	ID         string    `json:"id"`
	Ticket     int64     `json:"ticket"`
	Event      string    `json:"event"` // opened, closed, stop_moved
	Instrument string    `json:"instrument"`
	Side       string    `json:"side"`
	Volume     float64   `json:"volume"`
	Price      float64   `json:"price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

func newID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

// SignalInsert builds the statement that journals r.
func SignalInsert(r SignalRecord) (string, []any) {
	return `
		INSERT INTO signals (
			id, signal_id, source, instrument, action, confidence, outcome, reason, detail, comment, ticket, volume, issued_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		[]any{newID(r.ID), r.SignalID, r.Source, r.Instrument, r.Action, r.Confidence, r.Outcome, r.Reason, r.Detail, r.Comment, r.Ticket, r.Volume, nullTime(r.IssuedAt), stamp(r.CreatedAt)}
}

// TradeInsert builds the statement that journals r.
func TradeInsert(r TradeRecord) (string, []any) {
	return `
		INSERT INTO trade_results (
			id, signal_id, action, ticket, instrument, side, volume, success, error_code, error, execution_price, slippage, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		[]any{newID(r.ID), r.SignalID, r.Action, r.Ticket, r.Instrument, r.Side, r.Volume, r.Success, r.ErrorCode, r.Error, r.ExecutionPrice, r.Slippage, stamp(r.CreatedAt)}
}

// RiskEventInsert builds the statement that journals e.
func RiskEventInsert(e RiskEvent) (string, []any) {
	return `
		INSERT INTO risk_events (id, kind, equity, baseline, drawdown, threshold, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		[]any{newID(e.ID), e.Kind, e.Equity, e.Baseline, e.Drawdown, e.Threshold, stamp(e.CreatedAt)}
}

// PositionEventInsert builds the statement that journals e.
func PositionEventInsert(e PositionEvent) (string, []any) {
	return `
		INSERT INTO position_events (
			id, ticket, event, instrument, side, volume, price, stop_loss, take_profit, reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		[]any{newID(e.ID), e.Ticket, e.Event, e.Instrument, e.Side, e.Volume, e.Price, e.StopLoss, e.TakeProfit, e.Reason, stamp(e.CreatedAt)}
}

// InsertSignal writes one signal record immediately.
func (d *Database) InsertSignal(ctx context.Context, r SignalRecord) error {
	q, args := SignalInsert(r)
	_, err := d.DB.ExecContext(ctx, q, args...)
	return err
}

// InsertTrade writes one trade result immediately.
func (d *Database) InsertTrade(ctx context.Context, r TradeRecord) error {
	q, args := TradeInsert(r)
	_, err := d.DB.ExecContext(ctx, q, args...)
	return err
}

// InsertRiskEvent writes one halt immediately.
func (d *Database) InsertRiskEvent(ctx context.Context, e RiskEvent) error {
	q, args := RiskEventInsert(e)
	_, err := d.DB.ExecContext(ctx, q, args...)
	return err
}

// InsertPositionEvent writes one lifecycle step immediately.
func (d *Database) InsertPositionEvent(ctx context.Context, e PositionEvent) error {
	q, args := PositionEventInsert(e)
	_, err := d.DB.ExecContext(ctx, q, args...)
	return err
}
