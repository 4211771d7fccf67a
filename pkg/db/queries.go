package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const defaultLimit = 100

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultLimit
	}
	return limit
}

// Summary aggregates the journal for the status endpoint.
type Summary struct {
	Signals      map[string]int `json:"signals"` // by outcome
	Trades       int            `json:"trades"`
	TradeErrors  int            `json:"trade_errors"`
	Halts        int            `json:"halts"`
	LastHaltKind string         `json:"last_halt_kind,omitempty"`
	LastHaltAt   *time.Time     `json:"last_halt_at,omitempty"`
}

// Summary counts journal rows since the given time. A zero since counts everything.
func (d *Database) Summary(ctx context.Context, since time.Time) (Summary, error) {
	s := Summary{Signals: make(map[string]int)}
	from := since.UTC()

	rows, err := d.DB.QueryContext(ctx, `
		SELECT outcome, COUNT(*) FROM signals
		WHERE created_at >= ?
		GROUP BY outcome`, from)
	if err != nil {
		return s, fmt.Errorf("count signals: %w", err)
	}
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			rows.Close()
			return s, fmt.Errorf("scan signal count: %w", err)
		}
		s.Signals[outcome] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return s, err
	}

	err = d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0)
		FROM trade_results WHERE created_at >= ?`, from).Scan(&s.Trades, &s.TradeErrors)
	if err != nil {
		return s, fmt.Errorf("count trades: %w", err)
	}

	if err := d.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM risk_events WHERE created_at >= ?`, from).Scan(&s.Halts); err != nil {
		return s, fmt.Errorf("count halts: %w", err)
	}
	if s.Halts > 0 {
		var at time.Time
		err := d.DB.QueryRowContext(ctx, `
			SELECT kind, created_at FROM risk_events
			WHERE created_at >= ?
			ORDER BY created_at DESC LIMIT 1`, from).Scan(&s.LastHaltKind, &at)
		if err != nil && err != sql.ErrNoRows {
			return s, fmt.Errorf("last halt: %w", err)
		}
		if err == nil {
			s.LastHaltAt = &at
		}
	}
	return s, nil
}

// RecentSignals returns the newest signal records first.
func (d *Database) RecentSignals(ctx context.Context, limit int) ([]SignalRecord, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, signal_id, source, COALESCE(instrument, ''), action, confidence, outcome,
		       COALESCE(reason, ''), COALESCE(detail, ''), COALESCE(comment, ''), ticket, volume, issued_at, created_at
		FROM signals
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var res []SignalRecord
	for rows.Next() {
		var (
			r      SignalRecord
			issued sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.SignalID, &r.Source, &r.Instrument, &r.Action, &r.Confidence, &r.Outcome,
			&r.Reason, &r.Detail, &r.Comment, &r.Ticket, &r.Volume, &issued, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		if issued.Valid {
			r.IssuedAt = issued.Time
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// RecentTrades returns the newest trade results first.
func (d *Database) RecentTrades(ctx context.Context, limit int) ([]TradeRecord, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, COALESCE(signal_id, ''), action, ticket, COALESCE(instrument, ''), COALESCE(side, ''), volume,
		       success, error_code, COALESCE(error, ''), execution_price, slippage, created_at
		FROM trade_results
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var res []TradeRecord
	for rows.Next() {
		var r TradeRecord
		if err := rows.Scan(&r.ID, &r.SignalID, &r.Action, &r.Ticket, &r.Instrument, &r.Side, &r.Volume,
			&r.Success, &r.ErrorCode, &r.Error, &r.ExecutionPrice, &r.Slippage, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// RiskEvents returns the newest halts first.
func (d *Database) RiskEvents(ctx context.Context, limit int) ([]RiskEvent, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, kind, equity, baseline, drawdown, threshold, created_at
		FROM risk_events
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query risk events: %w", err)
	}
	defer rows.Close()

	var res []RiskEvent
	for rows.Next() {
		var e RiskEvent
		if err := rows.Scan(&e.ID, &e.Kind, &e.Equity, &e.Baseline, &e.Drawdown, &e.Threshold, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan risk event: %w", err)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// PositionHistory returns the lifecycle of one ticket, oldest first.
func (d *Database) PositionHistory(ctx context.Context, ticket int64) ([]PositionEvent, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, ticket, event, instrument, side, volume, price, stop_loss, take_profit, COALESCE(reason, ''), created_at
		FROM position_events
		WHERE ticket = ?
		ORDER BY created_at ASC, rowid ASC`, ticket)
	if err != nil {
		return nil, fmt.Errorf("query position events: %w", err)
	}
	defer rows.Close()

	var res []PositionEvent
	for rows.Next() {
		var e PositionEvent
		if err := rows.Scan(&e.ID, &e.Ticket, &e.Event, &e.Instrument, &e.Side, &e.Volume, &e.Price,
			&e.StopLoss, &e.TakeProfit, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan position event: %w", err)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
