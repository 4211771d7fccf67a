package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS signals (
    id TEXT PRIMARY KEY,
    signal_id TEXT NOT NULL,
    source TEXT NOT NULL,
    instrument TEXT,
    action TEXT NOT NULL,
    confidence REAL DEFAULT 0,
    outcome TEXT NOT NULL,
    reason TEXT,
    detail TEXT,
    ticket INTEGER DEFAULT 0,
    volume REAL DEFAULT 0,
    issued_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_signals_signal_id ON signals(signal_id);

CREATE TABLE IF NOT EXISTS trade_results (
    id TEXT PRIMARY KEY,
    signal_id TEXT,
    action TEXT NOT NULL,
    ticket INTEGER DEFAULT 0,
    instrument TEXT,
    side TEXT,
    volume REAL DEFAULT 0,
    success INTEGER NOT NULL,
    error_code INTEGER DEFAULT 0,
    error TEXT,
    execution_price REAL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_trade_results_ticket ON trade_results(ticket);

CREATE TABLE IF NOT EXISTS risk_events (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    equity REAL NOT NULL,
    baseline REAL NOT NULL,
    drawdown REAL NOT NULL,
    threshold REAL NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS position_events (
    id TEXT PRIMARY KEY,
    ticket INTEGER NOT NULL,
    event TEXT NOT NULL,
    instrument TEXT NOT NULL,
    side TEXT NOT NULL,
    volume REAL NOT NULL,
    price REAL DEFAULT 0,
    stop_loss REAL DEFAULT 0,
    take_profit REAL DEFAULT 0,
    reason TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_position_events_ticket ON position_events(ticket);
`

// ApplyMigrations creates the journal tables and adds columns introduced
// after the first release. Safe to run on every start.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Idempotent column additions for journals written by older builds.
	if err := ensureColumn(d.DB, "trade_results", "slippage", "REAL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "signals", "comment", "TEXT"); err != nil {
		return err
	}
	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
