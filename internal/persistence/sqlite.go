// Package persistence is the SQLite-backed durability layer: trade
// entries/exits and the daily P/L ledger. GetDailyStat reads a day's
// row back; the agent does not reload it into the risk guardian at
// startup.
package persistence

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Sink wraps the database connection and exposes the agent's
// persistence operations.
type Sink struct {
	db *sql.DB
}

// Open connects to path (created if absent), running migrations
// before returning.
func Open(path string) (*Sink, error) {
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Sink{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info().Str("path", path).Msg("persistence: database initialized")
	return s, nil
}

// Close closes the underlying connection.
func (s *Sink) Close() error { return s.db.Close() }

func (s *Sink) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS contracts (
			contract_id     INTEGER PRIMARY KEY,
			direction       TEXT NOT NULL,
			buy_price       TEXT NOT NULL,
			stake           TEXT NOT NULL,
			trigger_reason  TEXT NOT NULL DEFAULT '',
			opened_at       DATETIME NOT NULL,
			is_sold         INTEGER NOT NULL DEFAULT 0,
			sell_price      TEXT,
			profit          TEXT,
			close_reason    TEXT,
			closed_at       DATETIME,
			updated_at      DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contracts_opened_at ON contracts(opened_at)`,
		`CREATE TABLE IF NOT EXISTS daily_stats (
			date          TEXT PRIMARY KEY,
			realized_pnl  TEXT NOT NULL,
			trade_count   INTEGER NOT NULL,
			updated_at    DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// RecordEntry upserts a contract's opening state. Idempotent by
// contract_id, so re-delivering the same fill event after a reconnect
// never creates a duplicate row.
func (s *Sink) RecordEntry(contractID int64, direction string, buyPrice, stake decimal.Decimal, triggerReason string, openedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO contracts (contract_id, direction, buy_price, stake, trigger_reason, opened_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(contract_id) DO UPDATE SET
			direction = excluded.direction,
			buy_price = excluded.buy_price,
			stake = excluded.stake,
			trigger_reason = excluded.trigger_reason,
			opened_at = excluded.opened_at,
			updated_at = CURRENT_TIMESTAMP
	`, contractID, direction, buyPrice.String(), stake.String(), triggerReason, openedAt)
	return err
}

// RecordExit updates a contract's row with its closing state. A
// contract with no entry row is left unrecorded.
func (s *Sink) RecordExit(contractID int64, sellPrice, profit decimal.Decimal, closeReason string, closedAt time.Time) error {
	_, err := s.db.Exec(`
		UPDATE contracts SET
			is_sold = 1,
			sell_price = ?,
			profit = ?,
			close_reason = ?,
			closed_at = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE contract_id = ?
	`, sellPrice.String(), profit.String(), closeReason, closedAt, contractID)
	return err
}

// UpsertDailyStat writes today's accumulated realized P/L, replacing
// whatever was last recorded for that date.
func (s *Sink) UpsertDailyStat(date string, realizedPnL decimal.Decimal, tradeCount int) error {
	_, err := s.db.Exec(`
		INSERT INTO daily_stats (date, realized_pnl, trade_count) VALUES (?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			realized_pnl = excluded.realized_pnl,
			trade_count = excluded.trade_count,
			updated_at = CURRENT_TIMESTAMP
	`, date, realizedPnL.String(), tradeCount)
	return err
}

// DailyStat is a row from the daily_stats table.
type DailyStat struct {
	Date        string
	RealizedPnL decimal.Decimal
	TradeCount  int
}

// GetDailyStat loads a single day's accumulated stat, for recovering
// the daily cap guard's state across a restart. Returns a zero-value
// stat (no error) if the date has no rows yet.
func (s *Sink) GetDailyStat(date string) (DailyStat, error) {
	var raw string
	var count int
	err := s.db.QueryRow(`SELECT realized_pnl, trade_count FROM daily_stats WHERE date = ?`, date).Scan(&raw, &count)
	if err == sql.ErrNoRows {
		return DailyStat{Date: date}, nil
	}
	if err != nil {
		return DailyStat{}, err
	}

	pnl, err := decimal.NewFromString(raw)
	if err != nil {
		return DailyStat{}, err
	}
	return DailyStat{Date: date, RealizedPnL: pnl, TradeCount: count}, nil
}
