// Package store provides the SQLite cache holding synced ZenMoney entities.
//
// The cache is server-authoritative: the sync engine is its only writer,
// analytics consumers only read. The database runs embedded with WAL mode,
// and every upsert and delete call is one transaction, so readers never
// observe a half-applied batch.
//
// Layout:
//   - instruments, companies, users: integer-keyed reference data
//   - accounts, tags, merchants, transactions, reminders, reminder_markers:
//     UUID-keyed user data
//   - budgets: composite key (tag, date, user)
//   - sync_meta: flat key/value sync bookkeeping (watermark, last sync time)
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrStorage marks any failure of the underlying persistence layer.
// Callers can test for it with errors.Is regardless of the operation
// that surfaced it.
var ErrStorage = errors.New("storage failure")

// storageErr wraps a driver error with operation context under ErrStorage.
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}

// Store wraps the SQLite connection with cache-specific operations.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the cache database at path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// The caller must Close() when done. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, storageErr("open database", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, storageErr("ping database", err)
	}

	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	s := &Store{conn: conn, path: path}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.conn.Exec(p); err != nil {
			_ = s.Close()
			return nil, storageErr(p, err)
		}
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection. Analytics consumers use
// it for read-only queries outside the store's own surface.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return storageErr("close database", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates all tables and indexes. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	-- Reference data (server-global, integer keys)
	CREATE TABLE IF NOT EXISTS instruments (
		id          INTEGER PRIMARY KEY,
		title       TEXT,
		short_title TEXT,  -- 'USD', 'RUB', 'EUR'
		symbol      TEXT,
		rate        REAL,  -- cost of 1 unit in the reference currency
		changed     INTEGER
	);

	CREATE TABLE IF NOT EXISTS companies (
		id      INTEGER PRIMARY KEY,
		title   TEXT,
		country TEXT,
		changed INTEGER
	);

	CREATE TABLE IF NOT EXISTS users (
		id       INTEGER PRIMARY KEY,
		login    TEXT,
		currency INTEGER,  -- home currency (instruments.id)
		parent   INTEGER,  -- NULL for the primary user
		changed  INTEGER
	);

	-- User data (UUID keys)
	CREATE TABLE IF NOT EXISTS accounts (
		id           TEXT PRIMARY KEY,
		title        TEXT,
		type         TEXT,     -- cash, ccard, checking, loan, deposit, emoney, debt
		instrument   INTEGER,
		company      INTEGER,
		balance      REAL,
		credit_limit REAL,
		in_balance   INTEGER,  -- counted in aggregate balance
		savings      INTEGER,
		archive      INTEGER,
		user         INTEGER,
		role         INTEGER,
		changed      INTEGER
	);

	CREATE TABLE IF NOT EXISTS tags (
		id             TEXT PRIMARY KEY,
		title          TEXT,
		parent         TEXT,  -- tags.id, at most one level of nesting
		show_income    INTEGER,
		show_outcome   INTEGER,
		budget_income  INTEGER,
		budget_outcome INTEGER,
		required       INTEGER,
		user           INTEGER,
		changed        INTEGER
	);

	CREATE TABLE IF NOT EXISTS merchants (
		id      TEXT PRIMARY KEY,
		title   TEXT,
		user    INTEGER,
		changed INTEGER
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id                    TEXT PRIMARY KEY,
		date                  TEXT,  -- YYYY-MM-DD
		user                  INTEGER,
		deleted               INTEGER DEFAULT 0,
		hold                  INTEGER,
		income                REAL DEFAULT 0,
		income_instrument     INTEGER,
		income_account        TEXT,
		outcome               REAL DEFAULT 0,
		outcome_instrument    INTEGER,
		outcome_account       TEXT,
		tag                   TEXT,  -- JSON array of tag UUIDs, order preserved
		merchant              TEXT,
		payee                 TEXT,
		original_payee        TEXT,
		comment               TEXT,
		mcc                   INTEGER,
		op_income             REAL,
		op_income_instrument  INTEGER,
		op_outcome            REAL,
		op_outcome_instrument INTEGER,
		latitude              REAL,
		longitude             REAL,
		reminder_marker       TEXT,
		created               INTEGER,
		changed               INTEGER
	);

	CREATE TABLE IF NOT EXISTS budgets (
		user         INTEGER,
		tag          TEXT NOT NULL DEFAULT '',  -- tags.id, '' for uncategorized
		date         TEXT,  -- first day of month
		income       REAL,
		income_lock  INTEGER,
		outcome      REAL,
		outcome_lock INTEGER,
		changed      INTEGER,
		PRIMARY KEY (tag, date, user)
	);

	CREATE TABLE IF NOT EXISTS reminders (
		id              TEXT PRIMARY KEY,
		user            INTEGER,
		interval        TEXT,  -- day, week, month, year, or NULL for one-off
		step            INTEGER,
		start_date      TEXT,
		end_date        TEXT,
		income          REAL,
		outcome         REAL,
		income_account  TEXT,
		outcome_account TEXT,
		tag             TEXT,
		merchant        TEXT,
		payee           TEXT,
		comment         TEXT,
		notify          INTEGER,
		changed         INTEGER
	);

	CREATE TABLE IF NOT EXISTS reminder_markers (
		id              TEXT PRIMARY KEY,
		user            INTEGER,
		reminder        TEXT,
		date            TEXT,
		state           TEXT,  -- planned, processed, deleted
		income          REAL,
		outcome         REAL,
		income_account  TEXT,
		outcome_account TEXT,
		tag             TEXT,
		merchant        TEXT,
		payee           TEXT,
		comment         TEXT,
		changed         INTEGER
	);

	CREATE TABLE IF NOT EXISTS sync_meta (
		key   TEXT PRIMARY KEY,
		value TEXT
	);

	-- Indexes for analytics reads
	CREATE INDEX IF NOT EXISTS idx_accounts_type ON accounts(type);
	CREATE INDEX IF NOT EXISTS idx_accounts_archive ON accounts(archive);
	CREATE INDEX IF NOT EXISTS idx_tags_parent ON tags(parent);
	CREATE INDEX IF NOT EXISTS idx_tx_date ON transactions(date);
	CREATE INDEX IF NOT EXISTS idx_tx_deleted ON transactions(deleted);
	CREATE INDEX IF NOT EXISTS idx_tx_income_account ON transactions(income_account);
	CREATE INDEX IF NOT EXISTS idx_tx_outcome_account ON transactions(outcome_account);
	CREATE INDEX IF NOT EXISTS idx_budgets_date ON budgets(date);
	CREATE INDEX IF NOT EXISTS idx_rm_state ON reminder_markers(state);
	CREATE INDEX IF NOT EXISTS idx_rm_date ON reminder_markers(date);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return storageErr("initialize schema", err)
	}
	return nil
}

// boolInt converts a bool to the 0/1 integer the schema stores.
func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
