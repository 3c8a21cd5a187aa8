// Package storage handles persistence of the seen-set: the slot keys
// observed at the end of the last successful check.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	_ "github.com/lib/pq"    // postgres driver
	_ "modernc.org/sqlite" // sqlite driver
)

// Dialect selects placeholder syntax for the SQL store.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) driver() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

func (d Dialect) placeholders(n int) string {
	ps := make([]string, n)
	for i := range ps {
		if d == Postgres {
			ps[i] = fmt.Sprintf("$%d", i+1)
		} else {
			ps[i] = "?"
		}
	}
	return strings.Join(ps, ", ")
}

const schema = `CREATE TABLE IF NOT EXISTS seen_slots (
	id TEXT PRIMARY KEY,
	slot_key TEXT NOT NULL UNIQUE
)`

// SQLStore keeps the seen-set in a single table, one row per key.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// NewSQL wraps an open database. Call Migrate before first use.
func NewSQL(db *sql.DB, dialect Dialect, logger *slog.Logger) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, logger: logger}
}

// Open connects to dsn with the driver for dialect and creates the table.
// For SQLite, dsn is a file path.
func Open(ctx context.Context, dialect Dialect, dsn string, logger *slog.Logger) (*SQLStore, error) {
	db, err := sql.Open(dialect.driver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect.driver(), err)
	}
	if dialect == SQLite {
		// One writer at a time; avoids SQLITE_BUSY between pool connections.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect.driver(), err)
	}

	s := NewSQL(db, dialect, logger)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the seen_slots table if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create seen_slots: %w", err)
	}
	return nil
}

// Load returns all stored keys. An uninitialized store yields an empty set.
func (s *SQLStore) Load(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT slot_key FROM seen_slots")
	if err != nil {
		return nil, fmt.Errorf("query seen_slots: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("Failed to close rows", "error", closeErr)
		}
	}()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan seen_slots: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate seen_slots: %w", err)
	}
	return keys, nil
}

// Replace discards the stored set and stores keys in its place, in one transaction.
// Duplicate keys are stored once.
func (s *SQLStore) Replace(ctx context.Context, keys []string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("Failed to roll back seen-set replace", "error", rbErr)
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM seen_slots"); err != nil {
		return fmt.Errorf("clear seen_slots: %w", err)
	}

	insert := "INSERT INTO seen_slots (id, slot_key) VALUES (" + s.dialect.placeholders(2) + ")"
	for _, key := range unique(keys) {
		if _, err = tx.ExecContext(ctx, insert, uuid.NewString(), key); err != nil {
			return fmt.Errorf("insert %q: %w", key, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit seen-set: %w", err)
	}

	s.logger.Info("Seen-set replaced", "backend", s.dialect.driver(), "count", len(keys))
	return nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func unique(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
