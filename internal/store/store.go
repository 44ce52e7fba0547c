// Package store provides SQLite persistence for signal records, insights,
// the notification ledger, and digest reports. All tables carry tenant_id as
// a first-class column; no cross-tenant references exist.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/insightstack/assist-sentinel/internal/utils"
)

// Store wraps the SQLite database. Safe for concurrent use; write
// transactions rely on SQLite's single-writer serialization plus bounded
// busy retries.
type Store struct {
	db          *sql.DB
	logger      *slog.Logger
	busyRetries int
}

// Open creates a Store at the given database path, applying migrations.
// Use ":memory:" for tests.
func Open(path string, logger *slog.Logger, busyRetries int) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if busyRetries <= 0 {
		busyRetries = 3
	}

	connStr := path
	if path == ":memory:" {
		// Shared cache so every pooled connection sees the same database.
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, logger: logger, busyRetries: busyRetries}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS signal_records (
		tenant_id        TEXT NOT NULL,
		detector_kind    TEXT NOT NULL,
		grouping_key     TEXT NOT NULL,
		category         TEXT NOT NULL DEFAULT 'other',
		occurrence_count INTEGER NOT NULL DEFAULT 1,
		actor_ids        TEXT NOT NULL DEFAULT '[]',
		samples          TEXT NOT NULL DEFAULT '[]',
		first_seen       INTEGER NOT NULL,
		last_seen        INTEGER NOT NULL,
		status           TEXT NOT NULL DEFAULT 'active',
		PRIMARY KEY (tenant_id, detector_kind, grouping_key)
	);

	CREATE TABLE IF NOT EXISTS signal_events (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id     TEXT NOT NULL,
		detector_kind TEXT NOT NULL,
		grouping_key  TEXT NOT NULL,
		actor_id      TEXT,
		score         REAL,
		has_score     INTEGER NOT NULL DEFAULT 0,
		day           TEXT NOT NULL,
		observed_at   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_signal_events_key
		ON signal_events(tenant_id, detector_kind, grouping_key, observed_at);

	CREATE TABLE IF NOT EXISTS insights (
		id                 TEXT PRIMARY KEY,
		tenant_id          TEXT NOT NULL,
		source_kind        TEXT NOT NULL,
		source_id          TEXT NOT NULL,
		severity           INTEGER NOT NULL,
		category           TEXT NOT NULL DEFAULT '',
		title              TEXT NOT NULL,
		description        TEXT NOT NULL DEFAULT '',
		recommended_action TEXT NOT NULL DEFAULT '',
		evidence           TEXT NOT NULL DEFAULT '{}',
		status             TEXT NOT NULL DEFAULT 'new',
		created_at         INTEGER NOT NULL,
		updated_at         INTEGER NOT NULL,
		acknowledged_at    INTEGER,
		acknowledged_by    TEXT NOT NULL DEFAULT '',
		resolved_at        INTEGER,
		resolved_by        TEXT NOT NULL DEFAULT '',
		resolution_note    TEXT NOT NULL DEFAULT ''
	);
	CREATE UNIQUE INDEX IF NOT EXISTS uq_insights_active_source
		ON insights(tenant_id, source_kind, source_id)
		WHERE status IN ('new', 'acknowledged');
	CREATE INDEX IF NOT EXISTS idx_insights_tenant_updated
		ON insights(tenant_id, updated_at DESC);

	CREATE TABLE IF NOT EXISTS notification_ledger (
		tenant_id       TEXT NOT NULL,
		target_type     TEXT NOT NULL,
		target_id       TEXT NOT NULL,
		occurred_on     TEXT NOT NULL,
		kind            TEXT NOT NULL,
		status          TEXT NOT NULL,
		retry_count     INTEGER NOT NULL DEFAULT 0,
		channel         TEXT NOT NULL DEFAULT '',
		channel_target  TEXT NOT NULL DEFAULT '',
		error_detail    TEXT NOT NULL DEFAULT '',
		last_attempt_at INTEGER NOT NULL,
		PRIMARY KEY (tenant_id, target_type, target_id, occurred_on, kind)
	);

	CREATE TABLE IF NOT EXISTS reports (
		id             TEXT NOT NULL,
		tenant_id      TEXT NOT NULL,
		period_start   TEXT NOT NULL,
		period_end     TEXT NOT NULL,
		body           TEXT NOT NULL DEFAULT '',
		summary        TEXT NOT NULL DEFAULT '{}',
		insight_ids    TEXT NOT NULL DEFAULT '[]',
		status         TEXT NOT NULL DEFAULT 'draft',
		delivery_error TEXT NOT NULL DEFAULT '',
		generated_at   INTEGER NOT NULL,
		sent_at        INTEGER,
		PRIMARY KEY (tenant_id, period_start)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// withWriteTx runs fn inside a transaction, retrying the whole transaction a
// bounded number of times when SQLite reports lock contention. Exhausted
// retries surface as ErrWriteConflict.
func (s *Store) withWriteTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt <= s.busyRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 25 * time.Millisecond):
			}
		}

		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}
		lastErr = err
		s.logger.Debug("write transaction contended, retrying",
			slog.String("op", op), slog.Int("attempt", attempt+1))
	}
	return fmt.Errorf("%w: %s: %v", utils.ErrWriteConflict, op, lastErr)
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

// Timestamps are stored as UTC unix nanoseconds for lossless comparisons.

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullableNanos(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return toNanos(*t)
}

func scanNullableTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}
