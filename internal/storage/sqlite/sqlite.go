// Package sqlite is the embedded sample store for single-binary deployments.
// It implements the same reader and writer contracts as the Postgres store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashita-ai/vitals/internal/model"
	"github.com/ashita-ai/vitals/internal/storage"
	"github.com/ashita-ai/vitals/migrations"
)

// DB is a SQLite-backed sample store.
type DB struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and applies the
// schema migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create db dir: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	// between the buffer flush and retention deletes.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	db := &DB{db: sqlDB, logger: logger}
	if err := db.runMigrations(ctx, migrations.SQLite()); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) runMigrations(ctx context.Context, migrationsFS fs.FS) error {
	if _, err := db.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)`); err != nil {
		return fmt.Errorf("sqlite: create schema_migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("sqlite: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		var exists int
		err := db.db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = ?`, name).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("sqlite: check migration %s: %w", name, err)
		}

		content, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return fmt.Errorf("sqlite: read migration %s: %w", name, err)
		}
		db.logger.Info("running migration", "file", name)

		tx, err := db.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("sqlite: begin migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: execute migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, name, time.Now().UnixNano()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("sqlite: commit migration %s: %w", name, err)
		}
	}
	return nil
}

// InsertSamples writes a batch in one transaction.
func (db *DB) InsertSamples(ctx context.Context, samples []model.RawVitalSample) (int64, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vital_samples (metric, value, page_path, page_title, device_class, session_id, captured_at, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now()
	for _, s := range samples {
		received := s.ReceivedAt
		if received.IsZero() {
			received = now
		}
		if _, err := stmt.ExecContext(ctx,
			string(s.Metric), s.Value, s.PagePath, s.PageTitle, string(s.DeviceClass),
			s.SessionID, s.Timestamp.UnixNano(), received.UnixNano(),
		); err != nil {
			return 0, fmt.Errorf("sqlite: insert sample: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit insert: %w", err)
	}
	return int64(len(samples)), nil
}

// SamplesInWindow returns the samples received in [start, end), ordered by
// receive time.
func (db *DB) SamplesInWindow(ctx context.Context, start, end time.Time) ([]model.RawVitalSample, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT metric, value, page_path, page_title, device_class, session_id, captured_at, received_at
		FROM vital_samples
		WHERE received_at >= ? AND received_at < ?
		ORDER BY received_at, id`,
		start.UnixNano(), end.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query window: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.RawVitalSample
	for rows.Next() {
		var (
			s                  model.RawVitalSample
			metric, device     string
			captured, received int64
		)
		if err := rows.Scan(&metric, &s.Value, &s.PagePath, &s.PageTitle, &device, &s.SessionID, &captured, &received); err != nil {
			return nil, fmt.Errorf("sqlite: scan sample: %w", err)
		}
		s.Metric = model.Metric(metric)
		s.DeviceClass = model.DeviceClass(device)
		s.Timestamp = time.Unix(0, captured).UTC()
		s.ReceivedAt = time.Unix(0, received).UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate window: %w", err)
	}
	return out, nil
}

// PurgeBefore deletes samples received before cutoff.
func (db *DB) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.db.ExecContext(ctx, `DELETE FROM vital_samples WHERE received_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge samples: %w", err)
	}
	return res.RowsAffected()
}

// OldestReceivedAt returns the receive time of the oldest stored sample, or
// storage.ErrNotFound when the table is empty.
func (db *DB) OldestReceivedAt(ctx context.Context) (time.Time, error) {
	var ns sql.NullInt64
	if err := db.db.QueryRowContext(ctx, `SELECT min(received_at) FROM vital_samples`).Scan(&ns); err != nil {
		return time.Time{}, fmt.Errorf("sqlite: oldest sample: %w", err)
	}
	if !ns.Valid {
		return time.Time{}, storage.ErrNotFound
	}
	return time.Unix(0, ns.Int64).UTC(), nil
}

// Ping checks the database is usable.
func (db *DB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// Close closes the database.
func (db *DB) Close() error {
	return db.db.Close()
}
