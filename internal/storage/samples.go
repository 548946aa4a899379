package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/vitals/internal/model"
)

var sampleColumns = []string{
	"metric", "value", "page_path", "page_title", "device_class",
	"session_id", "captured_at", "received_at",
}

// InsertSamples writes a batch with COPY. Transient failures are retried.
func (db *DB) InsertSamples(ctx context.Context, samples []model.RawVitalSample) (int64, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([][]any, len(samples))
	for i, s := range samples {
		received := s.ReceivedAt
		if received.IsZero() {
			received = now
		}
		rows[i] = []any{
			string(s.Metric), s.Value, s.PagePath, s.PageTitle, string(s.DeviceClass),
			s.SessionID, s.Timestamp.UTC(), received.UTC(),
		}
	}

	var count int64
	err := WithRetry(ctx, defaultMaxRetries, defaultRetryDelay, func() error {
		// A hung Postgres must not block the buffer flush indefinitely.
		copyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		n, err := db.pool.CopyFrom(copyCtx, pgx.Identifier{"vital_samples"}, sampleColumns, pgx.CopyFromRows(rows))
		count = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("storage: copy samples: %w", err)
	}
	return count, nil
}

// SamplesInWindow returns the samples received in [start, end), ordered by
// receive time.
func (db *DB) SamplesInWindow(ctx context.Context, start, end time.Time) ([]model.RawVitalSample, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT metric, value, page_path, page_title, device_class, session_id, captured_at, received_at
		FROM vital_samples
		WHERE received_at >= $1 AND received_at < $2
		ORDER BY received_at, id`,
		start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: query window: %w", err)
	}
	samples, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.RawVitalSample, error) {
		var (
			s              model.RawVitalSample
			metric, device string
		)
		if err := row.Scan(&metric, &s.Value, &s.PagePath, &s.PageTitle, &device, &s.SessionID, &s.Timestamp, &s.ReceivedAt); err != nil {
			return s, err
		}
		s.Metric = model.Metric(metric)
		s.DeviceClass = model.DeviceClass(device)
		s.Timestamp = s.Timestamp.UTC()
		s.ReceivedAt = s.ReceivedAt.UTC()
		return s, nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan window: %w", err)
	}
	return samples, nil
}

// PurgeBefore deletes samples received before cutoff and returns how many
// rows were removed.
func (db *DB) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM vital_samples WHERE received_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("storage: purge samples: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountSamples returns the number of stored samples.
func (db *DB) CountSamples(ctx context.Context) (int64, error) {
	var n int64
	if err := db.pool.QueryRow(ctx, `SELECT count(*) FROM vital_samples`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count samples: %w", err)
	}
	return n, nil
}

// OldestReceivedAt returns the receive time of the oldest stored sample, or
// ErrNotFound when the table is empty.
func (db *DB) OldestReceivedAt(ctx context.Context) (time.Time, error) {
	var t *time.Time
	if err := db.pool.QueryRow(ctx, `SELECT min(received_at) FROM vital_samples`).Scan(&t); err != nil {
		return time.Time{}, fmt.Errorf("storage: oldest sample: %w", err)
	}
	if t == nil {
		return time.Time{}, ErrNotFound
	}
	return t.UTC(), nil
}
