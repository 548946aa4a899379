package sqlite_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/vitals/internal/model"
	"github.com/ashita-ai/vitals/internal/storage"
	"github.com/ashita-ai/vitals/internal/storage/sqlite"
)

func openTestDB(t *testing.T) (*sqlite.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "vitals.db")
	db, err := sqlite.Open(context.Background(), path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, path
}

func sampleAt(session string, m model.Metric, v float64, received time.Time) model.RawVitalSample {
	return model.RawVitalSample{
		Metric:      m,
		Value:       v,
		PagePath:    "/chat",
		DeviceClass: model.DeviceDesktop,
		Timestamp:   received.Add(-time.Second),
		SessionID:   session,
		ReceivedAt:  received,
	}
}

func TestInsertAndReadWindow(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	n, err := db.InsertSamples(ctx, []model.RawVitalSample{
		sampleAt("s2", model.MetricCLS, 0.12, start.Add(time.Minute)),
		sampleAt("s1", model.MetricLCP, 2100, start),
		sampleAt("s3", model.MetricLCP, 1, start.Add(time.Hour)),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got, err := db.SamplesInWindow(ctx, start, start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s1", got[0].SessionID)
	assert.Equal(t, start, got[0].ReceivedAt)
	assert.Equal(t, start.Add(-time.Second), got[0].Timestamp)
	assert.Equal(t, model.MetricCLS, got[1].Metric)
	assert.Equal(t, 0.12, got[1].Value)
}

func TestReopenKeepsData(t *testing.T) {
	db, path := openTestDB(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := db.InsertSamples(ctx, []model.RawVitalSample{sampleAt("s1", model.MetricTTFB, 300, at)})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	again, err := sqlite.Open(ctx, path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer again.Close()

	got, err := again.SamplesInWindow(ctx, at, at.Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestPurgeBeforeAndOldest(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	_, err := db.OldestReceivedAt(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err = db.InsertSamples(ctx, []model.RawVitalSample{
		sampleAt("old", model.MetricLCP, 1, base),
		sampleAt("new", model.MetricLCP, 1, base.Add(48*time.Hour)),
	})
	require.NoError(t, err)

	oldest, err := db.OldestReceivedAt(ctx)
	require.NoError(t, err)
	assert.Equal(t, base, oldest)

	removed, err := db.PurgeBefore(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestInsertSamples_RejectsBadRowAtomically(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bad := sampleAt("s2", model.MetricLCP, 1, at)
	bad.Metric = "FID"

	_, err := db.InsertSamples(ctx, []model.RawVitalSample{sampleAt("s1", model.MetricLCP, 1, at), bad})
	require.Error(t, err)

	got, err := db.SamplesInWindow(ctx, at, at.Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, got, "a failed batch writes nothing")
}
