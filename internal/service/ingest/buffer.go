package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/vitals/internal/model"
	"github.com/ashita-ai/vitals/internal/storage"
	"github.com/ashita-ai/vitals/internal/telemetry"
)

// maxBufferCapacity is the hard upper limit on buffered samples. Above it
// Append applies backpressure by returning ErrBufferFull.
const maxBufferCapacity = 100_000

// ErrBufferFull is returned by Append when the buffer is at capacity.
var ErrBufferFull = fmt.Errorf("ingest: buffer at capacity (%d samples), try again later", maxBufferCapacity)

// SampleWriter persists a batch of samples. Implemented by the Postgres and
// SQLite sample stores.
type SampleWriter interface {
	InsertSamples(ctx context.Context, samples []model.RawVitalSample) (int64, error)
}

// Buffer accumulates samples in memory and writes them to the sample store
// when either the size threshold or the flush timeout is reached.
type Buffer struct {
	store        SampleWriter
	logger       *slog.Logger
	maxSize      int
	flushTimeout time.Duration

	mu      sync.Mutex
	samples []model.RawVitalSample

	dropped atomic.Int64
	flushed atomic.Int64
	started atomic.Bool

	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc
	drainMu    sync.Mutex
	drainCtx   context.Context
}

// NewBuffer creates a sample buffer writing to store.
func NewBuffer(store SampleWriter, logger *slog.Logger, maxSize int, flushTimeout time.Duration) *Buffer {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Buffer{
		store:        store,
		logger:       logger,
		maxSize:      maxSize,
		flushTimeout: flushTimeout,
		flushCh:      make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Start begins the background flush loop and registers OTEL metrics. A second
// call is a no-op. Call Drain to stop.
func (b *Buffer) Start(ctx context.Context) {
	if !b.started.CompareAndSwap(false, true) {
		b.logger.Warn("ingest: buffer already started")
		return
	}
	b.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancelLoop = cancel
	go b.flushLoop(loopCtx)
}

// Append queues samples for the next flush.
func (b *Buffer) Append(samples []model.RawVitalSample) error {
	if len(samples) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.samples)+len(samples) > maxBufferCapacity {
		return ErrBufferFull
	}
	b.samples = append(b.samples, samples...)

	if len(b.samples) >= b.maxSize {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

func (b *Buffer) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(b.flushTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// ctx is already done, so the final flush needs its own context.
			if dctx := b.getDrainCtx(); dctx != nil {
				b.flush(dctx)
			} else {
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				b.flush(fallbackCtx)
				cancel()
			}
			close(b.done)
			return
		case <-ticker.C:
			b.flush(ctx)
		case <-b.flushCh:
			b.flush(ctx)
		}
	}
}

func (b *Buffer) flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.samples) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.samples
	b.samples = nil
	b.mu.Unlock()

	start := time.Now()
	count, err := b.store.InsertSamples(ctx, batch)
	duration := time.Since(start)

	if err != nil && storage.IsPermanent(err) {
		b.logger.Warn("ingest: store rejected batch, isolating bad samples", "error", err, "batch_size", len(batch))
		var retry []model.RawVitalSample
		count, retry = b.insertIsolating(ctx, batch)
		b.flushed.Add(count)
		if len(retry) == 0 {
			return
		}
		batch, err = retry, errors.New("ingest: transient failure while isolating rejected samples")
	}

	if err != nil {
		b.logger.Error("ingest: flush failed", "error", err, "batch_size", len(batch))
		b.requeue(batch)
		return
	}

	b.flushed.Add(count)
	b.logger.Debug("ingest: batch flushed",
		"batch_size", count,
		"flush_duration_ms", duration.Milliseconds(),
	)
}

// insertIsolating writes a batch the store refused by splitting it in
// halves until each refused sample stands alone; those are dropped. Halves
// that fail transiently are returned for requeueing.
func (b *Buffer) insertIsolating(ctx context.Context, batch []model.RawVitalSample) (int64, []model.RawVitalSample) {
	if len(batch) == 1 {
		b.dropped.Add(1)
		b.logger.Warn("ingest: dropping sample rejected by store",
			"metric", string(batch[0].Metric),
			"session_id", batch[0].SessionID,
		)
		return 0, nil
	}

	mid := len(batch) / 2
	var (
		written int64
		retry   []model.RawVitalSample
	)
	for _, half := range [][]model.RawVitalSample{batch[:mid], batch[mid:]} {
		n, err := b.store.InsertSamples(ctx, half)
		switch {
		case err == nil:
			written += n
		case storage.IsPermanent(err):
			n, r := b.insertIsolating(ctx, half)
			written += n
			retry = append(retry, r...)
		default:
			retry = append(retry, half...)
		}
	}
	return written, retry
}

// requeue puts a failed batch back in front of newer samples, or drops it
// when that would exceed capacity.
func (b *Buffer) requeue(batch []model.RawVitalSample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.samples)+len(batch) <= maxBufferCapacity {
		b.samples = append(batch, b.samples...)
		return
	}
	b.dropped.Add(int64(len(batch)))
	b.logger.Error("ingest: dropping samples, buffer at capacity after flush failure", "dropped", len(batch))
}

// Drain stops the flush loop and waits for its final flush. ctx bounds both
// the wait and the final write.
func (b *Buffer) Drain(ctx context.Context) {
	if !b.started.Load() {
		return
	}
	b.drainMu.Lock()
	b.drainCtx = ctx
	b.drainMu.Unlock()
	if b.cancelLoop != nil {
		b.cancelLoop()
	}
	select {
	case <-b.done:
	case <-ctx.Done():
		b.logger.Warn("ingest: drain timed out waiting for flush loop")
	}
}

func (b *Buffer) getDrainCtx() context.Context {
	b.drainMu.Lock()
	defer b.drainMu.Unlock()
	return b.drainCtx
}

func (b *Buffer) registerMetrics() {
	meter := telemetry.Meter("vitals/ingest")

	_, _ = meter.Int64ObservableGauge("vitals.buffer.depth",
		metric.WithDescription("Current number of samples in the write buffer"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(b.Len()))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("vitals.buffer.dropped_total",
		metric.WithDescription("Total samples dropped: buffer capacity exhaustion or rejected by the store"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(b.Dropped())
			return nil
		}),
	)
}

// Len returns the current number of buffered samples.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Dropped returns the total samples lost after failed flushes, including
// samples the store refused outright.
func (b *Buffer) Dropped() int64 {
	return b.dropped.Load()
}

// Flushed returns the total samples written to the store.
func (b *Buffer) Flushed() int64 {
	return b.flushed.Load()
}

// Capacity returns the number of samples Append accepts before applying
// backpressure.
func (b *Buffer) Capacity() int {
	return maxBufferCapacity
}
