// Package materialize turns stored samples into published read-model
// snapshots. On every tick it finds the most recent closed window, and if
// that window has not been published yet it loads the window and its
// predecessor, aggregates, scores and publishes.
package materialize

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/vitals/internal/model"
	"github.com/ashita-ai/vitals/internal/readmodel"
	"github.com/ashita-ai/vitals/internal/service/aggregate"
	"github.com/ashita-ai/vitals/internal/service/score"
	"github.com/ashita-ai/vitals/internal/telemetry"
)

// SampleReader loads the samples received in [start, end).
type SampleReader interface {
	SamplesInWindow(ctx context.Context, start, end time.Time) ([]model.RawVitalSample, error)
}

// Config controls window size and scheduling.
type Config struct {
	Window      time.Duration // length of one aggregation window
	Grace       time.Duration // wait after a window closes before it is materialized
	Interval    time.Duration // how often to check for a newly closed window
	Parallelism int           // aggregation goroutines per window

	// OnPublish, if set, is called after a snapshot is installed. It runs on
	// the materializer goroutine and must not block.
	OnPublish func(ctx context.Context, snap *readmodel.Snapshot)
}

// Materializer schedules window aggregation and publishes snapshots.
type Materializer struct {
	reader SampleReader
	agg    *aggregate.Aggregator
	scorer *score.Scorer
	store  *readmodel.Store
	logger *slog.Logger
	cfg    Config
	now    func() time.Time

	group singleflight.Group

	started  atomic.Bool
	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}

	tracer   trace.Tracer
	duration metric.Float64Histogram
}

// New creates a Materializer. Zero Config fields take defaults: one hour
// windows, 30s grace, one minute interval.
func New(reader SampleReader, agg *aggregate.Aggregator, scorer *score.Scorer, store *readmodel.Store, logger *slog.Logger, cfg Config) *Materializer {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = aggregate.DefaultParallelism
	}
	hist, _ := telemetry.Meter("vitals/materialize").Float64Histogram("vitals.materialize.duration",
		metric.WithDescription("Time to aggregate, score and publish one window"),
		metric.WithUnit("ms"),
	)
	return &Materializer{
		reader:   reader,
		agg:      agg,
		scorer:   scorer,
		store:    store,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		done:     make(chan struct{}),
		tracer:   telemetry.Tracer("vitals/materialize"),
		duration: hist,
	}
}

// Run materializes the most recent closed window unless it is already
// published. Concurrent calls for the same window share one computation.
func (m *Materializer) Run(ctx context.Context) (*readmodel.Snapshot, error) {
	w := aggregate.ClosedWindow(m.now(), m.cfg.Window, m.cfg.Grace)
	if cur := m.store.Current(); cur != nil && !cur.WindowEnd.Before(w.End) {
		return cur, nil
	}

	// Waiters share the first caller's work, so it must not die with the
	// first caller's context.
	key := w.End.Format(time.RFC3339Nano)
	v, err, _ := m.group.Do(key, func() (any, error) {
		if cur := m.store.Current(); cur != nil && !cur.WindowEnd.Before(w.End) {
			return cur, nil
		}
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), max(m.cfg.Interval, time.Minute))
		defer cancel()
		snap, err := m.Materialize(runCtx, w)
		if err != nil {
			return nil, err
		}
		m.publish(runCtx, snap)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*readmodel.Snapshot), nil
}

// Backfill replays the n windows before the most recent closed one, oldest
// first, then runs the current window. It seeds the history rings after a
// restart so charts and trends do not start empty.
func (m *Materializer) Backfill(ctx context.Context, n int) error {
	latest := aggregate.ClosedWindow(m.now(), m.cfg.Window, m.cfg.Grace)
	windows := make([]aggregate.Window, 0, n)
	w := latest
	for i := 0; i < n; i++ {
		w = w.Previous()
		windows = append(windows, w)
	}
	slices.Reverse(windows)

	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			return err
		}
		snap, err := m.Materialize(ctx, w)
		if err != nil {
			return fmt.Errorf("materialize: backfill: %w", err)
		}
		m.publish(ctx, snap)
	}
	if _, err := m.Run(ctx); err != nil {
		return fmt.Errorf("materialize: backfill: %w", err)
	}
	return nil
}

func (m *Materializer) publish(ctx context.Context, snap *readmodel.Snapshot) {
	if m.store.Publish(snap) && m.cfg.OnPublish != nil {
		m.cfg.OnPublish(ctx, snap)
	}
}

// Materialize aggregates and scores window w and returns the snapshot
// without publishing it.
func (m *Materializer) Materialize(ctx context.Context, w aggregate.Window) (*readmodel.Snapshot, error) {
	ctx, span := m.tracer.Start(ctx, "materialize.window", trace.WithAttributes(
		attribute.String("window.start", w.Start.Format(time.RFC3339)),
		attribute.String("window.end", w.End.Format(time.RFC3339)),
	))
	defer span.End()
	start := time.Now()

	current, err := m.reader.SamplesInWindow(ctx, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("materialize: load window %s: %w", w, err)
	}
	prevWindow := w.Previous()
	previous, err := m.reader.SamplesInWindow(ctx, prevWindow.Start, prevWindow.End)
	if err != nil {
		return nil, fmt.Errorf("materialize: load window %s: %w", prevWindow, err)
	}

	results, err := m.agg.AggregateAll(ctx, w, aggregate.Group(current), aggregate.Group(previous), m.cfg.Parallelism)
	if err != nil {
		return nil, fmt.Errorf("materialize: %w", err)
	}
	snap := m.build(w, current, results)

	// Forget pages that have been silent for the whole history span.
	m.agg.History().Prune(w.End.Add(-time.Duration(m.agg.History().Size()) * m.cfg.Window))

	elapsed := time.Since(start)
	if m.duration != nil {
		m.duration.Record(ctx, float64(elapsed.Microseconds())/1000)
	}
	span.SetAttributes(attribute.Int("samples", len(current)), attribute.Int("shards", len(results)))
	m.logger.Info("materialize: window built",
		"window_start", w.Start,
		"window_end", w.End,
		"samples", len(current),
		"shards", len(results),
		"duration_ms", elapsed.Milliseconds(),
	)
	return snap, nil
}

func (m *Materializer) build(w aggregate.Window, samples []model.RawVitalSample, results map[aggregate.Key]model.AggregatedVital) *readmodel.Snapshot {
	loads := aggregate.PageLoads(samples)
	titles := aggregate.PageTitles(samples)
	sessions := aggregate.SessionCounts(samples)

	snap := &readmodel.Snapshot{
		WindowStart: w.Start,
		WindowEnd:   w.End,
		GeneratedAt: m.now().UTC(),
		Devices:     make(map[model.DeviceClass]*readmodel.DeviceView, len(model.AllDevices)),
	}

	pages := make(map[aggregate.PageDevice]*model.PageWebVitals)
	for _, d := range model.AllDevices {
		snap.Devices[d] = &readmodel.DeviceView{
			PageScores:   make(map[string]model.PerformanceScoreBreakdown),
			SessionCount: sessions[d],
		}
	}
	for key, av := range results {
		view := snap.Devices[key.Device]
		if view == nil {
			continue
		}
		if key.IsSite() {
			view.Summary.Set(key.Metric, &av)
			continue
		}
		pd := aggregate.PageDevice{PagePath: key.PagePath, Device: key.Device}
		p, ok := pages[pd]
		if !ok {
			p = &model.PageWebVitals{
				PagePath:  key.PagePath,
				PageTitle: titles[key.PagePath],
				Device:    key.Device,
				PageLoads: loads[pd],
			}
			pages[pd] = p
		}
		p.Set(key.Metric, &av)
	}

	for _, d := range model.AllDevices {
		view := snap.Devices[d]
		if b, err := m.scorer.Breakdown(d, "", sampleCount(view.Summary), view.Summary); err == nil {
			view.Score = &b
		}
	}
	for pd, p := range pages {
		view := snap.Devices[pd.Device]
		if b, err := m.scorer.Breakdown(pd.Device, pd.PagePath, sampleCount(p.VitalsSummary), p.VitalsSummary); err == nil {
			s, o := b.Score, score.Opportunity(b.Score)
			p.PerformanceScore = &s
			p.Opportunity = &o
			view.PageScores[pd.PagePath] = b
		}
		view.Pages = append(view.Pages, *p)
	}
	for _, view := range snap.Devices {
		slices.SortFunc(view.Pages, func(a, b model.PageWebVitals) int {
			return strings.Compare(a.PagePath, b.PagePath)
		})
	}
	return snap
}

func sampleCount(v model.VitalsSummary) int {
	n := 0
	for _, m := range v.Present() {
		n += v.Get(m).Count
	}
	return n
}

// Start runs the materializer loop until Stop or ctx cancellation. The first
// run happens immediately. A second call is a no-op.
func (m *Materializer) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		m.logger.Warn("materialize: already started")
		return
	}
	m.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.loop(loopCtx)
}

func (m *Materializer) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := m.Run(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("materialize: run failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop ends the loop and waits for an in-flight run to finish. Safe to call
// more than once, and before Start.
func (m *Materializer) Stop() {
	if !m.started.Load() {
		return
	}
	m.stopOnce.Do(func() {
		m.cancel()
		<-m.done
	})
}

func (m *Materializer) registerMetrics() {
	meter := telemetry.Meter("vitals/materialize")
	_, _ = meter.Float64ObservableGauge("vitals.snapshot.age",
		metric.WithDescription("Seconds since the current snapshot was generated"),
		metric.WithUnit("s"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			if snap := m.store.Current(); snap != nil {
				o.Observe(m.now().Sub(snap.GeneratedAt).Seconds())
			}
			return nil
		}),
	)
}
