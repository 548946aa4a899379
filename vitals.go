// Package vitals is the public API for embedding the Web Vitals telemetry
// server.
//
// Host applications import this package to run the ingestion endpoint and
// read API inside their own process and to extend it without forking:
//
//	app, err := vitals.New(
//	    vitals.WithVersion(version),
//	    vitals.WithLogger(logger),
//	    vitals.WithPublishHook(alerting{}),
//	    vitals.WithExtraRoutes(adminRoutes),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The root package imports internal/*, but internal/* never imports the root.
// Public types (WindowReport, DeviceReport, Vital) are standalone structs;
// toWindowReport lives here because this is the only file that sees both
// sides of the boundary.
package vitals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/vitals/api"
	"github.com/ashita-ai/vitals/internal/config"
	"github.com/ashita-ai/vitals/internal/mcp"
	"github.com/ashita-ai/vitals/internal/model"
	"github.com/ashita-ai/vitals/internal/ratelimit"
	"github.com/ashita-ai/vitals/internal/readmodel"
	"github.com/ashita-ai/vitals/internal/server"
	"github.com/ashita-ai/vitals/internal/service/aggregate"
	"github.com/ashita-ai/vitals/internal/service/ingest"
	"github.com/ashita-ai/vitals/internal/service/materialize"
	"github.com/ashita-ai/vitals/internal/service/score"
	"github.com/ashita-ai/vitals/internal/storage"
	"github.com/ashita-ai/vitals/internal/storage/sqlite"
	"github.com/ashita-ai/vitals/internal/telemetry"
	"github.com/ashita-ai/vitals/internal/thresholds"
	"github.com/ashita-ai/vitals/migrations"
)

const (
	retentionInterval = time.Hour
	hookTimeout       = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// sampleStore is implemented by the Postgres and SQLite stores.
type sampleStore interface {
	InsertSamples(ctx context.Context, samples []model.RawVitalSample) (int64, error)
	SamplesInWindow(ctx context.Context, start, end time.Time) ([]model.RawVitalSample, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
	OldestReceivedAt(ctx context.Context) (time.Time, error)
	Ping(ctx context.Context) error
	Close() error
}

// App is the vitals server lifecycle. Construct with New(), run with Run().
// App has no public fields; use New() options to configure it.
type App struct {
	cfg          config.Config
	store        sampleStore
	mat          *materialize.Materializer
	buf          *ingest.Buffer
	deduper      *ingest.Deduper
	limiter      ratelimit.Limiter
	srv          *server.Server
	otelShutdown telemetry.Shutdown
	hooks        []PublishHook
	logger       *slog.Logger
	version      string
}

// New initialises the vitals server. It opens the sample store, runs
// migrations, loads thresholds, wires all subsystems, and returns a
// ready-to-run App. It does NOT start any goroutines or accept HTTP
// connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.sqlitePath != "" {
		cfg.SQLitePath = o.sqlitePath
	}
	if o.thresholdsFile != "" {
		cfg.ThresholdsFile = o.thresholdsFile
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("vitals starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(context.Background(), telemetry.Config{
		Endpoint:       cfg.OTELEndpoint,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Insecure:       cfg.OTELInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	store, err := openStore(context.Background(), cfg, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, err
	}

	table := thresholds.Default()
	if cfg.ThresholdsFile != "" {
		if table, err = thresholds.LoadFile(cfg.ThresholdsFile); err != nil {
			_ = store.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("thresholds: %w", err)
		}
		logger.Info("thresholds loaded", "path", cfg.ThresholdsFile)
	}

	// Validated by config.Load.
	policy, _ := aggregate.ParseOutlierPolicy(cfg.OutlierPolicy)
	agg := aggregate.New(table,
		aggregate.WithTrendEpsilon(cfg.TrendEpsilon),
		aggregate.WithOutlierPolicy(policy),
		aggregate.WithHistorySize(cfg.HistorySize),
	)
	snapshots := readmodel.NewStore()
	query := readmodel.NewQuery(snapshots)

	app := &App{
		cfg:          cfg,
		store:        store,
		otelShutdown: otelShutdown,
		hooks:        o.publishHooks,
		logger:       logger,
		version:      version,
	}

	app.mat = materialize.New(store, agg, score.New(table), snapshots, logger, materialize.Config{
		Window:      cfg.Window,
		Grace:       cfg.WindowGrace,
		Interval:    cfg.MaterializeInterval,
		Parallelism: cfg.MaterializeParallelism,
		OnPublish:   app.notifyHooks,
	})

	app.buf = ingest.NewBuffer(store, logger, cfg.IngestBufferSize, cfg.IngestFlushTimeout)
	app.deduper = ingest.NewDeduper(cfg.DedupeTTL)
	ingestSvc := ingest.NewService(app.buf, app.deduper, logger, cfg.MaxBatchSamples)

	if cfg.RateLimitEnabled {
		app.limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		app.limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	mcpSrv := mcp.New(query, table, logger, version)

	extraRoutes := make([]func(*http.ServeMux), len(o.routeRegistrars))
	for i, r := range o.routeRegistrars {
		extraRoutes[i] = r
	}
	middlewares := make([]func(http.Handler) http.Handler, len(o.middlewares))
	for i, mw := range o.middlewares {
		middlewares[i] = mw
	}

	app.srv = server.New(server.ServerConfig{
		Ingest:              ingestSvc,
		Query:               query,
		Logger:              logger,
		Buffer:              app.buf,
		Store:               store,
		Limiter:             app.limiter,
		MCPServer:           mcpSrv.MCPServer(),
		OpenAPISpec:         api.OpenAPISpec,
		ExtraRoutes:         extraRoutes,
		Middlewares:         middlewares,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
	})

	return app, nil
}

// Handler returns the root HTTP handler, for mounting the API on a host
// server instead of calling Run.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run replays recent history, starts the background services and the HTTP
// server, then blocks until ctx is cancelled or a fatal server error occurs.
// On return, Shutdown has been called; callers should not call it again.
func (a *App) Run(ctx context.Context) error {
	if n := a.backfillWindows(ctx, time.Now()); n > 0 {
		if err := a.mat.Backfill(ctx, n); err != nil {
			a.logger.Warn("history backfill failed", "error", err, "windows", n)
		} else {
			a.logger.Info("history backfill complete", "windows", n)
		}
	}

	a.buf.Start(ctx)
	a.mat.Start(ctx)
	if a.cfg.Retention > 0 {
		go a.retentionLoop(ctx, retentionInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	if err := a.Shutdown(context.Background()); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown performs a phased graceful shutdown. Each phase gets its own
// timeout so early completion doesn't steal budget from later phases:
// (1) stop accepting beacons and drain in-flight requests,
// (2) flush buffered samples to the store,
// (3) stop the materializer.
// It then closes the store and the OTEL providers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("vitals shutting down")

	httpCtx, httpCancel := context.WithTimeout(ctx, shutdownTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	bufCtx, bufCancel := context.WithTimeout(ctx, shutdownTimeout)
	a.buf.Drain(bufCtx)
	bufCancel()
	if n := a.buf.Len(); n > 0 {
		a.logger.Error("ingest buffer drain incomplete; unflushed samples will be lost", "remaining_samples", n)
	}

	a.mat.Stop()

	a.deduper.Close()
	_ = a.limiter.Close()
	storeErr := a.store.Close()
	_ = a.otelShutdown(context.Background())

	a.logger.Info("vitals stopped")
	if storeErr != nil {
		return fmt.Errorf("close store: %w", storeErr)
	}
	return nil
}

// openStore connects to Postgres when a database URL is set and falls back
// to the embedded SQLite file otherwise. Migrations run in both cases.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (sampleStore, error) {
	if cfg.UseSQLite() {
		db, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		logger.Info("sample store: sqlite", "path", cfg.SQLitePath)
		return db, nil
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: migrations: %w", err)
	}
	logger.Info("sample store: postgres")
	return db, nil
}

// backfillWindows returns how many closed windows before the current one
// hold data worth replaying: at most HistorySize-1, and none older than the
// oldest stored sample.
func (a *App) backfillWindows(ctx context.Context, now time.Time) int {
	oldest, err := a.store.OldestReceivedAt(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return 0
	}
	if err != nil {
		a.logger.Warn("history backfill skipped", "error", err)
		return 0
	}
	latest := aggregate.ClosedWindow(now, a.cfg.Window, a.cfg.WindowGrace)
	return windowsSince(oldest, latest, a.cfg.HistorySize-1)
}

// windowsSince counts the whole windows between oldest and the start of
// latest, capped at limit.
func windowsSince(oldest time.Time, latest aggregate.Window, limit int) int {
	if limit <= 0 || !oldest.Before(latest.Start) {
		return 0
	}
	n := int(latest.Start.Sub(oldest)/latest.Size()) + 1
	return min(n, limit)
}

func (a *App) retentionLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.purgeExpired(ctx, time.Now())
		}
	}
}

func (a *App) purgeExpired(ctx context.Context, now time.Time) {
	cutoff := now.UTC().Add(-a.cfg.Retention)
	n, err := a.store.PurgeBefore(ctx, cutoff)
	if err != nil {
		a.logger.Warn("retention purge failed", "error", err)
		return
	}
	if n > 0 {
		a.logger.Info("retention purge complete", "deleted", n, "cutoff", cutoff)
	}
}

// notifyHooks fans a published snapshot out to the registered hooks.
func (a *App) notifyHooks(ctx context.Context, snap *readmodel.Snapshot) {
	if len(a.hooks) == 0 {
		return
	}
	report := toWindowReport(snap)
	for _, h := range a.hooks {
		go func() {
			hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hookTimeout)
			defer cancel()
			if err := h.OnWindowPublished(hctx, report); err != nil {
				a.logger.Warn("publish hook failed", "error", err, "window_end", report.WindowEnd)
			}
		}()
	}
}

func toWindowReport(snap *readmodel.Snapshot) WindowReport {
	r := WindowReport{
		WindowStart: snap.WindowStart,
		WindowEnd:   snap.WindowEnd,
		GeneratedAt: snap.GeneratedAt,
		Devices:     make([]DeviceReport, 0, len(model.AllDevices)),
	}
	for _, d := range model.AllDevices {
		view := snap.Device(d)
		dr := DeviceReport{
			Device:   string(d),
			Sessions: view.SessionCount,
			Pages:    len(view.Pages),
		}
		if view.Score != nil {
			s := view.Score.Score
			dr.Score = &s
			dr.Partial = view.Score.Partial
		}
		for _, m := range view.Summary.Present() {
			av := view.Summary.Get(m)
			dr.Vitals = append(dr.Vitals, Vital{
				Metric:          string(m),
				P75:             av.P75,
				Rating:          string(av.Rating),
				Trend:           string(av.Trend),
				TrendPercentage: av.TrendPercentage,
				Count:           av.Count,
			})
		}
		r.Devices = append(r.Devices, dr)
	}
	return r
}
