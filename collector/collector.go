// Package collector batches Core Web Vitals observations from one page
// session and ships them to the vitals ingestion endpoint.
//
// Delivery is best effort. The collector never blocks the caller on I/O and
// never returns delivery errors; failed batches are counted and dropped.
//
//	c, err := collector.New(collector.Config{
//	    Enabled:    true,
//	    SampleRate: 0.25,
//	    Endpoint:   "https://example.com/api/vitals",
//	}, collector.Page{Path: "/checkout", Device: collector.Mobile})
//	c.Start()
//	defer c.Stop()
//	c.Record(collector.LCP, 2140)
package collector

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Option customizes a Collector.
type Option func(*Collector)

// WithSink replaces the HTTP sink built from Config.Endpoint.
func WithSink(s Sink) Option {
	return func(c *Collector) { c.sink = s }
}

// WithLogger sets the debug logger. It is used only when Config.Debug is set.
func WithLogger(l *slog.Logger) Option {
	return func(c *Collector) { c.debugLogger = l }
}

// WithRand sets the source for the session sampling decision. It must
// return values in [0,1).
func WithRand(f func() float64) Option {
	return func(c *Collector) { c.rand = f }
}

// WithSessionID fixes the session identifier instead of generating one.
func WithSessionID(id string) Option {
	return func(c *Collector) { c.sessionID = id }
}

// Stats are delivery counters for one collector.
type Stats struct {
	Sent    int64 // samples handed to the sink successfully
	Dropped int64 // samples lost to delivery failure
	Batches int64 // batches delivered
}

// Collector buffers one session's samples and flushes them when the batch
// is full, when the flush interval passes, or when the page goes away.
type Collector struct {
	cfg         Config
	page        Page
	sink        Sink
	debugLogger *slog.Logger
	logger      *slog.Logger
	rand        func() float64
	sessionID   string

	mu       sync.Mutex
	buf      []Sample
	reported map[Metric]bool
	started  bool
	stopped  bool
	sampled  bool

	flushCh  chan struct{}
	resetCh  chan struct{}
	done     chan struct{}
	loopDone chan struct{}
	stopOnce sync.Once

	sent    atomic.Int64
	dropped atomic.Int64
	batches atomic.Int64
}

// New creates a collector for page. It fails only on configuration that can
// never deliver: an enabled collector with neither an endpoint nor a sink,
// or a page path that is not absolute.
func New(cfg Config, page Page, opts ...Option) (*Collector, error) {
	c := &Collector{
		cfg:      cfg.withDefaults(),
		page:     page,
		rand:     rand.Float64,
		reported: make(map[Metric]bool),
		flushCh:  make(chan struct{}, 1),
		resetCh:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}

	if c.page.Device == "" {
		c.page.Device = Desktop
	}
	if c.cfg.Enabled {
		if !strings.HasPrefix(c.page.Path, "/") {
			return nil, errors.New("collector: page path must start with /")
		}
		if c.sink == nil {
			if c.cfg.Endpoint == "" {
				return nil, errors.New("collector: endpoint is required when enabled")
			}
			c.sink = NewHTTPSink(c.cfg.Endpoint, c.cfg.Timeout)
		}
	}
	if c.sessionID == "" {
		c.sessionID = uuid.NewString()
	}

	c.logger = slog.New(slog.DiscardHandler)
	if c.cfg.Debug {
		c.logger = c.debugLogger
		if c.logger == nil {
			c.logger = slog.Default()
		}
	}
	c.logger = c.logger.With("session_id", c.sessionID, "page_path", c.page.Path)
	return c, nil
}

// SessionID returns the identifier stamped on every sample.
func (c *Collector) SessionID() string {
	return c.sessionID
}

// Sampled reports whether this session was selected for reporting. It is
// false before Start.
func (c *Collector) Sampled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sampled
}

// Start decides once whether the session is sampled and, if so, starts the
// flush loop. Later calls do nothing.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.stopped {
		return
	}
	c.started = true
	if !c.cfg.Enabled {
		close(c.loopDone)
		return
	}
	c.sampled = c.rand() < c.cfg.SampleRate
	c.logger.Debug("collector: started", "sampled", c.sampled, "sample_rate", c.cfg.SampleRate)
	if !c.sampled {
		close(c.loopDone)
		return
	}
	go c.loop()
}

// Record buffers one metric value. Each metric is kept at most once per
// session; later reports of the same metric are ignored. It returns whether
// the sample was buffered.
func (c *Collector) Record(metric Metric, value float64) bool {
	if !metric.Valid() || !validValue(value) {
		c.logger.Debug("collector: ignoring invalid sample", "metric", string(metric), "value", value)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started || c.stopped || !c.sampled {
		return false
	}
	if c.reported[metric] {
		c.logger.Debug("collector: metric already reported", "metric", string(metric))
		return false
	}
	c.reported[metric] = true
	c.buf = append(c.buf, Sample{
		Metric:      metric,
		Value:       value,
		PagePath:    c.page.Path,
		PageTitle:   c.page.Title,
		DeviceClass: c.page.Device,
		Timestamp:   time.Now().UTC(),
		SessionID:   c.sessionID,
	})
	if len(c.buf) >= c.cfg.BatchSize {
		select {
		case c.flushCh <- struct{}{}:
		default:
		}
	}
	return true
}

// Hide flushes through the unload-safe transport when the page is hidden.
// The session keeps collecting, and the next timed flush is a full interval
// after this one.
func (c *Collector) Hide() {
	if c.beaconFlush() {
		select {
		case c.resetCh <- struct{}{}:
		default:
		}
	}
}

// Unload ends the session: the loop stops and the buffer is flushed through
// the unload-safe transport.
func (c *Collector) Unload() {
	c.Stop()
}

// Stop stops the flush loop and performs the unload flush. Safe to call
// more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		wasStarted := c.started
		c.stopped = true
		c.mu.Unlock()

		close(c.done)
		if wasStarted {
			<-c.loopDone
		}
		c.beaconFlush()
		c.logger.Debug("collector: stopped", "sent", c.sent.Load(), "dropped", c.dropped.Load())
	})
}

// Stats returns the delivery counters.
func (c *Collector) Stats() Stats {
	return Stats{
		Sent:    c.sent.Load(),
		Dropped: c.dropped.Load(),
		Batches: c.batches.Load(),
	}
}

func (c *Collector) loop() {
	defer close(c.loopDone)
	timer := time.NewTimer(c.cfg.FlushInterval)
	defer timer.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.flushCh:
			c.flush()
		case <-timer.C:
			c.flush()
		case <-c.resetCh:
		}
		timer.Reset(c.cfg.FlushInterval)
	}
}

func (c *Collector) take() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buf) == 0 {
		return nil
	}
	batch := c.buf
	c.buf = nil
	return batch
}

// flush reports the buffer and, on failure, falls back to one beacon.
func (c *Collector) flush() {
	samples := c.take()
	if samples == nil {
		return
	}
	batch := Batch{Samples: samples}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	err := c.sink.Report(ctx, batch)
	cancel()
	if err == nil {
		c.delivered(len(samples))
		return
	}
	c.logger.Debug("collector: report failed", "error", err, "batch_size", len(samples))

	if b, ok := c.sink.(Beaconer); ok && b.Beacon(batch) {
		c.delivered(len(samples))
		return
	}
	c.dropped.Add(int64(len(samples)))
}

// beaconFlush hands the buffer to the unload-safe transport, or reports it
// synchronously when the sink has none. It reports whether there was
// anything to flush.
func (c *Collector) beaconFlush() bool {
	samples := c.take()
	if samples == nil {
		return false
	}
	batch := Batch{Samples: samples}

	if b, ok := c.sink.(Beaconer); ok {
		if b.Beacon(batch) {
			c.delivered(len(samples))
		} else {
			c.dropped.Add(int64(len(samples)))
		}
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	if err := c.sink.Report(ctx, batch); err != nil {
		c.logger.Debug("collector: unload report failed", "error", err, "batch_size", len(samples))
		c.dropped.Add(int64(len(samples)))
		return true
	}
	c.delivered(len(samples))
	return true
}

func (c *Collector) delivered(n int) {
	c.sent.Add(int64(n))
	c.batches.Add(1)
}
