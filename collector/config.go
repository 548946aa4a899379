package collector

import (
	"math"
	"time"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultBatchSize     = 5
	DefaultFlushInterval = 10 * time.Second
	DefaultTimeout       = 5 * time.Second
)

// Config controls one Collector. The zero value is a disabled collector.
type Config struct {
	Enabled bool
	// Debug turns on logging. Without it the collector is silent.
	Debug bool
	// SampleRate is the fraction of sessions that report, in [0,1].
	SampleRate float64
	// Endpoint is the ingestion URL, e.g. https://example.com/api/vitals.
	Endpoint      string
	BatchSize     int
	FlushInterval time.Duration
	// Timeout bounds each delivery attempt.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	switch {
	case math.IsNaN(c.SampleRate), c.SampleRate < 0:
		c.SampleRate = 0
	case c.SampleRate > 1:
		c.SampleRate = 1
	}
	return c
}
