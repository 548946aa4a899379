package vitals

import "time"

// WindowReport summarizes one published aggregation window. It is a
// standalone copy of the read model; changing it has no effect on the
// server.
type WindowReport struct {
	WindowStart time.Time
	WindowEnd   time.Time
	GeneratedAt time.Time
	Devices     []DeviceReport // mobile, then desktop
}

// DeviceReport is the site-wide result for one device class.
type DeviceReport struct {
	Device   string
	Score    *int // nil when no metric was measured
	Partial  bool // score computed from a subset of the metrics
	Sessions int
	Pages    int
	Vitals   []Vital // in LCP, INP, CLS, FCP, TTFB order; unmeasured metrics omitted
}

// Vital is the site-wide 75th percentile of one metric.
type Vital struct {
	Metric          string
	P75             float64
	Rating          string
	Trend           string
	TrendPercentage float64
	Count           int
}
