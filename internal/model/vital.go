package model

import (
	"fmt"
	"strings"
	"time"
)

// Metric identifies one of the five Core Web Vitals.
type Metric string

const (
	MetricLCP  Metric = "LCP"
	MetricINP  Metric = "INP"
	MetricCLS  Metric = "CLS"
	MetricFCP  Metric = "FCP"
	MetricTTFB Metric = "TTFB"
)

// AllMetrics lists every metric in display order. Breakdowns and summaries
// iterate in this order so output is stable.
var AllMetrics = []Metric{MetricLCP, MetricINP, MetricCLS, MetricFCP, MetricTTFB}

// ParseMetric resolves a metric name case-insensitively.
func ParseMetric(s string) (Metric, error) {
	m := Metric(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown metric %q", s)
	}
	return m, nil
}

// Valid reports whether m is one of the five known metrics.
func (m Metric) Valid() bool {
	switch m {
	case MetricLCP, MetricINP, MetricCLS, MetricFCP, MetricTTFB:
		return true
	}
	return false
}

// Unit returns "ms" for time-based metrics and "" for CLS, which is a
// unitless layout-shift score.
func (m Metric) Unit() string {
	if m == MetricCLS {
		return ""
	}
	return "ms"
}

// DeviceClass selects which threshold set applies to a sample.
type DeviceClass string

const (
	DeviceMobile  DeviceClass = "mobile"
	DeviceDesktop DeviceClass = "desktop"
)

// AllDevices lists the device classes in display order.
var AllDevices = []DeviceClass{DeviceMobile, DeviceDesktop}

// ParseDeviceClass resolves a device class case-insensitively.
func ParseDeviceClass(s string) (DeviceClass, error) {
	d := DeviceClass(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("unknown device class %q (expected mobile or desktop)", s)
	}
	return d, nil
}

// Valid reports whether d is a known device class.
func (d DeviceClass) Valid() bool {
	return d == DeviceMobile || d == DeviceDesktop
}

// Rating is the three-level classification of a value against thresholds.
type Rating string

const (
	RatingGood             Rating = "good"
	RatingNeedsImprovement Rating = "needs-improvement"
	RatingPoor             Rating = "poor"
)

// Trend describes the direction of change between consecutive windows.
// All five vitals are lower-is-better, so "improving" means the value fell.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

// RawVitalSample is one observed metric value from one page session.
// Samples are immutable once created by the collector.
type RawVitalSample struct {
	Metric      Metric      `json:"metric"`
	Value       float64     `json:"value"`
	PagePath    string      `json:"pagePath"`
	PageTitle   string      `json:"pageTitle,omitempty"`
	DeviceClass DeviceClass `json:"deviceClass"`
	Timestamp   time.Time   `json:"timestamp"`
	SessionID   string      `json:"sessionId"`

	// ReceivedAt is stamped by the ingestion endpoint. Windows are cut on
	// this server-side clock so a closed window never changes.
	ReceivedAt time.Time `json:"-"`
}

// HistoryPoint is one window's p75 for charting.
type HistoryPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Rating    Rating    `json:"rating"`
}

// AggregatedVital summarizes one metric for one page (or the whole site when
// PagePath is empty) and device over one window. Each window produces a new
// value; nothing mutates a published AggregatedVital.
type AggregatedVital struct {
	Name            Metric         `json:"name"`
	Device          DeviceClass    `json:"device"`
	PagePath        string         `json:"pagePath,omitempty"`
	P75             float64        `json:"p75"`
	Rating          Rating         `json:"rating"`
	Count           int            `json:"count"`
	Trend           Trend          `json:"trend"`
	TrendPercentage float64        `json:"trendPercentage"`
	PreviousP75     *float64       `json:"previousP75,omitempty"`
	WindowStart     time.Time      `json:"windowStart"`
	WindowEnd       time.Time      `json:"windowEnd"`
	History         []HistoryPoint `json:"history"`
}

// VitalsSummary holds the latest AggregatedVital per metric. A nil field means
// the metric had no samples in the window, which is distinct from a measured 0.
type VitalsSummary struct {
	LCP  *AggregatedVital `json:"lcp,omitempty"`
	INP  *AggregatedVital `json:"inp,omitempty"`
	CLS  *AggregatedVital `json:"cls,omitempty"`
	FCP  *AggregatedVital `json:"fcp,omitempty"`
	TTFB *AggregatedVital `json:"ttfb,omitempty"`
}

// Get returns the vital for m, or nil when absent.
func (v VitalsSummary) Get(m Metric) *AggregatedVital {
	switch m {
	case MetricLCP:
		return v.LCP
	case MetricINP:
		return v.INP
	case MetricCLS:
		return v.CLS
	case MetricFCP:
		return v.FCP
	case MetricTTFB:
		return v.TTFB
	}
	return nil
}

// Set stores av under m.
func (v *VitalsSummary) Set(m Metric, av *AggregatedVital) {
	switch m {
	case MetricLCP:
		v.LCP = av
	case MetricINP:
		v.INP = av
	case MetricCLS:
		v.CLS = av
	case MetricFCP:
		v.FCP = av
	case MetricTTFB:
		v.TTFB = av
	}
}

// Present returns the metrics that have a value, in AllMetrics order.
func (v VitalsSummary) Present() []Metric {
	var out []Metric
	for _, m := range AllMetrics {
		if v.Get(m) != nil {
			out = append(out, m)
		}
	}
	return out
}

// PageWebVitals is the per-page row of the page breakdown list.
type PageWebVitals struct {
	PagePath  string      `json:"pagePath"`
	PageTitle string      `json:"pageTitle,omitempty"`
	Device    DeviceClass `json:"device"`
	VitalsSummary
	PerformanceScore *int `json:"performanceScore,omitempty"`
	Opportunity      *int `json:"opportunity,omitempty"`
	PageLoads        int  `json:"pageLoads"`
}

// MetricScore is one metric's contribution to a composite score.
type MetricScore struct {
	Name   Metric  `json:"name"`
	Value  float64 `json:"value"`
	Rating Rating  `json:"rating"`
	Weight float64 `json:"weight"`
	Score  float64 `json:"score"`
}

// PerformanceScoreBreakdown is the composite score view for the site or one page.
// Weights across Metrics always sum to 1.0; when metrics are missing the
// remaining weights are renormalized and Partial is set.
type PerformanceScoreBreakdown struct {
	Score       int           `json:"score"`
	Device      DeviceClass   `json:"device"`
	PagePath    string        `json:"pagePath,omitempty"`
	SampleCount int           `json:"sampleCount"`
	Partial     bool          `json:"partial"`
	Missing     []Metric      `json:"missing,omitempty"`
	Metrics     []MetricScore `json:"metrics"`
}
