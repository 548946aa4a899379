package vitals

import "time"

// Sample is one metric observation as posted to the ingestion endpoint.
type Sample struct {
	Metric      string    `json:"metric"`
	Value       float64   `json:"value"`
	PagePath    string    `json:"pagePath"`
	PageTitle   string    `json:"pageTitle,omitempty"`
	DeviceClass string    `json:"deviceClass"`
	Timestamp   time.Time `json:"timestamp"`
	SessionID   string    `json:"sessionId"`
}

// IngestResponse reports how a posted batch was handled.
type IngestResponse struct {
	Accepted   int `json:"accepted"`
	Rejected   int `json:"rejected"`
	Duplicates int `json:"duplicates"`
}

// Window identifies the aggregation window a read was served from.
type Window struct {
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// HistoryPoint is one past window's p75.
type HistoryPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Rating    string    `json:"rating"`
}

// Vital is the aggregated 75th-percentile value of one metric.
type Vital struct {
	Name            string         `json:"name"`
	Device          string         `json:"device"`
	PagePath        string         `json:"pagePath,omitempty"`
	P75             float64        `json:"p75"`
	Rating          string         `json:"rating"`
	Count           int            `json:"count"`
	Trend           string         `json:"trend"`
	TrendPercentage float64        `json:"trendPercentage"`
	PreviousP75     *float64       `json:"previousP75,omitempty"`
	WindowStart     time.Time      `json:"windowStart"`
	WindowEnd       time.Time      `json:"windowEnd"`
	History         []HistoryPoint `json:"history"`
}

// Vitals holds one Vital per metric. A nil field means the metric had no
// samples in the window.
type Vitals struct {
	LCP  *Vital `json:"lcp,omitempty"`
	INP  *Vital `json:"inp,omitempty"`
	CLS  *Vital `json:"cls,omitempty"`
	FCP  *Vital `json:"fcp,omitempty"`
	TTFB *Vital `json:"ttfb,omitempty"`
}

// Summary is the site-wide view for one device class.
type Summary struct {
	Device string `json:"device"`
	Vitals Vitals `json:"vitals"`
	Window Window `json:"window"`
}

// Page is one row of the page breakdown.
type Page struct {
	PagePath  string `json:"pagePath"`
	PageTitle string `json:"pageTitle,omitempty"`
	Device    string `json:"device"`
	Vitals
	PerformanceScore *int `json:"performanceScore,omitempty"`
	Opportunity      *int `json:"opportunity,omitempty"`
	PageLoads        int  `json:"pageLoads"`
}

// PageList is one page of the page breakdown.
type PageList struct {
	Pages   []Page  `json:"data"`
	Total   int     `json:"total"`
	HasMore bool    `json:"hasMore"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
	Window  *Window `json:"window,omitempty"`
}

// PageOptions filter, sort and paginate the page breakdown. Zero values take
// the server defaults.
type PageOptions struct {
	Limit     int
	Offset    int
	SortBy    string
	SortOrder string
	Search    string
	Device    string
}

// MetricScore is one metric's contribution to a performance score.
type MetricScore struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Rating string  `json:"rating"`
	Weight float64 `json:"weight"`
	Score  float64 `json:"score"`
}

// ScoreBreakdown is the composite 0-100 score with its per-metric parts.
type ScoreBreakdown struct {
	Score       int           `json:"score"`
	Device      string        `json:"device"`
	PagePath    string        `json:"pagePath,omitempty"`
	SampleCount int           `json:"sampleCount"`
	Partial     bool          `json:"partial"`
	Missing     []string      `json:"missing,omitempty"`
	Metrics     []MetricScore `json:"metrics"`
}

// Score is the payload of the score endpoint.
type Score struct {
	Score  ScoreBreakdown `json:"score"`
	Window Window         `json:"window"`
}

// Health is the server's health report.
type Health struct {
	Status       string     `json:"status"`
	Version      string     `json:"version"`
	Store        string     `json:"store"`
	BufferDepth  int        `json:"buffer_depth"`
	BufferStatus string     `json:"buffer_status"`
	WindowEnd    *time.Time `json:"window_end,omitempty"`
	Uptime       int64      `json:"uptime_seconds"`
}
