package collector

import (
	"math"
	"time"
)

// Metric is a Core Web Vitals metric name as sent on the wire.
type Metric string

const (
	LCP  Metric = "LCP"
	INP  Metric = "INP"
	CLS  Metric = "CLS"
	FCP  Metric = "FCP"
	TTFB Metric = "TTFB"
)

// Valid reports whether m is one of the five reported metrics.
func (m Metric) Valid() bool {
	switch m {
	case LCP, INP, CLS, FCP, TTFB:
		return true
	}
	return false
}

// Device is the device class of the reporting page.
type Device string

const (
	Mobile  Device = "mobile"
	Desktop Device = "desktop"
)

// Page identifies the page session a Collector reports for.
type Page struct {
	Path   string
	Title  string
	Device Device
}

// Sample is one metric observation in the ingestion wire format.
type Sample struct {
	Metric      Metric    `json:"metric"`
	Value       float64   `json:"value"`
	PagePath    string    `json:"pagePath"`
	PageTitle   string    `json:"pageTitle,omitempty"`
	DeviceClass Device    `json:"deviceClass"`
	Timestamp   time.Time `json:"timestamp"`
	SessionID   string    `json:"sessionId"`
}

// Batch is the body of one ingestion request.
type Batch struct {
	Samples []Sample `json:"samples"`
}

func validValue(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
