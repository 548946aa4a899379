package aggregate

import (
	"fmt"
	"strings"
	"time"

	"github.com/ashita-ai/vitals/internal/model"
)

// Key identifies one aggregation shard. An empty PagePath is the site-wide
// shard for the metric and device.
type Key struct {
	PagePath string
	Metric   model.Metric
	Device   model.DeviceClass
}

// SiteKey returns the site-wide key for m on d.
func SiteKey(m model.Metric, d model.DeviceClass) Key {
	return Key{Metric: m, Device: d}
}

// IsSite reports whether k is a site-wide key.
func (k Key) IsSite() bool { return k.PagePath == "" }

func (k Key) String() string {
	path := k.PagePath
	if path == "" {
		path = "*"
	}
	return fmt.Sprintf("%s|%s|%s", path, k.Metric, k.Device)
}

// PageDevice identifies one row of the page breakdown.
type PageDevice struct {
	PagePath string
	Device   model.DeviceClass
}

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// ClosedWindow returns the most recent window of the given size that is
// fully closed at now, allowing grace for late deliveries. Window
// boundaries follow time.Time.Truncate, so every replica cuts the same ones.
func ClosedWindow(now time.Time, size, grace time.Duration) Window {
	end := now.Add(-grace).UTC().Truncate(size)
	return Window{Start: end.Add(-size), End: end}
}

// Previous returns the window immediately before w.
func (w Window) Previous() Window {
	d := w.End.Sub(w.Start)
	return Window{Start: w.Start.Add(-d), End: w.Start}
}

// Size returns the window length.
func (w Window) Size() time.Duration { return w.End.Sub(w.Start) }

// Contains reports whether t falls in [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w Window) String() string {
	return w.Start.Format(time.RFC3339) + "/" + w.End.Format(time.RFC3339)
}

// OutlierPolicy controls how values above a metric's outlier ceiling are
// treated before the percentile is taken.
type OutlierPolicy string

const (
	OutlierNone    OutlierPolicy = "none"
	OutlierClamp   OutlierPolicy = "clamp"
	OutlierDiscard OutlierPolicy = "discard"
)

// ParseOutlierPolicy resolves a policy name. Empty selects none.
func ParseOutlierPolicy(s string) (OutlierPolicy, error) {
	switch p := OutlierPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return OutlierNone, nil
	case OutlierNone, OutlierClamp, OutlierDiscard:
		return p, nil
	}
	return "", fmt.Errorf("aggregate: unknown outlier policy %q (expected none, clamp, or discard)", s)
}
