package aggregate

import (
	"github.com/ashita-ai/vitals/internal/model"
)

type dedupeKey struct {
	sessionID string
	metric    model.Metric
	pagePath  string
}

// Dedupe keeps one sample per (session, metric, page), the earliest capture.
// Ties on timestamp keep the first one seen. Output order follows the first
// appearance of each key.
func Dedupe(samples []model.RawVitalSample) []model.RawVitalSample {
	idx := make(map[dedupeKey]int, len(samples))
	out := make([]model.RawVitalSample, 0, len(samples))
	for _, s := range samples {
		k := dedupeKey{s.SessionID, s.Metric, s.PagePath}
		if i, ok := idx[k]; ok {
			if s.Timestamp.Before(out[i].Timestamp) {
				out[i] = s
			}
			continue
		}
		idx[k] = len(out)
		out = append(out, s)
	}
	return out
}

// Group de-duplicates samples and buckets their values by key. Every sample
// lands in its page key and in the site key for its metric and device.
func Group(samples []model.RawVitalSample) map[Key][]float64 {
	out := make(map[Key][]float64)
	for _, s := range Dedupe(samples) {
		page := Key{PagePath: s.PagePath, Metric: s.Metric, Device: s.DeviceClass}
		site := SiteKey(s.Metric, s.DeviceClass)
		out[page] = append(out[page], s.Value)
		out[site] = append(out[site], s.Value)
	}
	return out
}

// PageLoads counts distinct sessions per page and device.
func PageLoads(samples []model.RawVitalSample) map[PageDevice]int {
	seen := make(map[PageDevice]map[string]struct{})
	for _, s := range samples {
		pd := PageDevice{PagePath: s.PagePath, Device: s.DeviceClass}
		sessions, ok := seen[pd]
		if !ok {
			sessions = make(map[string]struct{})
			seen[pd] = sessions
		}
		sessions[s.SessionID] = struct{}{}
	}
	out := make(map[PageDevice]int, len(seen))
	for pd, sessions := range seen {
		out[pd] = len(sessions)
	}
	return out
}

// SessionCounts counts distinct sessions per device across the whole site.
func SessionCounts(samples []model.RawVitalSample) map[model.DeviceClass]int {
	seen := make(map[model.DeviceClass]map[string]struct{})
	for _, s := range samples {
		sessions, ok := seen[s.DeviceClass]
		if !ok {
			sessions = make(map[string]struct{})
			seen[s.DeviceClass] = sessions
		}
		sessions[s.SessionID] = struct{}{}
	}
	out := make(map[model.DeviceClass]int, len(seen))
	for d, sessions := range seen {
		out[d] = len(sessions)
	}
	return out
}

// PageTitles returns the most recently captured non-empty title per page.
func PageTitles(samples []model.RawVitalSample) map[string]string {
	type titled struct {
		title string
		at    int64
	}
	latest := make(map[string]titled)
	for _, s := range samples {
		if s.PageTitle == "" {
			continue
		}
		at := s.Timestamp.UnixNano()
		if cur, ok := latest[s.PagePath]; !ok || at >= cur.at {
			latest[s.PagePath] = titled{s.PageTitle, at}
		}
	}
	out := make(map[string]string, len(latest))
	for p, t := range latest {
		out[p] = t.title
	}
	return out
}
