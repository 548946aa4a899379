package model

import (
	"fmt"
	"strings"
)

// SortField is a column the page list can be ordered by.
type SortField string

const (
	SortPageLoads        SortField = "pageLoads"
	SortPerformanceScore SortField = "performanceScore"
	SortOpportunity      SortField = "opportunity"
	SortLCP              SortField = "lcp"
	SortINP              SortField = "inp"
	SortCLS              SortField = "cls"
	SortFCP              SortField = "fcp"
	SortTTFB             SortField = "ttfb"
)

// SortOrder is asc or desc.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Page list bounds.
const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// PageQuery holds the parameters of listPagePerformance.
type PageQuery struct {
	Limit     int         `json:"limit"`
	Offset    int         `json:"offset"`
	SortBy    SortField   `json:"sortBy"`
	SortOrder SortOrder   `json:"sortOrder"`
	Search    string      `json:"search,omitempty"`
	Device    DeviceClass `json:"device"`
}

// PageList is one page of PageWebVitals rows.
type PageList struct {
	Pages   []PageWebVitals `json:"pages"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
	HasMore bool            `json:"hasMore"`
}

// ParseSortField resolves a sortBy value. Empty selects pageLoads.
func ParseSortField(s string) (SortField, error) {
	if s == "" {
		return SortPageLoads, nil
	}
	for _, f := range []SortField{SortPageLoads, SortPerformanceScore, SortOpportunity, SortLCP, SortINP, SortCLS, SortFCP, SortTTFB} {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("invalid sortBy %q", s)
}

// ParseSortOrder resolves a sortOrder value. Empty selects desc.
func ParseSortOrder(s string) (SortOrder, error) {
	switch strings.ToLower(s) {
	case "":
		return SortDesc, nil
	case string(SortAsc):
		return SortAsc, nil
	case string(SortDesc):
		return SortDesc, nil
	}
	return "", fmt.Errorf("invalid sortOrder %q (expected asc or desc)", s)
}

// Metric returns the vital a sort field refers to, if any.
func (f SortField) Metric() (Metric, bool) {
	switch f {
	case SortLCP:
		return MetricLCP, true
	case SortINP:
		return MetricINP, true
	case SortCLS:
		return MetricCLS, true
	case SortFCP:
		return MetricFCP, true
	case SortTTFB:
		return MetricTTFB, true
	}
	return "", false
}

// Normalize fills defaults and clamps limit and offset into range.
func (q PageQuery) Normalize() PageQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultPageLimit
	}
	if q.Limit > MaxPageLimit {
		q.Limit = MaxPageLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.SortBy == "" {
		q.SortBy = SortPageLoads
	}
	if q.SortOrder == "" {
		q.SortOrder = SortDesc
	}
	if q.Device == "" {
		q.Device = DeviceDesktop
	}
	q.Search = strings.TrimSpace(q.Search)
	return q
}
