package model

import "time"

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	Total   int          `json:"total"`
	HasMore bool         `json:"hasMore"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Window  *WindowMeta  `json:"window,omitempty"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeUnavailable   = "UNAVAILABLE"
)

// IngestRequest is the request body for POST /api/vitals.
type IngestRequest struct {
	Samples []RawVitalSample `json:"samples"`
}

// IngestResponse reports how a batch was handled. Malformed and duplicate
// samples are dropped individually; the rest of the batch is kept.
type IngestResponse struct {
	Accepted   int `json:"accepted"`
	Rejected   int `json:"rejected"`
	Duplicates int `json:"duplicates"`
}

// WindowMeta identifies the materialized window a read was served from.
type WindowMeta struct {
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// SummaryResponse is the payload of GET /api/vitals/summary.
type SummaryResponse struct {
	Device DeviceClass   `json:"device"`
	Vitals VitalsSummary `json:"vitals"`
	Window WindowMeta    `json:"window"`
}

// ScoreResponse is the payload of GET /api/vitals/score.
type ScoreResponse struct {
	Score  PerformanceScoreBreakdown `json:"score"`
	Window WindowMeta                `json:"window"`
}

// HealthResponse is the payload of GET /health.
type HealthResponse struct {
	Status       string     `json:"status"`
	Version      string     `json:"version"`
	Store        string     `json:"store"`
	BufferDepth  int        `json:"buffer_depth"`
	BufferStatus string     `json:"buffer_status"`
	WindowEnd    *time.Time `json:"window_end,omitempty"`
	Uptime       int64      `json:"uptime_seconds"`
}
