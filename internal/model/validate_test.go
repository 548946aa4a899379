package model_test

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/vitals/internal/model"
)

func validSample() model.RawVitalSample {
	return model.RawVitalSample{
		Metric:      model.MetricLCP,
		Value:       2100,
		PagePath:    "/chat",
		PageTitle:   "Chat",
		DeviceClass: model.DeviceDesktop,
		Timestamp:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		SessionID:   "b7c1f2a4-1111-4222-8333-944455556666",
	}
}

func TestValidateSample_HappyPath(t *testing.T) {
	assert.NoError(t, model.ValidateSample(validSample()))
}

func TestValidateSample_ZeroValueIsValid(t *testing.T) {
	s := validSample()
	s.Metric = model.MetricCLS
	s.Value = 0
	assert.NoError(t, model.ValidateSample(s), "a measured 0 is a real value")
}

func TestValidateSample_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.RawVitalSample)
		want   string
	}{
		{"unknown metric", func(s *model.RawVitalSample) { s.Metric = "FID" }, "metric"},
		{"negative value", func(s *model.RawVitalSample) { s.Value = -1 }, "non-negative"},
		{"NaN value", func(s *model.RawVitalSample) { s.Value = math.NaN() }, "finite"},
		{"Inf value", func(s *model.RawVitalSample) { s.Value = math.Inf(1) }, "finite"},
		{"empty path", func(s *model.RawVitalSample) { s.PagePath = "" }, "pagePath"},
		{"relative path", func(s *model.RawVitalSample) { s.PagePath = "chat" }, "pagePath"},
		{"long path", func(s *model.RawVitalSample) { s.PagePath = "/" + strings.Repeat("a", model.MaxPagePathLen) }, "pagePath"},
		{"long title", func(s *model.RawVitalSample) { s.PageTitle = strings.Repeat("t", model.MaxPageTitleLen+1) }, "pageTitle"},
		{"unknown device", func(s *model.RawVitalSample) { s.DeviceClass = "tablet" }, "deviceClass"},
		{"zero timestamp", func(s *model.RawVitalSample) { s.Timestamp = time.Time{} }, "timestamp"},
		{"empty session", func(s *model.RawVitalSample) { s.SessionID = "" }, "sessionId"},
		{"long session", func(s *model.RawVitalSample) { s.SessionID = strings.Repeat("s", model.MaxSessionIDLen+1) }, "sessionId"},
		{"NUL in path", func(s *model.RawVitalSample) { s.PagePath = "/chat\x00" }, "NUL"},
		{"invalid UTF-8 path", func(s *model.RawVitalSample) { s.PagePath = "/chat\xff" }, "UTF-8"},
		{"NUL in title", func(s *model.RawVitalSample) { s.PageTitle = "\u0000" }, "pageTitle"},
		{"invalid UTF-8 title", func(s *model.RawVitalSample) { s.PageTitle = "Caf\xe9" }, "pageTitle"},
		{"NUL session", func(s *model.RawVitalSample) { s.SessionID = "\u0000" }, "sessionId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSample()
			tt.mutate(&s)
			err := model.ValidateSample(s)
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrInvalidSample)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNormalizePagePath(t *testing.T) {
	tests := map[string]string{
		"/chat":            "/chat",
		"/chat/":           "/chat",
		"/chat?x=1":        "/chat",
		"/chat/#section":   "/chat",
		"/":                "/",
		"/?utm_source=a":   "/",
		"/docs//":          "/docs",
		"/caf%C3%A9/menu/": "/café/menu",
	}
	for in, want := range tests {
		assert.Equal(t, want, model.NormalizePagePath(in), "NormalizePagePath(%q)", in)
	}
}

func TestRawVitalSample_JSONShape(t *testing.T) {
	s := validSample()
	s.ReceivedAt = time.Now()
	b, err := json.Marshal(s)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	for _, k := range []string{"metric", "value", "pagePath", "pageTitle", "deviceClass", "timestamp", "sessionId"} {
		assert.Contains(t, m, k)
	}
	assert.NotContains(t, m, "ReceivedAt", "server receive time is never part of the wire format")
	assert.Len(t, m, 7)
}
