package model

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"unicode/utf8"
)

// Field length limits for RawVitalSample. Samples arrive from untrusted
// browsers, so every free-text field is capped.
const (
	MaxPagePathLen  = 2048
	MaxPageTitleLen = 512
	MaxSessionIDLen = 128
)

// ErrInvalidSample wraps every validation failure so callers can count
// malformed samples without inspecting messages.
var ErrInvalidSample = errors.New("invalid sample")

// ValidateSample checks one sample for the malformed-input cases the
// ingestion endpoint must reject. Run it on the normalized sample: the text
// checks apply to what will be stored.
func ValidateSample(s RawVitalSample) error {
	if !s.Metric.Valid() {
		return fmt.Errorf("%w: unknown metric %q", ErrInvalidSample, s.Metric)
	}
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return fmt.Errorf("%w: value must be finite", ErrInvalidSample)
	}
	if s.Value < 0 {
		return fmt.Errorf("%w: value must be non-negative (got %v)", ErrInvalidSample, s.Value)
	}
	if s.PagePath == "" {
		return fmt.Errorf("%w: pagePath is required", ErrInvalidSample)
	}
	if !strings.HasPrefix(s.PagePath, "/") {
		return fmt.Errorf("%w: pagePath must start with /", ErrInvalidSample)
	}
	if len(s.PagePath) > MaxPagePathLen {
		return fmt.Errorf("%w: pagePath exceeds %d bytes", ErrInvalidSample, MaxPagePathLen)
	}
	if err := validText("pagePath", s.PagePath); err != nil {
		return err
	}
	if len(s.PageTitle) > MaxPageTitleLen {
		return fmt.Errorf("%w: pageTitle exceeds %d bytes", ErrInvalidSample, MaxPageTitleLen)
	}
	if err := validText("pageTitle", s.PageTitle); err != nil {
		return err
	}
	if !s.DeviceClass.Valid() {
		return fmt.Errorf("%w: unknown deviceClass %q", ErrInvalidSample, s.DeviceClass)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidSample)
	}
	if s.SessionID == "" {
		return fmt.Errorf("%w: sessionId is required", ErrInvalidSample)
	}
	if len(s.SessionID) > MaxSessionIDLen {
		return fmt.Errorf("%w: sessionId exceeds %d bytes", ErrInvalidSample, MaxSessionIDLen)
	}
	if err := validText("sessionId", s.SessionID); err != nil {
		return err
	}
	return nil
}

// validText rejects strings Postgres text columns cannot hold.
func validText(field, v string) error {
	if !utf8.ValidString(v) {
		return fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidSample, field)
	}
	if strings.IndexByte(v, 0) >= 0 {
		return fmt.Errorf("%w: %s contains a NUL byte", ErrInvalidSample, field)
	}
	return nil
}

// NormalizePagePath strips the query string and fragment and removes a
// trailing slash so "/chat/", "/chat?x=1" and "/chat" aggregate together.
func NormalizePagePath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if unescaped, err := url.PathUnescape(p); err == nil {
		p = unescaped
	}
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimSuffix(p, "/")
	}
	if p == "" {
		return "/"
	}
	return p
}
