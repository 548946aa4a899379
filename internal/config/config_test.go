package config

import (
	"strings"
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvFloatInvalid(t *testing.T) {
	t.Setenv("TEST_FLOAT_BAD", "1.2.3")
	_, err := envFloat("TEST_FLOAT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid number, got nil")
	}
	if got := err.Error(); got != `TEST_FLOAT_BAD="1.2.3" is not a valid number` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvList(t *testing.T) {
	t.Setenv("TEST_LIST", " https://a.example , ,https://b.example")
	got := envList("TEST_LIST", nil)
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("unexpected list: %v", got)
	}
}

func TestLoadFailsOnInvalidPort(t *testing.T) {
	t.Setenv("VITALS_PORT", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid VITALS_PORT")
	}
	// Error should mention the variable name and value.
	if got := err.Error(); !strings.Contains(got, "VITALS_PORT") || !strings.Contains(got, "abc") {
		t.Fatalf("error should mention VITALS_PORT and value 'abc', got: %s", got)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("VITALS_PORT", "abc")
	t.Setenv("VITALS_WINDOW", "xyz")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !strings.Contains(got, "VITALS_PORT") {
		t.Fatalf("error should mention VITALS_PORT, got: %s", got)
	}
	if !strings.Contains(got, "VITALS_WINDOW") {
		t.Fatalf("error should mention VITALS_WINDOW, got: %s", got)
	}
}

func TestLoadRejectsBadOutlierPolicy(t *testing.T) {
	t.Setenv("VITALS_OUTLIER_POLICY", "trim")
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "VITALS_OUTLIER_POLICY") {
		t.Fatalf("expected outlier policy error, got: %v", err)
	}
}

func TestLoadRejectsGraceLongerThanWindow(t *testing.T) {
	t.Setenv("VITALS_WINDOW", "5m")
	t.Setenv("VITALS_WINDOW_GRACE", "10m")
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "VITALS_WINDOW_GRACE") {
		t.Fatalf("expected grace error, got: %v", err)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	// With no env vars set, Load should succeed using all defaults.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if !cfg.UseSQLite() {
		t.Fatal("expected SQLite when DATABASE_URL is unset")
	}
	if cfg.Window != time.Hour || cfg.HistorySize != 24 || cfg.OutlierPolicy != "none" {
		t.Fatalf("unexpected aggregation defaults: %+v", cfg)
	}
}
