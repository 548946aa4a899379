package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/vitals/internal/testutil"
)

var noContent = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "abc-123", seen)

	req.Header.Set("X-Request-ID", strings.Repeat("x", maxRequestIDLen+1))
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.NotEqual(t, strings.Repeat("x", maxRequestIDLen+1), seen)
}

func TestCORSMiddleware(t *testing.T) {
	h := corsMiddleware([]string{"https://app.example"}, noContent)

	req := httptest.NewRequest(http.MethodOptions, "/api/vitals", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/vitals/summary", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	wild := corsMiddleware([]string{"*"}, noContent)
	rec = httptest.NewRecorder()
	wild.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	rec := httptest.NewRecorder()
	securityHeadersMiddleware(noContent).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := requestIDMiddleware(recoveryMiddleware(testutil.TestLogger(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestRouteName(t *testing.T) {
	for path, want := range map[string]string{
		"/api/vitals/pages": "/api/vitals/pages",
		"/health":           "/health",
		"/mcp":              "/mcp",
		"/wp-admin":         "other",
	} {
		assert.Equal(t, want, routeName(httptest.NewRequest(http.MethodGet, path, nil)), path)
	}
}
