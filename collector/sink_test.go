package collector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	mu           sync.Mutex
	contentTypes []string
	batches      []Batch
}

func (c *capture) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var b Batch
		_ = json.NewDecoder(r.Body).Decode(&b)
		c.mu.Lock()
		c.contentTypes = append(c.contentTypes, r.Header.Get("Content-Type"))
		c.batches = append(c.batches, b)
		c.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (c *capture) snapshot() ([]string, []Batch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.contentTypes...), append([]Batch(nil), c.batches...)
}

func testBatch() Batch {
	return Batch{Samples: []Sample{{
		Metric:      LCP,
		Value:       2100,
		PagePath:    "/",
		DeviceClass: Desktop,
		Timestamp:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		SessionID:   "sess-1",
	}}}
}

func TestHTTPSinkReport(t *testing.T) {
	var got capture
	srv := httptest.NewServer(got.handler(http.StatusAccepted))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, time.Second)
	require.NoError(t, sink.Report(context.Background(), testBatch()))

	types, batches := got.snapshot()
	require.Len(t, batches, 1)
	assert.Equal(t, "application/json", types[0])
	assert.Equal(t, testBatch(), batches[0])
}

func TestHTTPSinkReportStatusError(t *testing.T) {
	var got capture
	srv := httptest.NewServer(got.handler(http.StatusServiceUnavailable))
	defer srv.Close()

	err := NewHTTPSink(srv.URL, time.Second).Report(context.Background(), testBatch())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPSinkReportTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	err := NewHTTPSink(srv.URL, 50*time.Millisecond).Report(context.Background(), testBatch())
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHTTPSinkBeaconIsDetached(t *testing.T) {
	var got capture
	srv := httptest.NewServer(got.handler(http.StatusAccepted))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, time.Second)
	assert.True(t, sink.Beacon(testBatch()))
	sink.Wait()

	types, batches := got.snapshot()
	require.Len(t, batches, 1)
	assert.Equal(t, "text/plain;charset=UTF-8", types[0])
}

func TestCollectorEndToEndOverHTTP(t *testing.T) {
	var got capture
	srv := httptest.NewServer(got.handler(http.StatusAccepted))
	defer srv.Close()

	c, err := New(Config{Enabled: true, SampleRate: 1, Endpoint: srv.URL, BatchSize: 2, FlushInterval: time.Hour},
		Page{Path: "/chat", Device: Desktop}, WithRand(always))
	require.NoError(t, err)
	c.Start()
	c.Record(LCP, 2000)
	c.Record(INP, 150)

	require.Eventually(t, func() bool {
		_, batches := got.snapshot()
		return len(batches) == 1
	}, time.Second, 5*time.Millisecond)
	c.Stop()
	assert.Equal(t, int64(2), c.Stats().Sent)
}
