package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Sink delivers batches. Report may block for up to the collector timeout.
type Sink interface {
	Report(ctx context.Context, batch Batch) error
}

// Beaconer is implemented by sinks with a transport that survives page
// teardown: Beacon queues the batch and returns without waiting for the
// response. It reports whether the batch was queued.
type Beaconer interface {
	Beacon(batch Batch) bool
}

// HTTPSink posts batches to the ingestion endpoint.
type HTTPSink struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
	inflight sync.WaitGroup
}

// NewHTTPSink creates a sink for endpoint. Every request is bounded by
// timeout.
func NewHTTPSink(endpoint string, timeout time.Duration) *HTTPSink {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPSink{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		timeout:  timeout,
	}
}

// Report posts batch as application/json and waits for the response.
func (s *HTTPSink) Report(ctx context.Context, batch Batch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("collector: marshal batch: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.post(ctx, "application/json", body)
}

// Beacon posts batch from a detached goroutine with its own deadline, so
// the request outlives the caller. The body is sent as text/plain, the
// content type a browser beacon uses.
func (s *HTTPSink) Beacon(batch Batch) bool {
	body, err := json.Marshal(batch)
	if err != nil {
		return false
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_ = s.post(ctx, "text/plain;charset=UTF-8", body)
	}()
	return true
}

// Wait blocks until every queued beacon has completed or timed out. Call it
// before process exit.
func (s *HTTPSink) Wait() {
	s.inflight.Wait()
}

func (s *HTTPSink) post(ctx context.Context, contentType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("collector: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("collector: post batch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("collector: post batch: status %d", resp.StatusCode)
	}
	return nil
}
