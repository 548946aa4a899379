package vitals

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the vitals server (e.g. "http://localhost:8080").
	BaseURL string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with Timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the vitals API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("vitals: BaseURL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  httpClient,
	}, nil
}

// Ingest posts a batch of samples. Malformed and duplicate samples are
// counted in the response rather than failing the call.
func (c *Client) Ingest(ctx context.Context, samples []Sample) (*IngestResponse, error) {
	body := map[string]any{"samples": samples}
	var resp IngestResponse
	if err := c.post(ctx, "/api/vitals", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Summary returns the site-wide vitals for device ("mobile" or "desktop";
// empty means desktop).
func (c *Client) Summary(ctx context.Context, device string) (*Summary, error) {
	params := url.Values{}
	if device != "" {
		params.Set("device", device)
	}
	var resp Summary
	if err := c.get(ctx, withQuery("/api/vitals/summary", params), &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pages returns one page of the per-page breakdown. Nil opts take the
// server defaults.
func (c *Client) Pages(ctx context.Context, opts *PageOptions) (*PageList, error) {
	params := url.Values{}
	if opts != nil {
		if opts.Limit > 0 {
			params.Set("limit", strconv.Itoa(opts.Limit))
		}
		if opts.Offset > 0 {
			params.Set("offset", strconv.Itoa(opts.Offset))
		}
		if opts.SortBy != "" {
			params.Set("sortBy", opts.SortBy)
		}
		if opts.SortOrder != "" {
			params.Set("sortOrder", opts.SortOrder)
		}
		if opts.Search != "" {
			params.Set("search", opts.Search)
		}
		if opts.Device != "" {
			params.Set("device", opts.Device)
		}
	}
	var resp PageList
	if err := c.get(ctx, withQuery("/api/vitals/pages", params), &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Score returns the performance score breakdown for pagePath, or the
// site-wide breakdown when pagePath is empty.
func (c *Client) Score(ctx context.Context, pagePath, device string) (*Score, error) {
	params := url.Values{}
	if pagePath != "" {
		params.Set("pagePath", pagePath)
	}
	if device != "" {
		params.Set("device", device)
	}
	var resp Score
	if err := c.get(ctx, withQuery("/api/vitals/score", params), &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health returns the server's health report. An unhealthy server answers
// 503 with the report in the body; that case returns the report and an
// *Error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var resp Health
	err := c.get(ctx, "/health", &resp, true)
	if err != nil && !IsUnavailable(err) {
		return nil, err
	}
	return &resp, err
}

func withQuery(path string, params url.Values) string {
	if len(params) == 0 {
		return path
	}
	return path + "?" + params.Encode()
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("vitals: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("vitals: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req, dest, true)
}

func (c *Client) get(ctx context.Context, path string, dest any, unwrap bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("vitals: create request: %w", err)
	}

	return c.doRequest(req, dest, unwrap)
}

func (c *Client) doRequest(req *http.Request, dest any, unwrap bool) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("vitals: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest, unwrap)
}

// handleResponse decodes a response into dest. List responses carry their
// pagination fields next to "data", so they are decoded whole.
func handleResponse(resp *http.Response, dest any, unwrap bool) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("vitals: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := parseErrorResponse(resp.StatusCode, bodyBytes)
		// Health reports its body alongside a 503.
		if dest != nil && resp.StatusCode == http.StatusServiceUnavailable {
			var envelope apiEnvelope
			if json.Unmarshal(bodyBytes, &envelope) == nil && envelope.Data != nil {
				_ = json.Unmarshal(envelope.Data, dest)
			}
		}
		return apiErr
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	if !unwrap {
		if err := json.Unmarshal(bodyBytes, dest); err != nil {
			return fmt.Errorf("vitals: decode response: %w", err)
		}
		return nil
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("vitals: decode response envelope: %w", err)
	}
	if envelope.Data == nil {
		return fmt.Errorf("vitals: response has no data")
	}
	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		return fmt.Errorf("vitals: decode response data: %w", err)
	}
	return nil
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
