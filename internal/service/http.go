package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dshills/toolhost/internal/plugin/security"
)

// ErrHTTPRateLimited is returned when a plugin exceeds its outbound
// request rate.
var ErrHTTPRateLimited = errors.New("http request rate limit exceeded")

// DefaultHTTPTimeout bounds a single outbound request.
const DefaultHTTPTimeout = 30 * time.Second

// maxResponseBody caps how much of a response body is returned to a
// sandboxed caller.
const maxResponseBody = 4 * 1024 * 1024 // 4 MB

// HTTPClient is the outbound HTTP facade handed to plugins holding the
// network permission. Requests are admitted by the plugin's resource
// monitor so outbound traffic counts against the same usage record as
// file operations.
type HTTPClient struct {
	client  *http.Client
	monitor *security.Monitor
}

// NewHTTPClient creates a client gated by the monitor's outbound
// request limit. A nil monitor means unlimited.
func NewHTTPClient(monitor *security.Monitor) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: DefaultHTTPTimeout},
		monitor: monitor,
	}
}

// Response is the reduced response shape crossing the sandbox boundary.
type Response struct {
	Status  int
	Headers map[string]string
	Body    string
}

// Do performs a request with the given method, URL, headers, and body.
func (h *HTTPClient) Do(ctx context.Context, method, url string, headers map[string]string, body string) (*Response, error) {
	if h.monitor != nil && !h.monitor.TryHTTPRequest() {
		return nil, ErrHTTPRateLimited
	}

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("http: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("http: read response: %w", err)
	}

	out := &Response{
		Status:  resp.StatusCode,
		Headers: make(map[string]string, len(resp.Header)),
		Body:    string(data),
	}
	for k := range resp.Header {
		out.Headers[k] = resp.Header.Get(k)
	}
	return out, nil
}

// Get performs a GET request.
func (h *HTTPClient) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return h.Do(ctx, http.MethodGet, url, headers, "")
}

// Post performs a POST request.
func (h *HTTPClient) Post(ctx context.Context, url string, headers map[string]string, body string) (*Response, error) {
	return h.Do(ctx, http.MethodPost, url, headers, body)
}
