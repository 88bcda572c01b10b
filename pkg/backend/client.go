// Package backend implements the wire client for the asynchronous image
// generation backend.
//
// The client is a stateless wrapper over four remote operations: upload an
// input asset, submit a generation request, query job status, and fetch the
// finished artifact. Each call is a single round-trip with no internal retry
// or job bookkeeping; retry scheduling and lifecycle tracking belong to the
// batch engine.
//
// Errors are classified at this layer (see TransportError) so callers can
// make retry decisions without inspecting HTTP details.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// State is the backend-reported lifecycle state of a submitted job.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateNotFound  State = "not_found"
)

// Status is the result of a single non-blocking status query.
type Status struct {
	// State is the backend-reported state.
	State State `json:"state"`

	// Reason carries the failure reason when State is StateFailed.
	Reason string `json:"reason,omitempty"`
}

// SubmitRequest is the payload for a generation submission.
//
// Template is an opaque, pre-validated workflow graph. The client never
// interprets it; the backend resolves the asset reference and named
// parameters against the graph's injection points.
type SubmitRequest struct {
	Template json.RawMessage `json:"template"`
	AssetRef string          `json:"assetRef"`
	Params   map[string]any  `json:"params,omitempty"`
}

// Config configures the backend client.
type Config struct {
	// Endpoint is the backend base URL, e.g. "http://127.0.0.1:8188".
	Endpoint string

	// RequestTimeout bounds a single round-trip. Zero applies
	// DefaultRequestTimeout. Poll scheduling is the caller's concern;
	// this only protects against a hung connection.
	RequestTimeout time.Duration
}

// DefaultRequestTimeout bounds a single HTTP round-trip.
const DefaultRequestTimeout = 60 * time.Second

// Validate checks the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("backend endpoint is required")
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid backend endpoint %q: %w", c.Endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend endpoint must be http or https, got %q", c.Endpoint)
	}
	return nil
}

// Client talks to a single inference backend endpoint.
//
// Client holds no per-job state and is safe for concurrent use by any
// number of workers.
type Client struct {
	base       *url.URL
	httpClient *http.Client
}

// New creates a backend client.
//
// Construction validates the endpoint but performs no network call; use
// Ping for a reachability check.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(strings.TrimRight(cfg.Endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend endpoint %q: %w", cfg.Endpoint, err)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return &Client{
		base:       base,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Endpoint returns the configured base URL.
func (c *Client) Endpoint() string {
	return c.base.String()
}

// Ping verifies the endpoint is reachable. Any HTTP response counts as
// reachable; only connection-level failures are errors.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.String()+"/", nil)
	if err != nil {
		return &TransportError{Op: "ping", Retryable: false, Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: "ping", Retryable: true, Err: err}
	}
	drainAndClose(resp.Body)
	return nil
}

// Upload sends raw asset bytes and returns an opaque reference the backend
// can resolve during generation.
func (c *Client) Upload(ctx context.Context, name string, body io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String()+"/upload", body)
	if err != nil {
		return "", &TransportError{Op: "upload", Retryable: false, Err: err}
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if name != "" {
		req.Header.Set("X-Asset-Name", name)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransportError{Op: "upload", Retryable: true, Err: err}
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", classifyHTTP("upload", resp)
	}

	var payload struct {
		AssetRef string `json:"assetRef"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", &TransportError{Op: "upload", StatusCode: resp.StatusCode, Retryable: true, Err: fmt.Errorf("decode response: %w", err)}
	}
	if payload.AssetRef == "" {
		return "", &TransportError{Op: "upload", StatusCode: resp.StatusCode, Retryable: false, Err: fmt.Errorf("backend returned empty assetRef")}
	}
	return payload.AssetRef, nil
}

// Submit enqueues a generation request and returns the backend-assigned
// job identifier. The call is non-blocking with respect to generation:
// the handle is returned as soon as the backend accepts the job.
func (c *Client) Submit(ctx context.Context, sub SubmitRequest) (string, error) {
	if sub.AssetRef == "" {
		return "", &TransportError{Op: "submit", Retryable: false, Err: fmt.Errorf("assetRef is required")}
	}
	if len(sub.Template) == 0 {
		return "", &TransportError{Op: "submit", Retryable: false, Err: fmt.Errorf("template is required")}
	}

	buf, err := json.Marshal(sub)
	if err != nil {
		return "", &TransportError{Op: "submit", Retryable: false, Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String()+"/submit", bytes.NewReader(buf))
	if err != nil {
		return "", &TransportError{Op: "submit", Retryable: false, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransportError{Op: "submit", Retryable: true, Err: err}
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", classifyHTTP("submit", resp)
	}

	var payload struct {
		RemoteHandle string `json:"remoteHandle"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", &TransportError{Op: "submit", StatusCode: resp.StatusCode, Retryable: true, Err: fmt.Errorf("decode response: %w", err)}
	}
	if payload.RemoteHandle == "" {
		return "", &TransportError{Op: "submit", StatusCode: resp.StatusCode, Retryable: false, Err: fmt.Errorf("backend returned empty remoteHandle")}
	}
	return payload.RemoteHandle, nil
}

// Status queries the current state of a submitted job.
//
// An unknown handle is reported as StateNotFound, not an error: the caller
// decides whether that is fatal for its attempt.
func (c *Client) Status(ctx context.Context, handle string) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.String()+"/status/"+url.PathEscape(handle), nil)
	if err != nil {
		return Status{}, &TransportError{Op: "status", Retryable: false, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Status{}, &TransportError{Op: "status", Retryable: true, Err: err}
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return Status{State: StateNotFound}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Status{}, classifyHTTP("status", resp)
	}

	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return Status{}, &TransportError{Op: "status", StatusCode: resp.StatusCode, Retryable: true, Err: fmt.Errorf("decode response: %w", err)}
	}
	return st, nil
}

// Result fetches the finished artifact for a job whose status reported
// StateSucceeded. The caller owns the returned reader and must close it.
func (c *Client) Result(ctx context.Context, handle string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.String()+"/result/"+url.PathEscape(handle), nil)
	if err != nil {
		return nil, &TransportError{Op: "result", Retryable: false, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "result", Retryable: true, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		defer drainAndClose(resp.Body)
		return nil, classifyHTTP("result", resp)
	}
	return resp.Body, nil
}

// classifyHTTP maps a non-200 response to a TransportError.
//
// 5xx and 429 are transient; everything else in the 4xx range is a
// deterministic rejection.
func classifyHTTP(op string, resp *http.Response) error {
	msg := readErrorBody(resp.Body)
	retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	return &TransportError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Retryable:  retryable,
		Err:        fmt.Errorf("%s", msg),
	}
}

// readErrorBody extracts a short error message from a failed response.
func readErrorBody(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return "backend error"
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(raw))
}

// drainAndClose consumes the remaining body so the connection can be reused.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<20))
	_ = body.Close()
}
