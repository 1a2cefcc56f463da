package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ramiqadoumi/go-poll-sync/internal/domain"
)

// Client fetches queue snapshots and run logs from the remote service's two
// read endpoints. Both are idempotent GETs, safe to poll at sub-second rates.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client (30s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the service rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchSnapshot sends GET /queue and returns the current queue snapshot.
func (c *Client) FetchSnapshot(ctx context.Context) (*domain.QueueSnapshot, error) {
	var snap domain.QueueSnapshot
	if err := c.get(ctx, c.baseURL+"/queue", &snap); err != nil {
		return nil, fmt.Errorf("fetch queue snapshot: %w", err)
	}
	return &snap, nil
}

// FetchLogs sends GET /runs/{run_id}/logs?since={index}&limit={n} and
// returns the next batch of log lines for the run.
func (c *Client) FetchLogs(ctx context.Context, runID string, since int64, limit int) (*domain.LogBatch, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(since, 10))
	q.Set("limit", strconv.Itoa(limit))
	endpoint := fmt.Sprintf("%s/runs/%s/logs?%s", c.baseURL, url.PathEscape(runID), q.Encode())

	var batch domain.LogBatch
	if err := c.get(ctx, endpoint, &batch); err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, &domain.RunNotFoundError{RunID: runID}
		}
		return nil, fmt.Errorf("fetch logs for run %s: %w", runID, err)
	}
	return &batch, nil
}

// get performs one GET and decodes the JSON body into out, mapping failures
// onto the domain error taxonomy:
//
//	no response at all → ServiceUnavailableError (status 0)
//	502/503            → ServiceUnavailableError
//	other non-2xx      → HTTPStatusError
//	undecodable 2xx    → HTTPStatusError
//
// Cancellation of ctx is returned as-is, never classified.
func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Caller-side cancellation is not an outage: return it unclassified
		// so pollers can tell a stopped loop from a dead service.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// The request never produced an HTTP response. Classification must
		// not look at a status code here — there is none.
		return &domain.ServiceUnavailableError{Reason: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusServiceUnavailable {
		return &domain.ServiceUnavailableError{
			StatusCode: resp.StatusCode,
			Reason:     http.StatusText(resp.StatusCode),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.HTTPStatusError{
			StatusCode: resp.StatusCode,
			Message:    readErrorBody(resp.Body),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.HTTPStatusError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("decode body: %v", err),
		}
	}
	return nil
}

// readErrorBody extracts a short message from an error response. Bodies are
// expected to be {"error": "..."} but anything is tolerated.
func readErrorBody(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return "no response body"
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}

// statusOf returns the HTTP status carried by err, or 0.
func statusOf(err error) int {
	switch e := err.(type) {
	case *domain.HTTPStatusError:
		return e.StatusCode
	case *domain.ServiceUnavailableError:
		return e.StatusCode
	}
	return 0
}
