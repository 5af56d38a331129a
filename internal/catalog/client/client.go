// Package client talks to the remote course-catalog endpoints. It is pure
// I/O plus error translation; no local state is touched here.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/cfp-titulos/titulos-backend/internal/catalog/domain"
)

const (
	maxAttempts = 3
	baseDelay   = 400 * time.Millisecond
	maxDelay    = 4 * time.Second
	userAgent   = "titulos-backend-fetcher/1.0"
)

// FetchError is any transport failure, non-2xx response or unparsable body
// from the catalog endpoints. Timeouts surface here too, wrapped in Err.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: http %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client fetches course summaries and optional per-course details.
type Client struct {
	summariesURL string
	detailURL    string // printf template with a single %s for the id
	httpClient   *http.Client
}

// NewClient creates a catalog client. detailURL may be empty when the
// deployment has no detail endpoint.
func NewClient(summariesURL, detailURL string, timeout time.Duration) *Client {
	return &Client{
		summariesURL: summariesURL,
		detailURL:    detailURL,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// FetchSummaries downloads the full course listing. The endpoint returns a
// JSON object whose "titulaciones" array holds one summary per course; a
// missing array is treated as an empty catalog, anything unparsable fails
// the whole fetch.
func (c *Client) FetchSummaries(ctx context.Context) ([]domain.RawRecord, error) {
	body, err := c.getWithRetry(ctx, c.summariesURL)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Titulaciones []map[string]any `json:"titulaciones"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &FetchError{URL: c.summariesURL, Err: fmt.Errorf("decode body: %w", err)}
	}

	records := make([]domain.RawRecord, 0, len(payload.Titulaciones))
	for _, item := range payload.Titulaciones {
		records = append(records, domain.RawRecord(item))
	}
	return records, nil
}

// FetchDetail downloads the extended record for one course. A "publicidad"
// sub-object, if present, is flattened into the parent with a
// "publicidad_" key prefix; existing top-level keys are never overridden.
func (c *Client) FetchDetail(ctx context.Context, id string) (domain.RawRecord, error) {
	if c.detailURL == "" {
		return nil, &FetchError{Err: fmt.Errorf("no detail endpoint configured")}
	}
	url := fmt.Sprintf(c.detailURL, id)

	body, err := c.getWithRetry(ctx, url)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("decode body: %w", err)}
	}

	return flattenPublicidad(raw), nil
}

func flattenPublicidad(raw map[string]any) domain.RawRecord {
	sub, ok := raw["publicidad"].(map[string]any)
	if !ok {
		return domain.RawRecord(raw)
	}

	out := make(domain.RawRecord, len(raw)+len(sub))
	for k, v := range raw {
		if k == "publicidad" {
			continue
		}
		out[k] = v
	}
	for k, v := range sub {
		key := "publicidad_" + k
		if _, exists := out[key]; exists {
			continue
		}
		out[key] = v
	}
	return out
}

func (c *Client) getWithRetry(ctx context.Context, url string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		body, status, err := c.get(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err

		// 4xx responses won't get better on retry.
		if status >= 400 && status < 500 {
			return nil, &FetchError{URL: url, StatusCode: status, Err: err}
		}
		if ctx.Err() != nil {
			return nil, &FetchError{URL: url, Err: ctx.Err()}
		}
		if attempt == maxAttempts {
			break
		}

		sleep := baseDelay * time.Duration(1<<(attempt-1))
		sleep += time.Duration(rand.Int63n(int64(sleep / 2)))
		if sleep > maxDelay {
			sleep = maxDelay
		}

		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return nil, &FetchError{URL: url, Err: ctx.Err()}
		}
	}

	status := 0
	if se, ok := lastErr.(statusError); ok {
		status = se.status
		lastErr = se.err
	}
	return nil, &FetchError{URL: url, StatusCode: status, Err: lastErr}
}

type statusError struct {
	status int
	err    error
}

func (e statusError) Error() string { return e.err.Error() }

func (c *Client) get(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, statusError{
			status: resp.StatusCode,
			err:    fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
	return body, resp.StatusCode, nil
}
