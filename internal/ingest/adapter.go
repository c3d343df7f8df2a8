// Package ingest pulls signals from external sources on behalf of a user,
// deduplicates them into the shared signal table and records per-user
// provenance.
package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/ajitpratap0/openclaw-briefing/internal/models"
)

const userAgent = "openclaw-briefing/1.0"

// Adapter is one external signal source.
type Adapter interface {
	// Name identifies the adapter in reports and metrics.
	Name() string

	// Discover returns the queries this adapter should poll for the profile.
	Discover(ctx context.Context, profile models.UserProfile) ([]Query, error)

	// Poll fetches signals matching one query.
	Poll(ctx context.Context, q Query) ([]models.Signal, error)
}

// newLimiter builds a per-source rate limiter. A non-positive rate disables limiting.
func newLimiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSec), 1)
}

// httpFetcher performs rate-limited GET requests for an adapter.
type httpFetcher struct {
	client  *http.Client
	limiter *rate.Limiter
}

func newHTTPFetcher(timeout time.Duration, perSec float64) httpFetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return httpFetcher{client: &http.Client{Timeout: timeout}, limiter: newLimiter(perSec)}
}

// get waits for the limiter, issues the request and returns the body on 200.
func (f httpFetcher) get(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := body
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, fmt.Errorf("%s returned %s: %s", req.URL.Host, resp.Status, string(snippet))
	}
	return body, nil
}

// parseTime tries the date layouts used by feeds and search APIs.
func parseTime(s string) time.Time {
	layouts := []string{
		time.RFC3339,
		time.RFC3339Nano,
		time.RFC1123Z,
		time.RFC1123,
		time.RFC822Z,
		time.RFC822,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 MST",
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
