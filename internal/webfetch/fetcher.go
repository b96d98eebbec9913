// Package webfetch fetches pages and sitemaps from the indexed site with a
// fixed User-Agent, a per-request timeout and a response size cap.
package webfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultTimeout bounds one fetch when Config.Timeout is zero.
	DefaultTimeout = 20 * time.Second
	// DefaultMaxBytes caps a response body when Config.MaxBytes is zero.
	DefaultMaxBytes int64 = 5 << 20
	// maxRedirects is the redirect hop limit.
	maxRedirects = 5
)

// Config holds the settings for constructing a Fetcher.
type Config struct {
	// UserAgent is sent on every request.
	UserAgent string
	// Timeout bounds the whole request including body read.
	Timeout time.Duration
	// MaxBytes caps the response body; longer bodies are rejected.
	MaxBytes int64
}

// Result is the outcome of one fetch. Non-2xx responses are returned as a
// Result, not an error, so callers can report the status.
type Result struct {
	// URL is the final URL after redirects.
	URL string
	// StatusCode is the HTTP status of the final response.
	StatusCode int
	// ContentType is the response Content-Type header.
	ContentType string
	// Body is the response body, at most MaxBytes long.
	Body []byte
	// Took is the wall time from request start to end of body.
	Took time.Duration
}

// OK reports whether the response status is 2xx.
func (r *Result) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Fetcher performs bounded GET requests. It is safe for concurrent use.
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

// New constructs a Fetcher from cfg, applying defaults for zero values.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects (max %d)", maxRedirects)
				}
				return nil
			},
		},
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxBytes,
	}
}

// Fetch retrieves rawURL. It returns an error only for transport failures,
// oversized bodies and context cancellation.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("webfetch: create request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webfetch: GET %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("webfetch: read %s: %w", rawURL, err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("webfetch: %s exceeds %d bytes", rawURL, f.maxBytes)
	}

	return &Result{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		Took:        time.Since(start),
	}, nil
}
