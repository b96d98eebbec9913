package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/54b3r/sitechat-go/internal/version"
)

// pingable is the ping signature shared by the vector stores and the run ledger.
type pingable interface {
	Ping(ctx context.Context) error
}

// StorePinger checks a backend that already knows how to ping itself, such
// as rag.VectorStore (Qdrant HealthCheck RPC, Postgres PingContext) or the
// SQLite run ledger.
type StorePinger struct {
	// target is the backend to ping.
	target pingable
	// name identifies the backend in readiness responses (e.g. "qdrant").
	name string
}

// NewStorePinger constructs a StorePinger for target labelled name.
func NewStorePinger(name string, target pingable) *StorePinger {
	return &StorePinger{target: target, name: name}
}

// Name returns the dependency label used in readiness responses.
func (p *StorePinger) Name() string { return p.name }

// Ping delegates to the backend's own Ping.
func (p *StorePinger) Ping(ctx context.Context) error {
	if err := p.target.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// HTTPPinger checks an HTTP dependency with a GET that costs no tokens, such
// as Ollama's /api/tags. Any status below 500 counts as reachable.
type HTTPPinger struct {
	// url is the GET target.
	url string
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
	// client performs the request; the caller's context bounds it.
	client *http.Client
}

// NewHTTPPinger constructs an HTTPPinger for url labelled name.
func NewHTTPPinger(name, url string) *HTTPPinger {
	return &HTTPPinger{url: url, name: name, client: &http.Client{}}
}

// Name returns the dependency label used in readiness responses.
func (p *HTTPPinger) Name() string { return p.name }

// Ping issues the GET and checks the status.
func (p *HTTPPinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("ping returned %d", resp.StatusCode)
	}
	return nil
}
