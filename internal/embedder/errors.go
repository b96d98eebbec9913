package embedder

import (
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody caps how much of an upstream error response is kept.
const maxErrorBody = 8 << 10

// UpstreamError is returned when an embedding provider answers with a
// non-success status. Body holds the raw response text for diagnostics; it is
// logged, never shown to end users.
type UpstreamError struct {
	// Provider names the backend (openai, azure, ollama, gemini).
	Provider string
	// StatusCode is the HTTP status returned by the provider.
	StatusCode int
	// Body is the raw response body, truncated to a few KiB.
	Body string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s embedder: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Temporary reports whether retrying later may succeed (429 and 5xx).
func (e *UpstreamError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// readUpstreamError builds an UpstreamError from a failed response.
func readUpstreamError(provider string, resp *http.Response) *UpstreamError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &UpstreamError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}
