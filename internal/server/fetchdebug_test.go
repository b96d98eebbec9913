package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/54b3r/sitechat-go/internal/webfetch"
)

func TestHandleFetchDebug_OK(t *testing.T) {
	t.Parallel()

	body := "<html><head><title>Shipping &amp; Returns</title></head><body><p>" +
		strings.Repeat("Free returns within 30 days. ", 40) + "</p></body></html>"
	ff := &fakeFetcher{res: &webfetch.Result{
		StatusCode: http.StatusOK,
		Body:       []byte(body),
		Took:       42 * time.Millisecond,
	}}
	s := newTestServer()
	s.deps.Fetcher = ff

	w := httptest.NewRecorder()
	s.handleFetchDebug(w, httptest.NewRequest(http.MethodGet,
		"/api/fetchdebug?url=https://www.shop.example/policies/refund-policy", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d; body: %s", w.Code, w.Body.String())
	}
	var resp fetchDebugResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.OK || resp.Status != 200 || resp.TookMS != 42 || resp.Bytes != len(body) {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Title != "Shipping & Returns" {
		t.Errorf("title = %q", resp.Title)
	}
	if n := len([]rune(resp.Snippet)); n != debugSnippetRunes {
		t.Errorf("snippet runes = %d, want %d", n, debugSnippetRunes)
	}
	if ff.got != "https://www.shop.example/policies/refund-policy" {
		t.Errorf("fetched %q", ff.got)
	}
}

func TestHandleFetchDebug_UpstreamStatus(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	s.deps.Fetcher = &fakeFetcher{res: &webfetch.Result{StatusCode: http.StatusNotFound}}

	w := httptest.NewRecorder()
	s.handleFetchDebug(w, httptest.NewRequest(http.MethodGet, "/api/fetchdebug?url=https://shop.example/pages/gone", nil))

	var resp fetchDebugResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.OK || resp.Status != http.StatusNotFound {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHandleFetchDebug_Rejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		query string
		err   error
		want  int
	}{
		{"missing url", "", nil, http.StatusBadRequest},
		{"relative url", "?url=/pages/about", nil, http.StatusBadRequest},
		{"other host", "?url=https://evil.example/", nil, http.StatusBadRequest},
		{"fetch error", "?url=https://shop.example/pages/a", errors.New("dial tcp: refused"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer()
			s.deps.Fetcher = &fakeFetcher{err: tc.err, res: &webfetch.Result{StatusCode: 200}}

			w := httptest.NewRecorder()
			s.handleFetchDebug(w, httptest.NewRequest(http.MethodGet, "/api/fetchdebug"+tc.query, nil))

			if w.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestTruncateRunes(t *testing.T) {
	t.Parallel()
	if got := truncateRunes("héllo wörld", 5); got != "héllo" {
		t.Errorf("got %q", got)
	}
	if got := truncateRunes("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
}
