package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type pingStub struct{ err error }

func (p pingStub) Ping(context.Context) error { return p.err }

func TestStorePinger(t *testing.T) {
	t.Parallel()

	ok := NewStorePinger("qdrant", pingStub{})
	if ok.Name() != "qdrant" {
		t.Errorf("Name = %q", ok.Name())
	}
	if err := ok.Ping(t.Context()); err != nil {
		t.Errorf("healthy store: %v", err)
	}

	cause := errors.New("connection refused")
	bad := NewStorePinger("runs", pingStub{err: cause})
	if err := bad.Ping(t.Context()); !errors.Is(err, cause) {
		t.Errorf("expected wrapped cause, got %v", err)
	}
}

func TestHTTPPinger(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"ok", http.StatusOK, false},
		{"not found still reachable", http.StatusNotFound, false},
		{"server error", http.StatusBadGateway, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if !strings.HasPrefix(r.Header.Get("User-Agent"), "sitechat") {
					t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
				}
				w.WriteHeader(tc.status)
			}))
			t.Cleanup(srv.Close)

			err := NewHTTPPinger("ollama", srv.URL+"/api/tags").Ping(t.Context())
			if (err != nil) != tc.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestHTTPPinger_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if err := NewHTTPPinger("ollama", url).Ping(t.Context()); err == nil {
		t.Error("expected error for closed server")
	}
}
