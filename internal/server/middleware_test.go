package server

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/54b3r/sitechat-go/internal/logging"
)

func TestRequestLogger_TagsAndStatus(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	var inner string
	h := requestLogger(base, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logging.FromContext(r.Context()).Info("inside")
		inner = buf.String()
		w.WriteHeader(http.StatusTeapot)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/ping", nil))

	if !strings.Contains(inner, "request_id=") || !strings.Contains(inner, "path=/api/ping") {
		t.Errorf("handler logger not tagged: %q", inner)
	}
	if !strings.Contains(buf.String(), "status=418") {
		t.Errorf("completion line missing status: %q", buf.String())
	}
}

func TestResponseWriter_FlushPassesThrough(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	var _ http.Flusher = rw
	rw.Flush()
	if !rec.Flushed {
		t.Error("Flush was not forwarded")
	}
	if rw.Unwrap() != rec {
		t.Error("Unwrap must return the wrapped writer")
	}
}

func TestStatusRecorder_ReusesWrapper(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	if statusRecorder(rw) != rw {
		t.Error("expected the existing wrapper to be reused")
	}
	if statusRecorder(httptest.NewRecorder()) == nil {
		t.Error("expected a new wrapper")
	}
}
