package worker

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	applog "cardbook/internal/log"
	"cardbook/internal/metrics"
)

func TestOpsRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	m.StatementExported(nil)

	logger := applog.New(applog.Config{Output: io.Discard, Component: applog.ComponentWorker})

	var readyErr error
	h := NewOpsRouter(logger, reg, func() error { return readyErr })

	tests := []struct {
		name       string
		path       string
		readyErr   error
		wantStatus int
		wantBody   string
	}{
		{name: "healthy", path: "/healthz", wantStatus: http.StatusOK, wantBody: `"status":"ok"`},
		{name: "unhealthy", path: "/healthz", readyErr: errors.New("broker down"), wantStatus: http.StatusServiceUnavailable, wantBody: "broker down"},
		{name: "metrics", path: "/metrics", wantStatus: http.StatusOK, wantBody: "cardbook_statements_exported_total"},
		{name: "unknown", path: "/nope", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			readyErr = tt.readyErr
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Fatalf("body %q should contain %q", rec.Body.String(), tt.wantBody)
			}
			if !strings.HasPrefix(rec.Header().Get("X-Request-ID"), "req_") {
				t.Fatalf("missing request id header, got %q", rec.Header().Get("X-Request-ID"))
			}
		})
	}
}
