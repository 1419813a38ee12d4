package worker

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	applog "cardbook/internal/log"
	"cardbook/internal/middleware/trace"
)

// NewOpsRouter serves /healthz and /metrics for the worker process.
// ready returning an error turns /healthz into a 503.
func NewOpsRouter(logger *applog.Logger, gatherer prometheus.Gatherer, ready func() error) http.Handler {
	r := chi.NewRouter()
	r.Use(trace.Middleware(logger))
	r.Use(applog.Middleware(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		status, body := http.StatusOK, map[string]string{"status": "ok"}
		if ready != nil {
			if err := ready(); err != nil {
				status, body = http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}
