// Package httpapi serves the broker's unauthenticated health, metrics,
// and debug HTTP surface: no resource CRUD, since RDMnet's own
// management surface is RPT/EPT over the E1.33 wire, not REST. Grounded
// on the teacher's pkg/controlplane/api/router.go middleware stack and
// route-grouping style, trimmed to the routes SPEC_FULL.md actually
// calls for.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rdmnet-go/rdmnet/internal/logger"
	"github.com/rdmnet-go/rdmnet/internal/metrics"
	"github.com/rdmnet-go/rdmnet/pkg/broker"
)

// NewRouter builds the chi router for rdmnetbroker's debug/health/
// metrics endpoints:
//
//   - GET /healthz - liveness probe
//   - GET /readyz  - readiness probe
//   - GET /metrics - Prometheus exposition, if metrics are enabled
//   - GET /v1/clients - snapshot of connected clients
func NewRouter(b *broker.Broker) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	health := newHealthHandler(b)
	r.Get("/healthz", health.liveness)
	r.Get("/readyz", health.readiness)

	if metrics.IsEnabled() {
		r.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	}

	clients := newClientsHandler(b)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/clients", clients.list)
	})

	return r
}

// requestLogger logs each request's method/path/status/duration through
// internal/logger, at DEBUG for health checks to avoid flooding logs.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		args := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
		}
		if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
			logger.Debug("httpapi: request completed", args...)
		} else {
			logger.Info("httpapi: request completed", args...)
		}
	})
}
