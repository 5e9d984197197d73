package httpapi

import (
	"net/http"
	"time"

	"github.com/rdmnet-go/rdmnet/pkg/broker"
)

// healthHandler serves the liveness/readiness probes. Grounded on the
// teacher's internal/controlplane/api/handlers/health.go HealthHandler
// (startTime-based uptime, nil-registry-means-unready convention).
type healthHandler struct {
	b         *broker.Broker
	startTime time.Time
}

func newHealthHandler(b *broker.Broker) *healthHandler {
	return &healthHandler{b: b, startTime: time.Now()}
}

// liveness handles GET /healthz: always 200 once the process is up.
func (h *healthHandler) liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	writeJSON(w, http.StatusOK, healthyResponse(map[string]interface{}{
		"service":    "rdmnetbroker",
		"started_at": h.startTime.UTC().Format(time.RFC3339),
		"uptime":     uptime.Round(time.Second).String(),
		"uptime_sec": int64(uptime.Seconds()),
	}))
}

// readiness handles GET /readyz: ready once a broker instance is bound.
func (h *healthHandler) readiness(w http.ResponseWriter, r *http.Request) {
	if h.b == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("broker not initialized"))
		return
	}
	writeJSON(w, http.StatusOK, healthyResponse(map[string]interface{}{
		"clients": len(h.b.Clients()),
	}))
}
