package http

import (
	"context"
	"net/http"
	"time"

	"github.com/aussiebroadwan/tillauth/pkg/httpx"
)

// Pinger is anything readiness can probe: the durable store and the TTL
// store both qualify.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyzHandler reports 503 when any dependency fails its ping.
func ReadyzHandler(startTime time.Time, version string, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := make(map[string]string, len(deps))
		status, code := "ok", http.StatusOK
		for name, dep := range deps {
			if err := dep.Ping(ctx); err != nil {
				checks[name] = "error: " + err.Error()
				status, code = "degraded", http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}

		httpx.NoCache(w)
		httpx.WriteJSON(w, code, HealthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}
