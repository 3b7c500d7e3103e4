// Package http serves the operational endpoints: liveness, readiness and
// Prometheus metrics.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/tillauth/pkg/httpx"
	"github.com/aussiebroadwan/tillauth/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsScope is required of bearer tokens on /metrics when an
// authorizer is configured.
const MetricsScope = "ops:metrics"

// Router holds shared dependencies for the ops handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	// Deps are probed by /readyz.
	Deps map[string]Pinger

	// Registry backs /metrics.
	Registry *prometheus.Registry

	// Authorizer, when set, protects /metrics with MetricsScope.
	Authorizer httpx.BearerAuthorizer
}

func NewRouter(buildVersion string, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		Deps:         map[string]Pinger{},
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}
	return r
}

func (r *Router) ApplyRoutes() {
	r.registerSystem()
	r.registerMetrics()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerSystem() {
	// Monitoring systems poll these frequently.
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.OpsLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.Deps),
			httpx.RateLimitByIP(httpx.OpsLimit),
		),
	)
}

func (r *Router) registerMetrics() {
	if r.Registry == nil {
		return
	}

	mws := []httpx.Middleware{httpx.RateLimitByIP(httpx.OpsLimit)}
	if r.Authorizer != nil {
		mws = append(mws, httpx.RequireScope(r.Authorizer, MetricsScope))
	}

	h := promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{Registry: r.Registry})
	r.Mux.Handle("GET /metrics", httpx.Chain(h, mws...))
}
