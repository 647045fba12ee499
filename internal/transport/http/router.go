// Package httptransport assembles the API router: shared middleware, the authenticated
// route groups, health and metrics.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"civicproof/internal/platform/metrics"
	"civicproof/pkg/platform/httputil"
	"civicproof/pkg/platform/middleware/auth"
	"civicproof/pkg/platform/middleware/request"
	"civicproof/pkg/platform/middleware/requesttime"
)

// Registrar mounts a module's routes.
type Registrar interface {
	Register(r chi.Router)
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

type Deps struct {
	Logger        *slog.Logger
	Authenticator auth.Authenticator
	Gatherer      prometheus.Gatherer
	HTTPMetrics   *metrics.HTTP
	HealthChecks  map[string]HealthCheck

	// Authenticated routes: feedback, clusters, reports.
	Authenticated []Registrar
	// Diagnostics decide access themselves, so they accept anonymous callers.
	Diagnostics []Registrar
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.Recovery(d.Logger))
	r.Use(request.RequestID)
	r.Use(request.Logger(d.Logger))
	r.Use(requesttime.Middleware)
	r.Use(d.HTTPMetrics.Middleware)

	r.Get("/health", health(d.HealthChecks))
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(d.Authenticator, d.Logger))
		for _, reg := range d.Authenticated {
			reg.Register(r)
		}
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.OptionalAuth(d.Authenticator, d.Logger))
		for _, reg := range d.Diagnostics {
			reg.Register(r)
		}
	})
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func health(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = "down"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
