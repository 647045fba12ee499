package httptransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicproof/internal/platform/metrics"
	"civicproof/pkg/platform/httputil"
	"civicproof/pkg/platform/middleware/auth"
	"civicproof/pkg/platform/middleware/request"
	"civicproof/pkg/requestcontext"
	"civicproof/pkg/testutil"
)

type whoami struct{ path string }

func (h whoami) Register(r chi.Router) {
	r.Get(h.path, func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{
			"user_id": requestcontext.UserID(r.Context()).String(),
			"role":    requestcontext.Role(r.Context()),
		})
	})
}

func newRouter(checks map[string]HealthCheck) (http.Handler, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	authn := auth.AuthenticatorFunc(func(credential string) (*auth.Claims, error) {
		if credential != "good" {
			return nil, errors.New("bad token")
		}
		return &auth.Claims{UserID: "officer-1", Role: "government"}, nil
	})
	return NewRouter(Deps{
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Authenticator: authn,
		Gatherer:      reg,
		HTTPMetrics:   metrics.NewHTTP(reg),
		HealthChecks:  checks,
		Authenticated: []Registrar{whoami{path: "/private"}},
		Diagnostics:   []Registrar{whoami{path: "/diagnostics/whoami"}},
	}), reg
}

func TestAuthenticatedGroup(t *testing.T) {
	router, _ := newRouter(nil)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/private"))
	testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	assert.NotEmpty(t, rr.Header().Get(request.HeaderRequestID))

	req := testutil.NewRequest(t, http.MethodGet, "/private")
	req.Header.Set("Authorization", "Bearer good")
	rr = testutil.DoRequest(router, req)
	testutil.AssertStatusOK(t, rr)
	body := testutil.UnmarshalResponse[map[string]string](t, rr)
	assert.Equal(t, "officer-1", (*body)["user_id"])
}

func TestDiagnosticsGroupAllowsAnonymous(t *testing.T) {
	router, _ := newRouter(nil)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/diagnostics/whoami"))
	testutil.AssertStatusOK(t, rr)
	assert.Equal(t, "", (*testutil.UnmarshalResponse[map[string]string](t, rr))["user_id"])

	req := testutil.NewRequest(t, http.MethodGet, "/diagnostics/whoami")
	req.Header.Set("Authorization", "Bearer good")
	rr = testutil.DoRequest(router, req)
	assert.Equal(t, "government", (*testutil.UnmarshalResponse[map[string]string](t, rr))["role"])
}

func TestHealth(t *testing.T) {
	t.Run("all dependencies up", func(t *testing.T) {
		router, _ := newRouter(map[string]HealthCheck{
			"postgres": func(context.Context) error { return nil },
		})
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/health"))
		testutil.AssertStatusOK(t, rr)
		assert.Equal(t, "ok", testutil.UnmarshalResponse[healthResponse](t, rr).Status)
	})

	t.Run("a dependency down", func(t *testing.T) {
		router, _ := newRouter(map[string]HealthCheck{
			"postgres": func(context.Context) error { return nil },
			"ledger":   func(context.Context) error { return errors.New("dial tcp: connection refused") },
		})
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/health"))
		testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
		resp := testutil.UnmarshalResponse[healthResponse](t, rr)
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, "down", resp.Checks["ledger"])
		assert.Equal(t, "ok", resp.Checks["postgres"])
	})
}

func TestMetricsUseRoutePattern(t *testing.T) {
	router, reg := newRouter(nil)
	req := testutil.NewRequest(t, http.MethodGet, "/private")
	req.Header.Set("Authorization", "Bearer good")
	testutil.DoRequest(router, req)

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() != "civicproof_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["route"] == "/private" && labels["status"] == "200" {
				found = true
			}
		}
	}
	assert.True(t, found)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
	testutil.AssertStatusOK(t, rr)
	assert.Contains(t, rr.Body.String(), "civicproof_http_request_duration_seconds")
}
