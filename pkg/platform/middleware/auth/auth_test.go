package auth

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"civicproof/pkg/requestcontext"
)

func fakeAuthenticator(credential string) (*Claims, error) {
	switch credential {
	case "gov-token":
		return &Claims{UserID: "officer-1", Role: "government"}, nil
	case "citizen-token":
		return &Claims{UserID: "citizen-1", Role: "citizen"}, nil
	default:
		return nil, errors.New("bad token")
	}
}

func serve(t *testing.T, mw []func(http.Handler) http.Handler, header string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var seen string
	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.UserID(r.Context()).String() + "/" + requestcontext.Role(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func TestRequireAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := []func(http.Handler) http.Handler{RequireAuth(AuthenticatorFunc(fakeAuthenticator), logger)}

	t.Run("missing header", func(t *testing.T) {
		rec, _ := serve(t, mw, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), `"error":"unauthorized"`)
	})
	t.Run("invalid token", func(t *testing.T) {
		rec, _ := serve(t, mw, "Bearer nope")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
	t.Run("valid token sets identity", func(t *testing.T) {
		rec, seen := serve(t, mw, "Bearer gov-token")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "officer-1/government", seen)
	})
}

func TestRequireRole(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := []func(http.Handler) http.Handler{
		RequireAuth(AuthenticatorFunc(fakeAuthenticator), logger),
		RequireRole(logger, "government"),
	}

	rec, _ := serve(t, mw, "Bearer citizen-token")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = serve(t, mw, "Bearer gov-token")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestOptionalAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := []func(http.Handler) http.Handler{OptionalAuth(AuthenticatorFunc(fakeAuthenticator), logger)}

	rec, seen := serve(t, mw, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "/", seen)

	rec, seen = serve(t, mw, "Bearer nope")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "/", seen)

	_, seen = serve(t, mw, "Bearer gov-token")
	assert.Equal(t, "officer-1/government", seen)
}
