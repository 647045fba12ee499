package handler

import (
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicproof/internal/feedback/models"
	"civicproof/internal/feedback/service"
	"civicproof/internal/feedback/store"
	"civicproof/pkg/testutil"
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.New(store.NewInMemory(), service.WithLogger(logger))
	r := chi.NewRouter()
	New(svc, logger).Register(r)
	return r
}

func TestSubmitFeedback(t *testing.T) {
	router := newRouter(t)

	t.Run("requires authentication", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/feedback", map[string]any{
			"category": "roads", "location": "Jakarta", "urgency": "high", "sentiment": -0.4,
		})
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("rejects unknown urgency", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/feedback", map[string]any{
			"category": "roads", "location": "Jakarta", "urgency": "panic", "sentiment": 0,
		})
		rr := testutil.DoRequest(router, testutil.AsCitizen(req, "citizen-1"))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "invalid_input")
	})

	t.Run("rejects sentiment out of range", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/feedback", map[string]any{
			"category": "roads", "location": "Jakarta", "urgency": "low", "sentiment": 1.5,
		})
		rr := testutil.DoRequest(router, testutil.AsCitizen(req, "citizen-1"))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "invalid_input")
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/feedback", map[string]any{
			"category": "roads", "urgency": "low", "sentiment": 0, "author_id": "someone-else",
		})
		rr := testutil.DoRequest(router, testutil.AsCitizen(req, "citizen-1"))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
	})

	t.Run("stores feedback under the caller", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/feedback", map[string]any{
			"category": "roads", "location": "Jakarta", "urgency": "high", "sentiment": -0.4,
		})
		rr := testutil.DoRequest(router, testutil.AsCitizen(req, "citizen-1"))
		testutil.AssertStatus(t, rr, http.StatusCreated)

		created := testutil.UnmarshalResponse[models.Feedback](t, rr)
		assert.Equal(t, "citizen-1", created.AuthorID.String())
		require.NotNil(t, created.Category)
		assert.Equal(t, "roads", *created.Category)
		assert.Equal(t, models.UrgencyHigh, created.Urgency)
	})
}

func TestGetFeedback(t *testing.T) {
	router := newRouter(t)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/feedback", map[string]any{
		"location": "Jakarta", "urgency": "medium", "sentiment": 0.1,
	})
	rr := testutil.DoRequest(router, testutil.AsCitizen(req, "citizen-1"))
	testutil.AssertStatus(t, rr, http.StatusCreated)
	created := testutil.UnmarshalResponse[models.Feedback](t, rr)
	assert.Nil(t, created.Category)

	t.Run("author can read", func(t *testing.T) {
		req := testutil.NewRequest(t, http.MethodGet, "/feedback/"+created.ID.String())
		rr := testutil.DoRequest(router, testutil.AsCitizen(req, "citizen-1"))
		testutil.AssertStatusOK(t, rr)
	})

	t.Run("other citizens cannot", func(t *testing.T) {
		req := testutil.NewRequest(t, http.MethodGet, "/feedback/"+created.ID.String())
		rr := testutil.DoRequest(router, testutil.AsCitizen(req, "citizen-2"))
		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "not_found")
	})

	t.Run("government can read", func(t *testing.T) {
		req := testutil.NewRequest(t, http.MethodGet, "/feedback/"+created.ID.String())
		rr := testutil.DoRequest(router, testutil.AsGovernment(req))
		testutil.AssertStatusOK(t, rr)
	})

	t.Run("malformed id", func(t *testing.T) {
		req := testutil.NewRequest(t, http.MethodGet, "/feedback/not-a-uuid")
		rr := testutil.DoRequest(router, testutil.AsGovernment(req))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "invalid_input")
	})
}
