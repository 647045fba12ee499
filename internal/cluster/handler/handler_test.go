package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicproof/internal/cluster"
	feedbackModels "civicproof/internal/feedback/models"
	"civicproof/internal/feedback/store"
	id "civicproof/pkg/domain"
	"civicproof/pkg/platform/sentinel"
	"civicproof/pkg/testutil"
)

func seededRouter(t *testing.T) http.Handler {
	t.Helper()
	feedback := store.NewInMemory()
	now := time.Now()
	for i := range 5 {
		loc := "Jakarta"
		if i >= 3 {
			loc = "Bandung"
		}
		f, err := feedbackModels.NewFeedback(id.NewFeedbackID(), "citizen-1", "roads", loc, feedbackModels.UrgencyHigh, 0, now)
		require.NoError(t, err)
		require.NoError(t, feedback.Create(context.Background(), f))
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	New(cluster.NewAggregator(feedback), logger).Register(r)
	return r
}

func TestListClusters(t *testing.T) {
	router := seededRouter(t)

	t.Run("citizens are forbidden", func(t *testing.T) {
		req := testutil.AsCitizen(testutil.NewRequest(t, http.MethodGet, "/clusters"), "citizen-1")
		testutil.AssertStatusAndError(t, testutil.DoRequest(router, req), http.StatusForbidden, "forbidden")
	})

	t.Run("anonymous callers are unauthorized", func(t *testing.T) {
		req := testutil.NewRequest(t, http.MethodGet, "/clusters")
		testutil.AssertStatusAndError(t, testutil.DoRequest(router, req), http.StatusUnauthorized, "unauthorized")
	})

	t.Run("reportable view", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.AsGovernment(testutil.NewRequest(t, http.MethodGet, "/clusters")))
		testutil.AssertStatusOK(t, rr)
		resp := testutil.UnmarshalResponse[listResponse](t, rr)
		assert.Equal(t, 3, resp.MinFeedbackCount)
		require.Len(t, resp.Clusters, 1)
		assert.Equal(t, "Jakarta", resp.Clusters[0].Key.Location)
	})

	t.Run("unfiltered view", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.AsGovernment(testutil.NewRequest(t, http.MethodGet, "/clusters?all=true")))
		testutil.AssertStatusOK(t, rr)
		resp := testutil.UnmarshalResponse[listResponse](t, rr)
		assert.Len(t, resp.Clusters, 2)
	})

	t.Run("bad flag", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.AsGovernment(testutil.NewRequest(t, http.MethodGet, "/clusters?all=maybe")))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "invalid_input")
	})
}

type downLister struct{}

func (downLister) List(context.Context, feedbackModels.Filter) ([]*feedbackModels.Feedback, error) {
	return nil, fmt.Errorf("list: %w", sentinel.ErrUnavailable)
}

func TestListClustersStoreDown(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	New(cluster.NewAggregator(downLister{}), logger).Register(r)

	rr := testutil.DoRequest(r, testutil.AsGovernment(testutil.NewRequest(t, http.MethodGet, "/clusters")))
	testutil.AssertStatusAndError(t, rr, http.StatusServiceUnavailable, "unavailable")
}
