package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"civicproof/internal/access"
	"civicproof/internal/cluster"
	"civicproof/internal/cluster/models"
	dErrors "civicproof/pkg/domain-errors"
	"civicproof/pkg/platform/httputil"
	"civicproof/pkg/requestcontext"
)

// Aggregator is the cluster computation the handler exposes.
type Aggregator interface {
	Compute(ctx context.Context, opts cluster.Options) ([]models.Cluster, error)
	MinFeedbackCount() int
}

type Handler struct {
	aggregator Aggregator
	logger     *slog.Logger
}

func New(aggregator Aggregator, logger *slog.Logger) *Handler {
	return &Handler{aggregator: aggregator, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/clusters", h.HandleList)
}

type listResponse struct {
	MinFeedbackCount int              `json:"min_feedback_count"`
	Clusters         []models.Cluster `json:"clusters"`
}

// HandleList handles GET /clusters. ?all=true includes groups below the threshold.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := access.RequireReportAccess(ctx); err != nil {
		httputil.WriteError(w, err)
		return
	}

	var opts cluster.Options
	if raw := r.URL.Query().Get("all"); raw != "" {
		all, err := strconv.ParseBool(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "all must be a boolean"))
			return
		}
		opts.IncludeBelowThreshold = all
	}

	clusters, err := h.aggregator.Compute(ctx, opts)
	if err != nil {
		h.logger.ErrorContext(ctx, "cluster computation failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if clusters == nil {
		clusters = []models.Cluster{}
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{
		MinFeedbackCount: h.aggregator.MinFeedbackCount(),
		Clusters:         clusters,
	})
}
