package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"civicproof/internal/access"
	"civicproof/internal/anchor"
	clusterModels "civicproof/internal/cluster/models"
	"civicproof/internal/pipeline"
	"civicproof/internal/report/models"
	"civicproof/internal/report/service"
	id "civicproof/pkg/domain"
	dErrors "civicproof/pkg/domain-errors"
	"civicproof/pkg/platform/httputil"
	"civicproof/pkg/requestcontext"
)

// Pipeline runs generation and anchoring.
type Pipeline interface {
	GenerateForCluster(ctx context.Context, key clusterModels.Key) (*service.SaveResult, error)
	RunBatch(ctx context.Context, req pipeline.BatchRequest) (*pipeline.BatchResult, error)
	AnchorReport(ctx context.Context, reportID id.ReportID) (*pipeline.AnchorResult, error)
}

// Registry serves saved reports.
type Registry interface {
	Get(ctx context.Context, reportID id.ReportID) (*models.Report, error)
	GetByCluster(ctx context.Context, key clusterModels.Key) (*models.Report, error)
	History(ctx context.Context, key clusterModels.Key) ([]*models.Report, error)
}

// Verifier checks a report against the ledger.
type Verifier interface {
	Verify(ctx context.Context, r *models.Report) (*anchor.Verification, error)
}

type Handler struct {
	pipeline Pipeline
	registry Registry
	verifier Verifier
	logger   *slog.Logger
}

func New(p Pipeline, registry Registry, verifier Verifier, logger *slog.Logger) *Handler {
	return &Handler{pipeline: p, registry: registry, verifier: verifier, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/reports", h.HandleGenerate)
	r.Post("/reports/batch", h.HandleBatch)
	r.Get("/reports", h.HandleByCluster)
	r.Get("/reports/{id}", h.HandleGet)
	r.Post("/reports/{id}/anchor", h.HandleAnchor)
	r.Get("/reports/{id}/verify", h.HandleVerify)
}

// HandleGenerate handles POST /reports. A new report answers 201; an unchanged cluster
// answers 200 with the report already saved for its snapshot.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	if err := access.RequireReportAccess(ctx); err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[GenerateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	res, err := h.pipeline.GenerateForCluster(ctx, req.key)
	if err != nil {
		h.logger.ErrorContext(ctx, "report generation failed",
			"request_id", requestID,
			"cluster", req.key.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, generateResponse{
		Report:     res.Report,
		Created:    res.Created,
		Superseded: res.Superseded,
	})
}

// HandleBatch handles POST /reports/batch.
func (h *Handler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	if err := access.RequireReportAccess(ctx); err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[BatchRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	res, err := h.pipeline.RunBatch(ctx, pipeline.BatchRequest{Anchor: req.Anchor})
	if err != nil {
		h.logger.ErrorContext(ctx, "batch run failed", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleByCluster handles GET /reports?category=&location=[&history=true].
func (h *Handler) HandleByCluster(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := access.RequireReportAccess(ctx); err != nil {
		httputil.WriteError(w, err)
		return
	}

	q := r.URL.Query()
	key, err := clusterModels.NewKey(q.Get("category"), q.Get("location"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	history := false
	if raw := q.Get("history"); raw != "" {
		history, err = strconv.ParseBool(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "history must be a boolean"))
			return
		}
	}

	if history {
		reports, err := h.registry.History(ctx, key)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		if reports == nil {
			reports = []*models.Report{}
		}
		httputil.WriteJSON(w, http.StatusOK, historyResponse{Reports: reports})
		return
	}

	report, err := h.registry.GetByCluster(ctx, key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

// HandleGet handles GET /reports/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := access.RequireReportAccess(ctx); err != nil {
		httputil.WriteError(w, err)
		return
	}
	reportID, err := id.ParseReportID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	report, err := h.registry.Get(ctx, reportID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

// HandleAnchor handles POST /reports/{id}/anchor. Calling it on a report that is already
// pending or anchored returns the report without submitting anything.
func (h *Handler) HandleAnchor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	if err := access.RequireReportAccess(ctx); err != nil {
		httputil.WriteError(w, err)
		return
	}
	reportID, err := id.ParseReportID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.pipeline.AnchorReport(ctx, reportID)
	if err != nil {
		h.logger.WarnContext(ctx, "report anchoring failed",
			"request_id", requestID,
			"report_id", reportID.String(),
			"code", dErrors.CodeOf(err),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	status := http.StatusOK
	if res.Report.AnchorStatus == models.AnchorPending {
		status = http.StatusAccepted
	}
	httputil.WriteJSON(w, status, res)
}

// HandleVerify handles GET /reports/{id}/verify.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := access.RequireReportAccess(ctx); err != nil {
		httputil.WriteError(w, err)
		return
	}
	reportID, err := id.ParseReportID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	report, err := h.registry.Get(ctx, reportID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	v, err := h.verifier.Verify(ctx, report)
	if err != nil {
		h.logger.ErrorContext(ctx, "report verification failed",
			"request_id", requestcontext.RequestID(ctx),
			"report_id", reportID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}
