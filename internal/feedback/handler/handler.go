package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"civicproof/internal/feedback/models"
	"civicproof/internal/feedback/service"
	id "civicproof/pkg/domain"
	dErrors "civicproof/pkg/domain-errors"
	"civicproof/pkg/platform/httputil"
	"civicproof/pkg/requestcontext"
)

// Service defines the feedback operations the handler needs.
type Service interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*models.Feedback, error)
	Get(ctx context.Context, feedbackID id.FeedbackID) (*models.Feedback, error)
}

// Handler wires feedback endpoints to the feedback service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts feedback endpoints. The caller installs authentication.
func (h *Handler) Register(r chi.Router) {
	r.Post("/feedback", h.HandleSubmit)
	r.Get("/feedback/{id}", h.HandleGet)
}

// HandleSubmit handles POST /feedback.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[SubmitRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	f, err := h.service.Submit(ctx, service.SubmitRequest{
		AuthorID:  userID,
		Category:  req.Category,
		Location:  req.Location,
		Urgency:   req.ParsedUrgency(),
		Sentiment: *req.Sentiment,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "feedback submission failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, f)
}

// HandleGet handles GET /feedback/{id}. Citizens may only read their own feedback.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	feedbackID, err := id.ParseFeedbackID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	f, err := h.service.Get(ctx, feedbackID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if requestcontext.Role(ctx) == "citizen" && f.AuthorID != requestcontext.UserID(ctx) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "feedback not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, f)
}
