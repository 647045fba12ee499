package diagnostics

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"civicproof/pkg/platform/httputil"
	"civicproof/pkg/requestcontext"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/diagnostics/env", h.HandleEnv)
	r.Get("/diagnostics/wallet", h.HandleWallet)
}

// HandleEnv handles GET /diagnostics/env.
func (h *Handler) HandleEnv(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Env(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

// HandleWallet handles GET /diagnostics/wallet.
func (h *Handler) HandleWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, err := h.service.Wallet(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "wallet diagnostics failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, state)
}
