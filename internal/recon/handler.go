package recon

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lumina-salon/lumina/internal/platform/httpx"
)

// Handler exposes the administrative reconciliation endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the recon handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers reconciliation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/recompute", h.recompute)
	r.Get("/report", h.report)
}

// recompute is the "Recalculate All Stock" action. It runs synchronously;
// the nightly pass goes through the worker instead.
func (h *Handler) recompute(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.RecomputeAll(r.Context())
	if err != nil {
		h.logger.Error("recompute all stock", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	report, found, err := h.service.LastReport(r.Context())
	if err != nil {
		h.logger.Error("load reconciliation report", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if !found {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no reconciliation has run yet")
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}
