package pos

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/lumina-salon/lumina/internal/ledger"
	"github.com/lumina-salon/lumina/internal/platform/httpx"
)

// Handler wires the POS intake endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the POS handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers POS intake routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sales", h.saleLine)
	r.Post("/consumption", h.consumption)
}

type saleLinePayload struct {
	OrderRef    string `json:"order_ref" validate:"required"`
	LineNo      int    `json:"line_no" validate:"gte=0"`
	ProductName string `json:"product_name" validate:"required"`
	Quantity    int64  `json:"quantity" validate:"required,gt=0"`
	SoldAt      string `json:"sold_at" validate:"required"`
}

type consumptionPayload struct {
	Ref         string `json:"ref"`
	ProductName string `json:"product_name" validate:"required"`
	Quantity    int64  `json:"quantity" validate:"required,gt=0"`
	Note        string `json:"note"`
	UsedAt      string `json:"used_at" validate:"required"`
}

func (h *Handler) saleLine(w http.ResponseWriter, r *http.Request) {
	var payload saleLinePayload
	if !h.decode(w, r, &payload) {
		return
	}
	soldAt, ok := h.parseDate(w, payload.SoldAt, "sold_at")
	if !ok {
		return
	}
	result, err := h.service.RecordSaleLine(r.Context(), SaleLine{
		OrderRef:    payload.OrderRef,
		LineNo:      payload.LineNo,
		ProductName: payload.ProductName,
		Qty:         payload.Quantity,
		SoldAt:      soldAt,
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) consumption(w http.ResponseWriter, r *http.Request) {
	var payload consumptionPayload
	if !h.decode(w, r, &payload) {
		return
	}
	usedAt, ok := h.parseDate(w, payload.UsedAt, "used_at")
	if !ok {
		return
	}
	result, err := h.service.RecordConsumption(r.Context(), ConsumptionEntry{
		Ref:         payload.Ref,
		ProductName: payload.ProductName,
		Qty:         payload.Quantity,
		Note:        payload.Note,
		UsedAt:      usedAt,
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) parseDate(w http.ResponseWriter, value, field string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		t, err = time.Parse(time.RFC3339, value)
	}
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+field)
		return time.Time{}, false
	}
	return t, true
}

func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAlreadyProcessed):
		httpx.RespondError(w, httpx.ErrDuplicate)
	case errors.Is(err, ledger.ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ledger.ErrBalanceContention):
		httpx.RespondError(w, httpx.ErrConflict)
	default:
		h.logger.Error("pos handler", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
