package ledger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumina-salon/lumina/internal/platform/httpx"
)

// Handler wires HTTP endpoints for ledger mutations and history.
type Handler struct {
	logger   *slog.Logger
	mutator  *Mutator
	validate *validator.Validate
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, mutator *Mutator) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, mutator: mutator, validate: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/purchases", h.createPurchase)
	r.Put("/purchases/{id}", h.editPurchase)
	r.Delete("/purchases/{id}", h.deletePurchase)

	r.Post("/opening-balances", h.createOpeningBalance)
	r.Put("/opening-balances/{id}", h.editPurchase)
	r.Delete("/opening-balances/{id}", h.deletePurchase)

	r.Post("/sales", h.createSale)
	r.Put("/sales/{id}", h.editSale)
	r.Delete("/sales/{id}", h.deleteSale)

	r.Post("/consumption", h.createConsumption)
	r.Put("/consumption/{id}", h.editConsumption)
	r.Delete("/consumption/{id}", h.deleteConsumption)

	r.Get("/history", h.history)
}

type purchasePayload struct {
	ProductName   string  `json:"product_name" validate:"required"`
	Quantity      int64   `json:"quantity" validate:"required,gt=0"`
	UnitCost      float64 `json:"unit_cost" validate:"gte=0"`
	TaxRate       float64 `json:"tax_rate" validate:"gte=0,lte=100"`
	TaxAmount     float64 `json:"tax_amount" validate:"gte=0"`
	InvoiceRef    string  `json:"invoice_ref"`
	EffectiveDate string  `json:"effective_date" validate:"required"`
	HSNCode       string  `json:"hsn_code"`
	Unit          string  `json:"unit"`
}

type salePayload struct {
	ProductName string `json:"product_name" validate:"required"`
	Quantity    int64  `json:"quantity" validate:"required,gt=0"`
	OrderRef    string `json:"order_ref"`
	SoldAt      string `json:"sold_at" validate:"required"`
}

type consumptionPayload struct {
	ProductName string `json:"product_name" validate:"required"`
	Quantity    int64  `json:"quantity" validate:"required,gt=0"`
	Note        string `json:"note"`
	UsedAt      string `json:"used_at" validate:"required"`
}

func (h *Handler) createPurchase(w http.ResponseWriter, r *http.Request) {
	h.handleCreatePurchase(w, r, h.mutator.CreatePurchase)
}

func (h *Handler) createOpeningBalance(w http.ResponseWriter, r *http.Request) {
	h.handleCreatePurchase(w, r, h.mutator.CreateOpeningBalance)
}

func (h *Handler) handleCreatePurchase(w http.ResponseWriter, r *http.Request, create func(context.Context, PurchaseInput) (PurchaseResult, error)) {
	var payload purchasePayload
	if !h.decode(w, r, &payload) {
		return
	}
	date, ok := h.parseDate(w, payload.EffectiveDate, "effective_date")
	if !ok {
		return
	}
	result, err := create(r.Context(), PurchaseInput{
		ProductName:   payload.ProductName,
		Qty:           payload.Quantity,
		UnitCost:      decimal.NewFromFloat(payload.UnitCost),
		TaxRate:       decimal.NewFromFloat(payload.TaxRate),
		TaxAmount:     decimal.NewFromFloat(payload.TaxAmount),
		InvoiceRef:    payload.InvoiceRef,
		EffectiveDate: date,
		HSNCode:       payload.HSNCode,
		Unit:          payload.Unit,
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) editPurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var payload purchasePayload
	if !h.decode(w, r, &payload) {
		return
	}
	date, ok := h.parseDate(w, payload.EffectiveDate, "effective_date")
	if !ok {
		return
	}
	result, err := h.mutator.EditPurchase(r.Context(), id, PurchaseEdit{
		Qty:           payload.Quantity,
		UnitCost:      decimal.NewFromFloat(payload.UnitCost),
		TaxRate:       decimal.NewFromFloat(payload.TaxRate),
		TaxAmount:     decimal.NewFromFloat(payload.TaxAmount),
		InvoiceRef:    payload.InvoiceRef,
		EffectiveDate: date,
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) deletePurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	snap, err := h.mutator.DeletePurchase(r.Context(), id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"stock": snap})
}

func (h *Handler) createSale(w http.ResponseWriter, r *http.Request) {
	var payload salePayload
	if !h.decode(w, r, &payload) {
		return
	}
	soldAt, ok := h.parseDate(w, payload.SoldAt, "sold_at")
	if !ok {
		return
	}
	result, err := h.mutator.CreateSale(r.Context(), SaleInput{
		ProductName: payload.ProductName,
		Qty:         payload.Quantity,
		OrderRef:    payload.OrderRef,
		SoldAt:      soldAt,
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) editSale(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var payload salePayload
	if !h.decode(w, r, &payload) {
		return
	}
	soldAt, ok := h.parseDate(w, payload.SoldAt, "sold_at")
	if !ok {
		return
	}
	result, err := h.mutator.EditSale(r.Context(), id, payload.Quantity, payload.OrderRef, soldAt)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) deleteSale(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	snap, err := h.mutator.DeleteSale(r.Context(), id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"stock": snap})
}

func (h *Handler) createConsumption(w http.ResponseWriter, r *http.Request) {
	var payload consumptionPayload
	if !h.decode(w, r, &payload) {
		return
	}
	usedAt, ok := h.parseDate(w, payload.UsedAt, "used_at")
	if !ok {
		return
	}
	result, err := h.mutator.CreateConsumption(r.Context(), ConsumptionInput{
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

func (h *Handler) editConsumption(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var payload consumptionPayload
	if !h.decode(w, r, &payload) {
		return
	}
	usedAt, ok := h.parseDate(w, payload.UsedAt, "used_at")
	if !ok {
		return
	}
	result, err := h.mutator.EditConsumption(r.Context(), id, payload.Quantity, payload.Note, usedAt)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) deleteConsumption(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	snap, err := h.mutator.DeleteConsumption(r.Context(), id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"stock": snap})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := HistoryFilter{}
	if v := q.Get("product_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product_id")
			return
		}
		filter.ProductID = id
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid from date")
			return
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid to date")
			return
		}
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	entries, err := h.mutator.History(r.Context(), filter)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
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

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transaction id")
		return uuid.Nil, false
	}
	return id, true
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
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, ErrBalanceContention):
		httpx.RespondError(w, httpx.ErrConflict)
	default:
		h.logger.Error("ledger handler", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
