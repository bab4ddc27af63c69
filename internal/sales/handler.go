package sales

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stitchline/stitchline-erp/internal/inventory"
	"github.com/stitchline/stitchline-erp/internal/platform/httpx"
	"github.com/stitchline/stitchline-erp/internal/shared"
)

// Handler exposes sales and payments over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/sales", h.list)
	r.Post("/sales", h.create)
	r.Get("/sales/{id}", h.show)
	r.Put("/sales/{id}", h.update)
	r.Delete("/sales/{id}", h.remove)
	r.Post("/sales/{id}/payments", h.recordPayment)
	r.Post("/sales/payments/{paymentID}/void", h.voidPayment)
}

type saleItemRequest struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Quantity  float64 `json:"quantity" validate:"required,gt=0"`
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
}

type saleRequest struct {
	CustomerID     int64             `json:"customer_id" validate:"required,gt=0"`
	Items          []saleItemRequest `json:"items" validate:"required,min=1,dive"`
	DiscountAmount float64           `json:"discount_amount" validate:"gte=0"`
	TaxAmount      float64           `json:"tax_amount" validate:"gte=0"`
	ShippingCost   float64           `json:"shipping_cost" validate:"gte=0"`
	SaleDate       string            `json:"sale_date"`
	Notes          string            `json:"notes"`
}

func (h *Handler) decodeSale(w http.ResponseWriter, r *http.Request) (SaleInput, bool) {
	var req saleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return SaleInput{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return SaleInput{}, false
	}
	input := SaleInput{
		CustomerID:     req.CustomerID,
		DiscountAmount: req.DiscountAmount,
		TaxAmount:      req.TaxAmount,
		ShippingCost:   req.ShippingCost,
		Notes:          req.Notes,
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, ItemInput{ProductID: item.ProductID, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}
	if req.SaleDate != "" {
		date, err := time.Parse("2006-01-02", req.SaleDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "sale_date must be YYYY-MM-DD")
			return SaleInput{}, false
		}
		input.SaleDate = date
	}
	return input, true
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeSale(w, r)
	if !ok {
		return
	}
	sale, err := h.service.CreateSale(r.Context(), shared.ActorFromContext(r.Context()), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.saleID(w, r)
	if !ok {
		return
	}
	input, ok := h.decodeSale(w, r)
	if !ok {
		return
	}
	sale, err := h.service.UpdateSale(r.Context(), shared.ActorFromContext(r.Context()), id, input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := h.saleID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteSale(r.Context(), shared.ActorFromContext(r.Context()), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.saleID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.GetSaleDetail(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"sale":     detail.Sale,
		"items":    detail.Items,
		"payments": detail.Payments,
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	customerID, _ := strconv.ParseInt(r.URL.Query().Get("customer_id"), 10, 64)
	sales, err := h.service.ListSales(r.Context(), ListFilters{
		CustomerID:    customerID,
		PaymentStatus: PaymentStatus(r.URL.Query().Get("payment_status")),
		Limit:         limit,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sales": sales})
}

type paymentRequest struct {
	Amount          float64 `json:"amount" validate:"required,gt=0"`
	Method          string  `json:"method" validate:"required"`
	ReferenceNumber string  `json:"reference_number"`
	PaymentDate     string  `json:"payment_date"`
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.saleID(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := PaymentInput{Amount: req.Amount, Method: req.Method, ReferenceNumber: req.ReferenceNumber}
	if req.PaymentDate != "" {
		date, err := time.Parse("2006-01-02", req.PaymentDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "payment_date must be YYYY-MM-DD")
			return
		}
		input.PaymentDate = date
	}
	payment, err := h.service.RecordPayment(r.Context(), shared.ActorFromContext(r.Context()), id, input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

type voidRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) voidPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, err := strconv.ParseInt(chi.URLParam(r, "paymentID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payment id")
		return
	}
	var req voidRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "reason is required")
		return
	}
	if err := h.service.VoidPayment(r.Context(), shared.ActorFromContext(r.Context()), paymentID, req.Reason); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) saleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrPaymentNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, shared.ErrInvalidActor):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrOverPayment), errors.Is(err, inventory.ErrInsufficientStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable", err.Error())
	case errors.Is(err, ErrSaleHasPayments), errors.Is(err, ErrPaymentVoided):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrConcurrencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("sales handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
