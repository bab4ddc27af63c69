package manufacturing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stitchline/stitchline-erp/internal/funds"
	"github.com/stitchline/stitchline-erp/internal/inventory"
	"github.com/stitchline/stitchline-erp/internal/materials"
	"github.com/stitchline/stitchline-erp/internal/platform/httpx"
	"github.com/stitchline/stitchline-erp/internal/shared"
)

// Handler exposes batches over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers manufacturing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/batches", h.list)
	r.Post("/batches", h.create)
	r.Get("/batches/{id}", h.show)
	r.Delete("/batches/{id}", h.remove)
	r.Post("/batches/{id}/status", h.advance)
	r.Post("/batches/{id}/usages", h.recordUsage)
	r.Post("/batches/{id}/costs", h.recordCost)
	r.Post("/batches/{id}/correct-quantity", h.correctQuantity)
}

type batchRequest struct {
	ProductID              int64   `json:"product_id" validate:"required,gt=0"`
	QuantityProduced       float64 `json:"quantity_produced" validate:"required,gt=0"`
	StartDate              string  `json:"start_date"`
	ExpectedCompletionDate string  `json:"expected_completion_date"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := BatchInput{ProductID: req.ProductID, QuantityProduced: req.QuantityProduced}
	var ok bool
	if input.StartDate, ok = h.parseDate(w, req.StartDate); !ok {
		return
	}
	if input.ExpectedCompletionDate, ok = h.parseDate(w, req.ExpectedCompletionDate); !ok {
		return
	}
	batch, err := h.service.CreateBatch(r.Context(), shared.ActorFromContext(r.Context()), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, batch)
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending cutting stitching ironing packaging completed"`
}

func (h *Handler) advance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.batchID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	batch, err := h.service.AdvanceStatus(r.Context(), shared.ActorFromContext(r.Context()), id, BatchStatus(req.Status))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

type usageRequest struct {
	MaterialID   int64   `json:"material_id" validate:"required,gt=0"`
	QuantityUsed float64 `json:"quantity_used" validate:"required,gt=0"`
}

func (h *Handler) recordUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.batchID(w, r)
	if !ok {
		return
	}
	var req usageRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	usage, err := h.service.RecordMaterialUsage(r.Context(), shared.ActorFromContext(r.Context()), id, UsageInput{
		MaterialID:   req.MaterialID,
		QuantityUsed: req.QuantityUsed,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, usage)
}

type costRequest struct {
	CostType string  `json:"cost_type" validate:"required"`
	Amount   float64 `json:"amount" validate:"required,gt=0"`
	FundID   int64   `json:"fund_id" validate:"gte=0"`
}

func (h *Handler) recordCost(w http.ResponseWriter, r *http.Request) {
	id, ok := h.batchID(w, r)
	if !ok {
		return
	}
	var req costRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	cost, err := h.service.RecordCost(r.Context(), shared.ActorFromContext(r.Context()), id, CostInput{
		CostType: req.CostType,
		Amount:   req.Amount,
		FundID:   req.FundID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, cost)
}

type correctionRequest struct {
	NewQuantity float64 `json:"new_quantity" validate:"required,gt=0"`
	Reason      string  `json:"reason" validate:"required"`
}

func (h *Handler) correctQuantity(w http.ResponseWriter, r *http.Request) {
	id, ok := h.batchID(w, r)
	if !ok {
		return
	}
	var req correctionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	batch, err := h.service.CorrectQuantity(r.Context(), shared.ActorFromContext(r.Context()), id, req.NewQuantity, req.Reason)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.batchID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.GetBatchDetail(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"batch":       detail.Batch,
		"usages":      detail.Usages,
		"costs":       detail.Costs,
		"corrections": detail.Corrections,
	})
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := h.batchID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteBatch(r.Context(), shared.ActorFromContext(r.Context()), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	productID, _ := strconv.ParseInt(r.URL.Query().Get("product_id"), 10, 64)
	batches, err := h.service.ListBatches(r.Context(), ListFilters{
		ProductID: productID,
		Status:    BatchStatus(r.URL.Query().Get("status")),
		Limit:     limit,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batches": batches})
}

func (h *Handler) batchID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid batch id")
		return 0, false
	}
	return id, true
}

func (h *Handler) parseDate(w http.ResponseWriter, value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, true
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "dates must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return parsed, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, funds.ErrNotFound), errors.Is(err, materials.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, shared.ErrInvalidActor):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrIllegalTransition), errors.Is(err, ErrBatchCompleted), errors.Is(err, ErrBatchNotCompleted), errors.Is(err, ErrBatchReferenced):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, funds.ErrInsufficientBalance), errors.Is(err, funds.ErrFundInactive),
		errors.Is(err, materials.ErrInsufficientStock), errors.Is(err, inventory.ErrInsufficientStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable", err.Error())
	case errors.Is(err, shared.ErrConcurrencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("manufacturing handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
