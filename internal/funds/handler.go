package funds

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stitchline/stitchline-erp/internal/platform/httpx"
	"github.com/stitchline/stitchline-erp/internal/shared"
)

// Handler exposes the fund ledger over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers fund routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/funds", h.list)
	r.Post("/funds", h.create)
	r.Get("/funds/{id}", h.show)
	r.Post("/funds/{id}/return", h.markReturned)
	r.Get("/funds/{id}/usages", h.listUsages)
	r.Post("/funds/{id}/usages", h.allocate)
	r.Delete("/funds/usages/{usageID}", h.reverseUsage)
	r.Post("/funds/transfer", h.transfer)
}

type createFundRequest struct {
	Type       string  `json:"type" validate:"required,oneof=investment return"`
	Amount     float64 `json:"amount" validate:"required,gt=0"`
	FromUserID int64   `json:"from_user_id" validate:"gte=0"`
	ToUserID   int64   `json:"to_user_id" validate:"required,gt=0"`
	Notes      string  `json:"notes"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createFundRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	fund, err := h.service.CreateFund(r.Context(), shared.ActorFromContext(r.Context()), CreateFundInput{
		Type:       FundType(req.Type),
		Amount:     req.Amount,
		FromUserID: req.FromUserID,
		ToUserID:   req.ToUserID,
		Notes:      req.Notes,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, fundView(fund))
}

type transferFundRequest struct {
	FromUserID int64   `json:"from_user_id" validate:"required,gt=0"`
	ToUserID   int64   `json:"to_user_id" validate:"required,gt=0"`
	Amount     float64 `json:"amount" validate:"required,gt=0"`
	Notes      string  `json:"notes"`
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferFundRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	fund, err := h.service.Transfer(r.Context(), shared.ActorFromContext(r.Context()), TransferInput{
		FromUserID: req.FromUserID,
		ToUserID:   req.ToUserID,
		Amount:     req.Amount,
		Notes:      req.Notes,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, fundView(fund))
}

type allocateRequest struct {
	Amount      float64 `json:"amount" validate:"required,gt=0"`
	Purpose     string  `json:"purpose" validate:"required,oneof=purchase manufacturing_cost other"`
	ReferenceID int64   `json:"reference_id"`
	Notes       string  `json:"notes"`
}

func (h *Handler) allocate(w http.ResponseWriter, r *http.Request) {
	fundID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid fund id")
		return
	}
	var req allocateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	usage, err := h.service.Allocate(r.Context(), shared.ActorFromContext(r.Context()), AllocationRequest{
		FundID:      fundID,
		Amount:      req.Amount,
		Purpose:     UsagePurpose(req.Purpose),
		ReferenceID: req.ReferenceID,
		Notes:       req.Notes,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, usageView(usage))
}

func (h *Handler) reverseUsage(w http.ResponseWriter, r *http.Request) {
	usageID, err := strconv.ParseInt(chi.URLParam(r, "usageID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid usage id")
		return
	}
	if err := h.service.ReverseUsage(r.Context(), shared.ActorFromContext(r.Context()), usageID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) markReturned(w http.ResponseWriter, r *http.Request) {
	fundID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid fund id")
		return
	}
	fund, err := h.service.MarkReturned(r.Context(), shared.ActorFromContext(r.Context()), fundID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, fundView(fund))
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	fundID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid fund id")
		return
	}
	fund, err := h.service.GetFund(r.Context(), fundID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, fundView(fund))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	toUser, _ := strconv.ParseInt(r.URL.Query().Get("to_user_id"), 10, 64)
	fundsList, err := h.service.ListFunds(r.Context(), ListFilters{
		Status: FundStatus(r.URL.Query().Get("status")),
		ToUser: toUser,
		Limit:  limit,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(fundsList))
	for _, f := range fundsList {
		views = append(views, fundView(f))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"funds": views})
}

func (h *Handler) listUsages(w http.ResponseWriter, r *http.Request) {
	fundID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid fund id")
		return
	}
	usages, err := h.service.ListUsages(r.Context(), fundID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(usages))
	for _, u := range usages {
		views = append(views, usageView(u))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"usages": views})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUsageNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, shared.ErrInvalidActor):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInsufficientBalance), errors.Is(err, ErrFundInactive):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrConcurrencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("funds handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func fundView(f Fund) map[string]any {
	return map[string]any{
		"id":              f.ID,
		"type":            f.Type,
		"original_amount": f.OriginalAmount,
		"balance":         f.Balance,
		"status":          f.Status,
		"from_user_id":    f.FromUserID,
		"to_user_id":      f.ToUserID,
		"notes":           f.Notes,
		"created_at":      f.CreatedAt,
		"updated_at":      f.UpdatedAt,
	}
}

func usageView(u FundUsage) map[string]any {
	return map[string]any{
		"id":           u.ID,
		"fund_id":      u.FundID,
		"amount":       u.Amount,
		"purpose":      u.Purpose,
		"reference_id": u.ReferenceID,
		"used_by":      u.UsedBy,
		"used_at":      u.UsedAt,
		"notes":        u.Notes,
	}
}
