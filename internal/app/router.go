package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/stitchline/stitchline-erp/internal/funds"
	"github.com/stitchline/stitchline-erp/internal/inventory"
	"github.com/stitchline/stitchline-erp/internal/manufacturing"
	"github.com/stitchline/stitchline-erp/internal/observability"
	"github.com/stitchline/stitchline-erp/internal/procurement"
	"github.com/stitchline/stitchline-erp/internal/sales"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger               *slog.Logger
	Config               *Config
	FundsHandler         *funds.Handler
	ProcurementHandler   *procurement.Handler
	ManufacturingHandler *manufacturing.Handler
	InventoryHandler     *inventory.Handler
	SalesHandler         *sales.Handler
	Metrics              *observability.Metrics
}

// NewRouter constructs the chi.Router with Stitchline defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		if params.FundsHandler != nil {
			params.FundsHandler.MountRoutes(api)
		}
		if params.ProcurementHandler != nil {
			params.ProcurementHandler.MountRoutes(api)
		}
		if params.ManufacturingHandler != nil {
			params.ManufacturingHandler.MountRoutes(api)
		}
		if params.InventoryHandler != nil {
			params.InventoryHandler.MountRoutes(api)
		}
		if params.SalesHandler != nil {
			params.SalesHandler.MountRoutes(api)
		}
	})

	return r
}
