package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stitchline/stitchline-erp/internal/app"
	"github.com/stitchline/stitchline-erp/internal/funds"
	"github.com/stitchline/stitchline-erp/internal/inventory"
	"github.com/stitchline/stitchline-erp/internal/manufacturing"
	"github.com/stitchline/stitchline-erp/internal/observability"
	"github.com/stitchline/stitchline-erp/internal/platform/cache"
	"github.com/stitchline/stitchline-erp/internal/platform/db"
	"github.com/stitchline/stitchline-erp/internal/procurement"
	"github.com/stitchline/stitchline-erp/internal/sales"
	"github.com/stitchline/stitchline-erp/internal/shared"
	"github.com/stitchline/stitchline-erp/internal/users"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, notifications will not be published", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	audit := shared.NewActivityLogger(pool)
	notifier := shared.NewNotifier(pool, redisClient)
	ledger := funds.NewLedger()
	userDir := users.NewRepository(pool)

	fundsService := funds.NewService(funds.NewRepository(pool), ledger, audit)
	procurementService := procurement.NewService(procurement.NewRepository(pool), ledger, audit)
	manufacturingService := manufacturing.NewService(manufacturing.NewRepository(pool), ledger, audit)
	inventoryService := inventory.NewService(inventory.NewRepository(pool), userDir, notifier, audit)
	salesService := sales.NewService(sales.NewRepository(pool), audit)

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:               logger,
		Config:               cfg,
		FundsHandler:         funds.NewHandler(logger, fundsService),
		ProcurementHandler:   procurement.NewHandler(logger, procurementService),
		ManufacturingHandler: manufacturing.NewHandler(logger, manufacturingService),
		InventoryHandler:     inventory.NewHandler(logger, inventoryService),
		SalesHandler:         sales.NewHandler(logger, salesService),
		Metrics:              metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}
