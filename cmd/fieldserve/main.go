package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fieldserve-erp/fieldserve-erp/internal/app"
	"github.com/fieldserve-erp/fieldserve-erp/internal/cashbox"
	"github.com/fieldserve-erp/fieldserve-erp/internal/catalog"
	"github.com/fieldserve-erp/fieldserve-erp/internal/observability"
	"github.com/fieldserve-erp/fieldserve-erp/internal/orders"
	"github.com/fieldserve-erp/fieldserve-erp/internal/payments"
	"github.com/fieldserve-erp/fieldserve-erp/internal/platform/cache"
	"github.com/fieldserve-erp/fieldserve-erp/internal/platform/db"
	"github.com/fieldserve-erp/fieldserve-erp/internal/requests"
	"github.com/fieldserve-erp/fieldserve-erp/internal/shared"
	"github.com/fieldserve-erp/fieldserve-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	passphraseValidator := cashbox.NewPassphraseValidator(cfg.DailyKeySecret)

	catalogRepo := catalog.NewRepository(dbpool)
	catalogService := catalog.NewService(catalogRepo, redisClient, logger)
	catalogHandler := catalog.NewHandler(logger, catalogService)

	requestsRepo := requests.NewRepository(dbpool)
	requestsService := requests.NewService(requestsRepo, catalogService, logger)
	requestsHandler := requests.NewHandler(logger, requestsService)

	ordersRepo := orders.NewRepository(dbpool)
	ordersService := orders.NewService(ordersRepo, catalogService, requestsService, logger)
	ordersHandler := orders.NewHandler(logger, ordersService)

	paymentsRepo := payments.NewRepository(dbpool)
	paymentsService := payments.NewService(paymentsRepo, catalogService, idempotencyStore, logger)
	paymentsHandler := payments.NewHandler(logger, paymentsService)

	cashboxRepo := cashbox.NewRepository(dbpool)
	cashboxService := cashbox.NewService(cashboxRepo, catalogService, passphraseValidator, logger)
	cashboxHandler := cashbox.NewHandler(logger, cashboxService)

	// Cross-domain wiring stays one-directional: requests drive orders,
	// payments gate deliveries, the cashbox records settled cash.
	requestsService.SetOrderGenerator(ordersService)
	ordersService.SetDeliveryGate(paymentsService)
	paymentsService.SetCashRecorder(cashboxService)

	metrics := observability.NewMetrics()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Pool:            dbpool,
		Metrics:         metrics,
		RequestsHandler: requestsHandler,
		OrdersHandler:   ordersHandler,
		PaymentsHandler: paymentsHandler,
		CashboxHandler:  cashboxHandler,
		CatalogHandler:  catalogHandler,
		JobsHandler:     jobsHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
