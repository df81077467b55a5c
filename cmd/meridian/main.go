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

	"github.com/meridian-tours/meridian/internal/app"
	"github.com/meridian-tours/meridian/internal/bookings"
	"github.com/meridian-tours/meridian/internal/discounts"
	"github.com/meridian-tours/meridian/internal/gateway"
	"github.com/meridian-tours/meridian/internal/notify"
	"github.com/meridian-tours/meridian/internal/orders"
	"github.com/meridian-tours/meridian/internal/platform/cache"
	"github.com/meridian-tours/meridian/internal/platform/db"
	"github.com/meridian-tours/meridian/internal/proposals"
	"github.com/meridian-tours/meridian/internal/shared"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()
	notifier := notify.NewAsynqNotifier(asynqClient, logger)

	gateways := gateway.NewRegistry(cfg.DefaultBrand)
	gateways.Register(cfg.DefaultBrand, gateway.NewHTTPClient(gateway.HTTPClientConfig{
		BaseURL:   cfg.GatewayBaseURL,
		SecretKey: cfg.GatewaySecretKey,
		Timeout:   cfg.GatewayTimeout,
	}))
	for brand, key := range cfg.GatewayBrands {
		gateways.Register(brand, gateway.NewHTTPClient(gateway.HTTPClientConfig{
			BaseURL:   cfg.GatewayBaseURL,
			SecretKey: key,
			Timeout:   cfg.GatewayTimeout,
		}))
	}

	activityLogger := shared.NewActivityLogger()
	idempotencyStore := shared.NewIdempotencyStore(pool)

	proposalRepo := proposals.NewRepository(pool)
	proposalService := proposals.NewService(proposalRepo, activityLogger, notifier, cfg.AdminEmail, logger)
	proposalsHandler := proposals.NewHandler(logger, proposalService)

	bookingRepo := bookings.NewRepository(pool)
	bookingService := bookings.NewService(bookingRepo, proposalRepo, gateways, activityLogger, notifier, logger)
	bookingsHandler := bookings.NewHandler(logger, bookingService, idempotencyStore)

	discountRepo := discounts.NewRepository(pool)
	discountEngine := discounts.NewEngine(discountRepo, gateways, activityLogger, notifier, logger)
	discountsHandler := discounts.NewHandler(logger, discountEngine)

	taxRate, err := cfg.OrderTaxRate()
	if err != nil {
		logger.Error("parse tax rate", slog.Any("error", err))
		os.Exit(1)
	}
	orderRepo := orders.NewRepository(pool)
	menu := orders.NewPgMenu(pool)
	orderService := orders.NewService(orderRepo, menu, activityLogger, logger, taxRate, cfg.OrderCutoff)
	ordersHandler := orders.NewHandler(logger, orderService)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		ProposalsHandler: proposalsHandler,
		BookingsHandler:  bookingsHandler,
		DiscountsHandler: discountsHandler,
		OrdersHandler:    ordersHandler,
		Pool:             pool,
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
		logger.Error("server shutdown", slog.Any("error", err))
	}
}
