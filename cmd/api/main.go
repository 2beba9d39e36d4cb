package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/briankimutai/dukalink-backend/api/controllers"
	"github.com/briankimutai/dukalink-backend/api/routes"
	"github.com/briankimutai/dukalink-backend/internal/fulfillment"
	"github.com/briankimutai/dukalink-backend/internal/notifications"
	"github.com/briankimutai/dukalink-backend/internal/orders"
	"github.com/briankimutai/dukalink-backend/internal/payments"
	"github.com/briankimutai/dukalink-backend/pkg/config"
	"github.com/briankimutai/dukalink-backend/pkg/db"
	"github.com/briankimutai/dukalink-backend/pkg/db/models"
	"github.com/briankimutai/dukalink-backend/pkg/logger"
	"github.com/briankimutai/dukalink-backend/pkg/metrics"
	"github.com/briankimutai/dukalink-backend/pkg/pesapal"
	"github.com/briankimutai/dukalink-backend/pkg/pubsub"
	"github.com/briankimutai/dukalink-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Options{ServiceName: "dukalink", Level: zerolog.InfoLevel})
		fallback.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg := logger.New(logger.Options{
		ServiceName: "dukalink",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags, logg)
	if err != nil {
		logg.Error(ctx, "failed to connect to database", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	if cfg.FeatureFlags.AutoMigrate {
		if err := dbClient.DB().AutoMigrate(&models.Order{}); err != nil {
			logg.Error(ctx, "auto-migrate failed", err)
			os.Exit(1)
		}
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to connect to redis", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reconMetrics := metrics.NewReconciliationMetrics(registry)

	gateway, err := pesapal.NewClient(ctx, cfg.Pesapal, logg, reconMetrics)
	if err != nil {
		logg.Error(ctx, "failed to initialize payment gateway", err)
		os.Exit(1)
	}
	if cfg.Pesapal.IPNID == "" && cfg.Pesapal.IPNURL != "" {
		ipnID, err := gateway.RegisterIPN(ctx, cfg.Pesapal.IPNURL)
		if err != nil {
			logg.Error(ctx, "failed to register ipn endpoint", err)
			os.Exit(1)
		}
		cfg.Pesapal.IPNID = ipnID
	}

	var dispatcher notifications.Dispatcher = notifications.NoopDispatcher{}
	var pubsubClient *pubsub.Client
	if cfg.Notifications.Enabled {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(ctx, "failed to initialize pubsub", err)
			os.Exit(1)
		}
		defer pubsubClient.Close()

		dispatcher, err = notifications.NewPubSubDispatcher(pubsubClient.NotificationPublisher())
		if err != nil {
			logg.Error(ctx, "failed to initialize notification dispatcher", err)
			os.Exit(1)
		}
	}

	repo := orders.NewRepository(dbClient.DB())

	ordersSvc, err := orders.NewService(repo, cfg.Pesapal.Currency)
	if err != nil {
		logg.Error(ctx, "failed to build orders service", err)
		os.Exit(1)
	}
	paymentsSvc, err := payments.NewService(repo, gateway, dispatcher, redisClient, logg, reconMetrics, cfg.Pesapal, cfg.Refresh)
	if err != nil {
		logg.Error(ctx, "failed to build payments service", err)
		os.Exit(1)
	}
	fulfillmentSvc, err := fulfillment.NewService(repo, dispatcher, logg)
	if err != nil {
		logg.Error(ctx, "failed to build fulfillment service", err)
		os.Exit(1)
	}

	deps := map[string]controllers.Pinger{
		"database": dbClient,
		"redis":    redisClient,
	}
	if pubsubClient != nil {
		deps["pubsub"] = pubsubClient
	}

	handler := routes.NewRouter(cfg, logg, deps, registry, ordersSvc, paymentsSvc, fulfillmentSvc)

	server := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logg.Info(logg.WithField(ctx, "port", cfg.App.Port), "api server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "server stopped unexpectedly", err)
			stop()
		}
	}()

	<-ctx.Done()
	logg.Info(context.Background(), "shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(shutdownCtx, "graceful shutdown failed", err)
	}
	logg.Info(context.Background(), "api server stopped")
}
