// Package main is the connector's composition root: a single process that
// serves the DSP and RPC HTTP surfaces, drains the outbox into NATS
// JetStream, and runs the notification deliverer and subscription expiry
// sweeper as background loops. Wiring follows trm-service/cmd/api/main.go
// in the order config -> OTel -> Postgres -> Redis -> NATS ->
// repositories/engines -> background loops -> HTTP server -> graceful
// shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/arc-self/rainbow-connector/internal/auth"
	"github.com/arc-self/rainbow-connector/internal/catalog"
	"github.com/arc-self/rainbow-connector/internal/config"
	"github.com/arc-self/rainbow-connector/internal/dataplane"
	"github.com/arc-self/rainbow-connector/internal/dataplane/httpprotocol"
	"github.com/arc-self/rainbow-connector/internal/dataplane/ngsildprotocol"
	"github.com/arc-self/rainbow-connector/internal/dspadapter"
	"github.com/arc-self/rainbow-connector/internal/eventbus"
	"github.com/arc-self/rainbow-connector/internal/eventsvc"
	"github.com/arc-self/rainbow-connector/internal/httpmw"
	"github.com/arc-self/rainbow-connector/internal/negotiation"
	"github.com/arc-self/rainbow-connector/internal/repository/postgres"
	"github.com/arc-self/rainbow-connector/internal/rpcadapter"
	"github.com/arc-self/rainbow-connector/internal/telemetry"
	"github.com/arc-self/rainbow-connector/internal/transfer"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	// ── OpenTelemetry ──────────────────────────────────────────────────────
	if cfg.OTLPEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), cfg.ServiceName, cfg.OTLPEndpoint)
		if err != nil {
			logger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
		}
		mp, err := telemetry.InitMeterProvider(context.Background(), cfg.ServiceName, cfg.OTLPEndpoint)
		if err != nil {
			logger.Error("failed to init OTel meter provider", zap.Error(err))
		} else {
			defer mp.Shutdown(context.Background())
		}
	}

	// ── Database ───────────────────────────────────────────────────────────
	pool, err := postgres.NewPool(context.Background(), cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()
	store := postgres.New(pool)
	logger.Info("connected to database (OTel-instrumented)")

	// ── Redis (idempotency cache) ────────────────────────────────────────
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	// ── NATS JetStream ─────────────────────────────────────────────────────
	natsClient, err := eventbus.NewClient(cfg.NATSURL, logger)
	if err != nil {
		logger.Fatal("NATS initialization failed", zap.Error(err))
	}
	defer natsClient.Close()
	if err := natsClient.ProvisionStreams(); err != nil {
		logger.Fatal("NATS stream provisioning failed", zap.Error(err))
	}

	// ── Services & Engines ─────────────────────────────────────────────────
	events := eventsvc.New(store, logger, cfg.NotificationMaxAttempts, cfg.NotificationBaseBackoff, cfg.NotificationMaxBackoff)
	deliverer := eventsvc.NewDeliverer(events, 5*time.Second)
	sweeper := eventsvc.NewExpirySweeper(store, "@every "+cfg.SubscriptionSweepInterval.String(), logger)

	sender := dspadapter.NewSender(redisClient, logger)

	dataPlaneController := dataplane.New(store, logger,
		httpprotocol.New(logger),
		ngsildprotocol.New(logger),
	)

	negotiations := negotiation.New(store, events, sender, logger)
	catalogResolver := catalog.NewHTTPResolver(envOrDefault("CATALOG_BASE_URL", "http://localhost:8090"))
	transfers := transfer.New(store.AsTransferRepository(), negotiations, dataPlaneController, catalogResolver, events, sender, logger)

	verifier := auth.NewPresharedKeyVerifier(os.Getenv("DSP_PRESHARED_KEY"))

	// ── Background loops ───────────────────────────────────────────────────
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	publisher := eventbus.NewPublisher(natsClient, store, 2*time.Second, logger)
	go publisher.Run(bgCtx)
	go deliverer.Run(bgCtx)
	if err := sweeper.Start(bgCtx); err != nil {
		logger.Fatal("failed to start subscription expiry sweeper", zap.Error(err))
	}
	defer sweeper.Stop()

	// ── HTTP Server ────────────────────────────────────────────────────────
	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware(cfg.ServiceName))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("HTTP request", zap.String("URI", v.URI), zap.Int("status", v.Status))
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(httpmw.RequireToken(verifier))

	dspadapter.NewHandler(negotiations, transfers, logger).RegisterRoutes(e)
	rpcadapter.NewHandler(negotiations, transfers, catalogResolver, logger).RegisterRoutes(e)
	dataplane.NewHandler(dataPlaneController, transfers, logger).RegisterRoutes(e)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	go func() {
		logger.Info("rainbow-connector HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := e.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	// ── Graceful Shutdown ──────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("initiating graceful shutdown")

	bgCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Echo shutdown error", zap.Error(err))
	}
	logger.Info("rainbow-connector shut down cleanly")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
