package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sambitmohanty1/payment-callbacks/internal/api"
	"github.com/sambitmohanty1/payment-callbacks/internal/app"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting payment callback service")

	verifier, err := app.NewVerifier(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize signature verifier", zap.Error(err))
	}

	db, err := app.NewDatabase(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	bus, err := app.NewEventBus(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer bus.Close()

	reg := app.NewRegistry()
	metrics := app.NewMetrics(reg)
	alerts := app.NewAlertService(cfg, bus, metrics, logger)
	payments := app.NewPaymentStore(db, logger)
	logs := app.NewLogStore(db)
	webhookService := app.NewWebhookService(cfg, verifier, payments, logs, alerts, bus, metrics, logger)

	monitoringService := app.NewMonitoringService(db, bus, metrics, reg, logger)
	monitorCtx, stopMonitoring := context.WithCancel(context.Background())
	defer stopMonitoring()
	monitoringService.StartHealthMonitoring(monitorCtx, 30*time.Second)

	gin.SetMode(gin.ReleaseMode)
	handlers := api.NewHandlers(webhookService, payments, logs, cfg.Server.MaxBodyBytes, logger)
	router := api.NewRouter(handlers, monitoringService, api.RouterConfig{
		RateLimit: cfg.Webhook.RateLimit,
		RateBurst: cfg.Webhook.RateBurst,
	}, logger)

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server exited")
}
