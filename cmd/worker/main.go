package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/sambitmohanty1/payment-callbacks/internal/app"
	"github.com/sambitmohanty1/payment-callbacks/internal/config"
	"github.com/sambitmohanty1/payment-callbacks/internal/eventbus"
	"github.com/sambitmohanty1/payment-callbacks/internal/services"
)

// The worker consumes replay requests queued by the API and runs them
// through the same pipeline as live callbacks.
func main() {
	fxApp := fx.New(
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		fx.Provide(
			app.LoadConfig,
			app.NewLogger,
			app.NewDatabase,
			app.NewEventBus,
			app.NewVerifier,
			app.NewRegistry,
			app.NewMetrics,
			app.NewAlertService,
			app.NewPaymentStore,
			app.NewLogStore,
			app.NewWebhookService,
		),
		fx.Invoke(startWorker),
		fx.StopTimeout(30*time.Second),
	)

	if err := fxApp.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start worker: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down worker...")
	if err := fxApp.Stop(context.Background()); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	log.Println("Worker shutdown complete")
}

func startWorker(lc fx.Lifecycle, cfg *config.Config, bus eventbus.EventBus, webhookService *services.WebhookService, logger *zap.Logger) {
	var sub eventbus.Subscription

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !cfg.Redis.Enabled {
				return errors.New("the replay worker needs redis.enabled: replays are queued on Redis streams")
			}
			logger.Info("Starting replay worker", zap.String("topic", eventbus.TopicWebhookReplay))

			var err error
			sub, err = bus.Subscribe(context.Background(), eventbus.TopicWebhookReplay, webhookService.HandleReplayMessage)
			return err
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping replay worker")
			if sub != nil {
				if err := sub.Unsubscribe(); err != nil {
					logger.Warn("Failed to unsubscribe", zap.Error(err))
				}
			}
			_ = logger.Sync()
			return bus.Close()
		},
	})
}
