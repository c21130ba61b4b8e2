// Package app builds the components shared by the HTTP server and the replay worker.
// Every constructor has a shape fx can provide.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/sambitmohanty1/payment-callbacks/internal/config"
	"github.com/sambitmohanty1/payment-callbacks/internal/database"
	"github.com/sambitmohanty1/payment-callbacks/internal/eventbus"
	"github.com/sambitmohanty1/payment-callbacks/internal/fees"
	"github.com/sambitmohanty1/payment-callbacks/internal/secrets"
	"github.com/sambitmohanty1/payment-callbacks/internal/services"
	"github.com/sambitmohanty1/payment-callbacks/internal/store"
	"github.com/sambitmohanty1/payment-callbacks/internal/webhook"
)

// LoadConfig reads and validates configuration
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// NewLogger builds the production zap logger at the configured level
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	var logLevel zap.AtomicLevel
	switch cfg.Log.Level {
	case "debug":
		logLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		logLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		logLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		logLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = logLevel
	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// NewDatabase connects to postgres and migrates the callback tables
func NewDatabase(cfg *config.Config, logger *zap.Logger) (*gorm.DB, error) {
	db, err := database.Connect(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// NewEventBus returns the Redis streams bus when enabled and an in-process bus otherwise
func NewEventBus(cfg *config.Config, logger *zap.Logger) (eventbus.EventBus, error) {
	if !cfg.Redis.Enabled {
		logger.Info("Redis disabled, using in-process event bus")
		return eventbus.NewMemoryEventBus(logger), nil
	}
	bus, err := eventbus.NewRedisEventBus(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger,
		eventbus.WithPendingRecovery(cfg.Redis.ClaimInterval, cfg.Redis.ClaimMinIdle),
		eventbus.WithMaxDeliveries(cfg.Redis.MaxDeliveries),
	)
	if err != nil {
		return nil, err
	}
	logger.Info("Redis event bus connected", zap.String("addr", cfg.Redis.Addr))
	return bus, nil
}

// NewVerifier resolves the webhook secret, from Vault when configured, and builds
// the signature verifier for the configured scheme.
func NewVerifier(cfg *config.Config, logger *zap.Logger) (webhook.Verifier, error) {
	secret := cfg.Webhook.Secret

	if cfg.Vault.Address != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		fromVault, err := loadSecretFromVault(ctx, cfg.Vault)
		switch {
		case err == nil:
			secret = fromVault
			logger.Info("Webhook secret loaded from Vault", zap.String("path", cfg.Vault.SecretPath))
		case secret != "":
			logger.Warn("Failed to load webhook secret from Vault, using config", zap.Error(err))
		default:
			return nil, fmt.Errorf("failed to load webhook secret: %w", err)
		}
	}

	return webhook.NewVerifier(cfg.Webhook.SignatureScheme, secret, cfg.Webhook.SignatureHeader, cfg.Webhook.Tolerance)
}

func loadSecretFromVault(ctx context.Context, cfg config.VaultConfig) (string, error) {
	client, err := secrets.NewVaultClient(cfg.Address, cfg.Token)
	if err != nil {
		return "", err
	}
	return client.WebhookSecret(ctx, cfg.SecretPath)
}

// NewRegistry returns the Prometheus registry with the process collectors installed
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func NewMetrics(reg *prometheus.Registry) *services.WebhookMetrics {
	return services.NewWebhookMetrics(reg)
}

// NewAlertService installs the event bus sink and, when configured, the HTTP sink
func NewAlertService(cfg *config.Config, bus eventbus.EventBus, metrics *services.WebhookMetrics, logger *zap.Logger) *services.AlertService {
	sinks := []services.AlertSink{services.NewEventBusAlertSink(bus)}
	if cfg.Alerts.Endpoint != "" {
		sinks = append(sinks, services.NewHTTPAlertSink(
			cfg.Alerts.Endpoint,
			cfg.Alerts.ClientID,
			cfg.Alerts.ClientSecret,
			cfg.Alerts.TokenURL,
		))
		logger.Info("HTTP alert sink configured", zap.String("endpoint", cfg.Alerts.Endpoint))
	}
	return services.NewAlertService(logger, metrics, sinks...)
}

func NewPaymentStore(db *gorm.DB, logger *zap.Logger) *store.PaymentStore {
	return store.NewPaymentStore(db, logger)
}

func NewLogStore(db *gorm.DB) *store.LogStore {
	return store.NewLogStore(db)
}

// NewWebhookService wires the callback pipeline. Replays go through the bus only
// when it is shared with a worker process.
func NewWebhookService(
	cfg *config.Config,
	verifier webhook.Verifier,
	payments *store.PaymentStore,
	logs *store.LogStore,
	alerts *services.AlertService,
	bus eventbus.EventBus,
	metrics *services.WebhookMetrics,
	logger *zap.Logger,
) *services.WebhookService {
	return services.NewWebhookService(
		verifier,
		payments,
		logs,
		services.NewEventLogWriter(logs, alerts, logger),
		alerts,
		bus,
		metrics,
		services.WebhookServiceConfig{
			Fees: fees.Schedule{
				DonationPercentage: cfg.Fees.DonationPercentage,
				PlatformPercentage: cfg.Fees.PlatformPercentage,
			},
			DBTimeout:   cfg.Webhook.DBTimeout,
			AsyncReplay: cfg.Redis.Enabled,
		},
		logger,
	)
}

// NewMonitoringService registers the dependency probes. The database is critical, the bus is not.
func NewMonitoringService(db *gorm.DB, bus eventbus.EventBus, metrics *services.WebhookMetrics, reg *prometheus.Registry, logger *zap.Logger) *services.MonitoringService {
	monitoring := services.NewMonitoringService(metrics, reg, logger)
	monitoring.RegisterCheck("database", true, func(ctx context.Context) error {
		return database.Ping(ctx, db)
	})
	monitoring.RegisterCheck("eventbus", false, bus.Ping)
	return monitoring
}
