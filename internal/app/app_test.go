package app_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sambitmohanty1/payment-callbacks/internal/app"
	"github.com/sambitmohanty1/payment-callbacks/internal/config"
	"github.com/sambitmohanty1/payment-callbacks/internal/eventbus"
	"github.com/sambitmohanty1/payment-callbacks/internal/testutil"
	"github.com/sambitmohanty1/payment-callbacks/internal/webhook"
)

func fakeVault(t *testing.T, secret string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secret == "" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"data": map[string]interface{}{"webhook_secret": secret},
			},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level    string
		expected zapcore.Level
	}{
		{"debug", zap.DebugLevel},
		{"warn", zap.WarnLevel},
		{"error", zap.ErrorLevel},
		{"", zap.InfoLevel},
		{"verbose", zap.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := app.NewLogger(&config.Config{Log: config.LogConfig{Level: tt.level}})
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.expected))
			if tt.expected > zap.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.expected-1))
			}
		})
	}
}

func TestNewEventBus_MemoryWhenRedisDisabled(t *testing.T) {
	bus, err := app.NewEventBus(&config.Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &eventbus.MemoryEventBus{}, bus)
}

func TestNewVerifier(t *testing.T) {
	body := []byte(`{"event":"payment.success"}`)
	signedWith := func(secret string) http.Header {
		h := http.Header{}
		h.Set("X-Signature", testutil.Sign(secret, body))
		return h
	}

	tests := []struct {
		name         string
		configSecret string
		vaultSecret  string
		useVault     bool
		expectError  bool
		validSecret  string
	}{
		{name: "config secret", configSecret: "from-config", validSecret: "from-config"},
		{name: "vault overrides config", configSecret: "from-config", vaultSecret: "from-vault", useVault: true, validSecret: "from-vault"},
		{name: "vault failure falls back to config", configSecret: "from-config", useVault: true, validSecret: "from-config"},
		{name: "vault failure without fallback", useVault: true, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				Webhook: config.WebhookConfig{Secret: tt.configSecret, SignatureScheme: webhook.SchemeHMACSHA256},
			}
			if tt.useVault {
				cfg.Vault = config.VaultConfig{
					Address:    fakeVault(t, tt.vaultSecret).URL,
					Token:      "test-token",
					SecretPath: "secret/data/payment-callbacks/webhook",
				}
			}

			verifier, err := app.NewVerifier(cfg, zap.NewNop())
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, verifier.Verify(body, signedWith(tt.validSecret)))
			assert.ErrorIs(t, verifier.Verify(body, signedWith("something-else")), webhook.ErrAuthenticationFailed)
		})
	}
}

func TestWebhookServiceWiring(t *testing.T) {
	db := testutil.SetupTestDB(t)
	logger := zap.NewNop()
	cfg := &config.Config{
		Webhook: config.WebhookConfig{Secret: testutil.WebhookSecret, SignatureScheme: webhook.SchemeHMACSHA256},
		Fees:    config.FeesConfig{DonationPercentage: 5, PlatformPercentage: 10},
	}

	bus, err := app.NewEventBus(cfg, logger)
	require.NoError(t, err)
	verifier, err := app.NewVerifier(cfg, logger)
	require.NoError(t, err)
	reg := app.NewRegistry()
	metrics := app.NewMetrics(reg)
	alerts := app.NewAlertService(cfg, bus, metrics, logger)

	svc := app.NewWebhookService(cfg, verifier, app.NewPaymentStore(db, logger), app.NewLogStore(db), alerts, bus, metrics, logger)
	require.NotNil(t, svc)

	monitoring := app.NewMonitoringService(db, bus, metrics, reg, logger)
	monitoring.PerformHealthCheck(context.Background())
	health := monitoring.GetHealthStatus()
	assert.Equal(t, "healthy", health.Components["database"].Status)
	assert.Equal(t, "healthy", health.Components["eventbus"].Status)
}
