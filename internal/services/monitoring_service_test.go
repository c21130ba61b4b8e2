package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sambitmohanty1/payment-callbacks/internal/models"
	"github.com/sambitmohanty1/payment-callbacks/internal/services"
)

func newMonitoring(t *testing.T) (*services.MonitoringService, *services.WebhookMetrics) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := services.NewWebhookMetrics(reg)
	return services.NewMonitoringService(metrics, reg, zap.NewNop()), metrics
}

func TestMonitoringService_HealthChecks(t *testing.T) {
	tests := []struct {
		name           string
		setup          func(m *services.MonitoringService, metrics *services.WebhookMetrics)
		expectedStatus string
	}{
		{
			name: "all healthy",
			setup: func(m *services.MonitoringService, metrics *services.WebhookMetrics) {
				m.RegisterCheck("database", true, func(context.Context) error { return nil })
				metrics.Observe(models.OutcomeApplied, time.Millisecond)
			},
			expectedStatus: services.StatusHealthy,
		},
		{
			name: "optional dependency down",
			setup: func(m *services.MonitoringService, _ *services.WebhookMetrics) {
				m.RegisterCheck("database", true, func(context.Context) error { return nil })
				m.RegisterCheck("eventbus", false, func(context.Context) error { return errors.New("connection refused") })
			},
			expectedStatus: services.StatusDegraded,
		},
		{
			name: "database down",
			setup: func(m *services.MonitoringService, _ *services.WebhookMetrics) {
				m.RegisterCheck("database", true, func(context.Context) error { return errors.New("connection refused") })
			},
			expectedStatus: services.StatusCritical,
		},
		{
			name: "high transient failure rate",
			setup: func(_ *services.MonitoringService, metrics *services.WebhookMetrics) {
				for i := 0; i < 3; i++ {
					metrics.Observe(models.OutcomeApplied, time.Millisecond)
				}
				metrics.Observe(models.OutcomeError, time.Millisecond)
			},
			expectedStatus: services.StatusCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, metrics := newMonitoring(t)
			tt.setup(m, metrics)
			m.PerformHealthCheck(context.Background())
			assert.Equal(t, tt.expectedStatus, m.GetHealthStatus().Status)
		})
	}
}

func TestMonitoringService_Handlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, metrics := newMonitoring(t)
	m.RegisterCheck("database", true, func(context.Context) error { return errors.New("down") })
	metrics.Observe(models.OutcomeDuplicate, 2*time.Millisecond)
	m.PerformHealthCheck(context.Background())

	router := gin.New()
	router.GET("/health/detailed", m.HandleHealthCheck)
	router.GET("/metrics", m.HandleMetrics())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var health services.HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, services.StatusCritical, health.Components["database"].Status)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `payment_callbacks_webhooks_total{outcome="duplicate"} 1`))
}
