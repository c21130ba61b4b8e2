package services

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sambitmohanty1/payment-callbacks/internal/models"
)

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusCritical = "critical"
)

// WebhookMetrics are the Prometheus collectors for callback processing
type WebhookMetrics struct {
	Received   *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	Published  *prometheus.CounterVec
	Alerts     *prometheus.CounterVec
	LastSeen   prometheus.Gauge
	mu         sync.Mutex
	total      int64
	errors     int64
	lastSeenAt time.Time
}

// NewWebhookMetrics creates the collectors and registers them with reg
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		Received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payment_callbacks",
			Name:      "webhooks_total",
			Help:      "Inbound payment webhooks by outcome.",
		}, []string{"outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "payment_callbacks",
			Name:      "webhook_duration_seconds",
			Help:      "Time spent handling one webhook.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payment_callbacks",
			Name:      "events_published_total",
			Help:      "Downstream events by topic and result.",
		}, []string{"topic", "result"}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payment_callbacks",
			Name:      "alerts_total",
			Help:      "Operational alerts raised by kind.",
		}, []string{"kind"}),
		LastSeen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "payment_callbacks",
			Name:      "last_webhook_timestamp_seconds",
			Help:      "Unix time of the last inbound webhook.",
		}),
	}
	reg.MustRegister(m.Received, m.Duration, m.Published, m.Alerts, m.LastSeen)
	return m
}

// Observe records one handled webhook
func (m *WebhookMetrics) Observe(outcome models.LogOutcome, elapsed time.Duration) {
	m.Received.WithLabelValues(string(outcome)).Inc()
	m.Duration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())

	now := time.Now()
	m.LastSeen.Set(float64(now.Unix()))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.total++
	if outcome == models.OutcomeError {
		m.errors++
	}
	m.lastSeenAt = now
}

// Snapshot returns totals used by the health check
func (m *WebhookMetrics) Snapshot() (total, errors int64, lastSeen time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total, m.errors, m.lastSeenAt
}

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// MonitoringService provides monitoring and observability for the application
type MonitoringService struct {
	metrics      *WebhookMetrics
	gatherer     prometheus.Gatherer
	checks       map[string]HealthCheck
	critical     map[string]bool
	healthStatus *HealthStatus
	startedAt    time.Time
	logger       *zap.Logger
	mu           sync.RWMutex
}

// HealthStatus represents the overall health of the system
type HealthStatus struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentStatus `json:"components"`
	LastCheck  time.Time                  `json:"last_check"`
}

// ComponentStatus represents the status of a system component
type ComponentStatus struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	LastCheck time.Time              `json:"last_check"`
}

func NewMonitoringService(metrics *WebhookMetrics, gatherer prometheus.Gatherer, logger *zap.Logger) *MonitoringService {
	now := time.Now()
	return &MonitoringService{
		metrics:   metrics,
		gatherer:  gatherer,
		checks:    make(map[string]HealthCheck),
		critical:  make(map[string]bool),
		startedAt: now,
		logger:    logger,
		healthStatus: &HealthStatus{
			Status:     StatusHealthy,
			Timestamp:  now,
			Components: make(map[string]ComponentStatus),
			LastCheck:  now,
		},
	}
}

// RegisterCheck adds a dependency probe. A failing critical check makes the service critical,
// any other failing check only degrades it.
func (m *MonitoringService) RegisterCheck(name string, critical bool, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
	m.critical[name] = critical
}

// GetHealthStatus returns a copy of the current health status
func (m *MonitoringService) GetHealthStatus() HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := *m.healthStatus
	status.Uptime = time.Since(m.startedAt).Round(time.Second).String()
	status.Components = make(map[string]ComponentStatus, len(m.healthStatus.Components))
	for name, component := range m.healthStatus.Components {
		status.Components[name] = component
	}
	return status
}

// UpdateComponentStatus updates the status of a specific component
func (m *MonitoringService) UpdateComponentStatus(component, status, message string, details map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.healthStatus.Components[component] = ComponentStatus{
		Status:    status,
		Message:   message,
		Details:   details,
		LastCheck: time.Now(),
	}
	m.updateOverallHealth()
}

func (m *MonitoringService) updateOverallHealth() {
	overallStatus := StatusHealthy
	for _, component := range m.healthStatus.Components {
		if component.Status == StatusCritical {
			overallStatus = StatusCritical
			break
		} else if component.Status == StatusDegraded {
			overallStatus = StatusDegraded
		}
	}
	m.healthStatus.Status = overallStatus
	m.healthStatus.LastCheck = time.Now()
}

// PerformHealthCheck runs every registered probe and the processing error rate check
func (m *MonitoringService) PerformHealthCheck(ctx context.Context) {
	m.mu.RLock()
	checks := make(map[string]HealthCheck, len(m.checks))
	for name, check := range m.checks {
		checks[name] = check
	}
	m.mu.RUnlock()

	for name, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := check(checkCtx)
		cancel()

		if err == nil {
			m.UpdateComponentStatus(name, StatusHealthy, "ok", nil)
			continue
		}
		status := StatusDegraded
		m.mu.RLock()
		if m.critical[name] {
			status = StatusCritical
		}
		m.mu.RUnlock()
		m.logger.Warn("Health check failed", zap.String("component", name), zap.Error(err))
		m.UpdateComponentStatus(name, status, err.Error(), nil)
	}

	if m.metrics == nil {
		return
	}
	total, errs, lastSeen := m.metrics.Snapshot()
	status, message := StatusHealthy, "Webhook processing is healthy"
	errorRate := 0.0
	if total > 0 {
		errorRate = float64(errs) / float64(total) * 100.0
	}
	if errorRate > 5.0 {
		status, message = StatusDegraded, "Transient failure rate is elevated"
	}
	if errorRate > 20.0 {
		status, message = StatusCritical, "Transient failure rate is critically high"
	}
	details := map[string]interface{}{
		"total_received":     total,
		"transient_failures": errs,
		"error_rate_percent": errorRate,
	}
	if !lastSeen.IsZero() {
		details["last_webhook_received"] = lastSeen
	}
	m.UpdateComponentStatus("webhook_processing", status, message, details)
}

// StartHealthMonitoring runs PerformHealthCheck every interval until ctx is done
func (m *MonitoringService) StartHealthMonitoring(ctx context.Context, interval time.Duration) {
	m.PerformHealthCheck(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.PerformHealthCheck(ctx)
			}
		}
	}()
}

// HandleHealthCheck serves the detailed health report
func (m *MonitoringService) HandleHealthCheck(c *gin.Context) {
	health := m.GetHealthStatus()

	statusCode := http.StatusOK
	if health.Status == StatusCritical {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, health)
}

// HandleMetrics serves the Prometheus exposition format
func (m *MonitoringService) HandleMetrics() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}
