package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/sambitmohanty1/payment-callbacks/internal/eventbus"
)

// AlertKind classifies operational alerts
type AlertKind string

const (
	AlertUnknownReference  AlertKind = "unknown_reference"
	AlertIllegalTransition AlertKind = "illegal_transition"
	AlertAuditWriteFailure AlertKind = "audit_write_failure"
	AlertTransientFailure  AlertKind = "transient_failure"
	AlertPublishFailure    AlertKind = "publish_failure"
)

// Alert is an anomaly that needs human attention but must not change the webhook response
type Alert struct {
	Kind           AlertKind              `json:"kind"`
	Reference      string                 `json:"reference,omitempty"`
	EventType      string                 `json:"event_type,omitempty"`
	GatewayEventID string                 `json:"gateway_event_id,omitempty"`
	LogEntryID     string                 `json:"log_entry_id,omitempty"`
	Message        string                 `json:"message"`
	Details        map[string]interface{} `json:"details,omitempty"`
	OccurredAt     time.Time              `json:"occurred_at"`
}

// AlertSink delivers alerts to one channel
type AlertSink interface {
	Name() string
	Send(ctx context.Context, alert Alert) error
}

// AlertService fans alerts out to every configured sink. Sink failures are logged and swallowed.
type AlertService struct {
	sinks   []AlertSink
	metrics *WebhookMetrics
	logger  *zap.Logger
}

func NewAlertService(logger *zap.Logger, metrics *WebhookMetrics, sinks ...AlertSink) *AlertService {
	return &AlertService{
		sinks:   append([]AlertSink{&LogAlertSink{logger: logger}}, sinks...),
		metrics: metrics,
		logger:  logger,
	}
}

// Raise delivers alert to all sinks
func (s *AlertService) Raise(ctx context.Context, alert Alert) {
	if alert.OccurredAt.IsZero() {
		alert.OccurredAt = time.Now().UTC()
	}
	if s.metrics != nil {
		s.metrics.Alerts.WithLabelValues(string(alert.Kind)).Inc()
	}

	for _, sink := range s.sinks {
		if err := sink.Send(ctx, alert); err != nil {
			s.logger.Error("Failed to deliver alert",
				zap.String("sink", sink.Name()),
				zap.String("kind", string(alert.Kind)),
				zap.Error(err))
		}
	}
}

// LogAlertSink writes alerts to the structured log. It is always installed.
type LogAlertSink struct {
	logger *zap.Logger
}

func (l *LogAlertSink) Name() string { return "log" }

func (l *LogAlertSink) Send(_ context.Context, alert Alert) error {
	l.logger.Warn("Operational alert",
		zap.String("kind", string(alert.Kind)),
		zap.String("reference", alert.Reference),
		zap.String("event_type", alert.EventType),
		zap.String("gateway_event_id", alert.GatewayEventID),
		zap.String("log_entry_id", alert.LogEntryID),
		zap.String("message", alert.Message))
	return nil
}

// EventBusAlertSink publishes alerts on the anomalies topic
type EventBusAlertSink struct {
	bus eventbus.EventBus
}

func NewEventBusAlertSink(bus eventbus.EventBus) *EventBusAlertSink {
	return &EventBusAlertSink{bus: bus}
}

func (e *EventBusAlertSink) Name() string { return "eventbus" }

func (e *EventBusAlertSink) Send(ctx context.Context, alert Alert) error {
	return e.bus.Publish(ctx, eventbus.TopicPaymentAnomalies, alert)
}

// HTTPAlertSink posts alerts as JSON to an endpoint protected by OAuth2 client credentials
type HTTPAlertSink struct {
	endpoint string
	client   *http.Client
}

// NewHTTPAlertSink builds the sink. When tokenURL is empty the endpoint is called without auth.
func NewHTTPAlertSink(endpoint, clientID, clientSecret, tokenURL string) *HTTPAlertSink {
	client := &http.Client{Timeout: 10 * time.Second}
	if tokenURL != "" {
		cc := &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
		}
		client = cc.Client(context.Background())
		client.Timeout = 10 * time.Second
	}
	return &HTTPAlertSink{endpoint: endpoint, client: client}
}

func (h *HTTPAlertSink) Name() string { return "http" }

func (h *HTTPAlertSink) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert endpoint returned %d", resp.StatusCode)
	}
	return nil
}
