package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sambitmohanty1/payment-callbacks/internal/eventbus"
	"github.com/sambitmohanty1/payment-callbacks/internal/fees"
	"github.com/sambitmohanty1/payment-callbacks/internal/models"
	"github.com/sambitmohanty1/payment-callbacks/internal/payments"
	"github.com/sambitmohanty1/payment-callbacks/internal/store"
	"github.com/sambitmohanty1/payment-callbacks/internal/webhook"
)

var (
	// ErrNotReplayable is returned for log entries that never passed verification and parsing
	ErrNotReplayable = errors.New("log entry cannot be replayed")
	// ErrBodyTooLarge is a malformed request cut off before its signature could be checked
	ErrBodyTooLarge = fmt.Errorf("%w: request body too large", webhook.ErrMalformedPayload)
	// ErrRateLimited is a callback turned away by the inbound limiter before verification
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Result is what the responder needs to answer the gateway
type Result struct {
	Outcome    models.LogOutcome    `json:"outcome"`
	LogEntryID uuid.UUID            `json:"log_entry_id"`
	Reference  string               `json:"reference,omitempty"`
	EventType  string               `json:"event_type,omitempty"`
	Status     models.PaymentStatus `json:"payment_status,omitempty"`
	Fee        *fees.Breakdown      `json:"fee,omitempty"`
	Message    string               `json:"message,omitempty"`
}

// StatusChangedEvent is published after a committed transition
type StatusChangedEvent struct {
	Reference      string               `json:"reference"`
	From           models.PaymentStatus `json:"from"`
	To             models.PaymentStatus `json:"to"`
	Kind           models.PaymentKind   `json:"kind"`
	AmountCents    int64                `json:"amount"`
	Currency       string               `json:"currency"`
	FeeCents       *int64               `json:"fee,omitempty"`
	NetAmountCents *int64               `json:"net_amount,omitempty"`
	GatewayEventID string               `json:"gateway_event_id,omitempty"`
	LogEntryID     string               `json:"log_entry_id"`
	OccurredAt     time.Time            `json:"occurred_at"`
}

// ReplayRequest is the message consumed from the replay topic
type ReplayRequest struct {
	LogEntryID  string    `json:"log_entry_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// WebhookServiceConfig carries the tunables of WebhookService
type WebhookServiceConfig struct {
	Fees      fees.Schedule
	DBTimeout time.Duration
	// AsyncReplay routes replays through the event bus to the worker
	AsyncReplay bool
}

type WebhookService struct {
	verifier  webhook.Verifier
	payments  *store.PaymentStore
	logs      *store.LogStore
	logWriter *EventLogWriter
	alerts    *AlertService
	bus       eventbus.EventBus
	metrics   *WebhookMetrics
	cfg       WebhookServiceConfig
	tracer    trace.Tracer
	logger    *zap.Logger
}

// NewWebhookService wires the callback pipeline. bus may be nil.
func NewWebhookService(
	verifier webhook.Verifier,
	payments *store.PaymentStore,
	logs *store.LogStore,
	logWriter *EventLogWriter,
	alerts *AlertService,
	bus eventbus.EventBus,
	metrics *WebhookMetrics,
	cfg WebhookServiceConfig,
	logger *zap.Logger,
) *WebhookService {
	if cfg.DBTimeout <= 0 {
		cfg.DBTimeout = 5 * time.Second
	}
	return &WebhookService{
		verifier:  verifier,
		payments:  payments,
		logs:      logs,
		logWriter: logWriter,
		alerts:    alerts,
		bus:       bus,
		metrics:   metrics,
		cfg:       cfg,
		tracer:    otel.Tracer("github.com/sambitmohanty1/payment-callbacks/internal/services"),
		logger:    logger,
	}
}

// Process runs one inbound callback through verification, parsing, audit, dedup
// and the state machine. The returned error is non-nil only for outcomes the
// gateway must see as failures: authentication, malformed payload and transient
// infrastructure errors. Anomalies are reported through the result and alerts.
func (s *WebhookService) Process(ctx context.Context, in Inbound) (*Result, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "webhook.process", trace.WithAttributes(
		attribute.String("request_id", in.RequestID),
		attribute.Int("body_bytes", len(in.Body)),
	))
	defer span.End()

	if err := s.verifier.Verify(in.Body, in.Headers); err != nil {
		return s.reject(ctx, span, in, err, start)
	}

	event, err := webhook.ParsePayload(in.Body)
	if err != nil {
		return s.reject(ctx, span, in, err, start)
	}

	result, err := s.handle(ctx, in, event, nil)
	s.observe(span, result, err, start)
	return result, err
}

// Reject records a request refused before verification, such as an oversize body
func (s *WebhookService) Reject(ctx context.Context, in Inbound, cause error) (*Result, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "webhook.reject", trace.WithAttributes(
		attribute.String("request_id", in.RequestID),
	))
	defer span.End()
	return s.reject(ctx, span, in, cause, start)
}

// Replay re-runs a stored, signature-valid payload through parse, dedup and the
// state machine. A new log entry pointing at the original is written.
func (s *WebhookService) Replay(ctx context.Context, id uuid.UUID) (*Result, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "webhook.replay", trace.WithAttributes(
		attribute.String("replay_of", id.String()),
	))
	defer span.End()

	original, err := s.loadReplayable(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	event, err := webhook.ParsePayload([]byte(original.Payload))
	if err != nil {
		return nil, fmt.Errorf("%w: stored payload no longer parses: %v", ErrNotReplayable, err)
	}

	in := Inbound{Body: []byte(original.Payload), RemoteAddr: "replay"}
	result, err := s.handle(ctx, in, event, &original.ID)
	s.observe(span, result, err, start)
	return result, err
}

// RequestReplay validates the entry and either queues the replay for the worker
// (queued is true) or runs it inline.
func (s *WebhookService) RequestReplay(ctx context.Context, id uuid.UUID) (result *Result, queued bool, err error) {
	if !s.cfg.AsyncReplay || s.bus == nil {
		result, err = s.Replay(ctx, id)
		return result, false, err
	}

	if _, err := s.loadReplayable(ctx, id); err != nil {
		return nil, false, err
	}
	msg := ReplayRequest{LogEntryID: id.String(), RequestedAt: time.Now().UTC()}
	if err := s.bus.Publish(ctx, eventbus.TopicWebhookReplay, msg); err != nil {
		return nil, false, fmt.Errorf("%w: failed to queue replay: %v", webhook.ErrTransientInfrastructure, err)
	}
	return nil, true, nil
}

// HandleReplayMessage is the event bus handler for the replay topic
func (s *WebhookService) HandleReplayMessage(ctx context.Context, msg eventbus.Message) error {
	var req ReplayRequest
	if err := msg.Decode(&req); err != nil {
		s.logger.Error("Dropping undecodable replay request", zap.String("msg_id", msg.ID), zap.Error(err))
		return nil
	}
	id, err := uuid.Parse(req.LogEntryID)
	if err != nil {
		s.logger.Error("Dropping replay request with bad id", zap.String("log_entry_id", req.LogEntryID))
		return nil
	}

	result, err := s.Replay(ctx, id)
	if err != nil {
		// Only transient failures are left unacknowledged for redelivery
		if errors.Is(err, webhook.ErrTransientInfrastructure) {
			return err
		}
		s.logger.Warn("Replay request not processed", zap.String("log_entry_id", req.LogEntryID), zap.Error(err))
		return nil
	}
	s.logger.Info("Replay processed",
		zap.String("log_entry_id", req.LogEntryID),
		zap.String("outcome", string(result.Outcome)))
	return nil
}

func (s *WebhookService) loadReplayable(ctx context.Context, id uuid.UUID) (*models.WebhookLogEntry, error) {
	dbCtx, cancel := context.WithTimeout(ctx, s.cfg.DBTimeout)
	defer cancel()

	entry, err := s.logs.Get(dbCtx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", webhook.ErrTransientInfrastructure, err)
	}
	if entry.Status == models.LogStatusRejected || !entry.SignatureValid {
		return nil, fmt.Errorf("%w: entry %s was rejected at ingest", ErrNotReplayable, id)
	}
	return entry, nil
}

func (s *WebhookService) reject(ctx context.Context, span trace.Span, in Inbound, cause error, start time.Time) (*Result, error) {
	entry := s.logWriter.Rejected(ctx, in, cause)
	s.logger.Info("Webhook rejected",
		zap.String("request_id", in.RequestID),
		zap.String("log_entry_id", entry.ID.String()),
		zap.Error(cause))

	result := &Result{Outcome: models.OutcomeRejected, LogEntryID: entry.ID}
	s.observe(span, result, cause, start)
	return result, cause
}

func (s *WebhookService) handle(ctx context.Context, in Inbound, event *webhook.Event, replayOf *uuid.UUID) (*Result, error) {
	entry, logged := s.logWriter.Received(ctx, in, event, replayOf)
	fields := []zap.Field{
		zap.String("reference", event.Reference),
		zap.String("event_type", event.RawType),
		zap.String("gateway_event_id", event.GatewayEventID),
		zap.String("log_entry_id", entry.ID.String()),
	}

	result := &Result{
		LogEntryID: entry.ID,
		Reference:  event.Reference,
		EventType:  event.RawType,
	}
	finalize := func(status models.LogStatus, outcome models.LogOutcome, cause error) {
		result.Outcome = outcome
		if logged {
			s.logWriter.Finalize(ctx, entry, status, outcome, cause)
		}
	}

	if event.Type == payments.EventUnsupported {
		finalize(models.LogStatusProcessed, models.OutcomeUnsupportedEvent, nil)
		result.Message = "event type not handled"
		s.logger.Info("Unsupported webhook event accepted", fields...)
		return result, nil
	}

	dbCtx, cancel := context.WithTimeout(ctx, s.cfg.DBTimeout)
	applied, err := s.payments.ApplyEvent(dbCtx, store.ApplyRequest{
		Reference:      event.Reference,
		EventType:      event.Type,
		GatewayEventID: event.GatewayEventID,
		AmountCents:    event.AmountCents,
		Currency:       event.Currency,
		LogEntryID:     entry.ID,
		Fees:           s.cfg.Fees,
	})
	cancel()

	switch {
	case errors.Is(err, webhook.ErrUnknownReference):
		finalize(models.LogStatusFailed, models.OutcomeUnknownReference, err)
		result.Message = err.Error()
		s.logger.Warn("Webhook for unknown reference", fields...)
		s.raise(ctx, AlertUnknownReference, event, entry, err)
		return result, nil

	case errors.Is(err, webhook.ErrIllegalTransition):
		finalize(models.LogStatusFailed, models.OutcomeAnomaly, err)
		result.Message = err.Error()
		if applied != nil && applied.Record != nil {
			result.Status = applied.Record.Status
		}
		s.logger.Warn("Webhook anomaly", append(fields, zap.Error(err))...)
		s.raise(ctx, AlertIllegalTransition, event, entry, err)
		return result, nil

	case err != nil:
		transient := fmt.Errorf("%w: %v", webhook.ErrTransientInfrastructure, err)
		finalize(models.LogStatusFailed, models.OutcomeError, transient)
		s.logger.Error("Webhook processing failed", append(fields, zap.Error(err))...)
		s.raise(ctx, AlertTransientFailure, event, entry, transient)
		return result, transient
	}

	switch applied.Outcome {
	case store.ApplyDuplicate:
		finalize(models.LogStatusProcessed, models.OutcomeDuplicate, nil)
		s.logger.Info("Duplicate webhook delivery skipped", fields...)
	case store.ApplyNoop:
		finalize(models.LogStatusProcessed, models.OutcomeNoop, nil)
		result.Status = applied.Record.Status
	default:
		finalize(models.LogStatusProcessed, models.OutcomeApplied, nil)
		result.Status = applied.Record.Status
		result.Fee = applied.Fee
		s.logger.Info("Payment status updated",
			append(fields,
				zap.String("from", string(applied.Decision.From)),
				zap.String("to", string(applied.Decision.To)))...)
		s.publishStatusChanged(ctx, applied, event, entry)
	}
	return result, nil
}

func (s *WebhookService) publishStatusChanged(ctx context.Context, applied *store.ApplyResult, event *webhook.Event, entry *models.WebhookLogEntry) {
	if s.bus == nil {
		return
	}
	record := applied.Record
	msg := StatusChangedEvent{
		Reference:      record.Reference,
		From:           applied.Decision.From,
		To:             applied.Decision.To,
		Kind:           record.Kind,
		AmountCents:    record.AmountCents,
		Currency:       record.Currency,
		FeeCents:       record.FeeCents,
		NetAmountCents: record.NetAmountCents,
		GatewayEventID: event.GatewayEventID,
		LogEntryID:     entry.ID.String(),
		OccurredAt:     time.Now().UTC(),
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.bus.Publish(pubCtx, eventbus.TopicPaymentStatusChanged, msg); err != nil {
		s.metrics.Published.WithLabelValues(eventbus.TopicPaymentStatusChanged, "error").Inc()
		s.logger.Error("Failed to publish status change",
			zap.String("reference", record.Reference),
			zap.Error(err))
		s.raise(ctx, AlertPublishFailure, event, entry, err)
		return
	}
	s.metrics.Published.WithLabelValues(eventbus.TopicPaymentStatusChanged, "ok").Inc()
}

func (s *WebhookService) raise(ctx context.Context, kind AlertKind, event *webhook.Event, entry *models.WebhookLogEntry, cause error) {
	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	s.alerts.Raise(alertCtx, Alert{
		Kind:           kind,
		Reference:      event.Reference,
		EventType:      event.RawType,
		GatewayEventID: event.GatewayEventID,
		LogEntryID:     entry.ID.String(),
		Message:        cause.Error(),
		Details: map[string]interface{}{
			"amount":   event.AmountCents,
			"currency": event.Currency,
		},
	})
}

func (s *WebhookService) observe(span trace.Span, result *Result, err error, start time.Time) {
	outcome := models.OutcomeError
	if result != nil {
		outcome = result.Outcome
	}
	s.metrics.Observe(outcome, time.Since(start))

	span.SetAttributes(attribute.String("outcome", string(outcome)))
	if result != nil && result.Reference != "" {
		span.SetAttributes(attribute.String("reference", result.Reference))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
