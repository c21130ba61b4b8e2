package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/sambitmohanty1/payment-callbacks/internal/models"
	"github.com/sambitmohanty1/payment-callbacks/internal/store"
	"github.com/sambitmohanty1/payment-callbacks/internal/webhook"
)

// Inbound is one webhook request as received
type Inbound struct {
	Body       []byte
	Headers    http.Header
	RemoteAddr string
	RequestID  string
}

// auditedHeaders are copied into the log entry. Signature headers are never stored.
var auditedHeaders = []string{"Content-Type", "User-Agent", "X-Request-Id", "X-Forwarded-For"}

const auditWriteTimeout = 5 * time.Second

// EventLogWriter is the only writer of webhook audit rows. Its failures are
// reported to the alert channel and never returned to the caller.
type EventLogWriter struct {
	logs   *store.LogStore
	alerts *AlertService
	logger *zap.Logger
}

func NewEventLogWriter(logs *store.LogStore, alerts *AlertService, logger *zap.Logger) *EventLogWriter {
	return &EventLogWriter{logs: logs, alerts: alerts, logger: logger}
}

// Received inserts the entry for a verified and parsed event before any business logic.
// ok is false when the row could not be written; the returned entry still carries the id
// used to correlate logs and the dedup claim.
func (w *EventLogWriter) Received(ctx context.Context, in Inbound, event *webhook.Event, replayOf *uuid.UUID) (entry *models.WebhookLogEntry, ok bool) {
	entry = &models.WebhookLogEntry{
		ID:             uuid.New(),
		EventType:      event.RawType,
		Reference:      event.Reference,
		GatewayEventID: event.GatewayEventID,
		Status:         models.LogStatusProcessed,
		Outcome:        models.OutcomeReceived,
		SignatureValid: true,
		Payload:        string(in.Body),
		Headers:        auditHeaders(in.Headers),
		RemoteAddr:     in.RemoteAddr,
		ReplayOf:       replayOf,
	}
	return entry, w.insert(ctx, entry)
}

// Rejected records a request that failed signature verification or parsing
func (w *EventLogWriter) Rejected(ctx context.Context, in Inbound, cause error) *models.WebhookLogEntry {
	msg := cause.Error()
	now := time.Now().UTC()
	entry := &models.WebhookLogEntry{
		ID:             uuid.New(),
		Status:         models.LogStatusRejected,
		Outcome:        models.OutcomeRejected,
		SignatureValid: signatureChecked(cause),
		Payload:        string(in.Body),
		Headers:        auditHeaders(in.Headers),
		RemoteAddr:     in.RemoteAddr,
		ErrorMessage:   &msg,
		ProcessedAt:    &now,
	}
	w.insert(ctx, entry)
	return entry
}

// Finalize writes the outcome of an entry created by Received
func (w *EventLogWriter) Finalize(ctx context.Context, entry *models.WebhookLogEntry, status models.LogStatus, outcome models.LogOutcome, cause error) {
	var msg *string
	if cause != nil {
		s := cause.Error()
		msg = &s
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()
	if err := w.logs.Finalize(ctx, entry.ID, status, outcome, msg); err != nil {
		w.reportFailure(ctx, entry, err)
		return
	}
	entry.Status, entry.Outcome, entry.ErrorMessage = status, outcome, msg
}

func (w *EventLogWriter) insert(ctx context.Context, entry *models.WebhookLogEntry) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()
	if err := w.logs.Insert(ctx, entry); err != nil {
		w.reportFailure(ctx, entry, err)
		return false
	}
	return true
}

func (w *EventLogWriter) reportFailure(ctx context.Context, entry *models.WebhookLogEntry, err error) {
	w.logger.Error("Failed to write webhook audit entry",
		zap.String("log_entry_id", entry.ID.String()),
		zap.String("reference", entry.Reference),
		zap.Error(err))
	w.alerts.Raise(ctx, Alert{
		Kind:           AlertAuditWriteFailure,
		Reference:      entry.Reference,
		EventType:      entry.EventType,
		GatewayEventID: entry.GatewayEventID,
		LogEntryID:     entry.ID.String(),
		Message:        err.Error(),
	})
}

// signatureChecked reports whether a rejection happened after the signature was verified
func signatureChecked(cause error) bool {
	return !errors.Is(cause, webhook.ErrAuthenticationFailed) &&
		!errors.Is(cause, ErrBodyTooLarge) &&
		!errors.Is(cause, ErrRateLimited)
}

func auditHeaders(h http.Header) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for _, name := range auditedHeaders {
		if v := h.Get(name); v != "" {
			out[name] = v
		}
	}
	return out
}
