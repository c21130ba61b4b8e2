package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LogStatus is the audit status of one inbound webhook call
type LogStatus string

const (
	LogStatusProcessed LogStatus = "processed"
	LogStatusFailed    LogStatus = "failed"
	// LogStatusRejected marks signature or parse failures, not business failures
	LogStatusRejected LogStatus = "rejected"
)

// LogOutcome is the finer-grained result recorded next to the status
type LogOutcome string

const (
	OutcomeReceived         LogOutcome = "received"
	OutcomeApplied          LogOutcome = "applied"
	OutcomeDuplicate        LogOutcome = "duplicate"
	OutcomeNoop             LogOutcome = "noop"
	OutcomeAnomaly          LogOutcome = "anomaly"
	OutcomeUnknownReference LogOutcome = "unknown_reference"
	OutcomeUnsupportedEvent LogOutcome = "unsupported_event"
	OutcomeRejected         LogOutcome = "rejected"
	OutcomeError            LogOutcome = "error"
)

// WebhookLogEntry is the append-only audit record written for every inbound call.
// Payload and identity columns are immutable; the outcome columns are finalized once.
type WebhookLogEntry struct {
	ID             uuid.UUID  `json:"id" gorm:"type:uuid;primary_key"`
	EventType      string     `json:"event_type" gorm:"index"`
	Reference      string     `json:"reference" gorm:"index"`
	GatewayEventID string     `json:"gateway_event_id,omitempty"`
	Status         LogStatus  `json:"status" gorm:"not null;index"`
	Outcome        LogOutcome `json:"outcome" gorm:"not null"`
	SignatureValid bool       `json:"signature_valid"`

	// Raw body stored verbatim; rejected bodies are not guaranteed to be JSON
	Payload      string            `json:"payload" gorm:"type:text"`
	Headers      datatypes.JSONMap `json:"headers,omitempty"`
	RemoteAddr   string            `json:"remote_addr,omitempty"`
	ErrorMessage *string           `json:"error_message,omitempty"`
	ReplayOf     *uuid.UUID        `json:"replay_of,omitempty" gorm:"type:uuid"`

	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (w *WebhookLogEntry) TableName() string { return "webhook_log_entries" }

func (w *WebhookLogEntry) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}
