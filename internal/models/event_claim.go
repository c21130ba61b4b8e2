package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEventClaim is the dedup ledger. A row exists only when the event's
// business effect was committed, in the same transaction as the transition.
type WebhookEventClaim struct {
	ID             uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	Reference      string    `json:"reference" gorm:"not null;uniqueIndex:idx_claim_reference_event_type"`
	EventType      string    `json:"event_type" gorm:"not null;uniqueIndex:idx_claim_reference_event_type"`
	GatewayEventID *string   `json:"gateway_event_id,omitempty" gorm:"uniqueIndex"`
	LogEntryID     uuid.UUID `json:"log_entry_id" gorm:"type:uuid"`
	CreatedAt      time.Time `json:"created_at"`
}

func (c *WebhookEventClaim) TableName() string { return "webhook_event_claims" }
