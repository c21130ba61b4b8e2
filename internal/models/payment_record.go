package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PaymentStatus is the lifecycle state of a payment or donation
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// IsTerminal reports whether no further transition is permitted out of s
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

// PaymentKind selects which platform fee percentage applies
type PaymentKind string

const (
	PaymentKindDonation        PaymentKind = "donation"
	PaymentKindPlatformPayment PaymentKind = "platform_payment"
)

// PaymentRecord represents one donation or payment attempt.
// Amounts are integer minor currency units (cents, ngwee).
type PaymentRecord struct {
	ID        uuid.UUID   `json:"id" gorm:"type:uuid;primary_key"`
	Reference string      `json:"reference" gorm:"not null;uniqueIndex"`
	Kind      PaymentKind `json:"kind" gorm:"not null;default:'donation'"`

	AmountCents int64         `json:"amount" gorm:"column:amount;not null"`
	Currency    string        `json:"currency" gorm:"not null"`
	Status      PaymentStatus `json:"status" gorm:"not null;default:'pending';index"`

	// Set exactly once, at the first settled transition out of pending
	FeeCents       *int64 `json:"fee,omitempty" gorm:"column:fee"`
	NetAmountCents *int64 `json:"net_amount,omitempty" gorm:"column:net_amount"`
	FeePercentage  *int64 `json:"fee_percentage,omitempty"`

	GatewayEventID string         `json:"gateway_event_id,omitempty"`
	Metadata       datatypes.JSON `json:"metadata,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (p *PaymentRecord) TableName() string { return "payment_records" }

func (p *PaymentRecord) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = PaymentStatusPending
	}
	if p.Kind == "" {
		p.Kind = PaymentKindDonation
	}
	return nil
}
