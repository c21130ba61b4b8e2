package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sambitmohanty1/payment-callbacks/internal/fees"
	"github.com/sambitmohanty1/payment-callbacks/internal/models"
	"github.com/sambitmohanty1/payment-callbacks/internal/payments"
	"github.com/sambitmohanty1/payment-callbacks/internal/webhook"
)

var (
	ErrNotFound           = errors.New("record not found")
	ErrDuplicateReference = errors.New("payment reference already exists")
)

// errNoCommit rolls back a transaction that ended in a non-mutating outcome
var errNoCommit = errors.New("no commit")

// ApplyOutcome is what ApplyEvent did with an event
type ApplyOutcome string

const (
	ApplyApplied   ApplyOutcome = "applied"
	ApplyDuplicate ApplyOutcome = "duplicate"
	ApplyNoop      ApplyOutcome = "noop"
	ApplyIllegal   ApplyOutcome = "illegal"
)

// ApplyRequest carries one parsed event into ApplyEvent
type ApplyRequest struct {
	Reference      string
	EventType      payments.EventType
	GatewayEventID string
	AmountCents    int64
	Currency       string
	LogEntryID     uuid.UUID
	Fees           fees.Schedule
}

// ApplyResult describes the committed or rejected effect of an event
type ApplyResult struct {
	Outcome  ApplyOutcome
	Decision payments.Decision
	// Record is the state after the transaction; for non-applied outcomes it is the state that was read
	Record *models.PaymentRecord
	Fee    *fees.Breakdown
}

// PaymentStore owns payment records and the dedup claim ledger
type PaymentStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewPaymentStore(db *gorm.DB, logger *zap.Logger) *PaymentStore {
	return &PaymentStore{db: db, logger: logger}
}

// Create inserts a new pending record. A reference that already exists yields ErrDuplicateReference.
func (s *PaymentStore) Create(ctx context.Context, record *models.PaymentRecord) error {
	record.Status = models.PaymentStatusPending
	record.FeeCents, record.NetAmountCents, record.FeePercentage = nil, nil, nil
	record.Currency = strings.ToUpper(record.Currency)

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "reference"}}, DoNothing: true}).
		Create(record)
	if result.Error != nil {
		return fmt.Errorf("failed to create payment record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateReference, record.Reference)
	}
	return nil
}

// GetByReference loads a record by its merchant reference
func (s *PaymentStore) GetByReference(ctx context.Context, reference string) (*models.PaymentRecord, error) {
	var record models.PaymentRecord
	err := s.db.WithContext(ctx).Where("reference = ?", reference).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment %s: %w", reference, err)
	}
	return &record, nil
}

// ApplyEvent runs dedup, the state machine and the compare-and-set update in one
// transaction. The claim row is only committed together with a transition, so a
// failed or rejected attempt leaves no trace and a retry is evaluated again.
//
// Unknown references return webhook.ErrUnknownReference. Illegal transitions and
// amount mismatches return a result with ApplyIllegal together with an error
// wrapping webhook.ErrIllegalTransition. Any other error comes from the database.
func (s *PaymentStore) ApplyEvent(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	var (
		result  *ApplyResult
		outcome error
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claim := &models.WebhookEventClaim{
			Reference:  req.Reference,
			EventType:  string(req.EventType),
			LogEntryID: req.LogEntryID,
		}
		if req.GatewayEventID != "" {
			gatewayID := req.GatewayEventID
			claim.GatewayEventID = &gatewayID
		}

		inserted := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(claim)
		if inserted.Error != nil {
			return fmt.Errorf("failed to claim event: %w", inserted.Error)
		}
		if inserted.RowsAffected == 0 {
			result = &ApplyResult{Outcome: ApplyDuplicate}
			return errNoCommit
		}

		var record models.PaymentRecord
		err := tx.Where("reference = ?", req.Reference).First(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			outcome = fmt.Errorf("%w: %s", webhook.ErrUnknownReference, req.Reference)
			return errNoCommit
		}
		if err != nil {
			return fmt.Errorf("failed to load payment: %w", err)
		}

		decision := payments.Transition(record.Status, req.EventType)
		result = &ApplyResult{Decision: decision, Record: &record}

		switch decision.Action {
		case payments.ActionNoop:
			result.Outcome = ApplyNoop
			return errNoCommit
		case payments.ActionIllegal, payments.ActionUnsupported:
			result.Outcome = ApplyIllegal
			outcome = fmt.Errorf("%w: %s", webhook.ErrIllegalTransition, decision.Reason)
			return errNoCommit
		}

		updates := map[string]interface{}{
			"status":           decision.To,
			"gateway_event_id": req.GatewayEventID,
			"updated_at":       time.Now().UTC(),
		}

		if decision.SettlesFee {
			if mismatch := amountMismatch(&record, req); mismatch != "" {
				result.Outcome = ApplyIllegal
				outcome = fmt.Errorf("%w: amount mismatch: %s", webhook.ErrIllegalTransition, mismatch)
				return errNoCommit
			}

			breakdown, err := fees.Calculate(record.AmountCents, req.Fees.PercentageFor(string(record.Kind)))
			if err != nil {
				return fmt.Errorf("failed to calculate fee: %w", err)
			}
			result.Fee = &breakdown
			updates["fee"] = breakdown.FeeCents
			updates["net_amount"] = breakdown.NetCents
			updates["fee_percentage"] = breakdown.Percentage
			updates["completed_at"] = time.Now().UTC()
		}

		// Guarded on the status read above and on the fee being unset
		cas := tx.Model(&models.PaymentRecord{}).
			Where("reference = ? AND status = ? AND fee IS NULL", req.Reference, models.PaymentStatusPending).
			Updates(updates)
		if cas.Error != nil {
			return fmt.Errorf("failed to update payment: %w", cas.Error)
		}
		if cas.RowsAffected == 0 {
			var current models.PaymentRecord
			if err := tx.Where("reference = ?", req.Reference).First(&current).Error; err != nil {
				return fmt.Errorf("failed to reload payment: %w", err)
			}
			result = &ApplyResult{
				Outcome:  ApplyIllegal,
				Decision: payments.Transition(current.Status, req.EventType),
				Record:   &current,
			}
			outcome = fmt.Errorf("%w: payment moved to %s concurrently", webhook.ErrIllegalTransition, current.Status)
			return errNoCommit
		}

		if err := tx.Where("reference = ?", req.Reference).First(&record).Error; err != nil {
			return fmt.Errorf("failed to reload payment: %w", err)
		}
		result.Record = &record
		result.Outcome = ApplyApplied
		return nil
	})

	if err != nil && !errors.Is(err, errNoCommit) {
		return nil, err
	}
	if outcome != nil {
		return result, outcome
	}
	return result, nil
}

func amountMismatch(record *models.PaymentRecord, req ApplyRequest) string {
	if record.AmountCents != req.AmountCents {
		return fmt.Sprintf("expected %d, received %d", record.AmountCents, req.AmountCents)
	}
	if !strings.EqualFold(record.Currency, req.Currency) {
		return fmt.Sprintf("expected %s, received %s", record.Currency, req.Currency)
	}
	return ""
}
