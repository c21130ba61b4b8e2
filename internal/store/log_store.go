package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sambitmohanty1/payment-callbacks/internal/models"
)

// ErrAlreadyFinalized is returned when the outcome of an entry was already written
var ErrAlreadyFinalized = errors.New("log entry already finalized")

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// LogFilter narrows List results
type LogFilter struct {
	Reference string
	Status    models.LogStatus
	Limit     int
}

// LogStore persists the webhook audit trail. Entries are inserted once and only
// their outcome columns are written afterwards, exactly once.
type LogStore struct {
	db *gorm.DB
}

func NewLogStore(db *gorm.DB) *LogStore {
	return &LogStore{db: db}
}

func (s *LogStore) Insert(ctx context.Context, entry *models.WebhookLogEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to insert webhook log entry: %w", err)
	}
	return nil
}

// Finalize records the outcome of an entry that is still in the received state
func (s *LogStore) Finalize(ctx context.Context, id uuid.UUID, status models.LogStatus, outcome models.LogOutcome, message *string) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&models.WebhookLogEntry{}).
		Where("id = ? AND outcome = ?", id, models.OutcomeReceived).
		Updates(map[string]interface{}{
			"status":        status,
			"outcome":       outcome,
			"error_message": message,
			"processed_at":  now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to finalize webhook log entry: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyFinalized, id)
	}
	return nil
}

func (s *LogStore) Get(ctx context.Context, id uuid.UUID) (*models.WebhookLogEntry, error) {
	var entry models.WebhookLogEntry
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load webhook log entry: %w", err)
	}
	return &entry, nil
}

// List returns entries newest first
func (s *LogStore) List(ctx context.Context, filter LogFilter) ([]models.WebhookLogEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := s.db.WithContext(ctx).Model(&models.WebhookLogEntry{})
	if filter.Reference != "" {
		query = query.Where("reference = ?", filter.Reference)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var entries []models.WebhookLogEntry
	if err := query.Order("created_at DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list webhook log entries: %w", err)
	}
	return entries, nil
}

// CountApplied returns how many entries for a reference ended in an applied transition
func (s *LogStore) CountApplied(ctx context.Context, reference string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.WebhookLogEntry{}).
		Where("reference = ? AND status = ? AND outcome = ?", reference, models.LogStatusProcessed, models.OutcomeApplied).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count applied entries: %w", err)
	}
	return count, nil
}
