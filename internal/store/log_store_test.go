package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/sambitmohanty1/payment-callbacks/internal/models"
	"github.com/sambitmohanty1/payment-callbacks/internal/store"
	"github.com/sambitmohanty1/payment-callbacks/internal/testutil"
)

func receivedEntry(reference string) *models.WebhookLogEntry {
	return &models.WebhookLogEntry{
		EventType:      "payment.success",
		Reference:      reference,
		Status:         models.LogStatusProcessed,
		Outcome:        models.OutcomeReceived,
		SignatureValid: true,
		Payload:        `{"event":"payment.success"}`,
		Headers:        datatypes.JSONMap{"User-Agent": "gateway/1.0"},
	}
}

func TestLogStore_InsertFinalizeGet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := store.NewLogStore(db)
	ctx := context.Background()

	entry := receivedEntry("don_1")
	require.NoError(t, s.Insert(ctx, entry))
	assert.NotEqual(t, uuid.Nil, entry.ID)

	msg := "illegal transition: cannot move payment from completed to failed"
	require.NoError(t, s.Finalize(ctx, entry.ID, models.LogStatusFailed, models.OutcomeAnomaly, &msg))

	got, err := s.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LogStatusFailed, got.Status)
	assert.Equal(t, models.OutcomeAnomaly, got.Outcome)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, msg, *got.ErrorMessage)
	assert.NotNil(t, got.ProcessedAt)
	assert.Equal(t, entry.Payload, got.Payload)
	assert.Equal(t, "gateway/1.0", got.Headers["User-Agent"])
}

func TestLogStore_FinalizeOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := store.NewLogStore(db)
	ctx := context.Background()

	entry := receivedEntry("don_1")
	require.NoError(t, s.Insert(ctx, entry))
	require.NoError(t, s.Finalize(ctx, entry.ID, models.LogStatusProcessed, models.OutcomeApplied, nil))

	err := s.Finalize(ctx, entry.ID, models.LogStatusFailed, models.OutcomeError, nil)
	assert.ErrorIs(t, err, store.ErrAlreadyFinalized)

	got, err := s.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, got.Outcome)
	assert.Nil(t, got.ErrorMessage)
}

func TestLogStore_GetMissing(t *testing.T) {
	s := store.NewLogStore(testutil.SetupTestDB(t))
	_, err := s.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLogStore_ListAndCount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := store.NewLogStore(db)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, outcome := range []models.LogOutcome{models.OutcomeApplied, models.OutcomeDuplicate, models.OutcomeDuplicate} {
		entry := receivedEntry("don_1")
		entry.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Insert(ctx, entry))
		require.NoError(t, s.Finalize(ctx, entry.ID, models.LogStatusProcessed, outcome, nil))
	}
	rejected := receivedEntry("")
	rejected.Status = models.LogStatusRejected
	rejected.Outcome = models.OutcomeRejected
	rejected.SignatureValid = false
	require.NoError(t, s.Insert(ctx, rejected))

	all, err := s.List(ctx, store.LogFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, rejected.ID, all[0].ID, "newest first")

	byRef, err := s.List(ctx, store.LogFilter{Reference: "don_1", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, byRef, 2)

	onlyRejected, err := s.List(ctx, store.LogFilter{Status: models.LogStatusRejected})
	require.NoError(t, err)
	require.Len(t, onlyRejected, 1)
	assert.False(t, onlyRejected[0].SignatureValid)

	applied, err := s.CountApplied(ctx, "don_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), applied)
}
