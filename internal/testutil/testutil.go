// Package testutil holds shared fixtures for package tests.
package testutil

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	sqlite "gorm.io/driver/sqlite"

	"github.com/sambitmohanty1/payment-callbacks/internal/database"
	"github.com/sambitmohanty1/payment-callbacks/internal/models"
)

const WebhookSecret = "whsec_test_secret"

// SetupTestDB creates a migrated SQLite database in a temp directory. A single
// connection keeps ordinary tests deterministic.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return openTestDB(t, "?_busy_timeout=5000&_foreign_keys=on", 1)
}

// SetupConcurrentTestDB opens the database in WAL mode behind a pool of conns
// connections, so concurrent callers really run overlapping transactions and
// contend on the claim insert.
func SetupConcurrentTestDB(t *testing.T, conns int) *gorm.DB {
	t.Helper()
	return openTestDB(t, "?_busy_timeout=10000&_foreign_keys=on&_journal_mode=WAL", conns)
}

func openTestDB(t *testing.T, params string, conns int) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "callbacks.db") + params
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "Failed to connect to test database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(conns)
	sqlDB.SetMaxIdleConns(conns)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// SetupTestLogger creates a development logger that writes through the test runner
func SetupTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	if os.Getenv("TEST_VERBOSE_LOGS") == "" {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	require.NoError(t, err, "Failed to create test logger")
	return logger
}

// LoadTestEnv loads config/test.env relative to the working directory when present
func LoadTestEnv() error {
	testEnvPath := filepath.Join("config", "test.env")
	if _, err := os.Stat(testEnvPath); err == nil {
		return godotenv.Load(testEnvPath)
	}
	return nil
}

// CreatePayment inserts a pending payment record
func CreatePayment(t *testing.T, db *gorm.DB, reference string, amount int64, currency string, kind models.PaymentKind) *models.PaymentRecord {
	t.Helper()
	record := &models.PaymentRecord{
		Reference:   reference,
		Kind:        kind,
		AmountCents: amount,
		Currency:    currency,
		Status:      models.PaymentStatusPending,
	}
	require.NoError(t, db.Create(record).Error)
	return record
}

// Sign returns the hex HMAC-SHA256 of body under secret
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Body builds a gateway payload
func Body(eventID, event, reference string, amount int64, currency string) []byte {
	idField := ""
	if eventID != "" {
		idField = `"id":"` + eventID + `",`
	}
	return []byte(`{` + idField + `"event":"` + event + `","data":{"reference":"` + reference +
		`","amount":` + strconv.FormatInt(amount, 10) + `,"currency":"` + currency + `","status":"` + event + `"}}`)
}
