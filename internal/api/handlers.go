package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/sambitmohanty1/payment-callbacks/internal/models"
	"github.com/sambitmohanty1/payment-callbacks/internal/services"
	"github.com/sambitmohanty1/payment-callbacks/internal/store"
)

const defaultMaxBodyBytes int64 = 1 << 20

// Handlers contains all the API handlers with their dependencies
type Handlers struct {
	webhookService *services.WebhookService
	payments       *store.PaymentStore
	logs           *store.LogStore
	maxBodyBytes   int64
	logger         *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	webhookService *services.WebhookService,
	payments *store.PaymentStore,
	logs *store.LogStore,
	maxBodyBytes int64,
	logger *zap.Logger,
) *Handlers {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &Handlers{
		webhookService: webhookService,
		payments:       payments,
		logs:           logs,
		maxBodyBytes:   maxBodyBytes,
		logger:         logger,
	}
}

// HandleWebhook receives a payment gateway callback. The raw bytes are handed
// to the service untouched so the signature is checked on exactly what was sent.
func (h *Handlers) HandleWebhook(c *gin.Context) {
	in := services.Inbound{
		Headers:    c.Request.Header,
		RemoteAddr: c.ClientIP(),
		RequestID:  c.GetString("request_id"),
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	body, err := io.ReadAll(c.Request.Body)
	in.Body = body
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			result, rejectErr := h.webhookService.Reject(c.Request.Context(), in, services.ErrBodyTooLarge)
			respondWebhook(c, result, rejectErr)
			return
		}
		h.logger.Warn("Failed to read webhook body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	result, err := h.webhookService.Process(c.Request.Context(), in)
	respondWebhook(c, result, err)
}

// HandleThrottledWebhook records a callback the rate limiter turned away so the
// audit log still holds every inbound call. The gateway gets a 429 and retries.
func (h *Handlers) HandleThrottledWebhook(c *gin.Context) {
	body, _ := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes))
	in := services.Inbound{
		Body:       body,
		Headers:    c.Request.Header,
		RemoteAddr: c.ClientIP(),
		RequestID:  c.GetString("request_id"),
	}
	result, err := h.webhookService.Reject(c.Request.Context(), in, services.ErrRateLimited)
	respondWebhook(c, result, err)
}

// CreatePaymentRequest is the payload for registering a pending payment
type CreatePaymentRequest struct {
	Reference   string          `json:"reference" binding:"required,max=128"`
	Kind        string          `json:"kind" binding:"omitempty,oneof=donation platform_payment"`
	AmountCents int64           `json:"amount" binding:"required,gt=0"`
	Currency    string          `json:"currency" binding:"required,iso4217"`
	Metadata    json.RawMessage `json:"metadata"`
}

// CreatePayment registers a pending payment before the customer is sent to the gateway
func (h *Handlers) CreatePayment(c *gin.Context) {
	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind := models.PaymentKind(req.Kind)
	if kind == "" {
		kind = models.PaymentKindDonation
	}
	record := &models.PaymentRecord{
		Reference:   req.Reference,
		Kind:        kind,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
	}
	if len(req.Metadata) > 0 {
		record.Metadata = datatypes.JSON(req.Metadata)
	}

	if err := h.payments.Create(c.Request.Context(), record); err != nil {
		if errors.Is(err, store.ErrDuplicateReference) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to create payment", zap.String("reference", req.Reference), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create payment"})
		return
	}

	h.logger.Info("Payment registered",
		zap.String("reference", record.Reference),
		zap.String("kind", string(record.Kind)),
		zap.Int64("amount", record.AmountCents))
	c.JSON(http.StatusCreated, record)
}

// GetPayment returns the current state of a payment
func (h *Handlers) GetPayment(c *gin.Context) {
	record, err := h.payments.GetByReference(c.Request.Context(), c.Param("reference"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to load payment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load payment"})
		return
	}
	c.JSON(http.StatusOK, record)
}

// ListWebhookLogs returns audit entries, newest first
func (h *Handlers) ListWebhookLogs(c *gin.Context) {
	filter := store.LogFilter{Reference: c.Query("reference")}

	if status := c.Query("status"); status != "" {
		switch models.LogStatus(status) {
		case models.LogStatusProcessed, models.LogStatusFailed, models.LogStatusRejected:
			filter.Status = models.LogStatus(status)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "status must be one of processed, failed, rejected"})
			return
		}
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		filter.Limit = limit
	}

	entries, err := h.logs.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list webhook logs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list webhook logs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// GetWebhookLog returns one audit entry
func (h *Handlers) GetWebhookLog(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	entry, err := h.logs.Get(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "log entry not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to load webhook log", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load log entry"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// ReplayWebhook re-runs a stored payload without re-verifying its signature
func (h *Handlers) ReplayWebhook(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	result, queued, err := h.webhookService.RequestReplay(c.Request.Context(), id)
	if err != nil {
		h.logger.Warn("Replay refused", zap.String("log_entry_id", id.String()), zap.Error(err))
	}
	respondReplay(c, result, queued, err)
}

// Health is the liveness probe
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "payment-callbacks",
		"timestamp": time.Now().UTC(),
	})
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid log entry id"})
		return uuid.Nil, false
	}
	return id, true
}
