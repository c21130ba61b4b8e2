package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sambitmohanty1/payment-callbacks/internal/services"
	"github.com/sambitmohanty1/payment-callbacks/internal/store"
	"github.com/sambitmohanty1/payment-callbacks/internal/webhook"
)

// webhookStatus maps a processing error onto the status code the gateway sees.
// Only transient failures ask the gateway to retry.
func webhookStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, webhook.ErrAuthenticationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, webhook.ErrMalformedPayload):
		return http.StatusBadRequest
	case errors.Is(err, webhook.ErrTransientInfrastructure):
		return http.StatusServiceUnavailable
	case errors.Is(err, webhook.ErrUnknownReference), errors.Is(err, webhook.ErrIllegalTransition):
		// Anomalies are alerted on, not retried
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// respondWebhook writes the gateway facing response. Details stay in the audit log.
func respondWebhook(c *gin.Context, result *services.Result, err error) {
	status := webhookStatus(err)
	body := gin.H{}
	if result != nil {
		body["log_entry_id"] = result.LogEntryID
	}

	switch status {
	case http.StatusOK:
		body["status"] = "ok"
		if result != nil {
			body["outcome"] = result.Outcome
		}
	case http.StatusUnauthorized:
		body["error"] = "invalid signature"
	case http.StatusBadRequest:
		body["error"] = err.Error()
	case http.StatusTooManyRequests:
		c.Header("Retry-After", "1")
		body["error"] = err.Error()
	case http.StatusServiceUnavailable:
		c.Header("Retry-After", "30")
		body["error"] = "temporarily unavailable"
	default:
		body["error"] = "internal error"
	}
	c.JSON(status, body)
}

// respondReplay maps replay errors for the operator facing API
func respondReplay(c *gin.Context, result *services.Result, queued bool, err error) {
	switch {
	case err == nil && queued:
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	case err == nil:
		c.JSON(http.StatusOK, result)
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "log entry not found"})
	case errors.Is(err, services.ErrNotReplayable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		respondWebhook(c, result, err)
	}
}
