package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sambitmohanty1/payment-callbacks/internal/services"
)

// RouterConfig holds the HTTP layer limits
type RouterConfig struct {
	RateLimit float64
	RateBurst int
}

// NewRouter mounts every route on a new gin engine
func NewRouter(h *Handlers, monitoring *services.MonitoringService, cfg RouterConfig, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(RequestLogger(logger))

	router.GET("/health", h.Health)
	router.GET("/health/detailed", monitoring.HandleHealthCheck)
	router.GET("/metrics", monitoring.HandleMetrics())

	// One limiter shared by both mounts of the callback route
	webhookLimit := RateLimit(cfg.RateLimit, cfg.RateBurst, h.HandleThrottledWebhook)
	cors := CORS()
	router.POST("/webhooks/payment", webhookLimit, h.HandleWebhook)

	apiV1 := router.Group("/api/v1")
	{
		webhookGroup := apiV1.Group("/webhooks")
		{
			webhookGroup.POST("/payment", webhookLimit, h.HandleWebhook)
			webhookGroup.GET("/logs", cors, h.ListWebhookLogs)
			webhookGroup.OPTIONS("/logs", cors)
			webhookGroup.GET("/logs/:id", cors, h.GetWebhookLog)
			webhookGroup.OPTIONS("/logs/:id", cors)
			webhookGroup.POST("/logs/:id/replay", h.ReplayWebhook)
		}

		paymentsGroup := apiV1.Group("/payments")
		{
			paymentsGroup.POST("", h.CreatePayment)
			paymentsGroup.GET("/:reference", cors, h.GetPayment)
			paymentsGroup.OPTIONS("/:reference", cors)
		}
	}

	return router
}
