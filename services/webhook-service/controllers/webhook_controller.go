package controllers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yashrajoria/payment-sync/services/common/logger"
	"github.com/yashrajoria/payment-sync/services/webhook-service/services"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// WebhookController receives provider payment notifications. Every response
// carries received:true, and nothing past input validation answers non-200.
type WebhookController struct {
	webhookService services.WebhookService
	logger         *zap.Logger
}

func NewWebhookController(webhookService services.WebhookService, l *zap.Logger) *WebhookController {
	return &WebhookController{webhookService: webhookService, logger: l}
}

// HandleWebhook handles every method on the webhook path.
func (wc *WebhookController) HandleWebhook(c *gin.Context) {
	log := logger.FromContext(c, wc.logger)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Webhook handler panicked", zap.Any("panic", r), zap.Stack("stack"))
			if !c.Writer.Written() {
				c.JSON(http.StatusOK, gin.H{"received": true, "error": "internal_error"})
			}
		}
	}()

	switch c.Request.Method {
	case http.MethodOptions:
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	case http.MethodPost:
	default:
		c.Header("Allow", "POST, OPTIONS")
		c.JSON(http.StatusMethodNotAllowed, gin.H{"received": true, "error": "Method not allowed, use POST"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"received": true, "error": "Unable to read request body"})
		return
	}

	res, svcErr := wc.webhookService.Ingest(c.Request.Context(), &services.IngestRequest{
		Body:       body,
		Signature:  c.GetHeader("X-Signature"),
		RequestID:  c.GetHeader("X-Request-ID"),
		ReceivedAt: time.Now(),
	})
	if svcErr != nil {
		log.Warn("Webhook rejected", zap.Int("status", svcErr.StatusCode), zap.String("reason", svcErr.Message))
		c.JSON(svcErr.StatusCode, gin.H{"received": true, "error": svcErr.Message})
		return
	}

	resp := gin.H{
		"received":   true,
		"outcome":    res.Outcome,
		"payment_id": res.PaymentID,
	}
	switch res.Outcome {
	case services.OutcomeReconciled:
		resp["processed"] = true
		resp["event_id"] = res.EventID
		resp["status"] = res.MappedStatus
	case services.OutcomeDuplicate:
		resp["processed"] = false
		resp["event_id"] = res.EventID
		resp["message"] = "Event already processed"
	case services.OutcomeIgnored:
		resp["processed"] = false
		resp["message"] = "Event not processed: " + res.Reason
	case services.OutcomeFailed:
		resp["processed"] = false
		resp["event_id"] = res.EventID
		resp["error"] = "processing_failed"
	}
	c.JSON(http.StatusOK, resp)
}
