package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/yashrajoria/payment-sync/services/common/auth"
	commonmw "github.com/yashrajoria/payment-sync/services/common/middleware"
	"github.com/yashrajoria/payment-sync/services/webhook-service/controllers"
	"github.com/yashrajoria/payment-sync/services/webhook-service/middleware"
)

const WebhookPath = "/webhooks/payments"

type Controllers struct {
	Webhook *controllers.WebhookController
	Sync    *controllers.SyncController
	Ledger  *controllers.LedgerController
}

type Options struct {
	TokenValidator *auth.TokenValidator
	SyncLimiter    *commonmw.RateLimiter
	AdminToken     string
}

func RegisterRoutes(r *gin.Engine, ctrl Controllers, opts Options) {
	// The webhook path takes every method so non-POST gets a JSON 405 and
	// never a rate limit.
	r.Any(WebhookPath, ctrl.Webhook.HandleWebhook)

	payments := r.Group("/payments")
	payments.Use(commonmw.RateLimitMiddleware(opts.SyncLimiter), middleware.JWTMiddleware(opts.TokenValidator))
	payments.POST("/:payment_id/sync", ctrl.Sync.SyncPayment)

	admin := r.Group("/admin")
	admin.Use(middleware.AdminTokenMiddleware(opts.AdminToken))
	admin.GET("/ledger", ctrl.Ledger.ListEntries)
}
