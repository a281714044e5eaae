package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yashrajoria/payment-sync/services/webhook-service/services"
)

// SyncController exposes the manual "sync now" path.
type SyncController struct {
	syncService services.SyncService
}

func NewSyncController(syncService services.SyncService) *SyncController {
	return &SyncController{syncService: syncService}
}

// SyncPayment handles POST /payments/:payment_id/sync.
func (sc *SyncController) SyncPayment(c *gin.Context) {
	paymentID := c.Param("payment_id")

	result, svcErr := sc.syncService.SyncPayment(c.Request.Context(), paymentID)
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payment_id":    paymentID,
		"success":       result.Success,
		"mapped_status": result.MappedStatus,
	})
}
