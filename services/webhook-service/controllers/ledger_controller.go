package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	apperrors "github.com/yashrajoria/payment-sync/services/common/errors"
	"github.com/yashrajoria/payment-sync/services/webhook-service/models"
	"github.com/yashrajoria/payment-sync/services/webhook-service/repository"
	"go.uber.org/zap"
)

// LedgerController is the operator view over ledger rows.
type LedgerController struct {
	ledger repository.Ledger
	logger *zap.Logger
}

func NewLedgerController(ledger repository.Ledger, logger *zap.Logger) *LedgerController {
	return &LedgerController{ledger: ledger, logger: logger}
}

// ListEntries handles GET /admin/ledger?status=failed&limit=50.
func (lc *LedgerController) ListEntries(c *gin.Context) {
	status := models.LedgerStatus(c.DefaultQuery("status", string(models.LedgerStatusFailed)))
	switch status {
	case models.LedgerStatusProcessing, models.LedgerStatusSuccess, models.LedgerStatusFailed:
	default:
		_ = c.Error(apperrors.New(apperrors.ErrBadRequest.Code, "status must be processing, success or failed", nil))
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		_ = c.Error(apperrors.New(apperrors.ErrBadRequest.Code, "limit must be a positive integer", err))
		return
	}

	entries, err := lc.ledger.ListByStatus(c.Request.Context(), status, limit)
	if err != nil {
		lc.logger.Error("Ledger query failed", zap.String("status", string(status)), zap.Error(err))
		_ = c.Error(apperrors.Wrap(apperrors.ErrLedgerUnavailable, err))
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}

	c.JSON(http.StatusOK, gin.H{"status": status, "count": len(entries), "entries": entries})
}
