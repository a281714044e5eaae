package services

import (
	"context"
	"net/http"
	"strings"
	"time"

	aws_pkg "github.com/yashrajoria/payment-sync/pkg/aws"
	"github.com/yashrajoria/payment-sync/services/webhook-service/models"
	"go.uber.org/zap"
)

// SyncService is the manual "sync now" path. It calls the reconciliation
// procedure directly, bypassing the ledger; reconciliation itself is
// idempotent so this can race the webhook path safely.
type SyncService interface {
	SyncPayment(ctx context.Context, paymentID string) (*models.ReconcileResult, *ServiceError)
}

type syncServiceImpl struct {
	reconciler Reconciler
	events     *PaymentEventPublisher
	metrics    *aws_pkg.MetricsClient
	timeout    time.Duration
	logger     *zap.Logger
}

func NewSyncService(reconciler Reconciler, events *PaymentEventPublisher, metrics *aws_pkg.MetricsClient, timeout time.Duration, logger *zap.Logger) SyncService {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &syncServiceImpl{reconciler: reconciler, events: events, metrics: metrics, timeout: timeout, logger: logger}
}

func (s *syncServiceImpl) SyncPayment(ctx context.Context, paymentID string) (*models.ReconcileResult, *ServiceError) {
	paymentID = strings.TrimSpace(paymentID)
	if !ValidPaymentID(paymentID) {
		return nil, &ServiceError{StatusCode: http.StatusBadRequest, Message: "Invalid payment id"}
	}

	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.reconciler.Reconcile(rctx, paymentID)
	if err != nil {
		s.logger.Error("Manual sync failed", zap.String("payment_id", paymentID), zap.Error(err))
		return nil, &ServiceError{StatusCode: http.StatusBadGateway, Message: "Reconciliation failed"}
	}

	s.logger.Info("Manual sync completed",
		zap.String("payment_id", paymentID),
		zap.Bool("success", result.Success),
		zap.String("mapped_status", result.MappedStatus),
	)

	if result.Success && result.UserID != "" && s.events.Enabled() {
		err := s.events.Publish(context.WithoutCancel(ctx), models.PaymentEvent{
			Type:          models.PaymentEventReconciled,
			PaymentID:     paymentID,
			UserID:        result.UserID,
			TransactionID: result.TransactionID,
			Status:        result.MappedStatus,
			Source:        models.SourceManualSync,
			Timestamp:     time.Now().UTC(),
		})
		if err != nil {
			s.logger.Warn("Failed to publish payment event", zap.String("payment_id", paymentID), zap.Error(err))
		}
	}

	if s.metrics.IsEnabled() {
		go func(success bool) {
			mctx, mcancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer mcancel()
			metric := aws_pkg.MetricPaymentReconciled
			if !success {
				metric = aws_pkg.MetricPaymentReconcileFailed
			}
			_ = s.metrics.RecordCount(mctx, metric, map[string]string{"Source": models.SourceManualSync})
		}(result.Success)
	}

	return result, nil
}
