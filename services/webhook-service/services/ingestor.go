package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	aws_pkg "github.com/yashrajoria/payment-sync/pkg/aws"
	"github.com/yashrajoria/payment-sync/services/webhook-service/models"
	"github.com/yashrajoria/payment-sync/services/webhook-service/repository"
	"go.uber.org/zap"
)

// Outcome is what happened to a notification that passed validation.
type Outcome string

const (
	OutcomeReconciled Outcome = "reconciled"
	OutcomeFailed     Outcome = "failed"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeIgnored    Outcome = "ignored"
)

// IngestRequest is one raw webhook delivery.
type IngestRequest struct {
	Body       []byte
	Signature  string
	RequestID  string
	ReceivedAt time.Time
}

// IngestResult describes a delivery that was accepted (HTTP 200).
type IngestResult struct {
	Outcome      Outcome
	EventID      string
	PaymentID    string
	MappedStatus string
	Reason       string
}

// WebhookService validates, deduplicates and reconciles provider
// notifications. A *ServiceError is only returned before any side effect.
type WebhookService interface {
	Ingest(ctx context.Context, req *IngestRequest) (*IngestResult, *ServiceError)
}

type WebhookServiceConfig struct {
	KeyMode          KeyMode
	ReconcileTimeout time.Duration
}

type webhookServiceImpl struct {
	ledger     repository.Ledger
	reconciler Reconciler
	verifier   *SignatureVerifier
	events     *PaymentEventPublisher
	metrics    *aws_pkg.MetricsClient
	cfg        WebhookServiceConfig
	logger     *zap.Logger
}

func NewWebhookService(
	ledger repository.Ledger,
	reconciler Reconciler,
	verifier *SignatureVerifier,
	events *PaymentEventPublisher,
	metrics *aws_pkg.MetricsClient,
	cfg WebhookServiceConfig,
	logger *zap.Logger,
) WebhookService {
	if cfg.ReconcileTimeout <= 0 {
		cfg.ReconcileTimeout = 20 * time.Second
	}
	if cfg.KeyMode == "" {
		cfg.KeyMode = KeyModeStrengthened
	}
	return &webhookServiceImpl{
		ledger:     ledger,
		reconciler: reconciler,
		verifier:   verifier,
		events:     events,
		metrics:    metrics,
		cfg:        cfg,
		logger:     logger,
	}
}

func (s *webhookServiceImpl) Ingest(ctx context.Context, req *IngestRequest) (*IngestResult, *ServiceError) {
	log := s.logger.With(zap.String("request_id", req.RequestID))

	if len(bytes.TrimSpace(req.Body)) == 0 {
		return nil, &ServiceError{StatusCode: http.StatusBadRequest, Message: "Empty request body"}
	}
	var event models.WebhookEvent
	if err := json.Unmarshal(req.Body, &event); err != nil {
		log.Warn("Webhook body is not valid JSON", zap.Error(err))
		return nil, &ServiceError{StatusCode: http.StatusBadRequest, Message: "Invalid JSON payload"}
	}
	if missing := event.MissingFields(); len(missing) > 0 {
		return nil, &ServiceError{StatusCode: http.StatusBadRequest, Message: "Missing required fields: " + strings.Join(missing, ", ")}
	}

	if s.verifier != nil && s.verifier.Verify(ctx, req.Signature, req.RequestID, req.Body) == SignatureInvalid {
		log.Warn("Webhook signature mismatch", zap.String("type", event.Type))
		s.count(aws_pkg.MetricWebhookRejected, event.Type)
		return nil, &ServiceError{StatusCode: http.StatusUnauthorized, Message: "Invalid signature"}
	}
	s.count(aws_pkg.MetricWebhookReceived, event.Type)

	paymentID := event.PaymentID()
	if event.Type != models.EventTypePayment {
		log.Info("Ignoring webhook type", zap.String("type", event.Type))
		s.count(aws_pkg.MetricWebhookIgnored, event.Type)
		return &IngestResult{Outcome: OutcomeIgnored, PaymentID: paymentID, Reason: "event type not processed"}, nil
	}
	if !ValidPaymentID(paymentID) {
		log.Warn("Ignoring webhook with malformed payment id", zap.String("payment_id", paymentID))
		s.count(aws_pkg.MetricWebhookIgnored, event.Type)
		return &IngestResult{Outcome: OutcomeIgnored, PaymentID: paymentID, Reason: "malformed payment id"}, nil
	}

	receivedAt := req.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	eventID := IdempotencyKey(s.cfg.KeyMode, event.Type, paymentID, receivedAt)
	log = log.With(zap.String("event_id", eventID), zap.String("payment_id", paymentID))

	err := s.ledger.Insert(ctx, &models.LedgerEntry{
		EventID:     eventID,
		EventType:   event.Type,
		PaymentID:   paymentID,
		Status:      models.LedgerStatusProcessing,
		PayloadJSON: string(req.Body),
	})
	switch {
	case errors.Is(err, repository.ErrLedgerEntryExists):
		log.Info("Duplicate webhook delivery, skipping reconciliation")
		s.count(aws_pkg.MetricWebhookDuplicate, event.Type)
		return &IngestResult{Outcome: OutcomeDuplicate, EventID: eventID, PaymentID: paymentID, Reason: "already processed"}, nil
	case err != nil:
		log.Error("Ledger insert failed, reconciling without placeholder", zap.Error(err))
	}

	// Outcome recording must survive the provider hanging up.
	recordCtx := context.WithoutCancel(ctx)

	start := time.Now()
	result, err := s.reconcile(ctx, paymentID)
	s.latency(aws_pkg.MetricReconcileLatency, time.Since(start))
	if err != nil {
		log.Error("Reconciliation failed", zap.Error(err))
		s.count(aws_pkg.MetricPaymentReconcileFailed, event.Type)
		if uerr := s.ledger.Update(recordCtx, eventID, models.LedgerStatusFailed, "", err.Error()); uerr != nil {
			log.Error("Failed to mark ledger entry failed", zap.Error(uerr))
		}
		return &IngestResult{Outcome: OutcomeFailed, EventID: eventID, PaymentID: paymentID, Reason: "reconciliation failed"}, nil
	}

	processedAt := time.Now().UTC()
	snapshot, _ := json.Marshal(map[string]interface{}{
		"event_id":       eventID,
		"payment_id":     paymentID,
		"mapped_status":  result.MappedStatus,
		"user_id":        result.UserID,
		"transaction_id": result.TransactionID,
		"status_detail":  result.StatusDetail,
		"processed_at":   processedAt.Format(time.RFC3339Nano),
	})
	if uerr := s.ledger.Update(recordCtx, eventID, models.LedgerStatusSuccess, string(snapshot), ""); uerr != nil {
		log.Error("Failed to mark ledger entry success", zap.Error(uerr))
	}
	s.count(aws_pkg.MetricPaymentReconciled, event.Type)
	log.Info("Payment reconciled", zap.String("mapped_status", result.MappedStatus))

	s.publish(recordCtx, log, result, paymentID, models.SourceWebhook, processedAt)

	return &IngestResult{Outcome: OutcomeReconciled, EventID: eventID, PaymentID: paymentID, MappedStatus: result.MappedStatus}, nil
}

// reconcile bounds the call with the configured timeout and turns a panic
// or a negative answer into an error.
func (s *webhookServiceImpl) reconcile(ctx context.Context, paymentID string) (result *models.ReconcileResult, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReconcileTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("reconcile panicked: %v", r)
		}
	}()

	result, err = s.reconciler.Reconcile(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if result == nil || !result.Success {
		status := ""
		if result != nil {
			status = result.MappedStatus
		}
		return nil, fmt.Errorf("reconcile reported failure (mapped_status=%q)", status)
	}
	return result, nil
}

func (s *webhookServiceImpl) publish(ctx context.Context, log *zap.Logger, result *models.ReconcileResult, paymentID, source string, at time.Time) {
	if !s.events.Enabled() || result.UserID == "" {
		return
	}
	err := s.events.Publish(ctx, models.PaymentEvent{
		Type:          models.PaymentEventReconciled,
		PaymentID:     paymentID,
		UserID:        result.UserID,
		TransactionID: result.TransactionID,
		Status:        result.MappedStatus,
		Source:        source,
		Timestamp:     at,
	})
	if err != nil {
		log.Warn("Failed to publish payment event", zap.Error(err))
	}
}

func (s *webhookServiceImpl) count(metric, eventType string) {
	if !s.metrics.IsEnabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.metrics.RecordCount(ctx, metric, map[string]string{"EventType": eventType})
	}()
}

func (s *webhookServiceImpl) latency(metric string, d time.Duration) {
	if !s.metrics.IsEnabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.metrics.RecordLatency(ctx, metric, d, nil)
	}()
}
