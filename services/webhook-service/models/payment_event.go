package models

import "time"

// ReconcileResult is what the reconciliation procedure reports back.
// UserID, TransactionID and StatusDetail are optional extras.
type ReconcileResult struct {
	Success       bool   `json:"success"`
	MappedStatus  string `json:"mapped_status"`
	UserID        string `json:"user_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	StatusDetail  string `json:"status_detail,omitempty"`
}

// PaymentEvent is published to the event bus after a webhook was reconciled.
type PaymentEvent struct {
	Type          string    `json:"type"`
	PaymentID     string    `json:"payment_id"`
	UserID        string    `json:"user_id"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Status        string    `json:"status"`
	Source        string    `json:"source"`
	Timestamp     time.Time `json:"timestamp"`
}

const (
	PaymentEventReconciled = "payment_reconciled"

	SourceWebhook    = "webhook"
	SourceManualSync = "manual_sync"
)
