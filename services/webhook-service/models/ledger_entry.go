package models

import "time"

// LedgerStatus is the processing state of one webhook event.
type LedgerStatus string

const (
	LedgerStatusProcessing LedgerStatus = "processing"
	LedgerStatusSuccess    LedgerStatus = "success"
	LedgerStatusFailed     LedgerStatus = "failed"
)

// LedgerEntry is one row of the idempotency ledger, keyed by EventID.
type LedgerEntry struct {
	EventID         string       `gorm:"primaryKey;type:varchar(191)" json:"event_id"`
	EventType       string       `gorm:"type:varchar(50);not null" json:"event_type"`
	PaymentID       string       `gorm:"type:varchar(64);not null;index" json:"payment_id"`
	Status          LedgerStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	PayloadJSON     string       `gorm:"type:jsonb" json:"payload_json,omitempty"`
	ProcessingError string       `gorm:"type:text" json:"processing_error,omitempty"`
	ProcessedAt     *time.Time   `json:"processed_at,omitempty"`
	CreatedAt       time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (LedgerEntry) TableName() string { return "webhook_ledger" }

// IsTerminal reports whether the entry reached success or failed.
func (e *LedgerEntry) IsTerminal() bool {
	return e.Status == LedgerStatusSuccess || e.Status == LedgerStatusFailed
}
