package repository

import (
	"context"
	"errors"

	"github.com/yashrajoria/payment-sync/services/webhook-service/models"
)

var (
	ErrLedgerEntryNotFound = errors.New("ledger entry not found")
	ErrLedgerEntryExists   = errors.New("ledger entry already exists")
)

// Ledger is the durable idempotency record of processed webhook events.
// Insert must be atomic: of any number of concurrent inserts for one event ID
// exactly one succeeds, the others get ErrLedgerEntryExists.
type Ledger interface {
	Get(ctx context.Context, eventID string) (*models.LedgerEntry, error)
	Insert(ctx context.Context, entry *models.LedgerEntry) error
	Update(ctx context.Context, eventID string, status models.LedgerStatus, payloadJSON, processingError string) error
	ListByStatus(ctx context.Context, status models.LedgerStatus, limit int) ([]models.LedgerEntry, error)
}

const defaultListLimit = 100

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultListLimit
	}
	return limit
}
