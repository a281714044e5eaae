package repository

import (
	"context"
	"errors"
	"time"

	"github.com/yashrajoria/payment-sync/services/webhook-service/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormLedger stores the ledger in a relational table.
type GormLedger struct {
	db *gorm.DB
}

func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

func (r *GormLedger) Get(ctx context.Context, eventID string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLedgerEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Insert relies on ON CONFLICT DO NOTHING against the primary key; zero rows
// affected means another delivery got there first.
func (r *GormLedger) Insert(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.PayloadJSON == "" {
		entry.PayloadJSON = "{}"
	}
	tx := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).
		Create(entry)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrLedgerEntryExists
	}
	return nil
}

func (r *GormLedger) Update(ctx context.Context, eventID string, status models.LedgerStatus, payloadJSON, processingError string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":           status,
		"processing_error": processingError,
		"processed_at":     &now,
		"updated_at":       now,
	}
	if payloadJSON != "" {
		updates["payload_json"] = payloadJSON
	}

	res := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).Where("event_id = ?", eventID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLedgerEntryNotFound
	}
	return nil
}

func (r *GormLedger) ListByStatus(ctx context.Context, status models.LedgerStatus, limit int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at DESC").
		Limit(normalizeLimit(limit)).
		Find(&entries).Error
	return entries, err
}
