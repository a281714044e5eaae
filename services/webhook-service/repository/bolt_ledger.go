package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/yashrajoria/payment-sync/services/webhook-service/models"
)

const ledgerBucket = "webhook_ledger"

// BoltLedger is the embedded single-node ledger. Bolt serialises writers, so
// the existence check and put inside one Update transaction are atomic.
type BoltLedger struct {
	db *bolt.DB
}

// OpenBoltLedger opens (or creates) the database file and ensures the bucket.
func OpenBoltLedger(path string) (*BoltLedger, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(ledgerBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltLedger{db: db}, nil
}

func (s *BoltLedger) Close() error {
	return s.db.Close()
}

func (s *BoltLedger) Get(_ context.Context, eventID string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(ledgerBucket)).Get([]byte(eventID))
		if v == nil {
			return ErrLedgerEntryNotFound
		}
		return json.Unmarshal(v, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *BoltLedger) Insert(_ context.Context, entry *models.LedgerEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ledgerBucket))
		if b.Get([]byte(entry.EventID)) != nil {
			return ErrLedgerEntryExists
		}

		now := time.Now().UTC()
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}
		entry.UpdatedAt = now

		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put([]byte(entry.EventID), data)
	})
}

func (s *BoltLedger) Update(_ context.Context, eventID string, status models.LedgerStatus, payloadJSON, processingError string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ledgerBucket))
		v := b.Get([]byte(eventID))
		if v == nil {
			return ErrLedgerEntryNotFound
		}

		var entry models.LedgerEntry
		if err := json.Unmarshal(v, &entry); err != nil {
			return err
		}
		now := time.Now().UTC()
		entry.Status = status
		entry.ProcessingError = processingError
		entry.ProcessedAt = &now
		entry.UpdatedAt = now
		if payloadJSON != "" {
			entry.PayloadJSON = payloadJSON
		}

		data, err := json.Marshal(&entry)
		if err != nil {
			return err
		}
		return b.Put([]byte(eventID), data)
	})
}

func (s *BoltLedger) ListByStatus(_ context.Context, status models.LedgerStatus, limit int) ([]models.LedgerEntry, error) {
	limit = normalizeLimit(limit)
	needle := []byte(`"status":"` + string(status) + `"`)
	entries := []models.LedgerEntry{}

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ledgerBucket)).ForEach(func(_, v []byte) error {
			if !bytes.Contains(v, needle) {
				return nil
			}
			var entry models.LedgerEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if entry.Status == status {
				entries = append(entries, entry)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
