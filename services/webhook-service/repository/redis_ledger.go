package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yashrajoria/payment-sync/services/webhook-service/models"
)

const (
	redisLedgerPrefix      = "ledger:event:"
	redisLedgerIndexPrefix = "ledger:status:"
	redisUpdateRetries     = 3
)

// RedisLedger keeps each entry as a JSON string and a sorted set per status,
// scored by creation time.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLedger creates a ledger; ttl of zero keeps entries forever.
func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	return &RedisLedger{client: client, ttl: ttl}
}

func entryKey(eventID string) string { return redisLedgerPrefix + eventID }

func indexKey(status models.LedgerStatus) string { return redisLedgerIndexPrefix + string(status) }

func (r *RedisLedger) Get(ctx context.Context, eventID string) (*models.LedgerEntry, error) {
	raw, err := r.client.Get(ctx, entryKey(eventID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrLedgerEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var entry models.LedgerEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode ledger entry: %w", err)
	}
	return &entry, nil
}

func (r *RedisLedger) Insert(ctx context.Context, entry *models.LedgerEntry) error {
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = now
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode ledger entry: %w", err)
	}

	ok, err := r.client.SetNX(ctx, entryKey(entry.EventID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return ErrLedgerEntryExists
	}

	score := float64(entry.CreatedAt.UnixNano())
	if err := r.client.ZAdd(ctx, indexKey(entry.Status), redis.Z{Score: score, Member: entry.EventID}).Err(); err != nil {
		return fmt.Errorf("redis zadd: %w", err)
	}
	return nil
}

func (r *RedisLedger) Update(ctx context.Context, eventID string, status models.LedgerStatus, payloadJSON, processingError string) error {
	key := entryKey(eventID)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrLedgerEntryNotFound
		}
		if err != nil {
			return err
		}
		var entry models.LedgerEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return fmt.Errorf("decode ledger entry: %w", err)
		}

		previous := entry.Status
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
			return fmt.Errorf("encode ledger entry: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			if previous != status {
				pipe.ZRem(ctx, indexKey(previous), eventID)
			}
			pipe.ZAdd(ctx, indexKey(status), redis.Z{Score: float64(entry.CreatedAt.UnixNano()), Member: eventID})
			return nil
		})
		return err
	}

	for i := 0; i < redisUpdateRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis update %s: too much contention", eventID)
}

func (r *RedisLedger) ListByStatus(ctx context.Context, status models.LedgerStatus, limit int) ([]models.LedgerEntry, error) {
	limit = normalizeLimit(limit)
	ids, err := r.client.ZRevRange(ctx, indexKey(status), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrevrange: %w", err)
	}
	if len(ids) == 0 {
		return []models.LedgerEntry{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = entryKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	entries := make([]models.LedgerEntry, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			// expired between ZREVRANGE and MGET
			continue
		}
		var entry models.LedgerEntry
		if err := json.Unmarshal([]byte(s), &entry); err != nil {
			return nil, fmt.Errorf("decode ledger entry: %w", err)
		}
		if entry.Status == status {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}
