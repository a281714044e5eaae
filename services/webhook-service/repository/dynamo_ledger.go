package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/yashrajoria/payment-sync/services/webhook-service/models"
)

// dynamoAPI is the subset of *dynamodb.Client the ledger uses.
type dynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoLedger stores the ledger in a table with string hash key `event_id`.
type DynamoLedger struct {
	client dynamoAPI
	table  string
}

func NewDynamoLedger(client dynamoAPI, table string) *DynamoLedger {
	return &DynamoLedger{client: client, table: table}
}

type ddbLedgerEntry struct {
	EventID         string  `dynamodbav:"event_id"`
	EventType       string  `dynamodbav:"event_type"`
	PaymentID       string  `dynamodbav:"payment_id"`
	Status          string  `dynamodbav:"status"`
	PayloadJSON     string  `dynamodbav:"payload_json,omitempty"`
	ProcessingError string  `dynamodbav:"processing_error,omitempty"`
	ProcessedAt     *string `dynamodbav:"processed_at,omitempty"`
	CreatedAt       string  `dynamodbav:"created_at"`
	UpdatedAt       string  `dynamodbav:"updated_at"`
}

func toDDBEntry(e *models.LedgerEntry) ddbLedgerEntry {
	d := ddbLedgerEntry{
		EventID:         e.EventID,
		EventType:       e.EventType,
		PaymentID:       e.PaymentID,
		Status:          string(e.Status),
		PayloadJSON:     e.PayloadJSON,
		ProcessingError: e.ProcessingError,
		CreatedAt:       e.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:       e.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.ProcessedAt != nil {
		s := e.ProcessedAt.UTC().Format(time.RFC3339Nano)
		d.ProcessedAt = &s
	}
	return d
}

func (d ddbLedgerEntry) toModel() models.LedgerEntry {
	e := models.LedgerEntry{
		EventID:         d.EventID,
		EventType:       d.EventType,
		PaymentID:       d.PaymentID,
		Status:          models.LedgerStatus(d.Status),
		PayloadJSON:     d.PayloadJSON,
		ProcessingError: d.ProcessingError,
	}
	if t, err := time.Parse(time.RFC3339Nano, d.CreatedAt); err == nil {
		e.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, d.UpdatedAt); err == nil {
		e.UpdatedAt = t
	}
	if d.ProcessedAt != nil {
		if t, err := time.Parse(time.RFC3339Nano, *d.ProcessedAt); err == nil {
			e.ProcessedAt = &t
		}
	}
	return e
}

func (r *DynamoLedger) key(eventID string) (map[string]types.AttributeValue, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"event_id": eventID})
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	return key, nil
}

func (r *DynamoLedger) Get(ctx context.Context, eventID string) (*models.LedgerEntry, error) {
	key, err := r.key(eventID)
	if err != nil {
		return nil, err
	}
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb GetItem failed: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrLedgerEntryNotFound
	}
	var d ddbLedgerEntry
	if err := attributevalue.UnmarshalMap(out.Item, &d); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	entry := d.toModel()
	return &entry, nil
}

func (r *DynamoLedger) Insert(ctx context.Context, entry *models.LedgerEntry) error {
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = now
	}
	item, err := attributevalue.MarshalMap(toDDBEntry(entry))
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(event_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrLedgerEntryExists
		}
		return fmt.Errorf("dynamodb PutItem failed: %w", err)
	}
	return nil
}

func (r *DynamoLedger) Update(ctx context.Context, eventID string, status models.LedgerStatus, payloadJSON, processingError string) error {
	key, err := r.key(eventID)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	expr := "SET #s = :s, processing_error = :e, processed_at = :t, updated_at = :t"
	values := map[string]types.AttributeValue{
		":s": &types.AttributeValueMemberS{Value: string(status)},
		":e": &types.AttributeValueMemberS{Value: processingError},
		":t": &types.AttributeValueMemberS{Value: now},
	}
	if payloadJSON != "" {
		expr += ", payload_json = :p"
		values[":p"] = &types.AttributeValueMemberS{Value: payloadJSON}
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.table),
		Key:                       key,
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(event_id)"),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrLedgerEntryNotFound
		}
		return fmt.Errorf("dynamodb UpdateItem failed: %w", err)
	}
	return nil
}

// ListByStatus scans the table. The ledger is small and this is an admin path.
func (r *DynamoLedger) ListByStatus(ctx context.Context, status models.LedgerStatus, limit int) ([]models.LedgerEntry, error) {
	limit = normalizeLimit(limit)
	var (
		entries  []models.LedgerEntry
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                aws.String(r.table),
			FilterExpression:         aws.String("#s = :s"),
			ExpressionAttributeNames: map[string]string{"#s": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":s": &types.AttributeValueMemberS{Value: string(status)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamodb Scan failed: %w", err)
		}
		var page []ddbLedgerEntry
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal items: %w", err)
		}
		for _, d := range page {
			entries = append(entries, d.toModel())
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
