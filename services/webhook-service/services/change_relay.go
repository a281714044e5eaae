package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	aws_pkg "github.com/yashrajoria/payment-sync/pkg/aws"
	"github.com/yashrajoria/payment-sync/services/common/changefeed"
	"go.uber.org/zap"
)

// ChangePublisher is the redis publish call the relay needs.
type ChangePublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// ChangeRelay moves transaction row changes from the CDC queue onto the
// per-user redis channels the wallet clients subscribe to.
type ChangeRelay struct {
	consumer  *aws_pkg.SQSConsumer
	publisher ChangePublisher
	metrics   *aws_pkg.MetricsClient
	logger    *zap.Logger
}

func NewChangeRelay(consumer *aws_pkg.SQSConsumer, publisher ChangePublisher, metrics *aws_pkg.MetricsClient, logger *zap.Logger) *ChangeRelay {
	return &ChangeRelay{consumer: consumer, publisher: publisher, metrics: metrics, logger: logger}
}

// Start blocks polling the queue until ctx is cancelled.
func (r *ChangeRelay) Start(ctx context.Context) error {
	r.logger.Info("Starting change relay")
	return r.consumer.StartPolling(ctx, r.HandleMessage)
}

// snsEnvelope is the wrapper SNS puts around messages delivered to SQS
// without raw message delivery.
type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// HandleMessage relays one queue message. Undecodable messages are dropped
// (nil error, so the consumer deletes them); publish failures are returned
// so the message is redelivered.
func (r *ChangeRelay) HandleMessage(ctx context.Context, body string) error {
	payload := []byte(body)

	var env snsEnvelope
	if err := json.Unmarshal(payload, &env); err == nil && env.Type == "Notification" && env.Message != "" {
		payload = []byte(env.Message)
	}

	change, err := changefeed.Decode(payload)
	if err != nil {
		r.logger.Warn("Dropping undecodable change message", zap.Error(err))
		return nil
	}
	userID := change.OwnerUserID()
	if userID == "" {
		r.logger.Warn("Dropping change without user_id", zap.String("event_type", change.EventType))
		return nil
	}

	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	channel := changefeed.Channel(userID)
	if err := r.publisher.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}

	r.logger.Debug("Change relayed", zap.String("channel", channel), zap.String("event_type", change.EventType))
	if r.metrics.IsEnabled() {
		go func() {
			mctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = r.metrics.RecordCount(mctx, aws_pkg.MetricSQSMessages, map[string]string{"Queue": "changes"})
		}()
	}
	return nil
}
