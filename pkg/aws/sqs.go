package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

const (
	pollWaitSeconds   = 20
	visibilitySeconds = 30
	maxPollBackoff    = 30 * time.Second
)

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// MessageHandler processes one message body. Returning an error leaves the
// message on the queue so it becomes visible again after the visibility timeout.
type MessageHandler func(ctx context.Context, body string) error

// SQSConsumer long-polls a single queue and deletes what its handler accepts.
type SQSConsumer struct {
	api      sqsAPI
	queueURL string
	logger   *zap.Logger
	backoff  time.Duration
}

func NewSQSConsumer(cfg aws.Config, queueURL string, logger *zap.Logger) *SQSConsumer {
	return newSQSConsumer(sqs.NewFromConfig(cfg), queueURL, logger)
}

func newSQSConsumer(api sqsAPI, queueURL string, logger *zap.Logger) *SQSConsumer {
	return &SQSConsumer{api: api, queueURL: queueURL, logger: logger, backoff: time.Second}
}

// StartPolling runs until ctx is cancelled. Consecutive receive errors back
// off exponentially up to 30s; one successful receive resets the delay.
func (c *SQSConsumer) StartPolling(ctx context.Context, handler MessageHandler) error {
	log := c.logger.With(zap.String("queue_url", c.queueURL))
	log.Info("Starting SQS polling")

	delay := c.backoff
	for {
		_, err := c.pollOnce(ctx, handler)
		if ctx.Err() != nil {
			log.Info("SQS polling stopped")
			return ctx.Err()
		}
		if err == nil {
			delay = c.backoff
			continue
		}

		log.Warn("Error polling SQS", zap.Error(err), zap.Duration("retry_in", delay))
		select {
		case <-ctx.Done():
			log.Info("SQS polling stopped")
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxPollBackoff)
	}
}

// pollOnce returns how many messages were handled and deleted.
func (c *SQSConsumer) pollOnce(ctx context.Context, handler MessageHandler) (int, error) {
	out, err := c.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     pollWaitSeconds,
		VisibilityTimeout:   visibilitySeconds,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to receive messages: %w", err)
	}

	done := 0
	for _, msg := range out.Messages {
		if msg.Body == nil {
			continue
		}
		log := c.logger.With(zap.String("message_id", aws.ToString(msg.MessageId)))

		if err := handler(ctx, *msg.Body); err != nil {
			log.Warn("Failed to process SQS message", zap.Error(err))
			continue
		}
		if _, err := c.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(c.queueURL),
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			log.Warn("Failed to delete SQS message", zap.Error(err))
			continue
		}
		done++
	}
	return done, nil
}
