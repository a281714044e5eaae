package services

import (
	"context"
	"encoding/json"
	"fmt"

	aws_pkg "github.com/yashrajoria/payment-sync/pkg/aws"
	"github.com/yashrajoria/payment-sync/services/webhook-service/models"
)

// PaymentEventPublisher fans reconciled payments out to the event bus. The
// underlying publisher is either SNS (topic is an ARN) or kafka (topic is a
// topic name). A nil publisher drops events.
type PaymentEventPublisher struct {
	publisher aws_pkg.SNSPublisher
	topic     string
}

func NewPaymentEventPublisher(publisher aws_pkg.SNSPublisher, topic string) *PaymentEventPublisher {
	return &PaymentEventPublisher{publisher: publisher, topic: topic}
}

func (p *PaymentEventPublisher) Enabled() bool {
	return p != nil && p.publisher != nil
}

func (p *PaymentEventPublisher) Publish(ctx context.Context, event models.PaymentEvent) error {
	if !p.Enabled() {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal payment event: %w", err)
	}
	return p.publisher.Publish(ctx, p.topic, data)
}
