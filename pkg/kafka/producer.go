package kafka

import (
	"context"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// messageWriter is the part of *kafkago.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Producer publishes raw payloads to kafka topics. It satisfies the same
// Publish contract as the SNS client so the webhook service can swap buses
// through configuration.
type Producer struct {
	writer messageWriter
	logger *zap.Logger
}

func NewProducer(brokers []string, logger *zap.Logger) *Producer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Balancer:               &kafkago.Hash{},
		AllowAutoTopicCreation: true,
	}
	logger.Info("Kafka producer initialized", zap.Strings("brokers", brokers))
	return &Producer{writer: w, logger: logger}
}

func newProducerWithWriter(w messageWriter, logger *zap.Logger) *Producer {
	return &Producer{writer: w, logger: logger}
}

// Publish writes message to topic. The message key is left empty; payment
// events for one payment are rare enough that partition ordering is not needed.
func (p *Producer) Publish(ctx context.Context, topic string, message []byte) error {
	if topic == "" {
		return fmt.Errorf("empty kafka topic")
	}
	if err := p.writer.WriteMessages(ctx, kafkago.Message{Topic: topic, Value: message}); err != nil {
		return fmt.Errorf("kafka publish failed for topic %s: %w", topic, err)
	}
	p.logger.Debug("Kafka message published", zap.String("topic", topic), zap.Int("bytes", len(message)))
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
