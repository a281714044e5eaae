package aws

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// SNSPublisher publishes a raw payload to a named destination. The kafka
// producer in pkg/kafka satisfies it too.
type SNSPublisher interface {
	Publish(ctx context.Context, topic string, message []byte) error
}

type snsAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// FIFO topics get every message in one group, deduplicated by content hash.
const fifoGroupID = "payment-events"

var ErrEmptyTopic = errors.New("empty topic arn")

type SNSClient struct {
	api snsAPI
}

func NewSNSClient(cfg sdkaws.Config) *SNSClient {
	return &SNSClient{api: sns.NewFromConfig(cfg)}
}

func (s *SNSClient) Publish(ctx context.Context, topicArn string, message []byte) error {
	if topicArn == "" {
		return ErrEmptyTopic
	}

	in := &sns.PublishInput{
		TopicArn: sdkaws.String(topicArn),
		Message:  sdkaws.String(string(message)),
	}
	if strings.HasSuffix(topicArn, ".fifo") {
		sum := sha256.Sum256(message)
		in.MessageGroupId = sdkaws.String(fifoGroupID)
		in.MessageDeduplicationId = sdkaws.String(hex.EncodeToString(sum[:]))
	}

	if _, err := s.api.Publish(ctx, in); err != nil {
		return fmt.Errorf("sns publish failed for topic %s: %w", topicArn, err)
	}
	return nil
}
