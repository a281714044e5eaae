package aws

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
)

const (
	logBatchSize     = 100
	logFlushInterval = 5 * time.Second
	logRetentionDays = 30
)

type logsAPI interface {
	CreateLogGroup(ctx context.Context, in *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error)
	PutRetentionPolicy(ctx context.Context, in *cloudwatchlogs.PutRetentionPolicyInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutRetentionPolicyOutput, error)
	CreateLogStream(ctx context.Context, in *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutLogEvents(ctx context.Context, in *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
}

// CloudWatchLogsClient buffers log lines and ships them to a CloudWatch Logs
// stream in batches. It is a zapcore.WriteSyncer: Sync flushes the buffer.
type CloudWatchLogsClient struct {
	api     logsAPI
	group   string
	stream  string
	enabled bool
	now     func() time.Time

	mu      sync.Mutex
	pending []types.InputLogEvent

	stopOnce sync.Once
	stop     chan struct{}
}

// NewCloudWatchLogsClient is enabled by CLOUDWATCH_ENABLED=true. When
// enabled it creates the log group (CLOUDWATCH_LOG_GROUP) and a stream named
// after the service and start time, then flushes every few seconds.
func NewCloudWatchLogsClient(ctx context.Context, serviceName string) (*CloudWatchLogsClient, error) {
	cfg, err := LoadAWSConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	group := os.Getenv("CLOUDWATCH_LOG_GROUP")
	if group == "" {
		group = "/payment-sync/services"
	}

	c := newCloudWatchLogsClient(cloudwatchlogs.NewFromConfig(cfg), group,
		fmt.Sprintf("%s-%d", serviceName, time.Now().Unix()), os.Getenv("CLOUDWATCH_ENABLED") == "true")
	if !c.enabled {
		return c, nil
	}
	if err := c.setup(ctx); err != nil {
		return nil, err
	}
	go c.flushLoop(logFlushInterval)
	return c, nil
}

func newCloudWatchLogsClient(api logsAPI, group, stream string, enabled bool) *CloudWatchLogsClient {
	return &CloudWatchLogsClient{
		api:     api,
		group:   group,
		stream:  stream,
		enabled: enabled,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
}

func (c *CloudWatchLogsClient) setup(ctx context.Context) error {
	_, err := c.api.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{LogGroupName: aws.String(c.group)})
	var exists *types.ResourceAlreadyExistsException
	if err != nil && !errors.As(err, &exists) {
		return fmt.Errorf("failed to create log group: %w", err)
	}
	if _, err := c.api.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
		LogGroupName:    aws.String(c.group),
		RetentionInDays: aws.Int32(logRetentionDays),
	}); err != nil {
		return fmt.Errorf("failed to set retention policy: %w", err)
	}
	if _, err := c.api.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(c.group),
		LogStreamName: aws.String(c.stream),
	}); err != nil {
		return fmt.Errorf("failed to create log stream: %w", err)
	}
	return nil
}

func (c *CloudWatchLogsClient) IsEnabled() bool {
	return c != nil && c.enabled
}

// Write queues one log line. A full batch is flushed inline. Shipping
// failures are reported on stderr and never fail the write.
func (c *CloudWatchLogsClient) Write(p []byte) (int, error) {
	if !c.IsEnabled() {
		return len(p), nil
	}

	c.mu.Lock()
	c.pending = append(c.pending, types.InputLogEvent{
		Message:   aws.String(string(p)),
		Timestamp: aws.Int64(c.now().UnixMilli()),
	})
	full := len(c.pending) >= logBatchSize
	c.mu.Unlock()

	if full {
		c.report(c.Sync())
	}
	return len(p), nil
}

// Sync ships everything buffered so far.
func (c *CloudWatchLogsClient) Sync() error {
	if !c.IsEnabled() {
		return nil
	}
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.api.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  aws.String(c.group),
		LogStreamName: aws.String(c.stream),
		LogEvents:     batch,
	}); err != nil {
		return fmt.Errorf("failed to put %d log events: %w", len(batch), err)
	}
	return nil
}

// Close stops the background flusher and ships what is left.
func (c *CloudWatchLogsClient) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return c.Sync()
}

func (c *CloudWatchLogsClient) flushLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.report(c.Sync())
		}
	}
}

func (c *CloudWatchLogsClient) report(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "CloudWatch write error: %v\n", err)
	}
}
