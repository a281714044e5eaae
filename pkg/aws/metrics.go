package aws

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

const (
	// HTTP metrics
	MetricHTTPRequests = "HTTPRequests"
	MetricHTTPErrors   = "HTTPErrors"
	MetricHTTPLatency  = "HTTPLatency"
	MetricHTTP4xx      = "HTTP4xxErrors"
	MetricHTTP5xx      = "HTTP5xxErrors"

	// Webhook and reconciliation metrics
	MetricWebhookReceived        = "WebhookReceived"
	MetricWebhookDuplicate       = "WebhookDuplicate"
	MetricWebhookIgnored         = "WebhookIgnored"
	MetricWebhookRejected        = "WebhookRejected"
	MetricPaymentReconciled      = "PaymentReconciled"
	MetricPaymentReconcileFailed = "PaymentReconcileFailed"
	MetricReconcileLatency       = "ReconcileLatency"
	MetricSQSMessages            = "SQSMessagesProcessed"
)

// PutMetricData accepts at most this many data points per call.
const maxDatumsPerCall = 1000

type putMetricAPI interface {
	PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Datum is one data point. Dimensions are sent in name order.
type Datum struct {
	Name       string
	Value      float64
	Unit       types.StandardUnit
	Dimensions map[string]string
}

// MetricsClient ships metrics to CloudWatch. A nil or disabled client is a
// no-op so callers never need to guard it.
type MetricsClient struct {
	api       putMetricAPI
	namespace string
	enabled   bool
	now       func() time.Time
}

// NewMetricsClient is enabled by CLOUDWATCH_ENABLED=true and publishes under
// CLOUDWATCH_NAMESPACE (default PaymentSync).
func NewMetricsClient(ctx context.Context) (*MetricsClient, error) {
	cfg, err := LoadAWSConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	namespace := os.Getenv("CLOUDWATCH_NAMESPACE")
	if namespace == "" {
		namespace = "PaymentSync"
	}
	return newMetricsClient(cloudwatch.NewFromConfig(cfg), namespace, os.Getenv("CLOUDWATCH_ENABLED") == "true"), nil
}

func newMetricsClient(api putMetricAPI, namespace string, enabled bool) *MetricsClient {
	return &MetricsClient{api: api, namespace: namespace, enabled: enabled, now: time.Now}
}

func (m *MetricsClient) IsEnabled() bool {
	return m != nil && m.enabled
}

// Put sends data points in as few calls as the API allows.
func (m *MetricsClient) Put(ctx context.Context, data ...Datum) error {
	if !m.IsEnabled() || len(data) == 0 {
		return nil
	}

	ts := aws.Time(m.now())
	for start := 0; start < len(data); start += maxDatumsPerCall {
		end := min(start+maxDatumsPerCall, len(data))
		batch := make([]types.MetricDatum, 0, end-start)
		for _, d := range data[start:end] {
			batch = append(batch, types.MetricDatum{
				MetricName: aws.String(d.Name),
				Value:      aws.Float64(d.Value),
				Unit:       d.Unit,
				Timestamp:  ts,
				Dimensions: sortedDimensions(d.Dimensions),
			})
		}
		if _, err := m.api.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(m.namespace),
			MetricData: batch,
		}); err != nil {
			return fmt.Errorf("failed to put %d metrics: %w", len(batch), err)
		}
	}
	return nil
}

// RecordCount adds 1 to a counter.
func (m *MetricsClient) RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error {
	return m.Put(ctx, Count(metricName, dimensions))
}

// RecordLatency records a duration in milliseconds.
func (m *MetricsClient) RecordLatency(ctx context.Context, metricName string, duration time.Duration, dimensions map[string]string) error {
	return m.Put(ctx, Latency(metricName, duration, dimensions))
}

func Count(name string, dimensions map[string]string) Datum {
	return Datum{Name: name, Value: 1, Unit: types.StandardUnitCount, Dimensions: dimensions}
}

func Latency(name string, d time.Duration, dimensions map[string]string) Datum {
	return Datum{Name: name, Value: float64(d.Milliseconds()), Unit: types.StandardUnitMilliseconds, Dimensions: dimensions}
}

func sortedDimensions(dimensions map[string]string) []types.Dimension {
	names := make([]string, 0, len(dimensions))
	for k := range dimensions {
		names = append(names, k)
	}
	sort.Strings(names)

	dims := make([]types.Dimension, 0, len(names))
	for _, k := range names {
		dims = append(dims, types.Dimension{Name: aws.String(k), Value: aws.String(dimensions[k])})
	}
	return dims
}
