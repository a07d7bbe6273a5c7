// Package telemetry emits pipeline metrics to CloudWatch. Emission is
// best-effort: a metric publish failure is logged and never propagated into
// the sync path.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// SyncOutcome labels how one sync job ended.
type SyncOutcome string

const (
	OutcomeClosed   SyncOutcome = "closed"
	OutcomeRequeued SyncOutcome = "requeued"
	OutcomeFailed   SyncOutcome = "failed"
)

// Metrics is the pipeline's metric surface. Implementations must be safe for
// concurrent use.
type Metrics interface {
	// RecordSyncOutcome counts one finished sync job by outcome.
	RecordSyncOutcome(ctx context.Context, outcome SyncOutcome)
	// RecordSyncDuration records how long one sync job took.
	RecordSyncDuration(ctx context.Context, d time.Duration)
	// RecordDiscovered counts new incidents found by one discovery pass.
	RecordDiscovered(ctx context.Context, count int)
	// RecordQueueLag records the delay between a job's run_at and the moment
	// a worker picked it up.
	RecordQueueLag(ctx context.Context, queue string, lag time.Duration)
}

// CloudWatchClient abstracts the PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ Metrics = (*CloudWatchMetrics)(nil)

// CloudWatchMetrics publishes pipeline metrics to one CloudWatch namespace.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing to namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{client: client, namespace: namespace, logger: logger}
}

func (m *CloudWatchMetrics) RecordSyncOutcome(ctx context.Context, outcome SyncOutcome) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String("IncidentSync"),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String("Outcome"), Value: aws.String(string(outcome))},
		},
	})
}

func (m *CloudWatchMetrics) RecordSyncDuration(ctx context.Context, d time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String("IncidentSyncDuration"),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
	})
}

func (m *CloudWatchMetrics) RecordDiscovered(ctx context.Context, count int) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String("IncidentsDiscovered"),
		Value:      aws.Float64(float64(count)),
		Unit:       cwtypes.StandardUnitCount,
	})
}

func (m *CloudWatchMetrics) RecordQueueLag(ctx context.Context, queue string, lag time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String("QueueLag"),
		Value:      aws.Float64(float64(lag.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String("Queue"), Value: aws.String(queue)},
		},
	})
}

func (m *CloudWatchMetrics) put(ctx context.Context, datum cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish metric",
			"metric", aws.ToString(datum.MetricName),
			"error", err,
		)
	}
}

// NoopMetrics discards every metric. Used when CloudWatch publishing is
// disabled and in tests.
type NoopMetrics struct{}

var _ Metrics = NoopMetrics{}

func (NoopMetrics) RecordSyncOutcome(context.Context, SyncOutcome)        {}
func (NoopMetrics) RecordSyncDuration(context.Context, time.Duration)     {}
func (NoopMetrics) RecordDiscovered(context.Context, int)                 {}
func (NoopMetrics) RecordQueueLag(context.Context, string, time.Duration) {}
