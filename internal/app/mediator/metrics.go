package mediator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/cluster-mediator/internal/domain/cluster"
)

// ClusterChangeMetrics defines the metrics operations the mediator needs.
type ClusterChangeMetrics interface {
	// ObserveChangeQueueTime records how long a notification sat in the
	// pending tracker before the drain loop picked it up, measured from the
	// most recent notification of that kind.
	ObserveChangeQueueTime(ctx context.Context, kind cluster.ChangeKind, duration time.Duration)

	// ObserveChangeProcessingTime records how long a handler invocation took.
	ObserveChangeProcessingTime(ctx context.Context, kind cluster.ChangeKind, duration time.Duration)

	// IncChangesProcessed counts handler invocations that completed without error.
	IncChangesProcessed(ctx context.Context, kind cluster.ChangeKind)

	// IncProactiveChecks counts handler invocations forced by prolonged silence.
	IncProactiveChecks(ctx context.Context, kind cluster.ChangeKind)

	// IncHandlerErrors counts handler invocations that returned an error or panicked.
	IncHandlerErrors(ctx context.Context, kind cluster.ChangeKind)

	// IncDirectInvocations counts notifications processed synchronously on the
	// fallback path because the drain loop was not running.
	IncDirectInvocations(ctx context.Context, kind cluster.ChangeKind)
}

// clusterChangeMetrics implements ClusterChangeMetrics.
type clusterChangeMetrics struct {
	changeQueueTime      metric.Float64Histogram
	changeProcessingTime metric.Float64Histogram
	changesProcessed     metric.Int64Counter
	proactiveChecks      metric.Int64Counter
	handlerErrors        metric.Int64Counter
	directInvocations    metric.Int64Counter
}

const namespace = "cluster_mediator"

// NewClusterChangeMetrics creates a new cluster change metrics instance.
func NewClusterChangeMetrics(mp metric.MeterProvider) (*clusterChangeMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	c := new(clusterChangeMetrics)
	var err error

	if c.changeQueueTime, err = meter.Float64Histogram(
		"change_queue_duration_seconds",
		metric.WithDescription("Time between the latest notification of a change and the start of its processing"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if c.changeProcessingTime, err = meter.Float64Histogram(
		"change_processing_duration_seconds",
		metric.WithDescription("Time taken to process a cluster change"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if c.changesProcessed, err = meter.Int64Counter(
		"changes_processed_total",
		metric.WithDescription("Total number of cluster changes processed successfully"),
	); err != nil {
		return nil, err
	}

	if c.proactiveChecks, err = meter.Int64Counter(
		"proactive_checks_total",
		metric.WithDescription("Total number of proactive change checks forced by prolonged silence"),
	); err != nil {
		return nil, err
	}

	if c.handlerErrors, err = meter.Int64Counter(
		"handler_errors_total",
		metric.WithDescription("Total number of change handler invocations that failed"),
	); err != nil {
		return nil, err
	}

	if c.directInvocations, err = meter.Int64Counter(
		"direct_invocations_total",
		metric.WithDescription("Total number of changes processed synchronously because the drain loop was not running"),
	); err != nil {
		return nil, err
	}

	return c, nil
}

func kindAttr(kind cluster.ChangeKind) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("change_kind", string(kind)))
}

func (c *clusterChangeMetrics) ObserveChangeQueueTime(ctx context.Context, kind cluster.ChangeKind, duration time.Duration) {
	c.changeQueueTime.Record(ctx, duration.Seconds(), kindAttr(kind))
}

func (c *clusterChangeMetrics) ObserveChangeProcessingTime(ctx context.Context, kind cluster.ChangeKind, duration time.Duration) {
	c.changeProcessingTime.Record(ctx, duration.Seconds(), kindAttr(kind))
}

func (c *clusterChangeMetrics) IncChangesProcessed(ctx context.Context, kind cluster.ChangeKind) {
	c.changesProcessed.Add(ctx, 1, kindAttr(kind))
}

func (c *clusterChangeMetrics) IncProactiveChecks(ctx context.Context, kind cluster.ChangeKind) {
	c.proactiveChecks.Add(ctx, 1, kindAttr(kind))
}

func (c *clusterChangeMetrics) IncHandlerErrors(ctx context.Context, kind cluster.ChangeKind) {
	c.handlerErrors.Add(ctx, 1, kindAttr(kind))
}

func (c *clusterChangeMetrics) IncDirectInvocations(ctx context.Context, kind cluster.ChangeKind) {
	c.directInvocations.Add(ctx, 1, kindAttr(kind))
}
