package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	ServiceName    string
	ServiceVersion string
	// Endpoint is the OTLP HTTP endpoint host:port.
	Endpoint string
	Insecure bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// InitMeter initializes the OpenTelemetry meter provider and installs it globally.
// Returns a MeterProvider that should be shut down on exit.
func InitMeter(ctx context.Context, config MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)
	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Metrics holds the instruments recorded during a workflow run. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	nodeTotal      metric.Int64Counter
	nodeDuration   metric.Float64Histogram
	recordsOK      metric.Int64Counter
	recordsFailed  metric.Int64Counter
	shardDuration  metric.Float64Histogram
	engineLoads    metric.Int64Counter
	errorTotal     metric.Int64Counter
	inflightShards metric.Int64UpDownCounter
}

// NewMetrics creates metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	nodeTotal, err := meter.Int64Counter("polysome.node.total",
		metric.WithDescription("Nodes executed by final status"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating polysome.node.total counter: %w", err)
	}

	nodeDuration, err := meter.Float64Histogram("polysome.node.duration",
		metric.WithDescription("Node execution time"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating polysome.node.duration histogram: %w", err)
	}

	recordsOK, err := meter.Int64Counter("polysome.records.processed",
		metric.WithDescription("Records answered successfully"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating polysome.records.processed counter: %w", err)
	}

	recordsFailed, err := meter.Int64Counter("polysome.records.failed",
		metric.WithDescription("Records carrying an error marker"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating polysome.records.failed counter: %w", err)
	}

	shardDuration, err := meter.Float64Histogram("polysome.shard.duration",
		metric.WithDescription("Data-parallel shard execution time"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating polysome.shard.duration histogram: %w", err)
	}

	engineLoads, err := meter.Int64Counter("polysome.engine.loads",
		metric.WithDescription("Engine initialization attempts by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating polysome.engine.loads counter: %w", err)
	}

	errorTotal, err := meter.Int64Counter("polysome.error.total",
		metric.WithDescription("Errors by code and component"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating polysome.error.total counter: %w", err)
	}

	inflightShards, err := meter.Int64UpDownCounter("polysome.shard.active",
		metric.WithDescription("Shards currently executing"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating polysome.shard.active gauge: %w", err)
	}

	return &Metrics{
		nodeTotal:      nodeTotal,
		nodeDuration:   nodeDuration,
		recordsOK:      recordsOK,
		recordsFailed:  recordsFailed,
		shardDuration:  shardDuration,
		engineLoads:    engineLoads,
		errorTotal:     errorTotal,
		inflightShards: inflightShards,
	}, nil
}

// RecordNode records a finished node.
func (m *Metrics) RecordNode(ctx context.Context, workflow, node, engine, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.nodeTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow", workflow),
		attribute.String("node", node),
		attribute.String("engine", engine),
		attribute.String("status", status),
	))
	m.nodeDuration.Record(ctx, float64(duration.Microseconds())/1000, metric.WithAttributes(
		attribute.String("node", node),
		attribute.String("engine", engine),
	))
}

// RecordRecords counts records produced by a node.
func (m *Metrics) RecordRecords(ctx context.Context, node string, ok, failed int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("node", node))
	if ok > 0 {
		m.recordsOK.Add(ctx, int64(ok), attrs)
	}
	if failed > 0 {
		m.recordsFailed.Add(ctx, int64(failed), attrs)
	}
}

// RecordShardStart increments the active shard count.
func (m *Metrics) RecordShardStart(ctx context.Context) {
	if m == nil {
		return
	}
	m.inflightShards.Add(ctx, 1)
}

// RecordShardEnd decrements active shards and records the shard duration.
func (m *Metrics) RecordShardEnd(ctx context.Context, node string, device int, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.inflightShards.Add(ctx, -1)
	m.shardDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("node", node),
		attribute.Int("device", device),
		attribute.String("status", status),
	))
}

// RecordEngineLoad records an engine initialization attempt.
func (m *Metrics) RecordEngineLoad(ctx context.Context, engine, status string) {
	if m == nil {
		return
	}
	m.engineLoads.Add(ctx, 1, metric.WithAttributes(
		attribute.String("engine", engine),
		attribute.String("status", status),
	))
}

// RecordError records an error by code and component.
func (m *Metrics) RecordError(ctx context.Context, code, component string) {
	if m == nil {
		return
	}
	m.errorTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("code", code),
		attribute.String("component", component),
	))
}
