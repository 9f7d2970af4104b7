package observability

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/kbukum/polysome/logger"
)

// recordSpans installs an in-memory tracer provider for the duration of the test.
func recordSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return exporter
}

func TestConfigApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	if cfg.ServiceName != "polysome" {
		t.Errorf("expected ServiceName 'polysome', got %s", cfg.ServiceName)
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("expected SampleRate 1.0, got %f", cfg.SampleRate)
	}
	if cfg.MetricInterval != 15*time.Second {
		t.Errorf("expected 15s interval, got %v", cfg.MetricInterval)
	}
	if cfg.Enabled() {
		t.Error("expected export disabled without endpoint")
	}
}

func TestConfigDerivedConfigs(t *testing.T) {
	cfg := Config{ServiceName: "svc", Endpoint: "collector:4318", Insecure: true, SampleRate: 0.5, MetricInterval: time.Second}
	tc := cfg.TracerConfig()
	if tc.Endpoint != "collector:4318" || tc.SampleRate != 0.5 || !tc.Insecure {
		t.Errorf("unexpected tracer config %+v", tc)
	}
	mc := cfg.MeterConfig()
	if mc.Interval != time.Second || mc.ServiceName != "svc" {
		t.Errorf("unexpected meter config %+v", mc)
	}
}

func TestSetupDisabled(t *testing.T) {
	tel, err := Setup(context.Background(), Config{}, logger.NewNop())
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if tel.Metrics == nil {
		t.Fatal("expected metrics even when export is disabled")
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1.0, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{0.5, "TraceIDRatioBased{0.5}"},
	}
	for _, tc := range tests {
		if got := sampler(tc.rate).Description(); got != tc.want {
			t.Errorf("sampler(%v) = %s, want %s", tc.rate, got, tc.want)
		}
	}
}

func TestNewMetrics(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")
	metrics, err := NewMetrics(meter)
	if err != nil {
		t.Fatalf("unexpected error creating metrics: %v", err)
	}

	ctx := context.Background()
	metrics.RecordNode(ctx, "wf", "n1", "vllm", "succeeded", time.Second)
	metrics.RecordRecords(ctx, "n1", 10, 2)
	metrics.RecordShardStart(ctx)
	metrics.RecordShardEnd(ctx, "n1", 6, "ok", time.Second)
	metrics.RecordEngineLoad(ctx, "vllm", "ok")
	metrics.RecordError(ctx, "ENGINE_LOAD_ERROR", "parallel")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordNode(ctx, "wf", "n1", "vllm", "failed", time.Second)
	m.RecordRecords(ctx, "n1", 1, 1)
	m.RecordShardStart(ctx)
	m.RecordShardEnd(ctx, "n1", 0, "ok", 0)
	m.RecordEngineLoad(ctx, "vllm", "failed")
	m.RecordError(ctx, "DATA_ERROR", "data")
}

func TestOperationContextSpan(t *testing.T) {
	exporter := recordSpans(t)

	oc := NewOperationContext("wf", "run-1", "summarize", "vllm", nil)
	ctx, span := oc.StartSpanForOperation(context.Background(), SpanNode)
	if OperationContextFromContext(ctx) != oc {
		t.Fatal("expected operation context to be stored in ctx")
	}
	oc.EndOperation(ctx, span, "partial", fmt.Errorf("2 records failed"))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	got := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes {
		got[kv.Key] = kv.Value
	}
	if got[AttrNode].AsString() != "summarize" {
		t.Errorf("expected node attribute, got %v", got[AttrNode])
	}
	if got[AttrStatus].AsString() != "partial" {
		t.Errorf("expected status attribute, got %v", got[AttrStatus])
	}
	if got[AttrErrorMessage].AsString() != "2 records failed" {
		t.Errorf("expected error message attribute, got %v", got[AttrErrorMessage])
	}
	if len(spans[0].Events) == 0 {
		t.Error("expected recorded error event")
	}
}

func TestOperationContextFromContext_NotSet(t *testing.T) {
	if OperationContextFromContext(context.Background()) != nil {
		t.Error("expected nil when operation context not set")
	}
}

func TestOperationContext_Duration(t *testing.T) {
	oc := NewOperationContext("wf", "run", "n", "hf", nil)
	oc.StartTime = time.Now().Add(-50 * time.Millisecond)
	if d := oc.Duration(); d < 45*time.Millisecond {
		t.Errorf("expected duration around 50ms, got %v", d)
	}
}

func TestSetSpanAttribute(t *testing.T) {
	exporter := recordSpans(t)

	ctx, span := StartSpan(context.Background(), "test-attrs")
	SetSpanAttribute(ctx, AttrShard, 1)
	SetSpanAttribute(ctx, AttrEngine, "llama_cpp")
	SetSpanAttribute(ctx, "devices", []int{6, 7})
	// unsupported types are ignored
	SetSpanAttribute(ctx, "unsupported-key", struct{}{})
	SetSpanError(ctx, fmt.Errorf("boom"))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 || len(spans[0].Attributes) != 3 {
		t.Fatalf("expected one span with 3 attributes, got %+v", spans)
	}
}

func TestSetSpanAttributeNoSpan(t *testing.T) {
	ctx := context.Background()
	SetSpanAttribute(ctx, "key", "value")
	SetSpanError(ctx, fmt.Errorf("no span error"))
}
