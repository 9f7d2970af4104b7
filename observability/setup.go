package observability

import (
	"context"
	stderrors "errors"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/kbukum/polysome/logger"
)

// Telemetry owns the providers created for one process and the instruments
// recorded against them.
type Telemetry struct {
	Metrics *Metrics

	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Setup installs OTLP exporters when cfg.Enabled, otherwise leaves the no-op
// globals in place. The returned Telemetry is always usable.
func Setup(ctx context.Context, cfg Config, log *logger.Logger) (*Telemetry, error) {
	cfg.ApplyDefaults()
	t := &Telemetry{}
	if cfg.Enabled() {
		tp, err := InitTracer(ctx, cfg.TracerConfig())
		if err != nil {
			return nil, err
		}
		t.tp = tp
		mp, err := InitMeter(ctx, cfg.MeterConfig())
		if err != nil {
			_ = tp.Shutdown(ctx)
			return nil, err
		}
		t.mp = mp
		log.Info("telemetry export enabled", map[string]interface{}{
			"endpoint":    cfg.Endpoint,
			"sample_rate": cfg.SampleRate,
			"interval":    cfg.MetricInterval.String(),
		})
	}

	m, err := NewMetrics(Meter(cfg.ServiceName))
	if err != nil {
		_ = t.Shutdown(ctx)
		return nil, err
	}
	t.Metrics = m
	return t, nil
}

// Shutdown flushes and stops any providers created by Setup.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.tp != nil {
		errs = append(errs, t.tp.Shutdown(ctx))
	}
	if t.mp != nil {
		errs = append(errs, t.mp.Shutdown(ctx))
	}
	return stderrors.Join(errs...)
}
