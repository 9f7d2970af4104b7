package provider

import (
	"context"

	"github.com/kbukum/polysome/errors"
	"github.com/kbukum/polysome/observability"
)

// WithMetrics returns a Middleware that counts failed Execute calls by error
// code. A nil metrics value records nothing.
func WithMetrics[I, O any](metrics *observability.Metrics, component string) Middleware[I, O] {
	return func(inner RequestResponse[I, O]) RequestResponse[I, O] {
		return &metricsRR[I, O]{inner: inner, metrics: metrics, component: component}
	}
}

type metricsRR[I, O any] struct {
	inner     RequestResponse[I, O]
	metrics   *observability.Metrics
	component string
}

func (m *metricsRR[I, O]) Name() string                         { return m.inner.Name() }
func (m *metricsRR[I, O]) IsAvailable(ctx context.Context) bool { return m.inner.IsAvailable(ctx) }

func (m *metricsRR[I, O]) Execute(ctx context.Context, input I) (O, error) {
	output, err := m.inner.Execute(ctx, input)
	if err != nil {
		code := string(errors.ErrCodeInference)
		if appErr, ok := errors.AsAppError(err); ok {
			code = string(appErr.Code)
		}
		m.metrics.RecordError(ctx, code, m.component)
	}
	return output, err
}
