// Package observability provides OpenTelemetry tracing and metrics for
// workflow runs.
//
// Export is opt-in: with no OTLP endpoint configured, Setup leaves the otel
// no-op providers in place and every span and instrument is free.
//
//	tel, err := observability.Setup(ctx, env.Observability, log)
//	defer tel.Shutdown(ctx)
//
//	oc := observability.NewOperationContext(wf, runID, node.ID, node.Engine, tel.Metrics)
//	ctx, span := oc.StartSpanForOperation(ctx, observability.SpanNode)
//	defer oc.EndOperation(ctx, span, "succeeded", nil)
package observability
