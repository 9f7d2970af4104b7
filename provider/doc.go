// Package provider is the small generic framework the engine backends are
// built on: a named Provider, factory Registry, the RequestResponse
// interaction shape, and middleware composed with Chain.
//
// Opt-in lifecycle:
//   - Initializable: providers that need setup before the first request
//   - Closeable: providers that hold resources
//
// # Middleware
//
//	wrapped := provider.Chain(
//	    provider.WithLogging[In, Out](log),
//	    provider.WithMetrics[In, Out](metrics, "engine"),
//	    provider.WithTracing[In, Out](observability.SpanEngineInfer, "vllm"),
//	)(rawProvider)
package provider
