// Package resilience provides retry and polling helpers.
//
// Retry re-runs an operation with exponential backoff; the data-parallel
// coordinator uses EngineLoadRetryConfig to retry a shard whose engine failed
// to load. PollUntil drives readiness probes against freshly launched
// inference servers.
//
//	err := resilience.RetryFunc(ctx, resilience.EngineLoadRetryConfig(1), func() error {
//	    return eng.Initialize(ctx)
//	})
package resilience
