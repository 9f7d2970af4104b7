// Package errors provides the error taxonomy of the workflow engine.
// Every failure the engine reports is an *AppError carrying a machine-readable
// code, a retryable flag, and the context needed to reproduce it (node id,
// shard index, device, case id).
package errors
