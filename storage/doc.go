// Package storage abstracts where run artifacts live.
//
// The local backend writes atomically (temp file plus rename) and is what
// output files are written through. An optional second backend, selected by
// Config.Provider, mirrors finished outputs and the run log off the host.
//
// # Backends
//
//   - storage/local: local filesystem
//   - storage/s3: Amazon S3 and S3-compatible storage
//
// # Configuration
//
//	artifacts:
//	  provider: "s3"
//	  bucket: "runs"
//	  prefix: "polysome"
package storage
