// Package version reports the polysome build version.
//
// Values are stamped at build time via -ldflags and fall back to the VCS
// settings recorded by the Go toolchain:
//
//	go build -ldflags "-X github.com/kbukum/polysome/version.Version=1.2.0" ./cmd/polysome
package version
