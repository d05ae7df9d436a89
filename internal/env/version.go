// Package env holds build-time metadata set via -ldflags, printed by
// cmd/main.go's startup banner.
package env

// Version, CommitHash and BuildTime are overridden at build time with
// -ldflags "-X github.com/oksana-fs/fatfuse/internal/env.Version=...".
var (
	Version    = "dev"
	CommitHash = "none"
	BuildTime  = "unknown"
)
