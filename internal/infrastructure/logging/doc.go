// Package logging provides structured logging for vdba.
//
// This package wraps Go's standard log/slog package. Every entry carries
// the service and version fields, and the Logger type satisfies
// vdba.Logger.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	registry.SetLogger(logger.With("component", "vdba"))
//
// # Security
//
// Never log DSNs, tokens or passwords. Connection configs are logged by
// driver and mode only.
package logging
