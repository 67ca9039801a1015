// Package logging provides structured logging for GeoModel Core.
//
// It wraps log/slog so every component logs the same way: JSON in
// production, text when a human is watching a terminal next to the table.
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
//	logger := logging.New(cfg.Logging, "1.0.0")
//	client.SetLogger(logger.Component("udp-client"))
//
// Packages below internal/ accept a small Logger interface instead of this
// type, so *Logger satisfies them through the embedded *slog.Logger.
package logging
