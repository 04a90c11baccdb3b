// Package logging provides structured logging for mqttsession.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the session layer, the MQTT
// engine and the command-line tool.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for plain terminals and log files
//   - Console output with coloured levels for interactive use
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"       # debug, info, warn, error
//	  format: "console"   # json, text, console
//	  output: "stderr"    # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("MQTT connected", "broker", "localhost:1883")
//	logger.Error("publish failed", "topic", topic, "error", err)
//
// *Logger satisfies session.Logger and the mqtt engine's Logger, so it
// can be passed to both directly.
//
// # Security
//
// Never log passwords or tokens. The session logs topics and client IDs,
// not credentials.
package logging
