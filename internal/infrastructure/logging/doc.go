// Package logging provides structured logging for Gray Motion.
//
// It wraps log/slog so every component logs with the same default fields
// (service, version) and the same level filtering.
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("motion").Info("control loop started", "tick", "20ms")
//
// The control loop logs transitions and failures, never individual ticks at
// info level.
package logging
