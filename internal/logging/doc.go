// Package logging assembles structured slog loggers and formatting helpers used
// across tollgate.
//
// It owns the console and JSON handlers, routes terminal output and the
// governance log file through one logger, and exposes context-aware helpers so
// governed calls tag every line with channel, operation, run ID and attempt.
// A no-op logger is provided for tests and wiring code that cannot fail.
package logging
