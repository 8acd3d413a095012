package logging

import (
	"log/slog"
	"os"
)

// InitStructured reconfigures the memory manager's operational logger
// based on config-file/flag settings, so `ripmm serve --config` can
// choose at startup between human-readable and machine-parsed output.
// format: "text" (default) or "json" (Loki/ELK compatible)
// level: "debug", "info", "warn", "error"
func InitStructured(format, level string) {
	SetLevelFromString(level)

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	opLogger.Store(logger)
}

// OpWithTrace returns the operational logger annotated with a caller-supplied
// trace/span id, for correlating a low-mem handling episode or a GC pass with
// whatever interpreter-side request drove the allocation that triggered it.
// The memory manager never originates a trace itself; it only tags its own
// log lines with an id the caller already holds.
func OpWithTrace(traceID, spanID string) *slog.Logger {
	l := opLogger.Load()
	if traceID == "" {
		return l
	}
	args := []any{"trace_id", traceID}
	if spanID != "" {
		args = append(args, "span_id", spanID)
	}
	return l.With(args...)
}
