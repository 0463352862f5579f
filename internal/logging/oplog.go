// Package logging holds the two keystore log streams: the operational slog
// logger (DSN resolution, connection management, failed commands) and the
// command audit log written by Logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var (
	opLogger atomic.Pointer[slog.Logger]
	logLevel = new(slog.LevelVar)
)

// Redacted replaces the value of credential attributes in operational records.
const Redacted = "***"

// sensitive lists attribute keys whose values never reach a log line. They
// match the DSN attributes drivers read credentials from.
var sensitive = map[string]bool{
	"password": true,
	"passwd":   true,
	"secret":   true,
}

func init() {
	logLevel.Set(slog.LevelInfo)
	opLogger.Store(slog.New(newHandler(os.Stderr, "text")))
}

// Op returns the operational logger. It is the diagnostic sink for DSN
// resolution, driver connection management and failed commands.
func Op() *slog.Logger {
	return opLogger.Load()
}

// Component returns the operational logger tagged with a component name.
func Component(name string) *slog.Logger {
	return opLogger.Load().With("component", name)
}

// OpWithTrace returns the operational logger with trace_id and span_id
// attributes, when known.
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

// InitStructured reconfigures the operational logger on stderr.
// format: "text" (default) or "json"
// level: "debug", "info", "warn", "error"
func InitStructured(format, level string) {
	InitStructuredTo(os.Stderr, format, level)
}

// InitStructuredTo is InitStructured with an explicit destination.
func InitStructuredTo(w io.Writer, format, level string) {
	SetLevelFromString(level)
	opLogger.Store(slog.New(newHandler(w, format)))
}

// Discard silences the operational logger. Tests use it to keep output clean.
func Discard() {
	opLogger.Store(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// SetLevel changes the level of the operational logger.
func SetLevel(level slog.Level) {
	logLevel.Set(level)
}

// SetLevelFromString sets the level by name. Unknown names keep the current
// level.
func SetLevelFromString(level string) {
	if l, ok := ParseLevel(level); ok {
		logLevel.Set(l)
	}
}

// ParseLevel maps debug, info, warn (or warning) and error, in any case, to a
// slog level.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

func newHandler(w io.Writer, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       logLevel,
		ReplaceAttr: redact,
	}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if sensitive[strings.ToLower(a.Key)] {
		return slog.String(a.Key, Redacted)
	}
	return a
}
