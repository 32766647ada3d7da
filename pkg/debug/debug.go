// Package debug provides category-based debug logging for omnigate.
//
// Two orthogonal controls:
//   - Categories (WHAT to debug): controlled via OMNIGATE_DEBUG env or config
//   - Levels (HOW MUCH detail): controlled via OMNIGATE_LOG_LEVEL env or config
//
// Usage:
//
//	debug.Log(debug.Dispatch, "stage", "stage", "invoke", "target", target)
//	debug.Payload(debug.Codec, "decoding", body, "protocol", "soap")
//	if debug.Enabled(debug.Codec) { /* expensive formatting */ }
//
// Levels: ERROR, WARN, INFO, DEBUG, TRACE.
package debug

import (
	"context"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
)

// Debug categories.
const (
	Dispatch  = "dispatch"
	Session   = "session"
	Codec     = "codec"
	Transport = "transport"
	Auth      = "auth"
	NATS      = "nats"
	Storage   = "storage"
	Config    = "config"
	All       = "all"
)

// LevelTrace is below slog.LevelDebug for maximum verbosity.
// At TRACE, raw wire payloads are logged.
const LevelTrace = slog.LevelDebug - 4

// categories holds the set of enabled debug categories.
// Access is read-only after Init(), so no synchronization needed.
var categories map[string]bool

func init() {
	categories = parseCategories(os.Getenv("OMNIGATE_DEBUG"))
}

// Init configures the debug system and installs the default slog logger.
// OMNIGATE_DEBUG, OMNIGATE_LOG_LEVEL and OMNIGATE_LOG_FORMAT override the
// configured values. Format is "text" (default) or "json".
func Init(configCategories, configLevel, configFormat string) {
	categories = parseCategories(envOr("OMNIGATE_DEBUG", configCategories))
	slog.SetDefault(NewLogger(os.Stderr, envOr("OMNIGATE_LOG_LEVEL", configLevel), envOr("OMNIGATE_LOG_FORMAT", configFormat)))
}

// NewLogger builds a slog logger writing to w at the given level.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level), ReplaceAttr: levelNames}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// levelNames prints LevelTrace as "TRACE" instead of "DEBUG-4".
func levelNames(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if l, ok := a.Value.Any().(slog.Level); ok && l <= LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Enabled reports whether debug output is active for the given category.
func Enabled(category string) bool {
	return categories[All] || categories[category]
}

// Log emits a debug message for the given category.
// If the category is not enabled, this is a no-op.
func Log(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// payloadPreview is how much of a wire payload Payload logs below TRACE.
const payloadPreview = 256

// Payload logs a wire payload for the given category. At DEBUG the
// payload is cut to a short preview; at TRACE it is logged in full.
func Payload(category, msg string, data []byte, args ...any) {
	if !Enabled(category) {
		return
	}
	ctx := context.Background()
	level := slog.LevelDebug
	text := string(data)
	if slog.Default().Enabled(ctx, LevelTrace) {
		level = LevelTrace
	} else {
		text = Truncate(text, payloadPreview)
	}
	args = append([]any{"debug", category, "bytes", len(data), "payload", text}, args...)
	slog.Log(ctx, level, msg, args...)
}

// ParseLevel converts a level string to a slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "INFO", "":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Categories returns the enabled categories in sorted order.
func Categories() []string {
	result := make([]string, 0, len(categories))
	for k := range categories {
		result = append(result, k)
	}
	slices.Sort(result)
	return result
}

// Truncate returns s truncated to maxLen characters, with "..." appended if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	for _, cat := range strings.Split(s, ",") {
		cat = strings.TrimSpace(strings.ToLower(cat))
		if cat != "" {
			m[cat] = true
		}
	}
	return m
}
