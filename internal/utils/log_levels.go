package utils

import (
	"context"
	"log/slog"
	"strings"
)

// Extra severities around the slog defaults.
const (
	LevelTrace    = slog.Level(-8)
	LevelCritical = slog.Level(12)
)

// Trace logs at LevelTrace on the default logger.
func Trace(msg string, args ...any) {
	slog.Default().Log(context.Background(), LevelTrace, msg, args...)
}

// Critical logs at LevelCritical on the default logger.
func Critical(msg string, args ...any) {
	slog.Default().Log(context.Background(), LevelCritical, msg, args...)
}

// ParseLevel maps a level name to a slog level. Unknown names fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "critical", "crit":
		return LevelCritical
	default:
		return slog.LevelInfo
	}
}

// LevelName renders the extra levels by name instead of "DEBUG-4" / "ERROR+4".
func LevelName(l slog.Level) string {
	switch {
	case l <= LevelTrace:
		return "TRACE"
	case l >= LevelCritical:
		return "CRIT"
	default:
		return l.String()
	}
}

// ReplaceLevelAttr is a slog ReplaceAttr hook that applies LevelName.
func ReplaceLevelAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey && len(groups) == 0 {
		if lvl, ok := a.Value.Any().(slog.Level); ok {
			a.Value = slog.StringValue(LevelName(lvl))
		}
	}
	return a
}
