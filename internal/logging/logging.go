// Package logging builds the slog loggers used by the CLI.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// DebugEnv enables debug output when set to any non-empty value.
const DebugEnv = "EVMCL_DEBUG"

// New returns a text logger on w without time or level attributes. Debug
// records are kept when debug is set or EVMCL_DEBUG is non-empty.
func New(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug || os.Getenv(DebugEnv) != "" {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && (a.Key == slog.TimeKey || a.Key == slog.LevelKey) {
				return slog.Attr{}
			}
			return a
		},
	}))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
