package app

import (
	"io"
	"log/slog"
)

// NewLogger maps verbosity 0-3 onto slog: errors only, info, debug, and
// debug with source locations.
func NewLogger(w io.Writer, verbosity int) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelError}
	switch {
	case verbosity >= 3:
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	case verbosity == 2:
		opts.Level = slog.LevelDebug
	case verbosity == 1:
		opts.Level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
