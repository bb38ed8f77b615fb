package main

import (
	"log/slog"
	"os"
)

// configureLogging sets the process-wide default slog logger from the
// -v/-q/--json-logs flags, mirroring the teacher's CLI-flags-over-env-over-
// defaults priority for log level and format, before any engine component
// (which logs through slog.Default() unless overridden) is constructed.
func configureLogging(c *CLI) {
	level := slog.LevelInfo
	switch {
	case c.Verbose:
		level = slog.LevelDebug
	case c.Quiet:
		level = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if c.JSONLogs {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}
