package logging

import (
	"io"
	"log/slog"

	"github.com/google/uuid"
)

// LevelTrace carries per-item detail, shown at the highest verbosity
const LevelTrace = slog.LevelDebug - 4

// LevelFor maps the -v/-vv verbosity count to a slog level
func LevelFor(verbosity int) slog.Level {
	switch {
	case verbosity >= 2:
		return LevelTrace
	case verbosity == 1:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// New builds the run logger. format is "json" (default) or "text".
// Every record carries a run_id so interleaved runs can be told apart.
func New(w io.Writer, format string, verbosity int) (*slog.Logger, string) {
	opts := &slog.HandlerOptions{
		Level: LevelFor(verbosity),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if level, ok := a.Value.Any().(slog.Level); ok && level == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	runID := uuid.NewString()
	return slog.New(handler).With("run_id", runID), runID
}
