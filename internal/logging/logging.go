// Package logging configures slog and logs oops errors with their context.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/samber/oops"
)

// Setup creates a configured slog.Logger.
// format is "json" or "text" (json when empty). If w is nil, writes to os.Stderr.
func Setup(service, format string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler).With("service", service)
}

// LogError logs err at error level. For oops errors the code and context are
// logged as separate attributes.
func LogError(logger *slog.Logger, msg string, err error, args ...any) {
	attrs := append([]any{"error", err.Error()}, args...)
	if oopsErr, ok := oops.AsOops(err); ok {
		if code := oopsErr.Code(); code != nil && code != "" {
			attrs = append(attrs, "code", code)
		}
		if ctx := oopsErr.Context(); len(ctx) > 0 {
			attrs = append(attrs, "context", ctx)
		}
	}
	logger.Error(msg, attrs...)
}
