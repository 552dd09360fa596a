// Package logger builds the structured logger the loaders share.
package logger

import (
	"io"
	"log/slog"

	"github.com/lmittmann/tint"
)

// New returns a tint-backed slog logger writing to w. Timestamps render in
// UTC with millisecond precision so lines from tunneled and local runs
// collate. verbose lowers the level to debug.
func New(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format("2006-01-02T15:04:05.000Z"))
			}
			return a
		},
	}))
}
