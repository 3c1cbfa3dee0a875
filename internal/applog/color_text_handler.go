package applog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// levelColor is the ANSI SGR escape for each slog level's badge, keyed by
// the level's own coarse bucketing rather than an exact match, so a custom
// level between two standard ones still picks up the nearest color instead
// of falling through to the default.
var levelColor = []struct {
	atOrAbove slog.Level
	code      string
}{
	{slog.LevelError, "\033[31m"},
	{slog.LevelWarn, "\033[33m"},
	{slog.LevelInfo, "\033[32m"},
	{slog.LevelDebug, "\033[36m"},
}

const ansiReset = "\033[0m"

func colorFor(level slog.Level) string {
	for _, entry := range levelColor {
		if level >= entry.atOrAbove {
			return entry.code
		}
	}
	return ansiReset
}

// ColorTextHandler wraps slog.TextHandler, adding ANSI color codes per
// level for interactive terminals, adapted from the teacher's
// internal/logger/color_text_handler.go.
type ColorTextHandler struct {
	*slog.TextHandler
	showTime bool
}

// NewColorTextHandler returns a ColorTextHandler writing to w.
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, showTime bool) *ColorTextHandler {
	return &ColorTextHandler{TextHandler: slog.NewTextHandler(w, opts), showTime: showTime}
}

func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	badge := fmt.Sprintf("%s%s%s  ", colorFor(r.Level), r.Level.String(), ansiReset)
	r.Message = badge + r.Message
	return h.TextHandler.Handle(ctx, r)
}

// fanoutHandler dispatches every record to two handlers (the rotating JSON
// file and, for foreground runs, the colored console), so pmcd's log is
// never tied to exactly one destination.
type fanoutHandler struct {
	a, b slog.Handler
}

func (f *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return f.a.Enabled(ctx, level) || f.b.Enabled(ctx, level)
}

func (f *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	if f.a.Enabled(ctx, r.Level) {
		if err := f.a.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	if f.b.Enabled(ctx, r.Level) {
		return f.b.Handle(ctx, r.Clone())
	}
	return nil
}

func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanoutHandler{a: f.a.WithAttrs(attrs), b: f.b.WithAttrs(attrs)}
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	return &fanoutHandler{a: f.a.WithGroup(name), b: f.b.WithGroup(name)}
}
