// Package applog sets up the daemon's own structured logging: a colored
// text handler for interactive/TTY use and a JSON handler writing to a
// lumberjack-rotated file for the daemon's operational log, grounded on the
// teacher's internal/logger package.
//
// This rotation targets only pmcd's own diagnostic log
// (<config_dir>/pmcd.log); the engine's per-process captured stdout/stderr
// is never rotated here (spec Non-goals).
package applog

import (
	"io"
	"log/slog"
	"os"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how verbosely the daemon logs.
type Config struct {
	Path       string // rotating operational log file, e.g. <config_dir>/pmcd.log
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Level      slog.Level
	Console    bool // also emit colored text to stderr, for foreground/debug runs
}

const (
	defaultMaxSizeMB  = 10
	defaultMaxBackups = 3
	defaultMaxAgeDays = 7
)

// New builds the daemon's root logger. When Console is true, records at
// Level or above also go to a colored text handler on stderr; the file
// handler always receives every record at Level or above.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	rotator := &lj.Logger{
		Filename:   cfg.Path,
		MaxSize:    valOr(cfg.MaxSizeMB, defaultMaxSizeMB),
		MaxBackups: valOr(cfg.MaxBackups, defaultMaxBackups),
		MaxAge:     valOr(cfg.MaxAgeDays, defaultMaxAgeDays),
	}

	fileHandler := slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: cfg.Level})
	if !cfg.Console {
		return slog.New(fileHandler), rotator, nil
	}

	textHandler := NewColorTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level}, true)
	return slog.New(&fanoutHandler{a: fileHandler, b: textHandler}), rotator, nil
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
