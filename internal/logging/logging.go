package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ParseLevel parses debug, info, warn (or warning) and error,
// case-insensitively. The empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("logging: unknown level %q", s)
}

// Options configure Open.
type Options struct {
	Level      string
	BufferSize int
	// File, when set, receives JSON records with rotation.
	File      string
	MaxSizeMB int
	MaxFiles  int
	// Output receives JSON records when File is empty. May be nil.
	Output io.Writer
}

// Logger is a slog.Logger over a Handler, owning its output file.
type Logger struct {
	*slog.Logger
	Handler *Handler
	closer  io.Closer
}

// Open builds a Logger from opts.
func Open(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	out := opts.Output
	var closer io.Closer
	if opts.File != "" {
		w, err := NewRotatingFileWriter(opts.File, opts.MaxSizeMB, opts.MaxFiles)
		if err != nil {
			return nil, err
		}
		out, closer = w, w
	}
	h := NewHandler(HandlerOptions{Level: level, MaxEntries: opts.BufferSize, Output: out})
	return &Logger{Logger: slog.New(h), Handler: h, closer: closer}, nil
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
