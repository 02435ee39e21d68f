package extension

import (
	"context"
	"log/slog"
)

// consolePrinter routes the script console into the bindings' logger.
type consolePrinter struct {
	logger *slog.Logger
}

func (p consolePrinter) print(level slog.Level, s string) {
	p.logger.LogAttrs(context.Background(), level, s, slog.String("source", "script"))
}

func (p consolePrinter) Log(s string)   { p.print(slog.LevelInfo, s) }
func (p consolePrinter) Warn(s string)  { p.print(slog.LevelWarn, s) }
func (p consolePrinter) Error(s string) { p.print(slog.LevelError, s) }
