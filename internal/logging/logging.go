// Package logging constructs the slog.Logger used across the client and
// hub binaries, in the same style as the teacher project's cmd/ binaries
// (colorized console output via tint, millisecond timestamps).
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// New builds a console logger. quiet drops everything below Error;
// verbose enables Debug; otherwise Info is the default level.
func New(quiet, verbose bool) *slog.Logger {
	var writer io.Writer = os.Stdout
	level := slog.LevelInfo
	switch {
	case quiet:
		writer = os.Stderr
		level = slog.LevelError
	case verbose:
		level = slog.LevelDebug
	}

	return slog.New(tint.NewHandler(writer, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly + ".000",
	}))
}
