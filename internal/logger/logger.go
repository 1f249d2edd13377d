// Package logger is sentinel's logging front: slog underneath, printf-style
// helpers on top so call sites stay one line. The active handler and level
// can be swapped at runtime for log-file redirection and config reloads.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var (
	level   slog.LevelVar
	current atomic.Pointer[slog.Logger]
)

func init() {
	level.Set(slog.LevelInfo)
	current.Store(build(os.Stdout))
}

func build(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &level}))
}

// SetOutput swaps the destination for all subsequent log lines, typically to
// a MultiWriter spanning stdout and the log file.
func SetOutput(w io.Writer) {
	current.Store(build(w))
}

// ParseLevel maps a config string onto a slog level. Unknown values fall
// back to info rather than erroring; logging must not block startup.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func SetLevel(s string) {
	level.Set(ParseLevel(s))
}

// Named returns a sub-logger tagged with a component attribute, for call
// sites that emit structured attrs instead of formatted lines.
func Named(component string) *slog.Logger {
	return current.Load().With("component", component)
}

func Debugf(format string, v ...any) {
	current.Load().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	current.Load().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	current.Load().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	current.Load().Error(fmt.Sprintf(format, v...))
}
