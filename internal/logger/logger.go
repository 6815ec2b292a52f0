// Package logger provides the process-wide structured logger used by every
// daemon component. Callers get per-subsystem context via Log.With(...)
// rather than ad-hoc fmt.Sprintf prefixes.
package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
)

var Log *slog.Logger

// Init initializes the global logger. level is one of debug/info/warn/error;
// logFile, if non-empty, additionally appends to that path.
func Init(level string, logFile string) error {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var writers []io.Writer
	writers = append(writers, os.Stdout)

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}

	multiWriter := io.MultiWriter(writers...)

	opts := &slog.HandlerOptions{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("15:04:05.000"))
			}
			return a
		},
	}

	// Plain text with source-line-free output to a real terminal; JSON when
	// piped (log aggregators, systemd journal capture) or writing to a file.
	var handler slog.Handler
	if logFile == "" && isatty.IsTerminal(os.Stdout.Fd()) {
		handler = slog.NewTextHandler(multiWriter, opts)
	} else {
		handler = slog.NewJSONHandler(multiWriter, opts)
	}

	Log = slog.New(handler)
	slog.SetDefault(Log)

	return nil
}

// With returns a logger scoped with the given key/value attrs, e.g.
// logger.With("port", "/dev/ttyUSB0").Info("opened")
func With(args ...any) *slog.Logger {
	return Log.With(args...)
}

func Debug(msg string, args ...any) { Log.Debug(msg, args...) }
func Info(msg string, args ...any)  { Log.Info(msg, args...) }
func Warn(msg string, args ...any)  { Log.Warn(msg, args...) }
func Error(msg string, args ...any) { Log.Error(msg, args...) }
