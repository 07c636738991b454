// Package logger provides the kernel's leveled structured logger.
//
// It wraps log/slog with a fifth severity (TRACE, below slog's Debug)
// matching the severities the core subsystems distinguish: per-call
// tracing of the block cache and scheduler hot paths, routine DEBUG
// bookkeeping, operator-facing INFO/WARNING, and ERROR immediately
// preceding an invariant-violation panic.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity level names accepted by SetLevel and the --logging.severity flag.
const (
	TRACE   = "TRACE"
	DEBUG   = "DEBUG"
	INFO    = "INFO"
	WARNING = "WARNING"
	ERROR   = "ERROR"
	OFF     = "OFF"
)

// Custom slog levels. slog.LevelDebug/Info/Warn/Error are -4/0/4/8; TRACE
// sits below Debug and OFF sits above Error so it never fires.
const (
	LevelTrace slog.Level = -8
	LevelDebug            = slog.LevelDebug
	LevelInfo             = slog.LevelInfo
	LevelWarn             = slog.LevelWarn
	LevelError            = slog.LevelError
	LevelOff   slog.Level = 12
)

var severityNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARNING",
	LevelError: "ERROR",
}

type loggerFactory struct {
	format string // "text" or "json"
	level  *slog.LevelVar
}

func (f *loggerFactory) replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level := a.Value.Any().(slog.Level)
		if name, ok := severityNames[level]; ok {
			a.Value = slog.StringValue(name)
		}
		a.Key = "severity"
		return a
	}
	if a.Key == slog.MessageKey {
		a.Key = "message"
	}
	if a.Key == slog.TimeKey && f.format == "text" {
		a.Key = "time"
	}
	return a
}

func (f *loggerFactory) createHandler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       f.level,
		ReplaceAttr: f.replaceAttr,
	}
	if f.format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

var (
	defaultLoggerFactory = &loggerFactory{format: "json", level: new(slog.LevelVar)}
	defaultLogger        = slog.New(defaultLoggerFactory.createHandler(os.Stderr))
)

// InitOptions configures the process-wide kernel logger.
type InitOptions struct {
	// "text" or "json".
	Format string
	// One of TRACE, DEBUG, INFO, WARNING, ERROR, OFF.
	Severity string
	// If non-empty, logs rotate through this file via lumberjack instead of
	// going to stderr.
	LogFile    string
	MaxSizeMB  int
	MaxBackups int
}

// Init reconfigures the default logger. Safe to call once at boot.
func Init(o InitOptions) {
	format := o.Format
	if format == "" {
		format = "json"
	}

	var w io.Writer = os.Stderr
	if o.LogFile != "" {
		w = &lumberjack.Logger{
			Filename:   o.LogFile,
			MaxSize:    maxOr(o.MaxSizeMB, 100),
			MaxBackups: o.MaxBackups,
			Compress:   true,
		}
	}

	level := new(slog.LevelVar)
	SetLevel(level, o.Severity)

	defaultLoggerFactory = &loggerFactory{format: format, level: level}
	defaultLogger = slog.New(defaultLoggerFactory.createHandler(w))
}

func maxOr(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}

// SetLevel maps a named severity onto an slog.LevelVar.
func SetLevel(lv *slog.LevelVar, severity string) {
	switch severity {
	case TRACE:
		lv.Set(LevelTrace)
	case DEBUG:
		lv.Set(LevelDebug)
	case INFO:
		lv.Set(LevelInfo)
	case WARNING:
		lv.Set(LevelWarn)
	case ERROR:
		lv.Set(LevelError)
	case OFF, "":
		lv.Set(LevelOff)
	default:
		lv.Set(LevelInfo)
	}
}

func logf(level slog.Level, format string, v ...any) {
	if !defaultLogger.Enabled(context.Background(), level) {
		return
	}
	defaultLogger.Log(context.Background(), level, sprintfOrPass(format, v...))
}

func sprintfOrPass(format string, v ...any) string {
	if len(v) == 0 {
		return format
	}
	return fmt.Sprintf(format, v...)
}

func Tracef(format string, v ...any) { logf(LevelTrace, format, v...) }
func Debugf(format string, v ...any) { logf(LevelDebug, format, v...) }
func Infof(format string, v ...any)  { logf(LevelInfo, format, v...) }
func Warnf(format string, v ...any)  { logf(LevelWarn, format, v...) }
func Errorf(format string, v ...any) { logf(LevelError, format, v...) }

// Fatalf logs at ERROR and then panics, so the last line before the
// crash is captured in the structured log. The kernel's own
// invariant-violation panics call panic directly, not Fatalf.
func Fatalf(format string, v ...any) {
	msg := sprintfOrPass(format, v...)
	logf(LevelError, msg)
	panic(msg)
}
