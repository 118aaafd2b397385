// Package logger wraps zerolog behind a small key-value API shared by the
// analysis packages and the commands.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log is the process-wide logger. Analysis packages derive component
// loggers from it instead of holding their own.
var Log *Logger

type Logger struct {
	z zerolog.Logger
}

func init() {
	Log = newLogger(os.Stderr, "console")
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// Setup reconfigures the global logger. Level is one of debug, info, warn,
// error (case-insensitive, unknown values fall back to info). Format is
// "json" or "console".
func Setup(level, format string) {
	SetupWriter(os.Stderr, level, format)
}

// SetupWriter is Setup with an explicit destination, used by tests to
// capture output.
func SetupWriter(w io.Writer, level, format string) {
	zerolog.SetGlobalLevel(parseLevel(level))
	Log = newLogger(w, format)
}

func newLogger(w io.Writer, format string) *Logger {
	if strings.ToLower(format) != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return &Logger{z: zerolog.New(w).With().Timestamp().Logger()}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Component returns a child logger tagged with an analysis component name,
// e.g. "nmf" or "rankings".
func (l *Logger) Component(name string) *Logger {
	return &Logger{z: l.z.With().Str("component", name).Logger()}
}

func (l *Logger) Info(msg string, kv ...interface{})  { emit(l.z.Info(), msg, kv) }
func (l *Logger) Debug(msg string, kv ...interface{}) { emit(l.z.Debug(), msg, kv) }
func (l *Logger) Warn(msg string, kv ...interface{})  { emit(l.z.Warn(), msg, kv) }
func (l *Logger) Error(msg string, kv ...interface{}) { emit(l.z.Error(), msg, kv) }

// emit attaches alternating key-value pairs to the event. A trailing key
// without a value is dropped, non-string keys are stringified, and error
// values get zerolog's error rendering.
func emit(e *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kv[i])
		}
		if err, ok := kv[i+1].(error); ok {
			e.AnErr(key, err)
			continue
		}
		e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}
