package logging

import (
	"fmt"
	"log"

	"github.com/fatih/color"
)

// Logger is the daemon's logging type. It wraps the standard library's log
// package so that it respects whatever output/flags are configured there,
// while adding level filtering and a dotted sublogger prefix. A nil *Logger
// is valid and silently discards everything, so that components can be
// constructed with an optional logger without nil-checking at every call
// site.
type Logger struct {
	// prefix is the dotted sublogger name chain, empty for the root logger.
	prefix string
	// level is the configured verbosity level.
	level Level
}

// RootLogger is the root logger from which all other loggers derive. Its
// level defaults to LevelWarning, matching the documented default for
// FSNOTIFIER_LOG_LEVEL.
var RootLogger = &Logger{level: LevelWarning}

// New creates a root logger at the given level.
func New(level Level) *Logger {
	return &Logger{level: level}
}

// Sublogger creates a new sublogger with the specified name, inheriting the
// parent's level. If the receiver is nil, the sublogger is nil as well.
func (l *Logger) Sublogger(name string) *Logger {
	if l == nil {
		return nil
	}
	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "." + name
	}
	return &Logger{prefix: prefix, level: l.level}
}

// Level reports the logger's configured verbosity level.
func (l *Logger) Level() Level {
	if l == nil {
		return LevelOff
	}
	return l.level
}

func (l *Logger) enabled(level Level) bool {
	return l != nil && level <= l.level && level != LevelOff
}

func (l *Logger) output(calldepth int, line string) {
	if l.prefix != "" {
		line = fmt.Sprintf("[%s] %s", l.prefix, line)
	}
	log.Output(calldepth, line)
}

// Error logs a message at LevelError, colored red for fatal conditions.
func (l *Logger) Error(format string, v ...interface{}) {
	if l.enabled(LevelError) {
		l.output(3, color.RedString("error: "+format, v...))
	}
}

// Warning logs a message at LevelWarning, colored yellow.
func (l *Logger) Warning(format string, v ...interface{}) {
	if l.enabled(LevelWarning) {
		l.output(3, color.YellowString("warning: "+format, v...))
	}
}

// Info logs a message at LevelInfo.
func (l *Logger) Info(format string, v ...interface{}) {
	if l.enabled(LevelInfo) {
		l.output(3, fmt.Sprintf(format, v...))
	}
}

// Debug logs a message at LevelDebug.
func (l *Logger) Debug(format string, v ...interface{}) {
	if l.enabled(LevelDebug) {
		l.output(3, fmt.Sprintf(format, v...))
	}
}
