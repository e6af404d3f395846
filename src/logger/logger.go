package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// -----------------------------------------------------------------------------

// Level orders log severities
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
)

// -----------------------------------------------------------------------------

// Logger provides leveled printf-style logging
type Logger struct {
	name   string
	logger *log.Logger
	level  Level
	exit   func(int)
}

// -----------------------------------------------------------------------------

// NewLogger creates a new Logger writing to stdout. The level is read from
// the config when it exposes a GetLogLevel method.
func NewLogger(config interface{}, name string) *Logger {
	return NewLoggerWithWriter(os.Stdout, levelFromConfig(config), name)
}

// -----------------------------------------------------------------------------

// NewLoggerWithWriter creates a Logger on an arbitrary writer
func NewLoggerWithWriter(w io.Writer, level Level, name string) *Logger {
	return &Logger{
		name:   name,
		logger: log.New(w, "", log.LstdFlags),
		level:  level,
		exit:   os.Exit,
	}
}

// -----------------------------------------------------------------------------

// ParseLevel converts a config string into a Level, defaulting to INFO
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarning
	case "ERROR":
		return LevelError
	case "CRITICAL":
		return LevelCritical
	default:
		return LevelInfo
	}
}

// -----------------------------------------------------------------------------

// Debug logs debugging messages
func (l *Logger) Debug(format string, args ...interface{}) {
	l.printf(LevelDebug, "DEBUG", format, args...)
}

// -----------------------------------------------------------------------------

// Info logs informational messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.printf(LevelInfo, "INFO", format, args...)
}

// -----------------------------------------------------------------------------

// Warning logs recoverable problems
func (l *Logger) Warning(format string, args ...interface{}) {
	l.printf(LevelWarning, "WARNING", format, args...)
}

// -----------------------------------------------------------------------------

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.printf(LevelError, "ERROR", format, args...)
}

// -----------------------------------------------------------------------------

// Critical logs critical errors and exits the application
func (l *Logger) Critical(format string, args ...interface{}) {
	l.printf(LevelCritical, "CRITICAL", format, args...)
	l.exit(1)
}

// -----------------------------------------------------------------------------

func (l *Logger) printf(level Level, tag string, format string, args ...interface{}) {
	if l == nil || level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] %s: %s", l.name, tag, msg)
}

// -----------------------------------------------------------------------------

func levelFromConfig(config interface{}) Level {
	if c, ok := config.(interface{ GetLogLevel() string }); ok {
		return ParseLevel(c.GetLogLevel())
	}
	return LevelInfo
}
