package main

import (
	"log"

	"pdm-service/pdm"
)

// LeveledLogger wraps a standard logger with log level filtering.
// Loggers derived with With share the writer and level of their parent.
type LeveledLogger struct {
	logger    *log.Logger
	logLevel  LogLevel
	component string
}

// NewLeveledLogger creates a new leveled logger
func NewLeveledLogger(logger *log.Logger, level LogLevel) *LeveledLogger {
	return &LeveledLogger{
		logger:   logger,
		logLevel: level,
	}
}

// With returns a logger that tags every line with the component name
func (l *LeveledLogger) With(component string) *LeveledLogger {
	return &LeveledLogger{
		logger:    l.logger,
		logLevel:  l.logLevel,
		component: component,
	}
}

func (l *LeveledLogger) logf(level LogLevel, tag string, format string, v ...interface{}) {
	if l.logLevel < level {
		return
	}
	if l.component != "" {
		format = l.component + ": " + format
	}
	l.logger.Printf("["+tag+"] "+format, v...)
}

func (l *LeveledLogger) Debug(format string, v ...interface{}) {
	l.logf(LogLevelDebug, "DEBUG", format, v...)
}

func (l *LeveledLogger) Info(format string, v ...interface{}) {
	l.logf(LogLevelInfo, "INFO", format, v...)
}

func (l *LeveledLogger) Warn(format string, v ...interface{}) {
	l.logf(LogLevelWarn, "WARN", format, v...)
}

func (l *LeveledLogger) Error(format string, v ...interface{}) {
	l.logf(LogLevelError, "ERROR", format, v...)
}

// Printf logs at INFO level
func (l *LeveledLogger) Printf(format string, v ...interface{}) {
	l.Info(format, v...)
}

// DebugCAN logs a frame at DEBUG level, payload truncated to its length
func (l *LeveledLogger) DebugCAN(direction string, id uint32, data []byte, length uint8) {
	if l.logLevel < LogLevelDebug {
		return
	}
	n := int(length)
	if n > len(data) {
		n = len(data)
	}
	l.logf(LogLevelDebug, "DEBUG", "CAN %s: ID=0x%03X Len=%d Data=[% X]", direction, id, length, data[:n])
}

var _ pdm.Logger = (*LeveledLogger)(nil)
