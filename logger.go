package openwire

import (
	"fmt"
	"strings"
)

// LogLevel orders log severities. Messages below a logger's level are dropped.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	// LogLevelNone silences a logger.
	LogLevelNone
)

var logLevelNames = [...]string{
	LogLevelDebug: "debug",
	LogLevelInfo:  "info",
	LogLevelWarn:  "warn",
	LogLevelError: "error",
	LogLevelNone:  "none",
}

func (l LogLevel) String() string {
	if l < 0 || int(l) >= len(logLevelNames) {
		return fmt.Sprintf("LogLevel(%d)", int(l))
	}
	return logLevelNames[l]
}

// ParseLogLevel accepts the names printed by LogLevel.String, case
// insensitively, plus "warning".
func ParseLogLevel(s string) (LogLevel, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "warning" {
		return LogLevelWarn, nil
	}
	for lvl, n := range logLevelNames {
		if n == name {
			return LogLevel(lvl), nil
		}
	}
	return LogLevelNone, fmt.Errorf("unknown log level %q", s)
}

// LogFields carries structured key-value pairs attached to a log entry.
type LogFields map[string]any

// Logger is the structured logging sink used by every component. Transports,
// the wire format and the client take one through their options and default
// to a NoOpLogger.
type Logger interface {
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Warn(msg string, fields LogFields)
	Error(msg string, fields LogFields)

	// WithFields returns a child logger that adds fields to every entry.
	WithFields(fields LogFields) Logger

	Level() LogLevel
	SetLevel(level LogLevel)
}

// NoOpLogger discards everything.
type NoOpLogger struct {
	level LogLevel
}

func NewNoOpLogger() *NoOpLogger { return &NoOpLogger{level: LogLevelNone} }

func (n *NoOpLogger) Debug(string, LogFields)     {}
func (n *NoOpLogger) Info(string, LogFields)      {}
func (n *NoOpLogger) Warn(string, LogFields)      {}
func (n *NoOpLogger) Error(string, LogFields)     {}
func (n *NoOpLogger) WithFields(LogFields) Logger { return n }
func (n *NoOpLogger) Level() LogLevel             { return n.level }
func (n *NoOpLogger) SetLevel(level LogLevel)     { n.level = level }

// Field names shared by the transports and the client.
const (
	LogFieldConnectionID  = "connection_id"
	LogFieldConsumerID    = "consumer_id"
	LogFieldDestination   = "destination"
	LogFieldCommandType   = "command_type"
	LogFieldCommandID     = "command_id"
	LogFieldCorrelationID = "correlation_id"
	LogFieldRemoteAddr    = "remote_addr"
	LogFieldDuration      = "duration"
	LogFieldBytes         = "bytes"
	LogFieldError         = "error"
)
