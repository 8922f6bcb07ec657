package openwire

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger is the Logger implementation backed by zerolog. The level
// is shared between a logger and the children created by WithFields.
type ZerologLogger struct {
	logger zerolog.Logger
	level  *atomic.Int32
}

// NewZerologLogger writes JSON lines to w, stderr when w is nil.
func NewZerologLogger(w io.Writer, level LogLevel) *ZerologLogger {
	if w == nil {
		w = os.Stderr
	}
	return NewZerologAdapter(zerolog.New(w).With().Timestamp().Logger(), level)
}

// NewConsoleLogger writes human readable lines to w, stderr when w is nil.
func NewConsoleLogger(w io.Writer, level LogLevel) *ZerologLogger {
	if w == nil {
		w = os.Stderr
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	return NewZerologAdapter(zerolog.New(out).With().Timestamp().Logger(), level)
}

// NewZerologAdapter wraps an existing zerolog.Logger.
func NewZerologAdapter(l zerolog.Logger, level LogLevel) *ZerologLogger {
	z := &ZerologLogger{logger: l, level: new(atomic.Int32)}
	z.level.Store(int32(level))
	return z
}

func (z *ZerologLogger) Debug(msg string, fields LogFields) {
	z.write(LogLevelDebug, z.logger.Debug, msg, fields)
}

func (z *ZerologLogger) Info(msg string, fields LogFields) {
	z.write(LogLevelInfo, z.logger.Info, msg, fields)
}

func (z *ZerologLogger) Warn(msg string, fields LogFields) {
	z.write(LogLevelWarn, z.logger.Warn, msg, fields)
}

func (z *ZerologLogger) Error(msg string, fields LogFields) {
	z.write(LogLevelError, z.logger.Error, msg, fields)
}

func (z *ZerologLogger) write(level LogLevel, event func() *zerolog.Event, msg string, fields LogFields) {
	if z.Level() > level {
		return
	}
	e := event()
	if len(fields) > 0 {
		e = e.Fields(map[string]any(fields))
	}
	e.Msg(msg)
}

func (z *ZerologLogger) WithFields(fields LogFields) Logger {
	return &ZerologLogger{
		logger: z.logger.With().Fields(map[string]any(fields)).Logger(),
		level:  z.level,
	}
}

func (z *ZerologLogger) Level() LogLevel { return LogLevel(z.level.Load()) }

func (z *ZerologLogger) SetLevel(level LogLevel) { z.level.Store(int32(level)) }
