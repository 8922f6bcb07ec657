package transport

import (
	"context"

	"github.com/vitalvas/openwire"
)

// LoggingTransport traces every command that passes through it at debug
// level. It never changes what is sent or received.
type LoggingTransport struct {
	Filter

	logger openwire.Logger
}

// NewLoggingTransport wraps next and logs through logger.
func NewLoggingTransport(next Transport, logger openwire.Logger) *LoggingTransport {
	if logger == nil {
		logger = openwire.NewNoOpLogger()
	}
	t := &LoggingTransport{logger: logger}
	t.attach(next, t)
	return t
}

func (t *LoggingTransport) trace(direction string, cmd openwire.Command) {
	if t.logger.Level() > openwire.LogLevelDebug {
		return
	}
	t.logger.Debug(direction, openwire.LogFields{
		openwire.LogFieldCommandType: openwire.TypeName(cmd.DataStructureType()),
		openwire.LogFieldCommandID:   cmd.Base().CommandID,
		openwire.LogFieldRemoteAddr:  t.RemoteAddress(),
		"command":                    openwire.Dump(cmd),
	})
}

// Oneway logs cmd, then sends it.
func (t *LoggingTransport) Oneway(ctx context.Context, cmd openwire.Command) error {
	t.trace("SEND", cmd)
	return t.next.Oneway(ctx, cmd)
}

// OnCommand logs cmd, then passes it up.
func (t *LoggingTransport) OnCommand(cmd openwire.Command) {
	t.trace("RECV", cmd)
	t.fireCommand(cmd)
}

// OnException logs err, then passes it up.
func (t *LoggingTransport) OnException(err error) {
	t.logger.Debug("transport exception", openwire.LogFields{
		openwire.LogFieldError:      err.Error(),
		openwire.LogFieldRemoteAddr: t.RemoteAddress(),
	})
	t.fireException(err)
}
