package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalvas/openwire"
)

func TestMockConfigFromProperties(t *testing.T) {
	props, err := ParseQuery("failOnSendMessage=true&numSentMessageBeforeFail=3&failOnStart=true&failOnKeepAliveSends=true&numSentKeepAlivesBeforeFail=2")
	require.NoError(t, err)

	got := MockConfigFromProperties(props)
	assert.Equal(t, MockConfig{
		FailOnSendMessage:           true,
		NumSentMessageBeforeFail:    3,
		FailOnKeepAliveSends:        true,
		NumSentKeepAlivesBeforeFail: 2,
		FailOnStart:                 true,
	}, got)
}

func TestMockTransportSendFailures(t *testing.T) {
	tests := []struct {
		name    string
		config  MockConfig
		cmd     openwire.Command
		allowed int
	}{
		{name: "messages", config: MockConfig{FailOnSendMessage: true, NumSentMessageBeforeFail: 2}, cmd: &openwire.SessionInfo{}, allowed: 2},
		{name: "keep-alives", config: MockConfig{FailOnKeepAliveSends: true, NumSentKeepAlivesBeforeFail: 1}, cmd: &openwire.KeepAliveInfo{}, allowed: 1},
		{name: "no failure", config: MockConfig{}, cmd: &openwire.SessionInfo{}, allowed: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockTransport("send", nil, nil, tt.config)
			mock.SetListener(newRecorder())
			require.NoError(t, mock.Start(context.Background()))
			defer mock.Close()

			sent := 0
			for range 5 {
				if err := mock.Oneway(context.Background(), tt.cmd); err != nil {
					assert.ErrorIs(t, err, ErrInjectedFailure)
					break
				}
				sent++
			}
			assert.Equal(t, tt.allowed, sent)
		})
	}
}

func TestMockTransportReceiveFailure(t *testing.T) {
	mock := NewMockTransport("recv", nil, nil, MockConfig{FailOnReceiveMessage: true, NumReceivedMessageBeforeFail: 1})
	rec := newRecorder()
	mock.SetListener(rec)
	require.NoError(t, mock.Start(context.Background()))
	defer mock.Close()

	mock.Inject(&openwire.KeepAliveInfo{}, &openwire.KeepAliveInfo{})
	assert.IsType(t, &openwire.KeepAliveInfo{}, rec.nextCommand(t))
	assert.ErrorIs(t, rec.nextError(t), ErrInjectedFailure)
}

func TestMockTransportLifecycleFailures(t *testing.T) {
	mock := NewMockTransport("life", nil, nil, MockConfig{FailOnStart: true, FailOnStop: true, FailOnClose: true})
	assert.ErrorIs(t, mock.Start(context.Background()), ErrInjectedFailure)
	assert.ErrorIs(t, mock.Stop(), ErrInjectedFailure)
	assert.ErrorIs(t, mock.Close(), ErrInjectedFailure)
	assert.False(t, mock.IsClosed())

	mock.Configure(MockConfig{})
	require.NoError(t, mock.Start(context.Background()))
	assert.True(t, mock.IsConnected())
	require.NoError(t, mock.Close())
	assert.True(t, mock.IsClosed())
	assert.False(t, mock.IsConnected())
	assert.ErrorIs(t, mock.Oneway(context.Background(), &openwire.KeepAliveInfo{}), openwire.ErrTransportClosed)
}

func TestMockTransportRequest(t *testing.T) {
	mock := NewMockTransport("req", nil, DefaultResponseBuilder{}, MockConfig{})

	resp, err := mock.Request(context.Background(), &openwire.SessionInfo{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), resp.ResponseBase().CorrelationID)

	resp, err = mock.Request(context.Background(), &openwire.SessionInfo{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), resp.ResponseBase().CorrelationID)

	mock.SetResponseBuilder(nil)
	_, err = mock.Request(context.Background(), &openwire.SessionInfo{})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestMockTransportOutgoingListener(t *testing.T) {
	mock := NewMockTransport("out", nil, nil, MockConfig{})
	mock.SetListener(newRecorder())
	out := newRecorder()
	mock.SetOutgoingListener(out)
	require.NoError(t, mock.Start(context.Background()))
	defer mock.Close()

	require.NoError(t, mock.Oneway(context.Background(), &openwire.ShutdownInfo{}))
	assert.IsType(t, &openwire.ShutdownInfo{}, out.nextCommand(t))
	assert.Len(t, mock.Sent(), 1)
	assert.Equal(t, 1, mock.NumSentMessages())

	mock.ClearSent()
	assert.Empty(t, mock.Sent())
	assert.Equal(t, "mock://out", mock.RemoteAddress())
}

func TestDefaultResponseBuilder(t *testing.T) {
	b := DefaultResponseBuilder{}

	assert.Nil(t, b.BuildResponse(&openwire.SessionInfo{}))
	assert.Empty(t, b.BuildIncomingCommands(&openwire.SessionInfo{}))

	cmd := &openwire.SessionInfo{BaseCommand: openwire.BaseCommand{CommandID: 9, ResponseRequired: true}}
	in := b.BuildIncomingCommands(cmd)
	require.Len(t, in, 1)
	assert.Equal(t, int32(9), in[0].(openwire.Responder).ResponseBase().CorrelationID)

	info := openwire.NewWireFormat().PreferredWireFormatInfo()
	info.CommandID = 4
	in = b.BuildIncomingCommands(info)
	require.Len(t, in, 1)
	echo := in[0].(*openwire.WireFormatInfo)
	assert.NotSame(t, info, echo)
	assert.Zero(t, echo.CommandID)
	assert.Equal(t, info.Version, echo.Version)
	assert.Equal(t, info.Properties, echo.Properties)
}
