package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalvas/openwire"
	"github.com/vitalvas/openwire/state"
)

func TestNewChainShapes(t *testing.T) {
	tests := []struct {
		name           string
		uri            string
		correlator     bool
		inactivity     bool
		logging        bool
		faultTolerant  bool
		wantBottomType any
	}{
		{name: "mock", uri: "mock://a", correlator: true, wantBottomType: &MockTransport{}},
		{name: "mock with monitor", uri: "mock://a?transport.useInactivityMonitor=true", correlator: true, inactivity: true, wantBottomType: &MockTransport{}},
		{name: "tcp", uri: "tcp://localhost:61616", correlator: true, inactivity: true, wantBottomType: &IOTransport{}},
		{name: "tcp with logging", uri: "tcp://localhost?transport.useLogging=true", correlator: true, inactivity: true, logging: true, wantBottomType: &IOTransport{}},
		{name: "tcp without extras", uri: "tcp://localhost?transport.useInactivityMonitor=false&transport.responseCorrelator=false", wantBottomType: &IOTransport{}},
		{name: "ssl", uri: "ssl://localhost", correlator: true, inactivity: true, wantBottomType: &IOTransport{}},
		{name: "unix", uri: "unix:///tmp/broker.sock", correlator: true, inactivity: true, wantBottomType: &IOTransport{}},
		{name: "ws", uri: "ws://localhost:61614/", correlator: true, inactivity: true, wantBottomType: &IOTransport{}},
		{name: "quic", uri: "quic://localhost", correlator: true, inactivity: true, wantBottomType: &IOTransport{}},
		{name: "failover", uri: "failover:(mock://a,mock://b)?randomize=false", correlator: true, faultTolerant: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := New(tt.uri)
			require.NoError(t, err)
			defer tr.Close()

			_, ok := Narrow[*ResponseCorrelator](tr)
			assert.Equal(t, tt.correlator, ok)
			_, ok = Narrow[*InactivityMonitor](tr)
			assert.Equal(t, tt.inactivity, ok)
			_, ok = Narrow[*LoggingTransport](tr)
			assert.Equal(t, tt.logging, ok)
			_, ok = Narrow[*FailoverTransport](tr)
			assert.Equal(t, tt.faultTolerant, ok)
			assert.Equal(t, tt.faultTolerant, tr.IsFaultTolerant())

			if tt.wantBottomType != nil {
				bottom := tr
				for bottom.Next() != nil {
					bottom = bottom.Next()
				}
				assert.IsType(t, tt.wantBottomType, bottom)
			}
		})
	}
}

func TestNewErrors(t *testing.T) {
	tests := []struct {
		name string
		uri  string
		want error
	}{
		{name: "unknown scheme", uri: "carrier-pigeon://roof", want: ErrUnknownScheme},
		{name: "bad query", uri: "tcp://localhost?flag", want: ErrInvalidURI},
		{name: "version too high", uri: "tcp://localhost?wireFormat.version=42", want: ErrInvalidURI},
		{name: "version zero", uri: "tcp://localhost?wireFormat.version=0", want: ErrInvalidURI},
		{name: "frame size", uri: "tcp://localhost?wireFormat.maxFrameSize=-1", want: ErrInvalidURI},
		{name: "unix without path", uri: "unix://", want: ErrInvalidURI},
		{name: "unbalanced failover", uri: "failover:(mock://a", want: ErrInvalidURI},
		{name: "nested failover", uri: "failover:(failover:(mock://a))", want: ErrInvalidURI},
		{name: "empty failover", uri: "failover:()", want: ErrInvalidURI},
		{name: "undefined variable", uri: "tcp://${OW_FACTORY_UNDEFINED}:61616", want: ErrUndefinedVariable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.uri)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewAppliesWireFormatParameters(t *testing.T) {
	tr, err := New("mock://a?wireFormat.version=6&wireFormat.tightEncodingEnabled=false" +
		"&wireFormat.cacheEnabled=false&wireFormat.maxInactivityDuration=5000")
	require.NoError(t, err)
	defer tr.Close()

	info := tr.WireFormat().PreferredWireFormatInfo()
	assert.Equal(t, int32(6), info.Version)
	assert.False(t, info.TightEncodingEnabled())
	assert.False(t, info.CacheEnabled())
	assert.Equal(t, int64(5000), info.MaxInactivityDuration())
}

func TestNewMockFailureParameters(t *testing.T) {
	tr, err := New("mock://a?failOnStart=true")
	require.NoError(t, err)
	tr.SetListener(ListenerFuncs{})

	assert.ErrorIs(t, tr.Start(context.Background()), ErrInjectedFailure)
}

func TestNewSocks5ProxyParameter(t *testing.T) {
	tr, err := New("tcp://broker:61616?socks5Proxy=127.0.0.1:1080&socks5ProxyUser=u&socks5ProxyPassword=p")
	require.NoError(t, err)
	defer tr.Close()

	io, ok := Narrow[*IOTransport](tr)
	require.True(t, ok)
	d, ok := io.dialer.(*TCPDialer)
	require.True(t, ok)
	require.NotNil(t, d.Proxy)
	assert.Equal(t, "broker:61616", io.address)
}

func TestDefaultPorts(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"tcp://broker", "broker:61616"},
		{"ssl://broker", "broker:61617"},
		{"quic://broker", "broker:61617"},
		{"tcp://broker:1234", "broker:1234"},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			tr, err := New(tt.uri)
			require.NoError(t, err)
			defer tr.Close()

			io, ok := Narrow[*IOTransport](tr)
			require.True(t, ok)
			assert.Equal(t, tt.want, io.address)
		})
	}
}

func TestDialMock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	tr, err := Dial(ctx, "mock://a")
	require.NoError(t, err)
	defer tr.Close()

	resp, err := tr.Request(ctx, &openwire.SessionInfo{})
	require.NoError(t, err)
	assert.IsType(t, &openwire.Response{}, resp)
}

func TestDialTCP(t *testing.T) {
	broker := newFakeBroker(t)
	metrics := openwire.NewMemoryMetrics()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	tr, err := Dial(ctx, "tcp://"+broker.addr()+"?soKeepAlive=true&transport.useLogging=true",
		WithMetrics(metrics),
		WithLogger(openwire.NewNoOpLogger()),
	)
	require.NoError(t, err)
	defer tr.Close()

	assert.True(t, tr.WireFormat().Negotiated())
	_, err = tr.Request(ctx, &openwire.SessionInfo{
		SessionID: &openwire.SessionID{ConnectionID: "ID:c1", Value: 1},
	})
	require.NoError(t, err)

	labels := openwire.MetricLabels{openwire.LabelCommandType: openwire.TypeName(openwire.SessionInfoType)}
	assert.Equal(t, float64(1), metrics.CounterValue(openwire.MetricCommandsSent, labels))
}

func TestDialUnix(t *testing.T) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("ow_test_%d.sock", time.Now().UnixNano()))
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(path) })
	serveFakeBroker(t, ln)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	tr, err := Dial(ctx, "unix://"+path)
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.Request(ctx, &openwire.SessionInfo{})
	require.NoError(t, err)
}

func TestDialWebSocket(t *testing.T) {
	_, url := newWSBroker(t)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	tr, err := Dial(ctx, url+"?transport.useInactivityMonitor=false")
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.Request(ctx, &openwire.SessionInfo{})
	require.NoError(t, err)
}

func TestDialNegotiationTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		if conn, err := ln.Accept(); err == nil {
			accepted <- conn
		}
	}()
	defer func() {
		select {
		case conn := <-accepted:
			conn.Close()
		default:
		}
	}()

	_, err = Dial(context.Background(), "tcp://"+ln.Addr().String(), WithNegotiateTimeout(50*time.Millisecond))
	assert.ErrorIs(t, err, ErrNegotiationTimeout)
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = Dial(context.Background(), "tcp://"+addr)
	assert.Error(t, err)
}

func TestDialFailoverAcrossBrokers(t *testing.T) {
	first := newFakeBroker(t)
	second := newFakeBroker(t)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	rawURI := fmt.Sprintf("failover:(tcp://%s,tcp://%s)?randomize=false&initialReconnectDelay=5&maxReconnectDelay=50",
		first.addr(), second.addr())
	tr, err := Dial(ctx, rawURI, WithTrackerOptions(state.WithTrackMessages(true)))
	require.NoError(t, err)
	defer tr.Close()

	connID := &openwire.ConnectionID{Value: "ID:failover-test"}
	_, err = tr.Request(ctx, &openwire.ConnectionInfo{ConnectionID: connID, ClientID: "c"})
	require.NoError(t, err)

	f, ok := Narrow[*FailoverTransport](tr)
	require.True(t, ok)
	assert.Equal(t, first.addr(), f.ConnectedURI().Host)

	first.close()

	require.Eventually(t, func() bool {
		u := f.ConnectedURI()
		return u != nil && u.Host == second.addr()
	}, waitTimeout, 10*time.Millisecond)

	restored := nextReceivedOf[*openwire.ConnectionInfo](t, second)
	assert.Equal(t, connID.Value, restored.ConnectionID.Value)
	assert.True(t, restored.FailoverReconnect)

	_, err = tr.Request(ctx, &openwire.SessionInfo{
		SessionID: &openwire.SessionID{ConnectionID: connID.Value, Value: 1},
	})
	require.NoError(t, err)
}

// nextReceivedOf skips broker-side commands until one of type T arrives.
func nextReceivedOf[T openwire.Command](t *testing.T, b *fakeBroker) T {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case cmd := <-b.received:
			if v, ok := cmd.(T); ok {
				return v
			}
		case <-deadline:
			var zero T
			t.Fatalf("broker did not receive %T", zero)
			return zero
		}
	}
}

func TestDialCloseBottomLayerReleasesRequest(t *testing.T) {
	b := newFakeBroker(t)
	b.silent = true

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	tr, err := Dial(ctx, "tcp://"+b.addr()+"?transport.useInactivityMonitor=false")
	require.NoError(t, err)
	defer tr.Close()

	bottom, ok := Narrow[*IOTransport](tr)
	require.True(t, ok)

	done := make(chan error, 1)
	go func() {
		_, err := tr.Request(context.Background(), &openwire.SessionInfo{
			SessionID: &openwire.SessionID{ConnectionID: "ID:c1", Value: 1},
		})
		done <- err
	}()
	nextReceivedOf[*openwire.SessionInfo](t, b)

	require.NoError(t, bottom.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, openwire.ErrTransportClosed)
	case <-time.After(waitTimeout):
		t.Fatal("request was not released")
	}
	_, err = tr.Request(ctx, &openwire.SessionInfo{})
	assert.Error(t, err)
}
