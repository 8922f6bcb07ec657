package transport

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/vitalvas/openwire"
	"github.com/vitalvas/openwire/state"
)

// DefaultNegotiateTimeout bounds the wait for the peer's WireFormatInfo.
const DefaultNegotiateTimeout = 15 * time.Second

type options struct {
	logger           openwire.Logger
	metrics          openwire.Metrics
	tlsConfig        *tls.Config
	quicConfig       *quic.Config
	wsHeader         http.Header
	dialer           Dialer
	proxy            *ProxyDialer
	proxyFromEnv     bool
	wireFormat       []openwire.WireFormatOption
	negotiateTimeout time.Duration
	tracker          []state.Option
	listener         Listener
}

// Option configures transports built by New and Dial.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		logger:           openwire.NewNoOpLogger(),
		metrics:          &openwire.NoOpMetrics{},
		negotiateTimeout: DefaultNegotiateTimeout,
	}
}

func applyOptions(opts ...Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets the logger for every link of the chain.
func WithLogger(l openwire.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m openwire.Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTLSConfig sets the TLS configuration for ssl, wss and quic URIs.
func WithTLSConfig(config *tls.Config) Option {
	return func(o *options) {
		o.tlsConfig = config
	}
}

// WithQUICConfig sets the QUIC configuration for quic URIs.
func WithQUICConfig(config *quic.Config) Option {
	return func(o *options) {
		o.quicConfig = config
	}
}

// WithWebSocketHeader sets headers sent with the websocket handshake.
func WithWebSocketHeader(h http.Header) Option {
	return func(o *options) {
		o.wsHeader = h
	}
}

// WithDialer replaces the scheme's dialer. The address passed to it is the
// URI host:port, or the path for unix URIs.
func WithDialer(d Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

// WithProxy routes tcp and ssl connections through proxyURL
// (http://, https:// or socks5://).
func WithProxy(proxyURL, username, password string) Option {
	return func(o *options) {
		if d, err := NewProxyDialer(proxyURL, username, password); err == nil {
			o.proxy = d
		}
	}
}

// WithProxyFromEnvironment resolves the proxy from HTTP_PROXY,
// HTTPS_PROXY and NO_PROXY.
func WithProxyFromEnvironment(enabled bool) Option {
	return func(o *options) {
		o.proxyFromEnv = enabled
	}
}

// WithWireFormatOptions sets wire format preferences. URI wireFormat.*
// parameters are applied after them.
func WithWireFormatOptions(opts ...openwire.WireFormatOption) Option {
	return func(o *options) {
		o.wireFormat = append(o.wireFormat, opts...)
	}
}

// WithNegotiateTimeout bounds the wait for the peer's WireFormatInfo.
func WithNegotiateTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.negotiateTimeout = d
		}
	}
}

// WithTrackerOptions configures the state tracker of failover transports.
func WithTrackerOptions(opts ...state.Option) Option {
	return func(o *options) {
		o.tracker = append(o.tracker, opts...)
	}
}

// WithListener sets the listener of the chain before it is started.
func WithListener(l Listener) Option {
	return func(o *options) {
		o.listener = l
	}
}
