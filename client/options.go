package client

import (
	"time"

	"github.com/vitalvas/openwire"
	"github.com/vitalvas/openwire/transport"
)

// Prefetch defaults.
const (
	DefaultQueuePrefetch        = 1000
	DefaultQueueBrowserPrefetch = 500
	DefaultDurableTopicPrefetch = 100
	DefaultTopicPrefetch        = 65535
)

// DefaultMaxRedeliveries is how often a rolled back message is redelivered
// locally before it is poisoned.
const DefaultMaxRedeliveries = 6

// options holds configuration for a Connection.
type options struct {
	clientID string
	username string
	password string

	logger  openwire.Logger
	metrics openwire.Metrics

	transportOptions []transport.Option

	// Timeouts
	requestTimeout time.Duration
	closeTimeout   time.Duration

	// Send behavior
	alwaysSyncSend  bool
	useAsyncSend    bool
	useCompression  bool
	maxRedeliveries int

	// Prefetch per destination kind
	queuePrefetch        int32
	queueBrowserPrefetch int32
	durableTopicPrefetch int32
	topicPrefetch        int32

	watchTopicAdvisories bool

	onEvent EventHandler
}

// defaultOptions returns options with sensible defaults.
func defaultOptions() *options {
	return &options{
		logger:               openwire.NewNoOpLogger(),
		metrics:              &openwire.NoOpMetrics{},
		closeTimeout:         15 * time.Second,
		maxRedeliveries:      DefaultMaxRedeliveries,
		queuePrefetch:        DefaultQueuePrefetch,
		queueBrowserPrefetch: DefaultQueueBrowserPrefetch,
		durableTopicPrefetch: DefaultDurableTopicPrefetch,
		topicPrefetch:        DefaultTopicPrefetch,
		watchTopicAdvisories: true,
	}
}

func applyOptions(opts ...Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a Connection.
type Option func(*options)

// WithClientID sets the client identifier. A generated id is used when
// none is set.
func WithClientID(id string) Option {
	return func(o *options) {
		o.clientID = id
	}
}

// WithCredentials sets the user name and password sent in ConnectionInfo.
func WithCredentials(username, password string) Option {
	return func(o *options) {
		o.username = username
		o.password = password
	}
}

// WithLogger sets the logger of the connection and its transport chain.
func WithLogger(l openwire.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics sink of the transport chain.
func WithMetrics(m openwire.Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTransportOptions passes options to the transport factory.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(o *options) {
		o.transportOptions = append(o.transportOptions, opts...)
	}
}

// WithRequestTimeout bounds every synchronous request. Zero waits as long
// as the caller's context allows.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) {
		o.requestTimeout = d
	}
}

// WithCloseTimeout bounds the RemoveInfo exchange on Close.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *options) {
		o.closeTimeout = d
	}
}

// WithAlwaysSyncSend makes every send wait for the broker.
func WithAlwaysSyncSend(enabled bool) Option {
	return func(o *options) {
		o.alwaysSyncSend = enabled
	}
}

// WithAsyncSend sends persistent messages without waiting for the broker.
func WithAsyncSend(enabled bool) Option {
	return func(o *options) {
		o.useAsyncSend = enabled
	}
}

// WithCompression compresses text and bytes bodies created through the
// session.
func WithCompression(enabled bool) Option {
	return func(o *options) {
		o.useCompression = enabled
	}
}

// WithMaxRedeliveries sets how often a rolled back message is redelivered
// before it is acknowledged as poison. A negative value redelivers forever.
func WithMaxRedeliveries(n int) Option {
	return func(o *options) {
		o.maxRedeliveries = n
	}
}

// WithQueuePrefetch sets the prefetch of queue consumers.
func WithQueuePrefetch(n int32) Option {
	return func(o *options) {
		o.queuePrefetch = n
	}
}

// WithTopicPrefetch sets the prefetch of non durable topic consumers.
func WithTopicPrefetch(n int32) Option {
	return func(o *options) {
		o.topicPrefetch = n
	}
}

// WithDurableTopicPrefetch sets the prefetch of durable subscribers.
func WithDurableTopicPrefetch(n int32) Option {
	return func(o *options) {
		o.durableTopicPrefetch = n
	}
}

// WithQueueBrowserPrefetch sets the prefetch of queue browsers.
func WithQueueBrowserPrefetch(n int32) Option {
	return func(o *options) {
		o.queueBrowserPrefetch = n
	}
}

// WithWatchTopicAdvisories controls the advisory consumer that tracks
// temporary destinations of other connections.
func WithWatchTopicAdvisories(enabled bool) Option {
	return func(o *options) {
		o.watchTopicAdvisories = enabled
	}
}

// WithEventHandler sets the handler for lifecycle events.
func WithEventHandler(h EventHandler) Option {
	return func(o *options) {
		o.onEvent = h
	}
}
