package openwire

import (
	"time"
)

// MetricLabels are the constant labels of one series.
type MetricLabels map[string]string

// Metrics creates or looks up series by name and labels. Implementations
// must return the same series for equal arguments and be safe for
// concurrent use.
type Metrics interface {
	Counter(name string, labels MetricLabels) Counter
	Gauge(name string, labels MetricLabels) Gauge
	Histogram(name string, labels MetricLabels) Histogram
}

// Counter only goes up.
type Counter interface {
	Inc()
	Add(delta float64)
	Value() float64
}

type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(delta float64)
	Sub(delta float64)
	Value() float64
}

// Histogram records observations. Durations are observed in seconds.
type Histogram interface {
	Observe(value float64)
	ObserveDuration(d time.Duration)
	Count() uint64
	Sum() float64
}

// NoOpMetrics discards every observation.
type NoOpMetrics struct{}

func (*NoOpMetrics) Counter(string, MetricLabels) Counter     { return noOpSeries{} }
func (*NoOpMetrics) Gauge(string, MetricLabels) Gauge         { return noOpSeries{} }
func (*NoOpMetrics) Histogram(string, MetricLabels) Histogram { return noOpSeries{} }

// noOpSeries satisfies Counter, Gauge and Histogram at once.
type noOpSeries struct{}

func (noOpSeries) Set(float64)                   {}
func (noOpSeries) Inc()                          {}
func (noOpSeries) Dec()                          {}
func (noOpSeries) Add(float64)                   {}
func (noOpSeries) Sub(float64)                   {}
func (noOpSeries) Value() float64                { return 0 }
func (noOpSeries) Observe(float64)               {}
func (noOpSeries) ObserveDuration(time.Duration) {}
func (noOpSeries) Count() uint64                 { return 0 }
func (noOpSeries) Sum() float64                  { return 0 }

// Standard metric names for OpenWire clients.
const (
	// MetricConnections is the current number of open transports.
	MetricConnections = "openwire_connections"

	// MetricConnectionsTotal is the total number of transports opened.
	MetricConnectionsTotal = "openwire_connections_total"

	// MetricCommandsSent is the total number of commands written.
	MetricCommandsSent = "openwire_commands_sent_total"

	// MetricCommandsReceived is the total number of commands read.
	MetricCommandsReceived = "openwire_commands_received_total"

	// MetricBytesSent is the total bytes written.
	MetricBytesSent = "openwire_bytes_sent_total"

	// MetricBytesReceived is the total bytes read.
	MetricBytesReceived = "openwire_bytes_received_total"

	// MetricPendingRequests is the number of requests awaiting a response.
	MetricPendingRequests = "openwire_pending_requests"

	// MetricRequestLatency is the request round-trip latency.
	MetricRequestLatency = "openwire_request_latency_seconds"

	// MetricRequestTimeouts is the total number of timed out requests.
	MetricRequestTimeouts = "openwire_request_timeouts_total"

	// MetricKeepAlivesSent is the total number of keep-alives written.
	MetricKeepAlivesSent = "openwire_keepalives_sent_total"

	// MetricInactivityFailures is the total number of inactivity timeouts.
	MetricInactivityFailures = "openwire_inactivity_failures_total"

	// MetricMessagesSent is the total number of messages produced.
	MetricMessagesSent = "openwire_messages_sent_total"

	// MetricMessagesDelivered is the total number of messages handed to consumers.
	MetricMessagesDelivered = "openwire_messages_delivered_total"

	// MetricMessagesRedelivered is the total number of locally redelivered messages.
	MetricMessagesRedelivered = "openwire_messages_redelivered_total"

	// MetricMessagesPoisoned is the total number of messages acknowledged as poison.
	MetricMessagesPoisoned = "openwire_messages_poisoned_total"
)

// Standard metric labels.
const (
	// LabelCommandType is the command type label.
	LabelCommandType = "command_type"

	// LabelTransport is the transport scheme label.
	LabelTransport = "transport"

	// LabelDestinationKind is the destination kind label.
	LabelDestinationKind = "destination_kind"
)

// ClientMetrics provides convenience methods for common client metrics.
// A nil *ClientMetrics records nothing.
type ClientMetrics struct {
	metrics Metrics
}

// NewClientMetrics creates a new ClientMetrics instance.
func NewClientMetrics(m Metrics) *ClientMetrics {
	if m == nil {
		m = &NoOpMetrics{}
	}
	return &ClientMetrics{metrics: m}
}

// Metrics returns the underlying collector.
func (c *ClientMetrics) Metrics() Metrics {
	if c == nil {
		return &NoOpMetrics{}
	}
	return c.metrics
}

// ConnectionOpened records a new transport.
func (c *ClientMetrics) ConnectionOpened() {
	if c == nil {
		return
	}
	c.metrics.Gauge(MetricConnections, nil).Inc()
	c.metrics.Counter(MetricConnectionsTotal, nil).Inc()
}

// ConnectionClosed records a closed transport.
func (c *ClientMetrics) ConnectionClosed() {
	if c == nil {
		return
	}
	c.metrics.Gauge(MetricConnections, nil).Dec()
}

// CommandSent records a written command and its frame size.
func (c *ClientMetrics) CommandSent(t byte, n int) {
	if c == nil {
		return
	}
	c.metrics.Counter(MetricCommandsSent, MetricLabels{LabelCommandType: TypeName(t)}).Inc()
	c.metrics.Counter(MetricBytesSent, nil).Add(float64(n))
}

// CommandReceived records a read command and its frame size.
func (c *ClientMetrics) CommandReceived(t byte, n int) {
	if c == nil {
		return
	}
	c.metrics.Counter(MetricCommandsReceived, MetricLabels{LabelCommandType: TypeName(t)}).Inc()
	c.metrics.Counter(MetricBytesReceived, nil).Add(float64(n))
}

// RequestStarted records a request waiting for its response.
func (c *ClientMetrics) RequestStarted() {
	if c == nil {
		return
	}
	c.metrics.Gauge(MetricPendingRequests, nil).Inc()
}

// RequestFinished records a completed request and its latency.
func (c *ClientMetrics) RequestFinished(d time.Duration) {
	if c == nil {
		return
	}
	c.metrics.Gauge(MetricPendingRequests, nil).Dec()
	c.metrics.Histogram(MetricRequestLatency, nil).ObserveDuration(d)
}

// RequestTimedOut records a request abandoned after its deadline.
func (c *ClientMetrics) RequestTimedOut() {
	if c == nil {
		return
	}
	c.metrics.Gauge(MetricPendingRequests, nil).Dec()
	c.metrics.Counter(MetricRequestTimeouts, nil).Inc()
}

// KeepAliveSent records a keep-alive written by the inactivity monitor.
func (c *ClientMetrics) KeepAliveSent() {
	if c == nil {
		return
	}
	c.metrics.Counter(MetricKeepAlivesSent, nil).Inc()
}

// InactivityFailure records a read inactivity timeout.
func (c *ClientMetrics) InactivityFailure() {
	if c == nil {
		return
	}
	c.metrics.Counter(MetricInactivityFailures, nil).Inc()
}

// MessageSent records a produced message.
func (c *ClientMetrics) MessageSent(d Destination) {
	if c == nil {
		return
	}
	c.metrics.Counter(MetricMessagesSent, destinationLabels(d)).Inc()
}

// MessageDelivered records a message handed to a consumer.
func (c *ClientMetrics) MessageDelivered(d Destination) {
	if c == nil {
		return
	}
	c.metrics.Counter(MetricMessagesDelivered, destinationLabels(d)).Inc()
}

// MessageRedelivered records a message queued again after a rollback.
func (c *ClientMetrics) MessageRedelivered() {
	if c == nil {
		return
	}
	c.metrics.Counter(MetricMessagesRedelivered, nil).Inc()
}

// MessagePoisoned records a message that exceeded its redeliveries.
func (c *ClientMetrics) MessagePoisoned() {
	if c == nil {
		return
	}
	c.metrics.Counter(MetricMessagesPoisoned, nil).Inc()
}

func destinationLabels(d Destination) MetricLabels {
	if d == nil {
		return nil
	}
	return MetricLabels{LabelDestinationKind: d.Kind().String()}
}
