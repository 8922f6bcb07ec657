package client

import (
	"errors"
)

// EventHandler receives connection lifecycle events. It runs on transport
// goroutines and must not block.
type EventHandler func(conn *Connection, event error)

// Sentinel events for connection lifecycle - check with errors.Is().
var (
	// ErrConnected is emitted once the connection is usable.
	ErrConnected = errors.New("connected")

	// ErrDisconnected is emitted when the connection closes gracefully.
	ErrDisconnected = errors.New("disconnected")

	// ErrConnectionInterrupted is emitted when a fault tolerant transport
	// lost its broker and starts reconnecting.
	ErrConnectionInterrupted = errors.New("connection interrupted")

	// ErrConnectionResumed is emitted when a fault tolerant transport has
	// restored the connection state on a new broker.
	ErrConnectionResumed = errors.New("connection resumed")

	// ErrConnectionFailed is emitted when the transport failed for good.
	ErrConnectionFailed = errors.New("connection failed")
)

// Sentinel errors for client objects - check with errors.Is().
var (
	// ErrConnectionClosed is returned by operations on a closed connection.
	ErrConnectionClosed = errors.New("client: connection closed")

	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("client: session closed")

	// ErrConsumerClosed is returned by operations on a closed consumer.
	ErrConsumerClosed = errors.New("client: consumer closed")

	// ErrProducerClosed is returned by operations on a closed producer.
	ErrProducerClosed = errors.New("client: producer closed")

	// ErrNoDestination is returned when sending without a destination.
	ErrNoDestination = errors.New("client: no destination")

	// ErrInvalidDestination is returned for a destination the operation
	// cannot use.
	ErrInvalidDestination = errors.New("client: invalid destination")

	// ErrNotTransacted is returned by Commit and Rollback outside a
	// transacted session.
	ErrNotTransacted = errors.New("client: session is not transacted")

	// ErrTransactionRolledBack is returned by Commit when the transaction
	// had to be rolled back instead.
	ErrTransactionRolledBack = errors.New("client: transaction rolled back")

	// ErrTempDestinationInUse is returned when deleting a temporary
	// destination that still has consumers on this connection.
	ErrTempDestinationInUse = errors.New("client: temporary destination in use")

	// ErrTempDestinationDeleted is returned when consuming from a
	// temporary destination that no longer exists.
	ErrTempDestinationDeleted = errors.New("client: temporary destination deleted")

	// ErrForeignTempDestination is returned when consuming from a temporary
	// destination created by another connection.
	ErrForeignTempDestination = errors.New("client: temporary destination belongs to another connection")

	// ErrReceiveTimeout is returned when a pull consumer got no message
	// before the broker side timeout expired.
	ErrReceiveTimeout = errors.New("client: no message available")

	// ErrInvalidAckMode is returned for acknowledge calls that the session
	// mode does not allow.
	ErrInvalidAckMode = errors.New("client: operation not allowed in this acknowledge mode")

	// ErrListenerSet is returned by Receive on a consumer that delivers to
	// a message listener.
	ErrListenerSet = errors.New("client: consumer has a message listener")

	// ErrListenerPrefetch is returned when setting a listener on a consumer
	// that pulls each message.
	ErrListenerPrefetch = errors.New("client: message listener needs a prefetch size above zero")
)

// FailureEvent carries the error that broke the connection.
// Extract with errors.As().
type FailureEvent struct {
	Cause error
}

func (e *FailureEvent) Error() string { return ErrConnectionFailed.Error() + ": " + e.Cause.Error() }

// Is matches ErrConnectionFailed.
func (e *FailureEvent) Is(target error) bool { return target == ErrConnectionFailed }

func (e *FailureEvent) Unwrap() error { return e.Cause }

// NewFailureEvent creates a FailureEvent for cause.
func NewFailureEvent(cause error) *FailureEvent {
	return &FailureEvent{Cause: cause}
}

// ErrInternal matches InternalErrorEvent.
var ErrInternal = errors.New("client: internal error")

// InternalErrorEvent reports a failure on a background path with no caller
// to return it to, such as advisory acknowledgements.
type InternalErrorEvent struct {
	Cause error
}

func (e *InternalErrorEvent) Error() string { return ErrInternal.Error() + ": " + e.Cause.Error() }

func (e *InternalErrorEvent) Is(target error) bool { return target == ErrInternal }

func (e *InternalErrorEvent) Unwrap() error { return e.Cause }
