package openwire

import (
	"errors"
	"fmt"
)

// Sentinel errors for protocol issues - check with errors.Is().
var (
	// ErrUnknownDataType is returned for a type tag with no registered variant.
	ErrUnknownDataType = errors.New("openwire: unknown data type")

	// ErrCacheMiss is returned when a cached reference names an empty slot.
	ErrCacheMiss = errors.New("openwire: cache index not present")

	// ErrFrameTooLarge is returned when a size prefix exceeds the configured limit.
	ErrFrameTooLarge = errors.New("openwire: frame exceeds maximum size")

	// ErrInvalidMagic is returned for a WireFormatInfo without the ActiveMQ magic.
	ErrInvalidMagic = errors.New("openwire: invalid wire format magic")

	// ErrUnexpectedType is returned when a field holds a variant of the wrong type.
	ErrUnexpectedType = errors.New("openwire: unexpected data structure type")

	// ErrUnsupportedVersion is returned for protocol versions outside 1..MaxSupportedVersion.
	ErrUnsupportedVersion = errors.New("openwire: unsupported protocol version")

	// ErrNotNegotiable is returned when renegotiation has no preferred wire format.
	ErrNotNegotiable = errors.New("openwire: wire format cannot be renegotiated")
)

// Sentinel errors for I/O issues - check with errors.Is().
var (
	// ErrTransportClosed is returned by operations on a closed transport.
	ErrTransportClosed = errors.New("openwire: transport closed")

	// ErrTransportFailed is returned after a transport has faulted.
	ErrTransportFailed = errors.New("openwire: transport failed")

	// ErrRequestTimeout is returned when a request gets no response in time.
	ErrRequestTimeout = errors.New("openwire: request timed out")

	// ErrInactivityTimeout is raised when the peer stays silent too long.
	ErrInactivityTimeout = errors.New("openwire: channel was inactive for too long")
)

// Sentinel errors for local state misuse - check with errors.Is().
var (
	// ErrDisposed is returned when mutating state that has been shut down.
	ErrDisposed = errors.New("openwire: state has been disposed")

	// ErrClientIDAlreadySet is returned when the client id changes after use.
	ErrClientIDAlreadySet = errors.New("openwire: client id already set")
)

// ErrorKind classifies an error into the transport error taxonomy.
type ErrorKind int

const (
	// KindUnknown is any error outside the taxonomy.
	KindUnknown ErrorKind = iota
	// KindIO is a socket-level failure or timeout; fatal to the transport.
	KindIO
	// KindProtocol is a malformed or unsynchronized stream; fatal to the transport.
	KindProtocol
	// KindState is misuse of local state; raised to the caller only.
	KindState
	// KindBroker is an error reported by the broker.
	KindBroker
)

func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindProtocol:
		return "protocol"
	case KindState:
		return "state"
	case KindBroker:
		return "broker"
	default:
		return "unknown"
	}
}

// ProtocolError wraps a codec failure. Extract with errors.As().
type ProtocolError struct {
	err error
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.err.Error() }
func (e *ProtocolError) Unwrap() error { return e.err }

// NewProtocolError creates a ProtocolError.
func NewProtocolError(err error) *ProtocolError {
	return &ProtocolError{err: err}
}

// IOError wraps a transport failure. Extract with errors.As().
type IOError struct {
	err error
	Op  string
}

func (e *IOError) Error() string {
	if e.Op == "" {
		return "io error: " + e.err.Error()
	}
	return e.Op + ": " + e.err.Error()
}

func (e *IOError) Unwrap() error { return e.err }

// NewIOError creates an IOError for the named operation.
func NewIOError(op string, err error) *IOError {
	return &IOError{err: err, Op: op}
}

// StateError reports an operation on torn-down or misconfigured state.
// Extract with errors.As().
type StateError struct {
	err    error
	Object string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Object, e.err.Error())
}

func (e *StateError) Unwrap() error { return e.err }

// NewStateError creates a StateError for the named object.
func NewStateError(object string, err error) *StateError {
	return &StateError{err: err, Object: object}
}

// KindOf classifies err.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var brokerErr *BrokerError
	var protoErr *ProtocolError
	var stateErr *StateError
	var ioErr *IOError

	switch {
	case errors.As(err, &brokerErr):
		return KindBroker
	case errors.As(err, &protoErr),
		errors.Is(err, ErrUnknownDataType),
		errors.Is(err, ErrCacheMiss),
		errors.Is(err, ErrInvalidMagic),
		errors.Is(err, ErrFrameTooLarge):
		return KindProtocol
	case errors.As(err, &stateErr),
		errors.Is(err, ErrDisposed),
		errors.Is(err, ErrClientIDAlreadySet):
		return KindState
	case errors.As(err, &ioErr),
		errors.Is(err, ErrTransportClosed),
		errors.Is(err, ErrTransportFailed),
		errors.Is(err, ErrRequestTimeout),
		errors.Is(err, ErrInactivityTimeout):
		return KindIO
	default:
		return KindUnknown
	}
}
