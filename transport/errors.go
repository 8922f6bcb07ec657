package transport

import "errors"

// Sentinel errors for transport setup and use - check with errors.Is().
var (
	// ErrUnsupported is returned by links that cannot perform an operation,
	// such as Request below the response correlator.
	ErrUnsupported = errors.New("transport: operation not supported")

	// ErrInvalidURI is returned for a malformed connection URI.
	ErrInvalidURI = errors.New("transport: invalid uri")

	// ErrUnknownScheme is returned for a URI scheme with no registered factory.
	ErrUnknownScheme = errors.New("transport: unknown scheme")

	// ErrUndefinedVariable is returned when a ${NAME} reference has no value.
	ErrUndefinedVariable = errors.New("transport: undefined environment variable")

	// ErrNegotiationTimeout is returned when the peer never sends its
	// WireFormatInfo.
	ErrNegotiationTimeout = errors.New("transport: wire format negotiation timed out")

	// ErrNotStarted is returned when sending on a transport before Start.
	ErrNotStarted = errors.New("transport: not started")

	// ErrNoTransports is returned when a failover transport has no
	// reachable component.
	ErrNoTransports = errors.New("transport: no transports available")

	// ErrFailoverTimeout is returned when a send waited longer than the
	// failover timeout for a connection.
	ErrFailoverTimeout = errors.New("transport: failover timeout reached")

	// ErrInjectedFailure is returned by mock operations configured to fail.
	ErrInjectedFailure = errors.New("transport: injected failure")
)
