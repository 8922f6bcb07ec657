// Package transport moves OpenWire commands between a client and a broker.
//
// A transport is a chain. The innermost link owns the network connection
// and each filter above it adds one behavior: inactivity monitoring,
// command tracing, wire format negotiation, response correlation or
// failover. Inbound commands travel up the chain through Listener
// callbacks; outbound commands travel down through Oneway and Request.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/vitalvas/openwire"
)

// Transport is one link of a transport chain.
type Transport interface {
	// Start connects the chain. Commands may flow once it returns.
	Start(ctx context.Context) error

	// Stop halts background work without releasing the connection.
	Stop() error

	// Close releases the connection and fails every pending request.
	Close() error

	// Oneway sends cmd without waiting for a response.
	Oneway(ctx context.Context, cmd openwire.Command) error

	// Request sends cmd and waits for the correlated response until ctx
	// is done.
	Request(ctx context.Context, cmd openwire.Command) (openwire.Responder, error)

	// SetListener installs the receiver of inbound commands and events.
	SetListener(l Listener)

	// Listener returns the installed receiver.
	Listener() Listener

	// WireFormat returns the codec of the connection.
	WireFormat() *openwire.WireFormat

	// RemoteAddress returns the peer address, or "" when not connected.
	RemoteAddress() string

	IsConnected() bool
	IsClosed() bool
	IsFaultTolerant() bool

	// Next returns the wrapped transport, or nil for the innermost link.
	Next() Transport
}

// Listener receives what a transport reads and reports.
type Listener interface {
	OnCommand(cmd openwire.Command)
	OnException(err error)
	TransportInterrupted()
	TransportResumed()
}

// ListenerFuncs adapts functions to the Listener interface. Nil fields are
// ignored.
type ListenerFuncs struct {
	Command     func(cmd openwire.Command)
	Exception   func(err error)
	Interrupted func()
	Resumed     func()
}

// OnCommand calls Command.
func (f ListenerFuncs) OnCommand(cmd openwire.Command) {
	if f.Command != nil {
		f.Command(cmd)
	}
}

// OnException calls Exception.
func (f ListenerFuncs) OnException(err error) {
	if f.Exception != nil {
		f.Exception(err)
	}
}

// TransportInterrupted calls Interrupted.
func (f ListenerFuncs) TransportInterrupted() {
	if f.Interrupted != nil {
		f.Interrupted()
	}
}

// TransportResumed calls Resumed.
func (f ListenerFuncs) TransportResumed() {
	if f.Resumed != nil {
		f.Resumed()
	}
}

// listenerHolder stores the listener of a link and fires its callbacks.
type listenerHolder struct {
	mu       sync.RWMutex
	listener Listener
}

// SetListener installs l.
func (h *listenerHolder) SetListener(l Listener) {
	h.mu.Lock()
	h.listener = l
	h.mu.Unlock()
}

// Listener returns the installed listener.
func (h *listenerHolder) Listener() Listener {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.listener
}

func (h *listenerHolder) fireCommand(cmd openwire.Command) {
	if l := h.Listener(); l != nil {
		l.OnCommand(cmd)
	}
}

func (h *listenerHolder) fireException(err error) {
	if l := h.Listener(); l != nil {
		l.OnException(err)
	}
}

func (h *listenerHolder) fireInterrupted() {
	if l := h.Listener(); l != nil {
		l.TransportInterrupted()
	}
}

func (h *listenerHolder) fireResumed() {
	if l := h.Listener(); l != nil {
		l.TransportResumed()
	}
}

// Filter is the base of every link that wraps another transport. It
// forwards calls down and events up; embedding types override what they
// intercept.
type Filter struct {
	listenerHolder
	next Transport
}

// attach wraps next and registers self as its listener.
func (f *Filter) attach(next Transport, self Listener) {
	f.next = next
	next.SetListener(self)
}

// Start starts the wrapped transport.
func (f *Filter) Start(ctx context.Context) error { return f.next.Start(ctx) }

// Stop stops the wrapped transport.
func (f *Filter) Stop() error { return f.next.Stop() }

// Close closes the wrapped transport.
func (f *Filter) Close() error { return f.next.Close() }

// Oneway sends through the wrapped transport.
func (f *Filter) Oneway(ctx context.Context, cmd openwire.Command) error {
	return f.next.Oneway(ctx, cmd)
}

// Request sends through the wrapped transport.
func (f *Filter) Request(ctx context.Context, cmd openwire.Command) (openwire.Responder, error) {
	return f.next.Request(ctx, cmd)
}

func (f *Filter) WireFormat() *openwire.WireFormat { return f.next.WireFormat() }
func (f *Filter) RemoteAddress() string            { return f.next.RemoteAddress() }
func (f *Filter) IsConnected() bool                { return f.next.IsConnected() }
func (f *Filter) IsClosed() bool                   { return f.next.IsClosed() }
func (f *Filter) IsFaultTolerant() bool            { return f.next.IsFaultTolerant() }
func (f *Filter) Next() Transport                  { return f.next }

// OnCommand passes cmd up the chain.
func (f *Filter) OnCommand(cmd openwire.Command) { f.fireCommand(cmd) }

// OnException passes err up the chain.
func (f *Filter) OnException(err error) { f.fireException(err) }

// TransportInterrupted passes the event up the chain.
func (f *Filter) TransportInterrupted() { f.fireInterrupted() }

// TransportResumed passes the event up the chain.
func (f *Filter) TransportResumed() { f.fireResumed() }

// Narrow walks the chain starting at t and returns the first link of type
// T.
func Narrow[T Transport](t Transport) (T, bool) {
	for t != nil {
		if v, ok := t.(T); ok {
			return v, true
		}
		t = t.Next()
	}
	var zero T
	return zero, false
}

// RequestWithTimeout sends cmd through t and waits at most d for the
// response.
func RequestWithTimeout(t Transport, cmd openwire.Command, d time.Duration) (openwire.Responder, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return t.Request(ctx, cmd)
}

// State is the lifecycle position of a connection-owning transport.
type State int32

const (
	StateCreated State = iota
	StateConnecting
	StateConnected
	StateFaulted
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFaulted:
		return "faulted"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
