package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vitalvas/openwire"
)

// Negotiator exchanges WireFormatInfo with the peer when the chain starts
// and holds back every other outbound command until the wire format has
// been renegotiated.
type Negotiator struct {
	Filter

	timeout time.Duration
	logger  openwire.Logger

	ready     chan struct{}
	readyOnce sync.Once

	mu  sync.Mutex
	err error
}

// NewNegotiator wraps next. Senders wait at most timeout for the peer's
// WireFormatInfo.
func NewNegotiator(next Transport, timeout time.Duration, logger openwire.Logger) *Negotiator {
	if timeout <= 0 {
		timeout = DefaultNegotiateTimeout
	}
	if logger == nil {
		logger = openwire.NewNoOpLogger()
	}
	n := &Negotiator{
		timeout: timeout,
		logger:  logger,
		ready:   make(chan struct{}),
	}
	n.attach(next, n)
	return n
}

// Start starts the chain below and sends the preferred WireFormatInfo.
// It does not wait for the answer.
func (n *Negotiator) Start(ctx context.Context) error {
	if err := n.next.Start(ctx); err != nil {
		return err
	}
	info := n.WireFormat().PreferredWireFormatInfo()
	if err := n.next.Oneway(ctx, info); err != nil {
		n.markReady(err)
		return err
	}
	return nil
}

func (n *Negotiator) markReady(err error) {
	n.readyOnce.Do(func() {
		n.mu.Lock()
		n.err = err
		n.mu.Unlock()
		close(n.ready)
	})
}

// Negotiated is closed once the exchange completed or failed.
func (n *Negotiator) Negotiated() <-chan struct{} { return n.ready }

// WaitNegotiated blocks until the exchange completes, the negotiate timeout
// elapses or ctx is done.
func (n *Negotiator) WaitNegotiated(ctx context.Context) error {
	timer := time.NewTimer(n.timeout)
	defer timer.Stop()

	select {
	case <-n.ready:
		n.mu.Lock()
		defer n.mu.Unlock()
		return n.err
	case <-timer.C:
		return openwire.NewIOError("negotiate "+n.RemoteAddress(), ErrNegotiationTimeout)
	case <-ctx.Done():
		return openwire.NewIOError("negotiate "+n.RemoteAddress(), ctx.Err())
	}
}

// Oneway sends cmd once negotiation has completed. WireFormatInfo itself
// is never held back.
func (n *Negotiator) Oneway(ctx context.Context, cmd openwire.Command) error {
	if _, ok := cmd.(*openwire.WireFormatInfo); !ok {
		if err := n.WaitNegotiated(ctx); err != nil {
			return err
		}
	}
	return n.next.Oneway(ctx, cmd)
}

// OnCommand applies the peer's WireFormatInfo and passes every command up.
func (n *Negotiator) OnCommand(cmd openwire.Command) {
	if info, ok := cmd.(*openwire.WireFormatInfo); ok {
		if !info.Valid() {
			n.OnException(openwire.NewProtocolError(fmt.Errorf("%w: peer sent an invalid WireFormatInfo", openwire.ErrInvalidMagic)))
			return
		}
		if err := n.WireFormat().Renegotiate(info); err != nil {
			n.OnException(err)
			return
		}
		n.logger.Debug("wire format negotiated", openwire.LogFields{
			openwire.LogFieldRemoteAddr: n.RemoteAddress(),
			"version":                   n.WireFormat().Version(),
		})
		n.markReady(nil)
	}
	n.fireCommand(cmd)
}

// OnException releases waiting senders with err and passes it up.
func (n *Negotiator) OnException(err error) {
	n.markReady(err)
	n.fireException(err)
}

// Close releases waiting senders and closes the chain below.
func (n *Negotiator) Close() error {
	n.markReady(openwire.NewIOError("negotiate", openwire.ErrTransportClosed))
	return n.next.Close()
}
