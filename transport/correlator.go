package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/vitalvas/openwire"
)

// FutureResponse is the pending result of a request.
type FutureResponse struct {
	done     chan struct{}
	once     sync.Once
	resp     openwire.Responder
	err      error
	callback func(openwire.Responder, error)
}

func newFutureResponse(callback func(openwire.Responder, error)) *FutureResponse {
	return &FutureResponse{
		done:     make(chan struct{}),
		callback: callback,
	}
}

func (f *FutureResponse) complete(resp openwire.Responder, err error) {
	f.once.Do(func() {
		f.resp = resp
		f.err = err
		close(f.done)
		if f.callback != nil {
			f.callback(resp, err)
		}
	})
}

// Done is closed once the response or a failure is available.
func (f *FutureResponse) Done() <-chan struct{} { return f.done }

// Result returns the outcome. It is only meaningful after Done is closed.
func (f *FutureResponse) Result() (openwire.Responder, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	default:
		return nil, nil
	}
}

// Wait blocks until the response arrives or ctx is done.
func (f *FutureResponse) Wait(ctx context.Context) (openwire.Responder, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResponseCorrelator numbers outbound commands and matches inbound
// responses to the requests waiting for them.
type ResponseCorrelator struct {
	Filter

	logger  openwire.Logger
	metrics *openwire.ClientMetrics

	nextCommandID atomic.Int32
	pending       *xsync.MapOf[int32, *FutureResponse]
	closed        atomic.Bool

	// mu orders registrations against dispose so no waiter is added after
	// the pending map has been drained.
	mu         sync.Mutex
	priorError error
}

// CorrelatorOption configures a ResponseCorrelator.
type CorrelatorOption func(*ResponseCorrelator)

// WithCorrelatorLogger sets the logger.
func WithCorrelatorLogger(l openwire.Logger) CorrelatorOption {
	return func(c *ResponseCorrelator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCorrelatorMetrics sets the metrics collector.
func WithCorrelatorMetrics(m openwire.Metrics) CorrelatorOption {
	return func(c *ResponseCorrelator) {
		if m != nil {
			c.metrics = openwire.NewClientMetrics(m)
		}
	}
}

// NewResponseCorrelator wraps next. Command ids start at 1.
func NewResponseCorrelator(next Transport, opts ...CorrelatorOption) *ResponseCorrelator {
	c := &ResponseCorrelator{
		logger:  openwire.NewNoOpLogger(),
		pending: xsync.NewMapOf[int32, *FutureResponse](),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.nextCommandID.Store(1)
	c.attach(next, c)
	return c
}

func (c *ResponseCorrelator) nextID() int32 {
	return c.nextCommandID.Add(1) - 1
}

// Pending returns the number of requests waiting for a response.
func (c *ResponseCorrelator) Pending() int { return c.pending.Size() }

// Oneway assigns the next command id and sends cmd without expecting a
// response.
func (c *ResponseCorrelator) Oneway(ctx context.Context, cmd openwire.Command) error {
	if c.closed.Load() {
		return openwire.NewIOError("send", openwire.ErrTransportClosed)
	}
	base := cmd.Base()
	base.CommandID = c.nextID()
	base.ResponseRequired = false
	return c.next.Oneway(ctx, cmd)
}

// AsyncRequest sends cmd and returns its pending response. callback, when
// not nil, runs once with the outcome on the goroutine that completes it.
func (c *ResponseCorrelator) AsyncRequest(ctx context.Context, cmd openwire.Command, callback func(openwire.Responder, error)) (*FutureResponse, error) {
	if c.closed.Load() {
		return nil, openwire.NewIOError("request", openwire.ErrTransportClosed)
	}

	base := cmd.Base()
	base.CommandID = c.nextID()
	base.ResponseRequired = true

	future := newFutureResponse(callback)

	c.mu.Lock()
	prior := c.priorError
	if prior == nil {
		c.pending.Store(base.CommandID, future)
	}
	c.mu.Unlock()

	if prior != nil {
		future.complete(nil, prior)
		return nil, prior
	}

	if err := c.next.Oneway(ctx, cmd); err != nil {
		c.pending.Delete(base.CommandID)
		return nil, err
	}
	return future, nil
}

// Request sends cmd and waits for the correlated response until ctx is
// done. On timeout the pending entry is removed, so a late response is
// dropped.
func (c *ResponseCorrelator) Request(ctx context.Context, cmd openwire.Command) (openwire.Responder, error) {
	start := time.Now()
	future, err := c.AsyncRequest(ctx, cmd, nil)
	if err != nil {
		return nil, err
	}
	c.metrics.RequestStarted()

	select {
	case <-future.Done():
		c.metrics.RequestFinished(time.Since(start))
		return future.Result()
	case <-ctx.Done():
	}

	id := cmd.Base().CommandID
	if _, ok := c.pending.LoadAndDelete(id); !ok {
		// Completed while the deadline fired.
		c.metrics.RequestFinished(time.Since(start))
		<-future.Done()
		return future.Result()
	}

	c.metrics.RequestTimedOut()
	c.logger.Debug("request timed out", openwire.LogFields{
		openwire.LogFieldCommandType: openwire.TypeName(cmd.DataStructureType()),
		openwire.LogFieldCommandID:   id,
		openwire.LogFieldDuration:    time.Since(start).String(),
	})
	return nil, openwire.NewIOError("request "+openwire.TypeName(cmd.DataStructureType()),
		fmt.Errorf("%w: %w", openwire.ErrRequestTimeout, ctx.Err()))
}

// OnCommand completes the waiter of a response and passes every other
// command up the chain.
func (c *ResponseCorrelator) OnCommand(cmd openwire.Command) {
	resp, ok := cmd.(openwire.Responder)
	if !ok {
		c.fireCommand(cmd)
		return
	}

	correlationID := resp.ResponseBase().CorrelationID
	future, ok := c.pending.LoadAndDelete(correlationID)
	if !ok {
		c.logger.Debug("dropping uncorrelated response", openwire.LogFields{
			openwire.LogFieldCorrelationID: correlationID,
			openwire.LogFieldCommandType:   openwire.TypeName(cmd.DataStructureType()),
		})
		return
	}
	future.complete(resp, nil)
}

// OnException fails every waiter with err and passes it up.
func (c *ResponseCorrelator) OnException(err error) {
	c.dispose(err)
	c.fireException(err)
}

// Close fails every waiter and closes the chain below.
func (c *ResponseCorrelator) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.dispose(openwire.NewIOError("request", openwire.ErrTransportClosed))
	return c.next.Close()
}

func (c *ResponseCorrelator) IsClosed() bool {
	return c.closed.Load() || c.next.IsClosed()
}

// dispose records the first error and releases every pending request
// with it.
func (c *ResponseCorrelator) dispose(err error) {
	c.mu.Lock()
	if c.priorError != nil {
		c.mu.Unlock()
		return
	}
	c.priorError = err

	var waiters []*FutureResponse
	c.pending.Range(func(id int32, f *FutureResponse) bool {
		waiters = append(waiters, f)
		c.pending.Delete(id)
		return true
	})
	c.mu.Unlock()

	for _, f := range waiters {
		f.complete(nil, err)
	}
}
