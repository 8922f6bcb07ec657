package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitalvas/openwire"
)

// DefaultPriority is the JMS default message priority.
const DefaultPriority = 4

type producerOptions struct {
	persistent bool
	priority   byte
	timeToLive time.Duration
	windowSize int32
}

// ProducerOption configures a producer.
type ProducerOption func(*producerOptions)

func applyProducerOptions(opts ...ProducerOption) *producerOptions {
	o := &producerOptions{persistent: true, priority: DefaultPriority}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithPersistent selects persistent or non persistent delivery.
func WithPersistent(enabled bool) ProducerOption {
	return func(o *producerOptions) {
		o.persistent = enabled
	}
}

// WithPriority sets the message priority, 0 to 9.
func WithPriority(p byte) ProducerOption {
	return func(o *producerOptions) {
		o.priority = min(p, 9)
	}
}

// WithTimeToLive sets how long sent messages stay valid. Zero never
// expires.
func WithTimeToLive(d time.Duration) ProducerOption {
	return func(o *producerOptions) {
		o.timeToLive = d
	}
}

// WithWindowSize bounds the bytes of asynchronous sends the broker has not
// acknowledged with a ProducerAck. Send blocks while the window is full.
func WithWindowSize(n int32) ProducerOption {
	return func(o *producerOptions) {
		o.windowSize = n
	}
}

// Producer sends messages for a session.
type Producer struct {
	session *Session
	info    *openwire.ProducerInfo
	opts    *producerOptions
	window  *producerWindow

	sequence atomic.Int64
	closed   atomic.Bool
}

func newProducer(s *Session, info *openwire.ProducerInfo, opts *producerOptions) *Producer {
	return &Producer{
		session: s,
		info:    info,
		opts:    opts,
		window:  newProducerWindow(int64(opts.windowSize)),
	}
}

// ID returns the producer identifier.
func (p *Producer) ID() *openwire.ProducerID { return p.info.ProducerID }

// Destination returns the bound destination, or nil.
func (p *Producer) Destination() openwire.Destination { return p.info.Destination }

// IsClosed reports whether the producer has been closed or disposed.
func (p *Producer) IsClosed() bool { return p.closed.Load() }

func (p *Producer) checkClosed() error {
	if p.closed.Load() {
		return openwire.NewStateError("producer", ErrProducerClosed)
	}
	return p.session.checkClosed()
}

// Send sends msg to the producer's destination.
func (p *Producer) Send(ctx context.Context, msg openwire.MessageCommand) error {
	return p.SendTo(ctx, nil, msg)
}

// SendTo sends msg to dest. A producer bound to a destination only sends
// there. Persistent messages outside a transaction wait for the broker
// unless asynchronous sends are enabled.
func (p *Producer) SendTo(ctx context.Context, dest openwire.Destination, msg openwire.MessageCommand) error {
	if err := p.checkClosed(); err != nil {
		return err
	}

	switch {
	case dest == nil:
		dest = p.info.Destination
	case p.info.Destination != nil && !openwire.SameDestination(p.info.Destination, dest):
		return fmt.Errorf("%w: producer is bound to %s", ErrInvalidDestination, p.info.Destination)
	}
	if dest == nil {
		return ErrNoDestination
	}

	txID, err := p.session.transactionID(ctx)
	if err != nil {
		return err
	}

	m := msg.MessageBase()
	now := time.Now()
	m.ProducerID = p.info.ProducerID
	m.MessageID = &openwire.MessageID{
		ProducerID:         p.info.ProducerID,
		ProducerSequenceID: p.sequence.Add(1),
	}
	m.Destination = dest
	m.Persistent = p.opts.persistent
	m.Priority = p.opts.priority
	m.Timestamp = now.UnixMilli()
	m.Expiration = 0
	if p.opts.timeToLive > 0 {
		m.Expiration = now.Add(p.opts.timeToLive).UnixMilli()
	}
	m.TransactionID = txID

	conn := p.session.conn
	syncSend := conn.opts.alwaysSyncSend || (m.Persistent && txID == nil && !conn.opts.useAsyncSend)
	if syncSend {
		_, err = conn.syncRequest(ctx, msg)
	} else {
		size := int64(len(m.Content) + len(m.MarshalledProperties))
		if err := p.window.acquire(ctx, size); err != nil {
			return err
		}
		err = conn.oneway(ctx, msg)
	}
	if err != nil {
		return err
	}

	conn.metrics.MessageSent(dest)
	return nil
}

func (p *Producer) onProducerAck(ack *openwire.ProducerAck) {
	p.window.release(int64(ack.Size))
}

// Close removes the producer on the broker.
func (p *Producer) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.session.removeProducer(p.info.ProducerID)
	p.session.conn.removeProducer(p.info.ProducerID)
	p.window.close()

	return p.session.conn.oneway(ctx, p.info.RemoveCommand())
}

func (p *Producer) dispose() {
	p.closed.Store(true)
	p.session.removeProducer(p.info.ProducerID)
	p.session.conn.removeProducer(p.info.ProducerID)
	p.window.close()
}

// producerWindow tracks the bytes sent asynchronously and not yet
// acknowledged. A zero limit disables it.
type producerWindow struct {
	mu      sync.Mutex
	limit   int64
	used    int64
	closed  bool
	changed chan struct{}
}

func newProducerWindow(limit int64) *producerWindow {
	return &producerWindow{limit: limit, changed: make(chan struct{})}
}

// acquire waits until the window has room, then reserves size bytes. A
// single send larger than the window is let through when it is empty.
func (w *producerWindow) acquire(ctx context.Context, size int64) error {
	if w.limit <= 0 {
		return nil
	}
	for {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return openwire.NewStateError("producer", ErrProducerClosed)
		}
		if w.used == 0 || w.used+size <= w.limit {
			w.used += size
			w.mu.Unlock()
			return nil
		}
		changed := w.changed
		w.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *producerWindow) release(size int64) {
	if w.limit <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.used = max(w.used-size, 0)
	close(w.changed)
	w.changed = make(chan struct{})
}

func (w *producerWindow) inUse() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.used
}

func (w *producerWindow) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.changed)
		w.changed = make(chan struct{})
	}
}
