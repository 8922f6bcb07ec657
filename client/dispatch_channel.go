package client

import (
	"context"
	"sync"

	"github.com/vitalvas/openwire"
)

// dispatchChannel queues MessageDispatch commands for one consumer. Enqueue
// never blocks, so the transport goroutine is never held up by a slow
// consumer; prefetch bounds how much the broker sends ahead.
type dispatchChannel struct {
	mu      sync.Mutex
	queue   []*openwire.MessageDispatch
	running bool
	closed  bool
	err     error
	changed chan struct{}

	// notify runs after a dispatch becomes available, outside mu.
	notify func()
}

func newDispatchChannel() *dispatchChannel {
	return &dispatchChannel{changed: make(chan struct{})}
}

// notifyLocked wakes every waiter.
func (c *dispatchChannel) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// setNotify installs fn as the availability callback; nil removes it.
func (c *dispatchChannel) setNotify(fn func()) {
	c.mu.Lock()
	c.notify = fn
	c.mu.Unlock()
}

func (c *dispatchChannel) enqueue(md *openwire.MessageDispatch) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, md)
	c.notifyLocked()
	fn := c.notify
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// enqueueFirst puts md at the head, ahead of everything queued.
func (c *dispatchChannel) enqueueFirst(md *openwire.MessageDispatch) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.queue = append([]*openwire.MessageDispatch{md}, c.queue...)
	c.notifyLocked()
	fn := c.notify
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// dequeue waits until the channel is running and holds a dispatch.
func (c *dispatchChannel) dequeue(ctx context.Context) (*openwire.MessageDispatch, error) {
	for {
		c.mu.Lock()
		if c.closed {
			err := c.err
			c.mu.Unlock()
			return nil, err
		}
		if c.running && len(c.queue) > 0 {
			md := c.queue[0]
			c.queue[0] = nil
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return md, nil
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// dequeueNoWait returns the head dispatch or nil.
func (c *dispatchChannel) dequeueNoWait() *openwire.MessageDispatch {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.running || len(c.queue) == 0 {
		return nil
	}
	md := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return md
}

func (c *dispatchChannel) start() {
	c.mu.Lock()
	if c.running || c.closed {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.notifyLocked()
	fn := c.notify
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *dispatchChannel) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.running = false
		c.notifyLocked()
	}
}

// close drops queued dispatches; waiters return err.
func (c *dispatchChannel) close(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.running = false
	c.err = err
	c.queue = nil
	c.notifyLocked()
}

// clear removes and returns every queued dispatch.
func (c *dispatchChannel) clear() []*openwire.MessageDispatch {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.queue
	c.queue = nil
	return out
}

func (c *dispatchChannel) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *dispatchChannel) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *dispatchChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
