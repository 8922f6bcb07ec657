package client

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitalvas/openwire"
)

// poisonCauseClass is the exception class reported with poison acks.
const poisonCauseClass = "javax.jms.JMSException"

type consumerOptions struct {
	selector         string
	subscriptionName string
	noLocal          bool
	browser          bool
	exclusive        bool
	retroactive      bool
	priority         byte
	prefetch         int32
}

// ConsumerOption configures a consumer.
type ConsumerOption func(*consumerOptions)

func applyConsumerOptions(opts ...ConsumerOption) *consumerOptions {
	o := &consumerOptions{prefetch: -1}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithSelector filters messages with a broker side selector expression.
func WithSelector(selector string) ConsumerOption {
	return func(o *consumerOptions) {
		o.selector = selector
	}
}

// WithSubscriptionName makes a topic subscription durable.
func WithSubscriptionName(name string) ConsumerOption {
	return func(o *consumerOptions) {
		o.subscriptionName = name
	}
}

// WithNoLocal skips messages published by the same connection.
func WithNoLocal(enabled bool) ConsumerOption {
	return func(o *consumerOptions) {
		o.noLocal = enabled
	}
}

// WithBrowser makes a queue consumer browse without consuming.
func WithBrowser(enabled bool) ConsumerOption {
	return func(o *consumerOptions) {
		o.browser = enabled
	}
}

// WithExclusive asks for an exclusive queue consumer.
func WithExclusive(enabled bool) ConsumerOption {
	return func(o *consumerOptions) {
		o.exclusive = enabled
	}
}

// WithRetroactive asks a topic for recently published messages.
func WithRetroactive(enabled bool) ConsumerOption {
	return func(o *consumerOptions) {
		o.retroactive = enabled
	}
}

// WithConsumerPriority sets the dispatch priority of the consumer.
func WithConsumerPriority(p byte) ConsumerOption {
	return func(o *consumerOptions) {
		o.priority = p
	}
}

// WithPrefetch overrides the prefetch size. Zero makes the consumer pull
// each message.
func WithPrefetch(n int32) ConsumerOption {
	return func(o *consumerOptions) {
		o.prefetch = n
	}
}

// applyDestinationOptions applies consumer.* options given in a
// destination name, e.g. "queue?consumer.prefetchSize=10".
func applyDestinationOptions(info *openwire.ConsumerInfo, opts map[string]string) {
	for k, v := range opts {
		switch k {
		case "consumer.prefetchSize":
			if n, err := strconv.ParseInt(v, 10, 32); err == nil {
				info.PrefetchSize = int32(n)
			}
		case "consumer.maximumPendingMessageLimit":
			if n, err := strconv.ParseInt(v, 10, 32); err == nil {
				info.MaximumPendingMessageLimit = int32(n)
			}
		case "consumer.noLocal":
			info.NoLocal = v == "true"
		case "consumer.dispatchAsync":
			info.DispatchAsync = v == "true"
		case "consumer.retroactive":
			info.Retroactive = v == "true"
		case "consumer.exclusive":
			info.Exclusive = v == "true"
		case "consumer.selector":
			info.Selector = v
		case "consumer.priority":
			if n, err := strconv.ParseUint(v, 10, 8); err == nil {
				info.Priority = byte(n)
			}
		}
	}
}

// MessageListener receives messages asynchronously. It runs on the
// session's dispatch goroutine, one message at a time.
type MessageListener func(msg openwire.MessageCommand)

// Consumer receives the messages the broker dispatches to one
// subscription.
type Consumer struct {
	session  *Session
	info     *openwire.ConsumerInfo
	channel  *dispatchChannel
	listener atomic.Pointer[MessageListener]

	mu          sync.Mutex
	delivered   []*openwire.MessageDispatch
	unackedSeen int

	lastDelivered atomic.Int64
	closed        atomic.Bool
}

func newConsumer(s *Session, info *openwire.ConsumerInfo) *Consumer {
	c := &Consumer{
		session: s,
		info:    info,
		channel: newDispatchChannel(),
	}
	c.lastDelivered.Store(-1)
	return c
}

// ID returns the consumer identifier.
func (c *Consumer) ID() *openwire.ConsumerID { return c.info.ConsumerID }

// Destination returns the destination the consumer reads from.
func (c *Consumer) Destination() openwire.Destination { return c.info.Destination }

// PrefetchSize returns the current prefetch size.
func (c *Consumer) PrefetchSize() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info.PrefetchSize
}

// Pending returns how many dispatched messages wait for Receive.
func (c *Consumer) Pending() int { return c.channel.size() }

// IsClosed reports whether the consumer has been closed or disposed.
func (c *Consumer) IsClosed() bool { return c.closed.Load() }

func (c *Consumer) checkClosed() error {
	if c.closed.Load() {
		return openwire.NewStateError("consumer", ErrConsumerClosed)
	}
	return c.session.checkClosed()
}

func (c *Consumer) dispatch(md *openwire.MessageDispatch) {
	if c.closed.Load() {
		return
	}
	c.channel.enqueue(md)
}

// Receive waits for the next message until ctx is done. A consumer with
// prefetch zero pulls each message; when the pull times out on the broker,
// Receive returns ErrReceiveTimeout. Messages arrive only while the
// connection is started.
func (c *Consumer) Receive(ctx context.Context) (openwire.MessageCommand, error) {
	for {
		if err := c.checkClosed(); err != nil {
			return nil, err
		}
		if c.listener.Load() != nil {
			return nil, ErrListenerSet
		}
		if err := c.sendPullRequest(ctx); err != nil {
			return nil, err
		}

		md, err := c.channel.dequeue(ctx)
		if err != nil {
			return nil, err
		}
		if md.Message == nil {
			return nil, ErrReceiveTimeout
		}

		if md.Message.MessageBase().IsExpired(time.Now()) {
			c.ackSingle(ctx, md, openwire.AckExpired)
			continue
		}
		if err := c.afterDelivery(ctx, md); err != nil {
			return nil, err
		}
		return md.Message, nil
	}
}

// SetMessageListener delivers every message to l on the session's dispatch
// goroutine instead of through Receive. Messages already queued go to l
// first. A nil l switches back to Receive.
func (c *Consumer) SetMessageListener(l MessageListener) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if l == nil {
		c.listener.Store(nil)
		c.channel.setNotify(nil)
		return nil
	}
	if c.PrefetchSize() == 0 {
		return ErrListenerPrefetch
	}

	c.listener.Store(&l)
	c.channel.setNotify(c.session.wakeup)
	c.session.startDispatcher()
	c.session.wakeup()
	return nil
}

// dispatchNext hands the head of the channel to the listener. It reports
// whether a dispatch was consumed.
func (c *Consumer) dispatchNext() bool {
	l := c.listener.Load()
	if l == nil {
		return false
	}
	md := c.channel.dequeueNoWait()
	if md == nil {
		return false
	}
	if md.Message == nil {
		return true
	}

	ctx := context.Background()
	if md.Message.MessageBase().IsExpired(time.Now()) {
		c.ackSingle(ctx, md, openwire.AckExpired)
		return true
	}
	if err := c.afterDelivery(ctx, md); err != nil {
		c.logWarn("failed to acknowledge message", err)
		c.session.conn.emit(&InternalErrorEvent{Cause: err})
	}
	(*l)(md.Message)
	return true
}

// sendPullRequest asks the broker for one message when the consumer does
// not prefetch and nothing is queued. The ctx deadline becomes the broker
// side timeout.
func (c *Consumer) sendPullRequest(ctx context.Context) error {
	if c.PrefetchSize() != 0 || c.channel.size() > 0 {
		return nil
	}

	var timeout int64
	if deadline, ok := ctx.Deadline(); ok {
		timeout = max(time.Until(deadline).Milliseconds(), 1)
	}
	return c.session.conn.oneway(ctx, &openwire.MessagePull{
		ConsumerID:  c.info.ConsumerID,
		Destination: c.info.Destination,
		Timeout:     timeout,
	})
}

func (c *Consumer) afterDelivery(ctx context.Context, md *openwire.MessageDispatch) error {
	msg := md.Message.MessageBase()
	if msg.MessageID != nil {
		c.lastDelivered.Store(msg.MessageID.BrokerSequenceID)
		c.session.delivered(msg.MessageID.BrokerSequenceID)
	}
	c.session.conn.metrics.MessageDelivered(md.Destination)

	switch c.session.ackMode {
	case AutoAcknowledge, DupsOkAcknowledge:
		return c.session.conn.oneway(ctx, c.newAck(openwire.AckStandard, md, md, 1))
	case SessionTransacted:
		if _, err := c.session.transactionID(ctx); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.delivered = append(c.delivered, md)
	c.unackedSeen++
	var ack *openwire.MessageAck
	if prefetch := c.info.PrefetchSize; prefetch > 0 && c.unackedSeen >= (int(prefetch)+1)/2 {
		first := c.delivered[len(c.delivered)-c.unackedSeen]
		ack = c.newAck(openwire.AckDelivered, first, md, c.unackedSeen)
		c.unackedSeen = 0
	}
	c.mu.Unlock()

	// Delivered acks reopen the prefetch window without consuming.
	if ack != nil {
		return c.session.conn.oneway(ctx, ack)
	}
	return nil
}

func (c *Consumer) newAck(ackType byte, first, last *openwire.MessageDispatch, count int) *openwire.MessageAck {
	return &openwire.MessageAck{
		Destination:    last.Destination,
		ConsumerID:     c.info.ConsumerID,
		AckType:        ackType,
		FirstMessageID: first.Message.MessageBase().MessageID,
		LastMessageID:  last.Message.MessageBase().MessageID,
		MessageCount:   int32(count),
	}
}

func (c *Consumer) ackSingle(ctx context.Context, md *openwire.MessageDispatch, ackType byte) {
	if err := c.session.conn.oneway(ctx, c.newAck(ackType, md, md, 1)); err != nil {
		c.logWarn("failed to acknowledge message", err)
	}
}

// Acknowledge acknowledges every message this consumer delivered. In
// ClientAcknowledge mode Session.Acknowledge covers all consumers.
func (c *Consumer) Acknowledge(ctx context.Context) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if c.session.ackMode != ClientAcknowledge {
		return ErrInvalidAckMode
	}
	return c.ackDelivered(ctx, openwire.AckStandard, nil)
}

// AcknowledgeMessage acknowledges one delivered message. Only valid in
// IndividualAcknowledge mode.
func (c *Consumer) AcknowledgeMessage(ctx context.Context, msg openwire.MessageCommand) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if c.session.ackMode != IndividualAcknowledge {
		return ErrInvalidAckMode
	}

	base := msg.MessageBase()
	c.mu.Lock()
	var found *openwire.MessageDispatch
	for i, md := range c.delivered {
		if md.Message.MessageBase() == base {
			found = md
			c.delivered = append(c.delivered[:i], c.delivered[i+1:]...)
			c.unackedSeen = min(c.unackedSeen, len(c.delivered))
			break
		}
	}
	c.mu.Unlock()
	if found == nil {
		return nil
	}
	return c.session.conn.oneway(ctx, c.newAck(openwire.AckIndividual, found, found, 1))
}

// ackDelivered acknowledges the delivered list as one range, within txID
// when given.
func (c *Consumer) ackDelivered(ctx context.Context, ackType byte, txID openwire.TransactionID) error {
	c.mu.Lock()
	if len(c.delivered) == 0 {
		c.mu.Unlock()
		return nil
	}
	delivered := c.delivered
	c.delivered = nil
	c.unackedSeen = 0
	c.mu.Unlock()

	ack := c.newAck(ackType, delivered[0], delivered[len(delivered)-1], len(delivered))
	ack.TransactionID = txID
	return c.session.conn.oneway(ctx, ack)
}

// ackTransacted acknowledges the delivered list within txID. The list is
// kept until the transaction completes so a failed commit can redeliver.
func (c *Consumer) ackTransacted(ctx context.Context, txID openwire.TransactionID) error {
	c.mu.Lock()
	if len(c.delivered) == 0 {
		c.mu.Unlock()
		return nil
	}
	ack := c.newAck(openwire.AckStandard, c.delivered[0], c.delivered[len(c.delivered)-1], len(c.delivered))
	c.unackedSeen = 0
	c.mu.Unlock()

	ack.TransactionID = txID
	return c.session.conn.oneway(ctx, ack)
}

func (c *Consumer) commitDelivered() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered = nil
	c.unackedSeen = 0
}

func (c *Consumer) numDelivered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.delivered)
}

// rollback puts every delivered message back at the head of the channel
// in its original order. Messages past the redelivery limit are
// acknowledged as poison instead.
func (c *Consumer) rollback() {
	c.mu.Lock()
	delivered := c.delivered
	c.delivered = nil
	c.unackedSeen = 0
	c.mu.Unlock()

	conn := c.session.conn
	limit := conn.opts.maxRedeliveries
	for i := len(delivered) - 1; i >= 0; i-- {
		md := delivered[i]
		md.RedeliveryCounter++
		md.Message.MessageBase().RedeliveryCounter = md.RedeliveryCounter

		if limit >= 0 && int(md.RedeliveryCounter) > limit {
			ack := c.newAck(openwire.AckPoison, md, md, 1)
			ack.PoisonCause = openwire.NewBrokerError(poisonCauseClass,
				"exceeded redelivery limit of "+strconv.Itoa(limit))
			if err := conn.oneway(context.Background(), ack); err != nil {
				c.logWarn("failed to send poison ack", err)
			}
			conn.metrics.MessagePoisoned()
			continue
		}
		c.channel.enqueueFirst(md)
		conn.metrics.MessageRedelivered()
	}
}

// clearMessagesInProgress drops queued and delivered but unacknowledged
// messages after a transport interruption. It reports whether delivered
// messages were lost.
func (c *Consumer) clearMessagesInProgress() bool {
	c.channel.clear()
	c.mu.Lock()
	defer c.mu.Unlock()
	lost := len(c.delivered) > 0
	c.delivered = nil
	c.unackedSeen = 0
	return lost
}

func (c *Consumer) setPrefetchSize(n int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.info.PrefetchSize = n
}

func (c *Consumer) start() { c.channel.start() }
func (c *Consumer) stop()  { c.channel.stop() }

// Close removes the consumer on the broker. In a transacted session the
// messages it delivered are acknowledged within the open transaction
// first.
func (c *Consumer) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	conn := c.session.conn
	conn.removeDispatcher(c.info.ConsumerID)
	c.session.removeConsumer(c.info.ConsumerID)
	c.channel.close(openwire.NewStateError("consumer", ErrConsumerClosed))

	if c.session.IsTransacted() && c.numDelivered() > 0 {
		txID, err := c.session.transactionID(ctx)
		if err == nil {
			err = c.ackDelivered(ctx, openwire.AckStandard, txID)
		}
		if err != nil {
			c.logWarn("failed to acknowledge delivered messages on close", err)
		}
	}

	remove := c.info.RemoveCommand()
	remove.LastDeliveredSequenceID = c.lastDelivered.Load()
	return conn.oneway(ctx, remove)
}

// dispose tears the consumer down locally. Blocked receivers get err.
func (c *Consumer) dispose(err error) {
	c.closed.Store(true)
	c.session.conn.removeDispatcher(c.info.ConsumerID)
	c.session.removeConsumer(c.info.ConsumerID)
	c.channel.close(err)
}

// fail ends blocked receivers with err without forgetting the consumer.
func (c *Consumer) fail(err error) {
	c.channel.close(err)
}

func (c *Consumer) logWarn(msg string, err error) {
	c.session.conn.logger.Warn(msg, openwire.LogFields{
		openwire.LogFieldConsumerID:  c.info.ConsumerID.String(),
		openwire.LogFieldDestination: c.info.Destination.QualifiedName(),
		openwire.LogFieldError:       err.Error(),
	})
}
