package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/vitalvas/openwire"
	"github.com/vitalvas/openwire/task"
)

// AckMode selects how a session acknowledges consumed messages.
type AckMode int

const (
	// AutoAcknowledge acknowledges each message when Receive returns it.
	AutoAcknowledge AckMode = iota
	// DupsOkAcknowledge behaves like AutoAcknowledge.
	DupsOkAcknowledge
	// ClientAcknowledge acknowledges everything delivered so far on
	// Acknowledge.
	ClientAcknowledge
	// IndividualAcknowledge acknowledges single messages.
	IndividualAcknowledge
	// SessionTransacted acknowledges and sends within local transactions.
	SessionTransacted
)

func (m AckMode) String() string {
	switch m {
	case AutoAcknowledge:
		return "auto"
	case DupsOkAcknowledge:
		return "dups_ok"
	case ClientAcknowledge:
		return "client"
	case IndividualAcknowledge:
		return "individual"
	case SessionTransacted:
		return "transacted"
	default:
		return "unknown"
	}
}

// Session groups consumers and producers that share an acknowledge mode
// and, for transacted sessions, a transaction.
type Session struct {
	conn    *Connection
	info    *openwire.SessionInfo
	ackMode AckMode

	consumerIDs atomic.Int64
	producerIDs atomic.Int64
	consumers   *xsync.MapOf[int64, *Consumer]
	producers   *xsync.MapOf[int64, *Producer]

	closed        atomic.Bool
	lastDelivered atomic.Int64

	txMu         sync.Mutex
	txID         *openwire.LocalTransactionID
	rollbackOnly bool

	// dispatcher feeds the message listeners of the session's consumers.
	// It is created by the first SetMessageListener.
	dispatchMu sync.Mutex
	dispatcher *task.Runner
}

func newSession(conn *Connection, info *openwire.SessionInfo, mode AckMode) *Session {
	s := &Session{
		conn:      conn,
		info:      info,
		ackMode:   mode,
		consumers: xsync.NewMapOf[int64, *Consumer](),
		producers: xsync.NewMapOf[int64, *Producer](),
	}
	s.lastDelivered.Store(-1)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() *openwire.SessionID { return s.info.SessionID }

// AckMode returns the acknowledge mode.
func (s *Session) AckMode() AckMode { return s.ackMode }

// IsTransacted reports whether the session uses local transactions.
func (s *Session) IsTransacted() bool { return s.ackMode == SessionTransacted }

// IsClosed reports whether the session has been closed or disposed.
func (s *Session) IsClosed() bool { return s.closed.Load() }

func (s *Session) checkClosed() error {
	if s.closed.Load() {
		return openwire.NewStateError("session", ErrSessionClosed)
	}
	return s.conn.checkClosedOrFailed()
}

// CreateConsumer subscribes to dest. The consumer is registered for
// dispatch before the broker learns about it, so no message can arrive
// for an unknown consumer.
func (s *Session) CreateConsumer(ctx context.Context, dest openwire.Destination, opts ...ConsumerOption) (*Consumer, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if dest == nil {
		return nil, ErrNoDestination
	}
	if err := s.conn.checkTempDestination(dest); err != nil {
		return nil, err
	}

	co := applyConsumerOptions(opts...)
	if co.subscriptionName != "" && !openwire.IsTopic(dest) {
		return nil, fmt.Errorf("%w: durable subscriptions need a topic", ErrInvalidDestination)
	}

	info := &openwire.ConsumerInfo{
		ConsumerID:       openwire.NewConsumerID(s.info.SessionID, s.consumerIDs.Add(1)),
		Destination:      dest,
		Selector:         co.selector,
		SubscriptionName: co.subscriptionName,
		NoLocal:          co.noLocal,
		Browser:          co.browser,
		Exclusive:        co.exclusive,
		Retroactive:      co.retroactive,
		Priority:         co.priority,
		DispatchAsync:    true,
	}
	info.PrefetchSize = s.prefetchFor(info, co)
	applyDestinationOptions(info, dest.Options())

	c := newConsumer(s, info)
	s.consumers.Store(info.ConsumerID.Value, c)
	s.conn.addDispatcher(info.ConsumerID, c)

	if _, err := s.conn.syncRequest(ctx, info); err != nil {
		c.dispose(openwire.NewStateError("consumer", ErrConsumerClosed))
		return nil, err
	}

	if s.conn.IsStarted() {
		c.start()
	}
	return c, nil
}

// CreateDurableSubscriber creates a durable subscription called name on
// topic.
func (s *Session) CreateDurableSubscriber(ctx context.Context, topic openwire.Destination, name string, opts ...ConsumerOption) (*Consumer, error) {
	return s.CreateConsumer(ctx, topic, append(opts, WithSubscriptionName(name))...)
}

func (s *Session) prefetchFor(info *openwire.ConsumerInfo, co *consumerOptions) int32 {
	o := s.conn.opts
	switch {
	case co.prefetch >= 0:
		return co.prefetch
	case info.Browser:
		return o.queueBrowserPrefetch
	case openwire.IsTopic(info.Destination) && info.SubscriptionName != "":
		return o.durableTopicPrefetch
	case openwire.IsTopic(info.Destination):
		return o.topicPrefetch
	default:
		return o.queuePrefetch
	}
}

// CreateProducer creates a producer for dest. A nil dest creates a
// producer that names the destination on every send.
func (s *Session) CreateProducer(ctx context.Context, dest openwire.Destination, opts ...ProducerOption) (*Producer, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	po := applyProducerOptions(opts...)
	info := &openwire.ProducerInfo{
		ProducerID:  openwire.NewProducerID(s.info.SessionID, s.producerIDs.Add(1)),
		Destination: dest,
		WindowSize:  po.windowSize,
	}
	if _, err := s.conn.syncRequest(ctx, info); err != nil {
		return nil, err
	}

	p := newProducer(s, info, po)
	s.producers.Store(info.ProducerID.Value, p)
	s.conn.addProducer(p)
	return p, nil
}

// CreateTextMessage creates a text message, compressed when the
// connection enables compression.
func (s *Session) CreateTextMessage(text string) (*openwire.TextMessage, error) {
	msg := &openwire.TextMessage{}
	if err := msg.SetText(text, s.conn.opts.useCompression); err != nil {
		return nil, err
	}
	return msg, nil
}

// CreateBytesMessage creates a bytes message, compressed when the
// connection enables compression.
func (s *Session) CreateBytesMessage(body []byte) (*openwire.BytesMessage, error) {
	msg := &openwire.BytesMessage{}
	if err := msg.SetBody(body, s.conn.opts.useCompression); err != nil {
		return nil, err
	}
	return msg, nil
}

// Acknowledge acknowledges every message delivered by the session's
// consumers. Only valid in ClientAcknowledge mode.
func (s *Session) Acknowledge(ctx context.Context) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	if s.ackMode != ClientAcknowledge {
		return ErrInvalidAckMode
	}

	var errs []error
	s.consumers.Range(func(_ int64, c *Consumer) bool {
		errs = append(errs, c.ackDelivered(ctx, openwire.AckStandard, nil))
		return true
	})
	return errors.Join(errs...)
}

// Recover redelivers every unacknowledged message of a non transacted
// session.
func (s *Session) Recover() error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	if s.IsTransacted() {
		return ErrInvalidAckMode
	}
	s.consumers.Range(func(_ int64, c *Consumer) bool {
		c.rollback()
		return true
	})
	return nil
}

// transactionID returns the active transaction, beginning one if needed.
// It returns nil outside transacted sessions.
func (s *Session) transactionID(ctx context.Context) (openwire.TransactionID, error) {
	if !s.IsTransacted() {
		return nil, nil
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.beginLocked(ctx)
}

func (s *Session) beginLocked(ctx context.Context) (openwire.TransactionID, error) {
	if s.txID != nil {
		return s.txID, nil
	}

	id := s.conn.nextTransactionID()
	info := &openwire.TransactionInfo{
		ConnectionID:  s.conn.info.ConnectionID,
		TransactionID: id,
		Type:          openwire.TransactionBegin,
	}
	if err := s.conn.oneway(ctx, info); err != nil {
		return nil, err
	}
	s.txID = id
	return id, nil
}

// InTransaction reports whether a transaction has begun and not ended.
func (s *Session) InTransaction() bool {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.txID != nil
}

// Commit acknowledges the messages consumed in the transaction and commits
// it in one phase. When the transaction was marked rollback only by a
// failover, it is rolled back and ErrTransactionRolledBack is returned.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	if !s.IsTransacted() {
		return ErrNotTransacted
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	if s.rollbackOnly {
		s.rollbackOnly = false
		if err := s.rollbackLocked(ctx); err != nil {
			return errors.Join(ErrTransactionRolledBack, err)
		}
		return ErrTransactionRolledBack
	}

	if s.hasDelivered() {
		txID, err := s.beginLocked(ctx)
		if err != nil {
			return err
		}
		var errs []error
		s.consumers.Range(func(_ int64, c *Consumer) bool {
			errs = append(errs, c.ackTransacted(ctx, txID))
			return true
		})
		if err := errors.Join(errs...); err != nil {
			return err
		}
	}
	if s.txID == nil {
		return nil
	}

	info := &openwire.TransactionInfo{
		ConnectionID:  s.conn.info.ConnectionID,
		TransactionID: s.txID,
		Type:          openwire.TransactionCommitOnePhase,
	}
	s.txID = nil
	if _, err := s.conn.syncRequest(ctx, info); err != nil {
		// A failed commit leaves the transaction rolled back on the
		// broker, so the consumed messages are redelivered.
		s.rollbackConsumers()
		var brokerErr *openwire.BrokerError
		if errors.As(err, &brokerErr) && brokerErr.ExceptionClass == openwire.TransactionRolledBackExceptionClass {
			return errors.Join(ErrTransactionRolledBack, err)
		}
		return err
	}

	s.consumers.Range(func(_ int64, c *Consumer) bool {
		c.commitDelivered()
		return true
	})
	return nil
}

// Rollback rolls back the transaction and redelivers the messages consumed
// in it.
func (s *Session) Rollback(ctx context.Context) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	if !s.IsTransacted() {
		return ErrNotTransacted
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.rollbackOnly = false
	return s.rollbackLocked(ctx)
}

func (s *Session) rollbackLocked(ctx context.Context) error {
	var err error
	if s.txID != nil {
		info := &openwire.TransactionInfo{
			ConnectionID:  s.conn.info.ConnectionID,
			TransactionID: s.txID,
			Type:          openwire.TransactionRollback,
		}
		s.txID = nil
		_, err = s.conn.syncRequest(ctx, info)
	}
	s.rollbackConsumers()
	return err
}

func (s *Session) rollbackConsumers() {
	s.consumers.Range(func(_ int64, c *Consumer) bool {
		c.rollback()
		return true
	})
}

func (s *Session) hasDelivered() bool {
	found := false
	s.consumers.Range(func(_ int64, c *Consumer) bool {
		found = c.numDelivered() > 0
		return !found
	})
	return found
}

// markRollbackOnly makes the next Commit roll back.
func (s *Session) markRollbackOnly() {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if s.txID != nil {
		s.rollbackOnly = true
	}
}

// Close rolls back an open transaction, closes every consumer and
// producer and removes the session on the broker. Broker side failures
// are logged.
func (s *Session) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	defer s.conn.removeSession(s.info.SessionID)

	if s.IsTransacted() {
		s.txMu.Lock()
		if s.txID != nil {
			if err := s.rollbackLocked(ctx); err != nil {
				s.logWarn("failed to roll back transaction on close", err)
			}
		}
		s.txMu.Unlock()
	}

	s.consumers.Range(func(_ int64, c *Consumer) bool {
		if err := c.Close(ctx); err != nil {
			s.logWarn("failed to close consumer", err)
		}
		return true
	})
	s.producers.Range(func(_ int64, p *Producer) bool {
		if err := p.Close(ctx); err != nil {
			s.logWarn("failed to close producer", err)
		}
		return true
	})

	s.stopDispatcher()

	remove := s.info.RemoveCommand()
	remove.LastDeliveredSequenceID = s.lastDelivered.Load()
	if err := s.conn.oneway(ctx, remove); err != nil {
		s.logWarn("failed to remove session", err)
	}
	return nil
}

// dispose tears the session down locally and returns the last delivered
// broker sequence id.
func (s *Session) dispose(err error) int64 {
	s.closed.Store(true)
	s.stopDispatcher()
	stateErr := openwire.NewStateError("session", err)
	s.consumers.Range(func(_ int64, c *Consumer) bool {
		c.dispose(stateErr)
		return true
	})
	s.producers.Range(func(_ int64, p *Producer) bool {
		p.dispose()
		return true
	})
	return s.lastDelivered.Load()
}

// fail ends every blocked Receive with err.
func (s *Session) fail(err error) {
	s.consumers.Range(func(_ int64, c *Consumer) bool {
		c.fail(err)
		return true
	})
}

func (s *Session) startDispatcher() {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	if s.dispatcher == nil && !s.closed.Load() {
		s.dispatcher = task.NewRunner(task.Func(s.iterateListeners))
	}
}

// stopDispatcher does not wait for the dispatch goroutine, so a listener
// may close its own session.
func (s *Session) stopDispatcher() {
	s.dispatchMu.Lock()
	r := s.dispatcher
	s.dispatcher = nil
	s.dispatchMu.Unlock()
	if r != nil {
		r.Stop()
	}
}

func (s *Session) wakeup() {
	s.dispatchMu.Lock()
	r := s.dispatcher
	s.dispatchMu.Unlock()
	if r != nil {
		r.Wakeup()
	}
}

// iterateListeners delivers at most one message to every consumer with a
// listener and reports whether any was delivered.
func (s *Session) iterateListeners() bool {
	more := false
	s.consumers.Range(func(_ int64, c *Consumer) bool {
		if c.dispatchNext() {
			more = true
		}
		return true
	})
	return more
}

func (s *Session) start() {
	s.consumers.Range(func(_ int64, c *Consumer) bool {
		c.start()
		return true
	})
}

func (s *Session) stop() {
	s.consumers.Range(func(_ int64, c *Consumer) bool {
		c.stop()
		return true
	})
}

func (s *Session) clearMessagesInProgress() {
	s.consumers.Range(func(_ int64, c *Consumer) bool {
		if c.clearMessagesInProgress() && s.IsTransacted() {
			s.markRollbackOnly()
		}
		return true
	})
}

func (s *Session) isDestinationInUse(dest openwire.Destination) bool {
	inUse := false
	s.consumers.Range(func(_ int64, c *Consumer) bool {
		inUse = openwire.SameDestination(c.info.Destination, dest)
		return !inUse
	})
	return inUse
}

func (s *Session) removeConsumer(id *openwire.ConsumerID) {
	s.consumers.Delete(id.Value)
}

func (s *Session) removeProducer(id *openwire.ProducerID) {
	s.producers.Delete(id.Value)
}

// delivered records the broker sequence id of a delivered message.
func (s *Session) delivered(seq int64) {
	for {
		cur := s.lastDelivered.Load()
		if seq <= cur || s.lastDelivered.CompareAndSwap(cur, seq) {
			return
		}
	}
}

func (s *Session) logWarn(msg string, err error) {
	s.conn.logger.Warn(msg, openwire.LogFields{
		"session_id":           s.info.SessionID.String(),
		openwire.LogFieldError: err.Error(),
	})
}
