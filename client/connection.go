// Package client is the connection core of an OpenWire client. A
// Connection owns a transport chain, routes inbound commands to sessions
// and consumers, and keeps the bookkeeping the broker relies on: which
// sessions, consumers and producers exist, what has been delivered and
// acknowledged, and which temporary destinations are alive.
package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/vitalvas/openwire"
	"github.com/vitalvas/openwire/state"
	"github.com/vitalvas/openwire/transport"
)

// dispatcher receives the MessageDispatch commands addressed to one
// consumer id.
type dispatcher interface {
	dispatch(md *openwire.MessageDispatch)
}

// Connection is a client connection to a broker.
type Connection struct {
	opts    *options
	logger  openwire.Logger
	metrics *openwire.ClientMetrics
	tr      transport.Transport
	info    *openwire.ConnectionInfo

	sessionIDs  atomic.Int64
	tempDestIDs atomic.Int64
	txIDs       atomic.Int64
	advisoryIDs atomic.Int64

	sessions    *xsync.MapOf[int64, *Session]
	dispatchers *xsync.MapOf[string, dispatcher]
	producers   *xsync.MapOf[string, *Producer]
	tempDests   *tempDestinations

	infoMu   sync.Mutex
	infoSent bool
	advisory *AdvisoryConsumer

	brokerInfo  atomic.Pointer[openwire.BrokerInfo]
	brokerWF    atomic.Pointer[openwire.WireFormatInfo]
	brokerReady chan struct{}
	brokerOnce  sync.Once

	started     atomic.Bool
	closing     atomic.Bool
	closed      atomic.Bool
	interrupted atomic.Bool

	failMu  sync.Mutex
	failure error
}

// Dial builds the transport chain for rawURI and connects it. The
// ConnectionInfo is sent lazily by Start or by the first operation that
// needs it.
func Dial(ctx context.Context, rawURI string, opts ...Option) (*Connection, error) {
	c := newConnection(applyOptions(opts...))

	topts := []transport.Option{
		transport.WithLogger(c.opts.logger),
		transport.WithMetrics(c.opts.metrics),
	}
	topts = append(topts, c.opts.transportOptions...)
	topts = append(topts, transport.WithListener(c))

	tr, err := transport.New(rawURI, topts...)
	if err != nil {
		return nil, err
	}
	c.tr = tr
	c.info.FaultTolerant = tr.IsFaultTolerant()

	if err := transport.Open(ctx, tr); err != nil {
		return nil, err
	}

	c.logger.Info("connection established", openwire.LogFields{
		openwire.LogFieldRemoteAddr: tr.RemoteAddress(),
	})
	c.emit(ErrConnected)
	return c, nil
}

func newConnection(o *options) *Connection {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}

	id := &openwire.ConnectionID{Value: "ID:" + host + "-" + uuid.NewString()}
	clientID := o.clientID
	if clientID == "" {
		clientID = "ID:" + host + "-" + uuid.NewString()
	}

	return &Connection{
		opts:    o,
		logger:  o.logger.WithFields(openwire.LogFields{openwire.LogFieldConnectionID: id.Value}),
		metrics: openwire.NewClientMetrics(o.metrics),
		info: &openwire.ConnectionInfo{
			ConnectionID: id,
			ClientID:     clientID,
			UserName:     o.username,
			Password:     o.password,
			Manageable:   true,
		},
		sessions:    xsync.NewMapOf[int64, *Session](),
		dispatchers: xsync.NewMapOf[string, dispatcher](),
		producers:   xsync.NewMapOf[string, *Producer](),
		tempDests:   newTempDestinations(),
		brokerReady: make(chan struct{}),
	}
}

// ID returns the connection identifier.
func (c *Connection) ID() *openwire.ConnectionID {
	return c.info.ConnectionID
}

// ClientID returns the client identifier.
func (c *Connection) ClientID() string {
	c.infoMu.Lock()
	defer c.infoMu.Unlock()
	return c.info.ClientID
}

// SetClientID changes the client identifier. It fails once the
// ConnectionInfo has reached the broker.
func (c *Connection) SetClientID(id string) error {
	if err := c.checkClosedOrFailed(); err != nil {
		return err
	}
	c.infoMu.Lock()
	defer c.infoMu.Unlock()
	if c.infoSent {
		return openwire.NewStateError("connection", openwire.ErrClientIDAlreadySet)
	}
	c.info.ClientID = id
	return nil
}

// Transport returns the transport chain.
func (c *Connection) Transport() transport.Transport { return c.tr }

// BrokerInfo returns the last BrokerInfo received, or nil.
func (c *Connection) BrokerInfo() *openwire.BrokerInfo { return c.brokerInfo.Load() }

// BrokerWireFormatInfo returns the broker's WireFormatInfo, or nil.
func (c *Connection) BrokerWireFormatInfo() *openwire.WireFormatInfo { return c.brokerWF.Load() }

// WaitBrokerInfo waits until the broker has introduced itself.
func (c *Connection) WaitBrokerInfo(ctx context.Context) (*openwire.BrokerInfo, error) {
	select {
	case <-c.brokerReady:
		return c.brokerInfo.Load(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsStarted reports whether message delivery is running.
func (c *Connection) IsStarted() bool { return c.started.Load() }

// IsClosed reports whether Close has completed.
func (c *Connection) IsClosed() bool { return c.closed.Load() }

// IsFailed reports whether the transport failed for good.
func (c *Connection) IsFailed() bool { return c.failureErr() != nil }

// Start sends the ConnectionInfo if needed and starts message delivery
// to every consumer.
func (c *Connection) Start(ctx context.Context) error {
	if err := c.checkClosedOrFailed(); err != nil {
		return err
	}
	if err := c.ensureConnectionInfoSent(ctx); err != nil {
		return err
	}
	if c.started.CompareAndSwap(false, true) {
		c.sessions.Range(func(_ int64, s *Session) bool {
			s.start()
			return true
		})
	}
	return nil
}

// Stop pauses message delivery. Messages keep arriving and queue up until
// Start.
func (c *Connection) Stop() error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if c.started.CompareAndSwap(true, false) {
		c.sessions.Range(func(_ int64, s *Session) bool {
			s.stop()
			return true
		})
	}
	return nil
}

// Close disposes every session, deletes the temporary destinations this
// connection created, removes the connection on the broker and closes the
// transport. Broker side failures during Close are logged, not returned.
func (c *Connection) Close(ctx context.Context) error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}

	failed := c.failureErr() != nil
	c.started.Store(false)

	lastDelivered := int64(-1)
	c.sessions.Range(func(id int64, s *Session) bool {
		lastDelivered = max(lastDelivered, s.dispose(ErrConnectionClosed))
		c.sessions.Delete(id)
		return true
	})

	c.infoMu.Lock()
	adv := c.advisory
	infoSent := c.infoSent
	c.infoMu.Unlock()
	if adv != nil {
		adv.dispose(ctx)
	}

	if !failed && infoSent {
		closeCtx, cancel := context.WithTimeout(ctx, c.opts.closeTimeout)
		defer cancel()

		for _, d := range c.tempDests.owned(c.info.ConnectionID.Value) {
			if err := c.removeDestination(closeCtx, d); err != nil {
				c.logger.Warn("failed to delete temporary destination", openwire.LogFields{
					openwire.LogFieldDestination: d.QualifiedName(),
					openwire.LogFieldError:       err.Error(),
				})
			}
		}

		remove := c.info.RemoveCommand()
		remove.LastDeliveredSequenceID = lastDelivered
		if _, err := c.syncRequest(closeCtx, remove); err != nil {
			c.logger.Warn("failed to remove connection", openwire.LogFields{
				openwire.LogFieldError: err.Error(),
			})
		}
		if err := c.tr.Oneway(closeCtx, &openwire.ShutdownInfo{}); err != nil {
			c.logger.Debug("failed to send shutdown", openwire.LogFields{
				openwire.LogFieldError: err.Error(),
			})
		}
	}

	c.closed.Store(true)
	err := c.tr.Close()
	if errors.Is(err, openwire.ErrTransportClosed) {
		err = nil
	}

	c.logger.Info("connection closed", nil)
	c.emit(ErrDisconnected)
	return err
}

// CreateSession creates a session with the given acknowledge mode.
func (c *Connection) CreateSession(ctx context.Context, mode AckMode) (*Session, error) {
	if err := c.checkClosedOrFailed(); err != nil {
		return nil, err
	}
	if err := c.ensureConnectionInfoSent(ctx); err != nil {
		return nil, err
	}

	id := openwire.NewSessionID(c.info.ConnectionID, c.sessionIDs.Add(1))
	s := newSession(c, &openwire.SessionInfo{SessionID: id}, mode)
	if err := c.oneway(ctx, s.info); err != nil {
		return nil, err
	}

	c.sessions.Store(id.Value, s)
	if c.started.Load() {
		s.start()
	}
	return s, nil
}

// CreateTemporaryQueue creates a queue that lives as long as this
// connection.
func (c *Connection) CreateTemporaryQueue(ctx context.Context) (*openwire.TempQueue, error) {
	dest := openwire.NewTempQueue(c.nextTempDestinationName())
	if err := c.createTempDestination(ctx, dest); err != nil {
		return nil, err
	}
	return dest, nil
}

// CreateTemporaryTopic creates a topic that lives as long as this
// connection.
func (c *Connection) CreateTemporaryTopic(ctx context.Context) (*openwire.TempTopic, error) {
	dest := openwire.NewTempTopic(c.nextTempDestinationName())
	if err := c.createTempDestination(ctx, dest); err != nil {
		return nil, err
	}
	return dest, nil
}

func (c *Connection) nextTempDestinationName() string {
	return c.info.ConnectionID.Value + ":" + strconv.FormatInt(c.tempDestIDs.Add(1), 10)
}

func (c *Connection) createTempDestination(ctx context.Context, dest openwire.Destination) error {
	if err := c.checkClosedOrFailed(); err != nil {
		return err
	}
	if err := c.ensureConnectionInfoSent(ctx); err != nil {
		return err
	}

	info := &openwire.DestinationInfo{
		ConnectionID:  c.info.ConnectionID,
		Destination:   dest,
		OperationType: openwire.DestinationAdd,
	}
	if _, err := c.syncRequest(ctx, info); err != nil {
		return err
	}
	c.tempDests.add(dest)
	return nil
}

// DeleteTemporaryDestination removes a temporary destination from the
// broker. It fails while a consumer of this connection still reads from
// it.
func (c *Connection) DeleteTemporaryDestination(ctx context.Context, dest openwire.Destination) error {
	if err := c.checkClosedOrFailed(); err != nil {
		return err
	}
	if dest == nil || !openwire.IsTemporary(dest) {
		return fmt.Errorf("%w: %v is not temporary", ErrInvalidDestination, dest)
	}
	if c.isDestinationInUse(dest) {
		return ErrTempDestinationInUse
	}
	if err := c.ensureConnectionInfoSent(ctx); err != nil {
		return err
	}

	c.tempDests.remove(dest)
	return c.removeDestination(ctx, dest)
}

// DestroyDestination removes dest from the broker.
func (c *Connection) DestroyDestination(ctx context.Context, dest openwire.Destination) error {
	if err := c.checkClosedOrFailed(); err != nil {
		return err
	}
	if dest == nil {
		return ErrNoDestination
	}
	if err := c.ensureConnectionInfoSent(ctx); err != nil {
		return err
	}

	if openwire.IsTemporary(dest) {
		c.tempDests.remove(dest)
	}
	return c.removeDestination(ctx, dest)
}

func (c *Connection) removeDestination(ctx context.Context, dest openwire.Destination) error {
	_, err := c.syncRequest(ctx, &openwire.DestinationInfo{
		ConnectionID:  c.info.ConnectionID,
		Destination:   dest,
		OperationType: openwire.DestinationRemove,
	})
	return err
}

// IsTempDestinationDeleted reports whether dest is a temporary destination
// that is no longer known to exist. Without topic advisories only this
// connection's destinations are tracked and the answer is always false.
func (c *Connection) IsTempDestinationDeleted(dest openwire.Destination) bool {
	if !c.opts.watchTopicAdvisories || dest == nil || !openwire.IsTemporary(dest) {
		return false
	}
	return !c.tempDests.contains(dest)
}

// RemoveDurableSubscription deletes the durable subscription name of this
// client id.
func (c *Connection) RemoveDurableSubscription(ctx context.Context, name string) error {
	if err := c.checkClosedOrFailed(); err != nil {
		return err
	}
	if err := c.ensureConnectionInfoSent(ctx); err != nil {
		return err
	}
	_, err := c.syncRequest(ctx, &openwire.RemoveSubscriptionInfo{
		ConnectionID:     c.info.ConnectionID,
		SubscriptionName: name,
		ClientID:         c.ClientID(),
	})
	return err
}

func (c *Connection) isDestinationInUse(dest openwire.Destination) bool {
	inUse := false
	c.sessions.Range(func(_ int64, s *Session) bool {
		inUse = s.isDestinationInUse(dest)
		return !inUse
	})
	return inUse
}

// checkTempDestination rejects consuming from a deleted temporary
// destination or one owned by another connection.
func (c *Connection) checkTempDestination(dest openwire.Destination) error {
	if !openwire.IsTemporary(dest) {
		return nil
	}
	if tempOwner(dest) != c.info.ConnectionID.Value {
		return ErrForeignTempDestination
	}
	if c.IsTempDestinationDeleted(dest) {
		return ErrTempDestinationDeleted
	}
	return nil
}

// ensureConnectionInfoSent registers the connection on the broker once and
// starts the advisory consumer.
func (c *Connection) ensureConnectionInfoSent(ctx context.Context) error {
	c.infoMu.Lock()
	defer c.infoMu.Unlock()
	if c.infoSent {
		return nil
	}

	if _, err := c.syncRequest(ctx, c.info); err != nil {
		return err
	}
	c.infoSent = true

	if c.opts.watchTopicAdvisories {
		session := openwire.NewSessionID(c.info.ConnectionID, state.DefaultSessionID)
		id := openwire.NewConsumerID(session, c.advisoryIDs.Add(1))
		adv, err := newAdvisoryConsumer(ctx, c, id)
		if err != nil {
			c.logger.Warn("failed to start advisory consumer", openwire.LogFields{
				openwire.LogFieldError: err.Error(),
			})
			return nil
		}
		c.advisory = adv
	}
	return nil
}

// syncRequest sends cmd and waits for its response. An exception
// response is returned as the broker's error.
func (c *Connection) syncRequest(ctx context.Context, cmd openwire.Command) (openwire.Responder, error) {
	if err := c.checkClosedOrFailed(); err != nil {
		return nil, err
	}
	if c.opts.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.requestTimeout)
		defer cancel()
	}

	resp, err := c.tr.Request(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if err := openwire.ResponseError(resp); err != nil {
		return resp, err
	}
	return resp, nil
}

func (c *Connection) oneway(ctx context.Context, cmd openwire.Command) error {
	if err := c.checkClosedOrFailed(); err != nil {
		return err
	}
	return c.tr.Oneway(ctx, cmd)
}

func (c *Connection) checkClosed() error {
	if c.closed.Load() {
		return openwire.NewStateError("connection", ErrConnectionClosed)
	}
	return nil
}

func (c *Connection) checkClosedOrFailed() error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if err := c.failureErr(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

func (c *Connection) failureErr() error {
	c.failMu.Lock()
	defer c.failMu.Unlock()
	return c.failure
}

func (c *Connection) nextTransactionID() *openwire.LocalTransactionID {
	return &openwire.LocalTransactionID{
		Value:        c.txIDs.Add(1),
		ConnectionID: c.info.ConnectionID,
	}
}

func (c *Connection) addDispatcher(id *openwire.ConsumerID, d dispatcher) {
	c.dispatchers.Store(id.String(), d)
}

func (c *Connection) removeDispatcher(id *openwire.ConsumerID) {
	c.dispatchers.Delete(id.String())
}

func (c *Connection) addProducer(p *Producer) {
	c.producers.Store(p.info.ProducerID.String(), p)
}

func (c *Connection) removeProducer(id *openwire.ProducerID) {
	c.producers.Delete(id.String())
}

func (c *Connection) removeSession(id *openwire.SessionID) {
	c.sessions.Delete(id.Value)
}

// emit sends an event to the event handler.
func (c *Connection) emit(event error) {
	if c.opts.onEvent != nil {
		c.opts.onEvent(c, event)
	}
}

// OnCommand routes a command read by the transport chain.
func (c *Connection) OnCommand(cmd openwire.Command) {
	switch v := cmd.(type) {
	case *openwire.MessageDispatch:
		c.onMessageDispatch(v)
	case *openwire.ProducerAck:
		if v.ProducerID == nil {
			return
		}
		if p, ok := c.producers.Load(v.ProducerID.String()); ok {
			p.onProducerAck(v)
		}
	case *openwire.WireFormatInfo:
		c.brokerWF.Store(v)
	case *openwire.BrokerInfo:
		c.brokerInfo.Store(v)
		c.brokerOnce.Do(func() { close(c.brokerReady) })
	case *openwire.KeepAliveInfo:
		if v.ResponseRequired {
			if err := c.tr.Oneway(context.Background(), &openwire.KeepAliveInfo{}); err != nil {
				c.logger.Debug("failed to answer keep-alive", openwire.LogFields{
					openwire.LogFieldError: err.Error(),
				})
			}
		}
	case *openwire.ConsumerControl:
		c.onConsumerControl(v)
	case *openwire.ConnectionControl:
		c.logger.Info("connection control received", openwire.LogFields{
			"close":        v.Close,
			"exit":         v.Exit,
			"suspend":      v.Suspend,
			"resume":       v.Resume,
			"reconnect_to": v.ReconnectTo,
		})
	case *openwire.ConnectionError:
		c.onConnectionError(v)
	case *openwire.ControlCommand:
		c.logger.Debug("control command received", openwire.LogFields{"command": v.Command})
	case *openwire.ShutdownInfo:
		c.logger.Info("broker is shutting down", nil)
	default:
		c.logger.Debug("unhandled command", openwire.LogFields{
			openwire.LogFieldCommandType: openwire.TypeName(cmd.DataStructureType()),
		})
	}
}

func (c *Connection) onMessageDispatch(md *openwire.MessageDispatch) {
	if md.ConsumerID == nil {
		return
	}
	d, ok := c.dispatchers.Load(md.ConsumerID.String())
	if !ok {
		c.logger.Debug("dispatch for unknown consumer", openwire.LogFields{
			openwire.LogFieldConsumerID: md.ConsumerID.String(),
		})
		return
	}
	if md.Message != nil {
		md.Message.MessageBase().RedeliveryCounter = md.RedeliveryCounter
	}
	d.dispatch(md)
}

func (c *Connection) onConsumerControl(cc *openwire.ConsumerControl) {
	if cc.ConsumerID == nil {
		return
	}
	d, ok := c.dispatchers.Load(cc.ConsumerID.String())
	if !ok {
		return
	}
	consumer, ok := d.(*Consumer)
	if !ok {
		return
	}

	if cc.Close {
		if err := consumer.Close(context.Background()); err != nil {
			c.logger.Warn("failed to close consumer on broker request", openwire.LogFields{
				openwire.LogFieldConsumerID: cc.ConsumerID.String(),
				openwire.LogFieldError:      err.Error(),
			})
		}
		return
	}
	consumer.setPrefetchSize(cc.Prefetch)
}

// onConnectionError reports an unsolicited broker error on its own
// goroutine.
func (c *Connection) onConnectionError(ce *openwire.ConnectionError) {
	var err error = ce.Exception
	if ce.Exception == nil {
		err = openwire.NewBrokerError(openwire.IOExceptionClass, "connection error")
	}
	c.logger.Warn("broker reported a connection error", openwire.LogFields{
		openwire.LogFieldError: err.Error(),
	})
	go c.emit(err)
}

// OnException records the first transport failure, fails every consumer
// and reports the failure once.
func (c *Connection) OnException(err error) {
	if c.closing.Load() {
		c.logger.Debug("transport error while closing", openwire.LogFields{
			openwire.LogFieldError: err.Error(),
		})
		return
	}

	c.failMu.Lock()
	if c.failure != nil {
		c.failMu.Unlock()
		return
	}
	c.failure = err
	c.failMu.Unlock()

	c.logger.Error("transport failed", openwire.LogFields{
		openwire.LogFieldError: err.Error(),
	})
	go c.onTransportFailed(err)
}

func (c *Connection) onTransportFailed(err error) {
	c.started.Store(false)
	failure := fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	c.sessions.Range(func(_ int64, s *Session) bool {
		s.fail(failure)
		return true
	})
	c.emit(NewFailureEvent(err))
}

// TransportInterrupted drops messages that were dispatched but not yet
// consumed; the broker redelivers them after the connection state has
// been restored.
func (c *Connection) TransportInterrupted() {
	c.interrupted.Store(true)
	c.sessions.Range(func(_ int64, s *Session) bool {
		s.clearMessagesInProgress()
		return true
	})
	c.logger.Warn("transport interrupted", nil)
	c.emit(ErrConnectionInterrupted)
}

// TransportResumed completes interruption processing so the restored
// consumers get their prefetch back.
func (c *Connection) TransportResumed() {
	if c.interrupted.CompareAndSwap(true, false) {
		if f, ok := transport.Narrow[*transport.FailoverTransport](c.tr); ok {
			f.ConnectionInterruptProcessingComplete(context.Background(), c.info.ConnectionID)
		}
	}
	c.logger.Info("transport resumed", openwire.LogFields{
		openwire.LogFieldRemoteAddr: c.tr.RemoteAddress(),
	})
	c.emit(ErrConnectionResumed)
}
