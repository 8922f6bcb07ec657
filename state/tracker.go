// Package state keeps the client-side record of what a connection has
// created on the broker, so the record can be replayed on a new transport
// after a failover.
package state

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/vitalvas/openwire"
)

// Transport is the part of a transport chain a restore writes to.
type Transport interface {
	Oneway(ctx context.Context, cmd openwire.Command) error
	WireFormat() *openwire.WireFormat
}

// Tracker defaults.
const (
	DefaultMaxMessageCacheSize     = 128 * 1024
	DefaultMaxMessagePullCacheSize = 10

	// messageSizeOverhead approximates the encoded size of message headers.
	messageSizeOverhead = 1024
)

// Tracked is returned by Track for commands the tracker recorded. When it
// carries an action, the action must run once the broker has answered the
// command.
type Tracked struct {
	action func()
}

// WaitingForResponse reports whether OnResponse has work to do.
func (t *Tracked) WaitingForResponse() bool { return t != nil && t.action != nil }

// OnResponse runs the deferred action, if any.
func (t *Tracked) OnResponse() {
	if t.WaitingForResponse() {
		t.action()
	}
}

type options struct {
	trackTransactions         bool
	trackTransactionProducers bool
	trackMessages             bool
	restoreSessions           bool
	restoreProducers          bool
	restoreConsumers          bool
	restoreTransactions       bool
	maxMessageCacheSize       int
	maxMessagePullCacheSize   int
	logger                    openwire.Logger
}

// Option configures a ConnectionStateTracker.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		trackTransactionProducers: true,
		trackMessages:             true,
		restoreSessions:           true,
		restoreProducers:          true,
		restoreConsumers:          true,
		restoreTransactions:       true,
		maxMessageCacheSize:       DefaultMaxMessageCacheSize,
		maxMessagePullCacheSize:   DefaultMaxMessagePullCacheSize,
		logger:                    openwire.NewNoOpLogger(),
	}
}

// WithTrackTransactions records transaction commands for replay.
func WithTrackTransactions(enabled bool) Option {
	return func(o *options) {
		o.trackTransactions = enabled
	}
}

// WithTrackTransactionProducers links producers to the transactions they
// send in, so closed producers are replayed with the transaction.
func WithTrackTransactionProducers(enabled bool) Option {
	return func(o *options) {
		o.trackTransactionProducers = enabled
	}
}

// WithTrackMessages caches non-transacted messages for replay.
func WithTrackMessages(enabled bool) Option {
	return func(o *options) {
		o.trackMessages = enabled
	}
}

// WithRestore selects which children Restore replays.
func WithRestore(sessions, producers, consumers, transactions bool) Option {
	return func(o *options) {
		o.restoreSessions = sessions
		o.restoreProducers = producers
		o.restoreConsumers = consumers
		o.restoreTransactions = transactions
	}
}

// WithMaxMessageCacheSize bounds the message cache in approximate bytes.
func WithMaxMessageCacheSize(n int) Option {
	return func(o *options) {
		o.maxMessageCacheSize = n
	}
}

// WithMaxMessagePullCacheSize bounds the number of cached MessagePulls.
func WithMaxMessagePullCacheSize(n int) Option {
	return func(o *options) {
		o.maxMessagePullCacheSize = n
	}
}

// WithLogger sets the logger.
func WithLogger(l openwire.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

type cachedMessage struct {
	key  string
	cmd  openwire.MessageCommand
	size int
}

// ConnectionStateTracker watches outbound commands and records connection,
// session, producer, consumer, temporary destination and transaction state.
type ConnectionStateTracker struct {
	opts        *options
	connections *xsync.MapOf[string, *ConnectionState]

	cacheMu     sync.Mutex
	messages    []cachedMessage
	messageSize int
	pulls       orderedMap[string, *openwire.MessagePull]
}

// NewConnectionStateTracker creates an empty tracker.
func NewConnectionStateTracker(opts ...Option) *ConnectionStateTracker {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &ConnectionStateTracker{
		opts:        o,
		connections: xsync.NewMapOf[string, *ConnectionState](),
	}
}

// ConnectionState returns the state of connection id, or nil.
func (t *ConnectionStateTracker) ConnectionState(id *openwire.ConnectionID) *ConnectionState {
	if id == nil {
		return nil
	}
	cs, _ := t.connections.Load(id.Value)
	return cs
}

// ConnectionStates returns every tracked connection ordered by id.
func (t *ConnectionStateTracker) ConnectionStates() []*ConnectionState {
	type entry struct {
		id string
		cs *ConnectionState
	}
	var entries []entry
	t.connections.Range(func(id string, cs *ConnectionState) bool {
		entries = append(entries, entry{id, cs})
		return true
	})
	slices.SortFunc(entries, func(a, b entry) int { return cmp.Compare(a.id, b.id) })

	out := make([]*ConnectionState, len(entries))
	for i, e := range entries {
		out[i] = e.cs
	}
	return out
}

// Track records cmd. It returns nil for commands the tracker ignores.
func (t *ConnectionStateTracker) Track(cmd openwire.Command) (*Tracked, error) {
	switch c := cmd.(type) {
	case *openwire.ConnectionInfo:
		return t.processConnectionInfo(c)
	case *openwire.SessionInfo:
		return t.processSessionInfo(c)
	case *openwire.ProducerInfo:
		return t.processProducerInfo(c)
	case *openwire.ConsumerInfo:
		return t.processConsumerInfo(c)
	case *openwire.DestinationInfo:
		return t.processDestinationInfo(c)
	case *openwire.RemoveInfo:
		return t.processRemoveInfo(c)
	case *openwire.TransactionInfo:
		return t.processTransactionInfo(c)
	case *openwire.MessagePull:
		t.processMessagePull(c)
		return nil, nil
	case openwire.MessageCommand:
		return t.processMessage(c)
	}
	return nil, nil
}

func marker() *Tracked { return &Tracked{} }

func (t *ConnectionStateTracker) processConnectionInfo(info *openwire.ConnectionInfo) (*Tracked, error) {
	if info.ConnectionID == nil {
		return marker(), nil
	}
	if cs, ok := t.connections.Load(info.ConnectionID.Value); ok {
		cs.Reset(info)
		return marker(), nil
	}
	t.connections.Store(info.ConnectionID.Value, NewConnectionState(info))
	return marker(), nil
}

func (t *ConnectionStateTracker) sessionState(id *openwire.SessionID) *SessionState {
	if id == nil {
		return nil
	}
	cs, ok := t.connections.Load(id.ConnectionID)
	if !ok {
		return nil
	}
	return cs.SessionState(id)
}

func (t *ConnectionStateTracker) processSessionInfo(info *openwire.SessionInfo) (*Tracked, error) {
	if info.SessionID == nil {
		return marker(), nil
	}
	if cs, ok := t.connections.Load(info.SessionID.ConnectionID); ok {
		if err := cs.AddSession(info); err != nil {
			return nil, err
		}
	}
	return marker(), nil
}

func (t *ConnectionStateTracker) processProducerInfo(info *openwire.ProducerInfo) (*Tracked, error) {
	if info.ProducerID == nil {
		return marker(), nil
	}
	if ss := t.sessionState(info.ProducerID.Parent()); ss != nil {
		if err := ss.AddProducer(info); err != nil {
			return nil, err
		}
	}
	return marker(), nil
}

func (t *ConnectionStateTracker) processConsumerInfo(info *openwire.ConsumerInfo) (*Tracked, error) {
	if info.ConsumerID == nil {
		return marker(), nil
	}
	if ss := t.sessionState(info.ConsumerID.Parent()); ss != nil {
		if err := ss.AddConsumer(info); err != nil {
			return nil, err
		}
	}
	return marker(), nil
}

func (t *ConnectionStateTracker) processDestinationInfo(info *openwire.DestinationInfo) (*Tracked, error) {
	if info.ConnectionID == nil || !openwire.IsTemporary(info.Destination) {
		return marker(), nil
	}
	cs, ok := t.connections.Load(info.ConnectionID.Value)
	if !ok {
		return marker(), nil
	}

	var err error
	if info.IsAdd() {
		err = cs.AddTempDestination(info)
	} else {
		err = cs.RemoveTempDestination(info.Destination)
	}
	if err != nil {
		return nil, err
	}
	return marker(), nil
}

func (t *ConnectionStateTracker) processRemoveInfo(info *openwire.RemoveInfo) (*Tracked, error) {
	switch id := info.ObjectID.(type) {
	case *openwire.ConnectionID:
		if cs, ok := t.connections.LoadAndDelete(id.Value); ok {
			cs.Shutdown()
		}
	case *openwire.SessionID:
		if cs, ok := t.connections.Load(id.ConnectionID); ok {
			if _, err := cs.RemoveSession(id); err != nil {
				return nil, err
			}
		}
	case *openwire.ProducerID:
		if ss := t.sessionState(id.Parent()); ss != nil {
			if _, err := ss.RemoveProducer(id); err != nil {
				return nil, err
			}
		}
	case *openwire.ConsumerID:
		if ss := t.sessionState(id.Parent()); ss != nil {
			if _, err := ss.RemoveConsumer(id); err != nil {
				return nil, err
			}
		}
	default:
		return nil, nil
	}
	return marker(), nil
}

func (t *ConnectionStateTracker) processMessage(msg openwire.MessageCommand) (*Tracked, error) {
	m := msg.MessageBase()

	if t.opts.trackTransactions && m.TransactionID != nil {
		if m.ProducerID == nil {
			return marker(), nil
		}
		cs, ok := t.connections.Load(m.ProducerID.ConnectionID)
		if !ok {
			return marker(), nil
		}
		tx := cs.TransactionState(m.TransactionID)
		if tx == nil {
			return marker(), nil
		}
		if err := tx.AddCommand(msg); err != nil {
			return nil, err
		}
		if t.opts.trackTransactionProducers {
			if ss := cs.SessionState(m.ProducerID.Parent()); ss != nil {
				if ps := ss.ProducerState(m.ProducerID); ps != nil {
					ps.SetTransactionState(tx)
				}
			}
		}
		return marker(), nil
	}

	if t.opts.trackMessages && m.MessageID != nil {
		t.cacheMessage(msg)
	}
	return nil, nil
}

func messageSize(m *openwire.Message) int {
	return messageSizeOverhead + len(m.Content) + len(m.MarshalledProperties)
}

func (t *ConnectionStateTracker) cacheMessage(msg openwire.MessageCommand) {
	m := msg.MessageBase()
	key := m.MessageID.String()
	size := messageSize(m)

	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()

	if i := slices.IndexFunc(t.messages, func(c cachedMessage) bool { return c.key == key }); i >= 0 {
		t.messageSize -= t.messages[i].size
		t.messages = slices.Delete(t.messages, i, i+1)
	}
	t.messages = append(t.messages, cachedMessage{key: key, cmd: msg, size: size})
	t.messageSize += size

	for t.messageSize > t.opts.maxMessageCacheSize && len(t.messages) > 0 {
		t.messageSize -= t.messages[0].size
		t.messages = t.messages[1:]
	}
}

func (t *ConnectionStateTracker) processMessagePull(pull *openwire.MessagePull) {
	if pull.Destination == nil || pull.ConsumerID == nil {
		return
	}
	key := pull.Destination.String() + "::" + pull.ConsumerID.String()

	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()

	t.pulls.remove(key)
	t.pulls.put(key, pull)
	for t.pulls.size() > t.opts.maxMessagePullCacheSize {
		t.pulls.remove(t.pulls.keys[0])
	}
}

func (t *ConnectionStateTracker) processTransactionInfo(info *openwire.TransactionInfo) (*Tracked, error) {
	if !t.opts.trackTransactions || info.ConnectionID == nil {
		return nil, nil
	}
	cs, ok := t.connections.Load(info.ConnectionID.Value)

	switch info.Type {
	case openwire.TransactionBegin:
		if ok {
			if err := cs.AddTransactionState(info.TransactionID); err != nil {
				return nil, err
			}
			if err := cs.TransactionState(info.TransactionID).AddCommand(info); err != nil {
				return nil, err
			}
		}
		return marker(), nil

	case openwire.TransactionPrepare, openwire.TransactionEnd:
		if ok {
			if tx := cs.TransactionState(info.TransactionID); tx != nil {
				if err := tx.AddCommand(info); err != nil {
					return nil, err
				}
			}
		}
		return marker(), nil

	case openwire.TransactionCommitOnePhase, openwire.TransactionCommitTwoPhase, openwire.TransactionRollback:
		if !ok {
			return nil, nil
		}
		tx := cs.TransactionState(info.TransactionID)
		if tx == nil {
			return nil, nil
		}
		if err := tx.AddCommand(info); err != nil {
			return nil, err
		}
		return &Tracked{action: func() {
			if removed := cs.RemoveTransactionState(info.TransactionID); removed != nil {
				removed.Clear()
			}
		}}, nil
	}
	return nil, nil
}

// TransportInterrupted marks every connection as not yet recovered.
func (t *ConnectionStateTracker) TransportInterrupted() {
	t.connections.Range(func(_ string, cs *ConnectionState) bool {
		cs.SetConnectionInterruptProcessingComplete(false)
		return true
	})
}

// ConnectionInterruptProcessingComplete restores the prefetch of consumers
// that were replayed in pull mode, once the client has finished handling
// the interruption.
func (t *ConnectionStateTracker) ConnectionInterruptProcessingComplete(ctx context.Context, tr Transport, id *openwire.ConnectionID) {
	cs := t.ConnectionState(id)
	if cs == nil {
		return
	}
	cs.SetConnectionInterruptProcessingComplete(true)

	for consumerID, info := range cs.takeRecoveringPullConsumers() {
		control := &openwire.ConsumerControl{
			ConsumerID:  &consumerID,
			Prefetch:    info.PrefetchSize,
			Destination: info.Destination,
		}
		if err := tr.Oneway(ctx, control); err != nil {
			t.opts.logger.Warn("failed to restore consumer prefetch", openwire.LogFields{
				openwire.LogFieldError:      err.Error(),
				openwire.LogFieldConsumerID: consumerID.String(),
			})
		}
	}
}

// Restore replays the tracked state on tr: each connection, then its
// temporary destinations, sessions with their producers and consumers, and
// transactions, followed by cached messages and pulls. Transactions whose
// one-phase commit may have been lost are failed through onCommand with a
// TransactionRolledBackException response.
func (t *ConnectionStateTracker) Restore(ctx context.Context, tr Transport, onCommand func(openwire.Command)) error {
	for _, cs := range t.ConnectionStates() {
		info := *cs.Info()
		info.FailoverReconnect = true
		if err := tr.Oneway(ctx, &info); err != nil {
			return err
		}

		for _, dest := range cs.TempDestinations() {
			if err := tr.Oneway(ctx, dest); err != nil {
				return err
			}
		}

		if t.opts.restoreSessions {
			if err := t.restoreSessions(ctx, tr, cs); err != nil {
				return err
			}
		}

		if t.opts.restoreTransactions {
			if err := t.restoreTransactions(ctx, tr, cs, onCommand); err != nil {
				return err
			}
		}
	}

	t.cacheMu.Lock()
	messages := slices.Clone(t.messages)
	pulls := t.pulls.values()
	t.cacheMu.Unlock()

	for _, m := range messages {
		if err := tr.Oneway(ctx, m.cmd); err != nil {
			return err
		}
	}
	for _, p := range pulls {
		if err := tr.Oneway(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (t *ConnectionStateTracker) restoreSessions(ctx context.Context, tr Transport, cs *ConnectionState) error {
	for _, ss := range cs.SessionStates() {
		if err := tr.Oneway(ctx, ss.Info()); err != nil {
			return err
		}

		if t.opts.restoreProducers {
			for _, ps := range ss.ProducerStates() {
				if err := tr.Oneway(ctx, ps.Info()); err != nil {
					return err
				}
			}
		}

		if t.opts.restoreConsumers {
			if err := t.restoreConsumers(ctx, tr, cs, ss); err != nil {
				return err
			}
		}
	}
	return nil
}

// restoreConsumers replays consumers. Until the client has processed the
// interruption, consumers with a prefetch come back in pull mode so no
// message is dispatched twice.
func (t *ConnectionStateTracker) restoreConsumers(ctx context.Context, tr Transport, cs *ConnectionState, ss *SessionState) error {
	complete := cs.IsConnectionInterruptProcessingComplete()
	version := tr.WireFormat().Version()

	for _, c := range ss.ConsumerStates() {
		info := c.Info()
		if !complete && info.PrefetchSize > 0 && version > 5 {
			pull := *info
			pull.PrefetchSize = 0
			cs.addRecoveringPullConsumer(*info.ConsumerID, info)
			info = &pull
		}
		if err := tr.Oneway(ctx, info); err != nil {
			return err
		}
	}
	return nil
}

func (t *ConnectionStateTracker) restoreTransactions(ctx context.Context, tr Transport, cs *ConnectionState, onCommand func(openwire.Command)) error {
	var rollback []*openwire.TransactionInfo

	for _, tx := range cs.TransactionStates() {
		if info, ok := tx.LastCommand().(*openwire.TransactionInfo); ok && info.Type == openwire.TransactionCommitOnePhase {
			rollback = append(rollback, info)
			continue
		}

		producers := tx.ProducerStates()
		for _, ps := range producers {
			if err := tr.Oneway(ctx, ps.Info()); err != nil {
				return err
			}
		}
		for _, cmd := range tx.Commands() {
			if err := tr.Oneway(ctx, cmd); err != nil {
				return err
			}
		}
		for _, ps := range producers {
			if err := tr.Oneway(ctx, ps.Info().RemoveCommand()); err != nil {
				return err
			}
		}
	}

	for _, info := range rollback {
		t.opts.logger.Debug("rolling back in-doubt transaction", openwire.LogFields{
			"transaction_id": info.TransactionID.String(),
		})
		if onCommand == nil {
			continue
		}
		err := openwire.NewBrokerError(openwire.TransactionRolledBackExceptionClass,
			fmt.Sprintf("Transaction completion in doubt due to failover. Forcing rollback of %s", info.TransactionID))
		onCommand(openwire.NewExceptionResponse(info.CommandID, err))
	}
	return nil
}
