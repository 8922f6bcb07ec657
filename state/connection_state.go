package state

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/vitalvas/openwire"
)

// DefaultSessionID is the value of the implicit session every connection
// owns for producers and consumers created outside an explicit session.
const DefaultSessionID int64 = -1

// ConnectionState tracks everything a connection has created on the broker.
// Lock order is connection before session.
type ConnectionState struct {
	mu                 sync.Mutex
	info               *openwire.ConnectionInfo
	sessions           orderedMap[openwire.SessionID, *SessionState]
	transactions       orderedMap[string, *TransactionState]
	tempDestinations   []*openwire.DestinationInfo
	recoveringPull     map[openwire.ConsumerID]*openwire.ConsumerInfo
	interruptProcessed bool

	disposed atomic.Bool
}

// NewConnectionState creates the state for info, including its default
// session.
func NewConnectionState(info *openwire.ConnectionInfo) *ConnectionState {
	cs := &ConnectionState{}
	cs.reset(info)
	return cs
}

// Info returns the connection's registration command.
func (c *ConnectionState) Info() *openwire.ConnectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// Reset replaces the registration command and drops every tracked child.
func (c *ConnectionState) Reset(info *openwire.ConnectionInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset(info)
}

func (c *ConnectionState) reset(info *openwire.ConnectionInfo) {
	c.info = info
	c.sessions.clear()
	c.transactions.clear()
	c.tempDestinations = nil
	c.recoveringPull = make(map[openwire.ConsumerID]*openwire.ConsumerInfo)
	c.interruptProcessed = true
	c.disposed.Store(false)

	if info != nil && info.ConnectionID != nil {
		id := openwire.NewSessionID(info.ConnectionID, DefaultSessionID)
		c.sessions.put(*id, NewSessionState(&openwire.SessionInfo{SessionID: id}))
	}
}

// AddTempDestination tracks a temporary destination created by the
// connection.
func (c *ConnectionState) AddTempDestination(info *openwire.DestinationInfo) error {
	if err := c.checkShutdown(); err != nil {
		return err
	}

	c.mu.Lock()
	c.tempDestinations = append(c.tempDestinations, info)
	c.mu.Unlock()
	return nil
}

// RemoveTempDestination stops tracking every entry for dest.
func (c *ConnectionState) RemoveTempDestination(dest openwire.Destination) error {
	if err := c.checkShutdown(); err != nil {
		return err
	}

	c.mu.Lock()
	c.tempDestinations = slices.DeleteFunc(c.tempDestinations, func(di *openwire.DestinationInfo) bool {
		return openwire.SameDestination(di.Destination, dest)
	})
	c.mu.Unlock()
	return nil
}

// TempDestinations returns the tracked temporary destinations.
func (c *ConnectionState) TempDestinations() []*openwire.DestinationInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.tempDestinations)
}

// AddSession tracks a new session.
func (c *ConnectionState) AddSession(info *openwire.SessionInfo) error {
	if err := c.checkShutdown(); err != nil {
		return err
	}
	if info == nil || info.SessionID == nil {
		return nil
	}

	c.mu.Lock()
	c.sessions.put(*info.SessionID, NewSessionState(info))
	c.mu.Unlock()
	return nil
}

// RemoveSession stops tracking a session and disposes its state.
func (c *ConnectionState) RemoveSession(id *openwire.SessionID) (*SessionState, error) {
	if err := c.checkShutdown(); err != nil {
		return nil, err
	}
	if id == nil {
		return nil, nil
	}

	c.mu.Lock()
	ss, ok := c.sessions.remove(*id)
	c.mu.Unlock()

	if ok {
		ss.Shutdown()
	}
	return ss, nil
}

// SessionState returns the tracked session, or nil.
func (c *ConnectionState) SessionState(id *openwire.SessionID) *SessionState {
	if id == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	ss, _ := c.sessions.get(*id)
	return ss
}

// SessionStates returns the tracked sessions in creation order.
func (c *ConnectionState) SessionStates() []*SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions.values()
}

// AddTransactionState starts tracking transaction id.
func (c *ConnectionState) AddTransactionState(id openwire.TransactionID) error {
	if err := c.checkShutdown(); err != nil {
		return err
	}

	c.mu.Lock()
	c.transactions.put(id.String(), NewTransactionState(id))
	c.mu.Unlock()
	return nil
}

// TransactionState returns the tracked transaction, or nil.
func (c *ConnectionState) TransactionState(id openwire.TransactionID) *TransactionState {
	if id == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, _ := c.transactions.get(id.String())
	return tx
}

// RemoveTransactionState stops tracking transaction id and returns its
// state.
func (c *ConnectionState) RemoveTransactionState(id openwire.TransactionID) *TransactionState {
	if id == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, _ := c.transactions.remove(id.String())
	return tx
}

// TransactionStates returns the tracked transactions in begin order.
func (c *ConnectionState) TransactionStates() []*TransactionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transactions.values()
}

// SetConnectionInterruptProcessingComplete records whether the client has
// finished handling a transport interruption.
func (c *ConnectionState) SetConnectionInterruptProcessingComplete(done bool) {
	c.mu.Lock()
	c.interruptProcessed = done
	c.mu.Unlock()
}

// IsConnectionInterruptProcessingComplete reports the flag set above.
func (c *ConnectionState) IsConnectionInterruptProcessingComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interruptProcessed
}

// addRecoveringPullConsumer remembers the original info of a consumer
// restored with a zero prefetch.
func (c *ConnectionState) addRecoveringPullConsumer(id openwire.ConsumerID, info *openwire.ConsumerInfo) {
	c.mu.Lock()
	c.recoveringPull[id] = info
	c.mu.Unlock()
}

// takeRecoveringPullConsumers returns and clears the consumers waiting for
// their prefetch to be restored.
func (c *ConnectionState) takeRecoveringPullConsumers() map[openwire.ConsumerID]*openwire.ConsumerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.recoveringPull
	c.recoveringPull = make(map[openwire.ConsumerID]*openwire.ConsumerInfo)
	return out
}

// RecoveringPullConsumers returns the number of consumers restored with a
// zero prefetch that still wait for their original prefetch.
func (c *ConnectionState) RecoveringPullConsumers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recoveringPull)
}

// Shutdown disposes the connection state and every session in it.
func (c *ConnectionState) Shutdown() {
	if !c.disposed.CompareAndSwap(false, true) {
		return
	}
	for _, ss := range c.SessionStates() {
		ss.Shutdown()
	}
	for _, tx := range c.TransactionStates() {
		tx.Shutdown()
	}
}

// IsDisposed reports whether Shutdown has been called.
func (c *ConnectionState) IsDisposed() bool { return c.disposed.Load() }

func (c *ConnectionState) checkShutdown() error {
	if c.disposed.Load() {
		return openwire.NewStateError("connection", openwire.ErrDisposed)
	}
	return nil
}
