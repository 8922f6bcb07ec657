package state

import (
	"sync"
	"sync/atomic"

	"github.com/vitalvas/openwire"
)

// ProducerState is the tracked view of one producer.
type ProducerState struct {
	info *openwire.ProducerInfo

	mu sync.Mutex
	tx *TransactionState
}

// NewProducerState wraps info.
func NewProducerState(info *openwire.ProducerInfo) *ProducerState {
	return &ProducerState{info: info}
}

// Info returns the producer's registration command.
func (p *ProducerState) Info() *openwire.ProducerInfo { return p.info }

// SetTransactionState links the producer to the transaction it last sent in.
func (p *ProducerState) SetTransactionState(tx *TransactionState) {
	p.mu.Lock()
	p.tx = tx
	p.mu.Unlock()
}

// TransactionState returns the linked transaction, if any.
func (p *ProducerState) TransactionState() *TransactionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tx
}

// ConsumerState is the tracked view of one consumer.
type ConsumerState struct {
	info *openwire.ConsumerInfo
}

// NewConsumerState wraps info.
func NewConsumerState(info *openwire.ConsumerInfo) *ConsumerState {
	return &ConsumerState{info: info}
}

// Info returns the consumer's registration command.
func (c *ConsumerState) Info() *openwire.ConsumerInfo { return c.info }

// SessionState tracks the producers and consumers of one session in
// creation order.
type SessionState struct {
	info *openwire.SessionInfo

	mu        sync.Mutex
	producers orderedMap[openwire.ProducerID, *ProducerState]
	consumers orderedMap[openwire.ConsumerID, *ConsumerState]

	disposed atomic.Bool
}

// NewSessionState creates an empty state for info.
func NewSessionState(info *openwire.SessionInfo) *SessionState {
	return &SessionState{info: info}
}

// Info returns the session's registration command.
func (s *SessionState) Info() *openwire.SessionInfo { return s.info }

// AddProducer tracks a new producer.
func (s *SessionState) AddProducer(info *openwire.ProducerInfo) error {
	if err := s.checkShutdown(); err != nil {
		return err
	}
	if info == nil || info.ProducerID == nil {
		return nil
	}

	s.mu.Lock()
	s.producers.put(*info.ProducerID, NewProducerState(info))
	s.mu.Unlock()
	return nil
}

// RemoveProducer stops tracking a producer. A producer that sent inside a
// transaction is handed to that transaction so it can be replayed.
func (s *SessionState) RemoveProducer(id *openwire.ProducerID) (*ProducerState, error) {
	if err := s.checkShutdown(); err != nil {
		return nil, err
	}
	if id == nil {
		return nil, nil
	}

	s.mu.Lock()
	ps, ok := s.producers.remove(*id)
	s.mu.Unlock()

	if !ok {
		return nil, nil
	}
	if tx := ps.TransactionState(); tx != nil {
		tx.AddProducerState(ps)
	}
	return ps, nil
}

// ProducerState returns the tracked producer, or nil.
func (s *SessionState) ProducerState(id *openwire.ProducerID) *ProducerState {
	if id == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, _ := s.producers.get(*id)
	return ps
}

// ProducerStates returns the tracked producers in creation order.
func (s *SessionState) ProducerStates() []*ProducerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.producers.values()
}

// AddConsumer tracks a new consumer.
func (s *SessionState) AddConsumer(info *openwire.ConsumerInfo) error {
	if err := s.checkShutdown(); err != nil {
		return err
	}
	if info == nil || info.ConsumerID == nil {
		return nil
	}

	s.mu.Lock()
	s.consumers.put(*info.ConsumerID, NewConsumerState(info))
	s.mu.Unlock()
	return nil
}

// RemoveConsumer stops tracking a consumer.
func (s *SessionState) RemoveConsumer(id *openwire.ConsumerID) (*ConsumerState, error) {
	if err := s.checkShutdown(); err != nil {
		return nil, err
	}
	if id == nil {
		return nil, nil
	}

	s.mu.Lock()
	cs, _ := s.consumers.remove(*id)
	s.mu.Unlock()
	return cs, nil
}

// ConsumerState returns the tracked consumer, or nil.
func (s *SessionState) ConsumerState(id *openwire.ConsumerID) *ConsumerState {
	if id == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, _ := s.consumers.get(*id)
	return cs
}

// ConsumerStates returns the tracked consumers in creation order.
func (s *SessionState) ConsumerStates() []*ConsumerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumers.values()
}

// Shutdown disposes the session. Later mutations fail.
func (s *SessionState) Shutdown() {
	s.disposed.Store(true)
}

// IsDisposed reports whether Shutdown has been called.
func (s *SessionState) IsDisposed() bool { return s.disposed.Load() }

func (s *SessionState) checkShutdown() error {
	if s.disposed.Load() {
		return openwire.NewStateError("session "+s.info.SessionID.String(), openwire.ErrDisposed)
	}
	return nil
}
