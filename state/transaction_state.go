package state

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/vitalvas/openwire"
)

// TransactionState records the commands issued under one transaction so
// they can be replayed after a reconnect.
type TransactionState struct {
	id openwire.TransactionID

	mu             sync.Mutex
	commands       []openwire.Command
	producers      []*ProducerState
	prepared       bool
	preparedResult int32

	disposed atomic.Bool
}

// NewTransactionState creates an empty state for id.
func NewTransactionState(id openwire.TransactionID) *TransactionState {
	return &TransactionState{id: id}
}

// ID returns the transaction identifier.
func (s *TransactionState) ID() openwire.TransactionID { return s.id }

// AddCommand appends cmd to the transaction's command log.
func (s *TransactionState) AddCommand(cmd openwire.Command) error {
	if err := s.checkShutdown(); err != nil {
		return err
	}

	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	s.mu.Unlock()
	return nil
}

// Commands returns a snapshot of the command log in send order.
func (s *TransactionState) Commands() []openwire.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.commands)
}

// LastCommand returns the most recent command, or nil.
func (s *TransactionState) LastCommand() openwire.Command {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.commands) == 0 {
		return nil
	}
	return s.commands[len(s.commands)-1]
}

// AddProducerState remembers a producer that sent under this transaction
// and has since been closed.
func (s *TransactionState) AddProducerState(ps *ProducerState) {
	s.mu.Lock()
	s.producers = append(s.producers, ps)
	s.mu.Unlock()
}

// ProducerStates returns the closed producers involved in the transaction.
func (s *TransactionState) ProducerStates() []*ProducerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.producers)
}

// SetPrepared marks the transaction as prepared for two-phase commit.
func (s *TransactionState) SetPrepared(prepared bool) {
	s.mu.Lock()
	s.prepared = prepared
	s.mu.Unlock()
}

// IsPrepared reports whether the transaction has been prepared.
func (s *TransactionState) IsPrepared() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prepared
}

// SetPreparedResult stores the broker's answer to the prepare step.
func (s *TransactionState) SetPreparedResult(result int32) {
	s.mu.Lock()
	s.preparedResult = result
	s.mu.Unlock()
}

// PreparedResult returns the stored prepare answer.
func (s *TransactionState) PreparedResult() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preparedResult
}

// Clear drops the command log and producer list.
func (s *TransactionState) Clear() {
	s.mu.Lock()
	s.commands = nil
	s.producers = nil
	s.mu.Unlock()
}

// Shutdown disposes the state. Later mutations fail.
func (s *TransactionState) Shutdown() {
	s.disposed.Store(true)
}

// IsDisposed reports whether Shutdown has been called.
func (s *TransactionState) IsDisposed() bool { return s.disposed.Load() }

func (s *TransactionState) checkShutdown() error {
	if s.disposed.Load() {
		return openwire.NewStateError("transaction "+s.id.String(), openwire.ErrDisposed)
	}
	return nil
}
