package client

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/vitalvas/openwire"
)

const advisoryPrefetch = 1000

// AdvisoryConsumer follows the broker's temporary destination advisories
// so the connection knows which temporary destinations still exist.
type AdvisoryConsumer struct {
	conn *Connection
	info *openwire.ConsumerInfo

	mu        sync.Mutex
	delivered int32
	closed    atomic.Bool
}

func newAdvisoryConsumer(ctx context.Context, conn *Connection, id *openwire.ConsumerID) (*AdvisoryConsumer, error) {
	a := &AdvisoryConsumer{
		conn: conn,
		info: &openwire.ConsumerInfo{
			ConsumerID:    id,
			Destination:   openwire.TempDestinationAdvisoryTopic(),
			PrefetchSize:  advisoryPrefetch,
			NoLocal:       true,
			DispatchAsync: true,
		},
	}

	conn.addDispatcher(id, a)
	if err := conn.oneway(ctx, a.info); err != nil {
		conn.removeDispatcher(id)
		return nil, err
	}
	return a, nil
}

// ID returns the consumer identifier.
func (a *AdvisoryConsumer) ID() *openwire.ConsumerID { return a.info.ConsumerID }

func (a *AdvisoryConsumer) dispatch(md *openwire.MessageDispatch) {
	if a.closed.Load() {
		return
	}
	a.ack(md)

	if md.Message == nil {
		return
	}
	info, ok := md.Message.MessageBase().DataStructure.(*openwire.DestinationInfo)
	if !ok || info.Destination == nil || !openwire.IsTemporary(info.Destination) {
		return
	}
	switch {
	case info.IsAdd():
		a.conn.tempDests.add(info.Destination)
	case info.IsRemove():
		a.conn.tempDests.remove(info.Destination)
	}
}

// ack acknowledges advisories in batches once three quarters of the
// prefetch window has been delivered.
func (a *AdvisoryConsumer) ack(md *openwire.MessageDispatch) {
	a.mu.Lock()
	a.delivered++
	if a.delivered <= advisoryPrefetch*3/4 {
		a.mu.Unlock()
		return
	}
	count := a.delivered
	a.delivered = 0
	a.mu.Unlock()

	ack := &openwire.MessageAck{
		AckType:      openwire.AckStandard,
		ConsumerID:   a.info.ConsumerID,
		Destination:  md.Destination,
		MessageCount: count,
	}
	if md.Message != nil {
		ack.LastMessageID = md.Message.MessageBase().MessageID
	}
	if err := a.conn.oneway(context.Background(), ack); err != nil {
		a.conn.logger.Debug("failed to acknowledge advisories", openwire.LogFields{
			openwire.LogFieldConsumerID: a.info.ConsumerID.String(),
			openwire.LogFieldError:      err.Error(),
		})
		a.conn.emit(&InternalErrorEvent{Cause: err})
	}
}

func (a *AdvisoryConsumer) dispose(ctx context.Context) {
	if !a.closed.CompareAndSwap(false, true) {
		return
	}
	a.conn.removeDispatcher(a.info.ConsumerID)
	if err := a.conn.oneway(ctx, a.info.RemoveCommand()); err != nil {
		a.conn.logger.Debug("failed to remove advisory consumer", openwire.LogFields{
			openwire.LogFieldConsumerID: a.info.ConsumerID.String(),
			openwire.LogFieldError:      err.Error(),
		})
	}
}
