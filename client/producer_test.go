package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalvas/openwire"
	"github.com/vitalvas/openwire/transport"
)

func newProducerSession(t *testing.T, mode AckMode, opts ...Option) (*Session, *transport.MockTransport) {
	t.Helper()
	conn, mock, _ := dialMock(t, opts...)
	session, err := conn.CreateSession(testContext(t), mode)
	require.NoError(t, err)
	return session, mock
}

func sentMessages(mock *transport.MockTransport) []*openwire.TextMessage {
	return sentOf[*openwire.TextMessage](mock)
}

func TestCreateProducer(t *testing.T) {
	session, mock := newProducerSession(t, AutoAcknowledge)
	queue := openwire.NewQueue("orders")

	producer, err := session.CreateProducer(testContext(t), queue, WithWindowSize(1024))
	require.NoError(t, err)

	assert.Equal(t, session.ID().Value, producer.ID().SessionID)
	assert.Equal(t, int64(1), producer.ID().Value)
	assert.Equal(t, queue, producer.Destination())

	infos := sentOf[*openwire.ProducerInfo](mock)
	require.Len(t, infos, 1)
	assert.True(t, infos[0].ResponseRequired)
	assert.Equal(t, int32(1024), infos[0].WindowSize)
}

func TestProducerSend(t *testing.T) {
	tests := []struct {
		name     string
		connOpts []Option
		opts     []ProducerOption
		wantSync bool
	}{
		{name: "persistent waits for broker", wantSync: true},
		{name: "non persistent is async", opts: []ProducerOption{WithPersistent(false)}},
		{name: "async send option", connOpts: []Option{WithAsyncSend(true)}},
		{name: "always sync", connOpts: []Option{WithAlwaysSyncSend(true)}, opts: []ProducerOption{WithPersistent(false)}, wantSync: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, mock := newProducerSession(t, AutoAcknowledge, tt.connOpts...)
			ctx := testContext(t)
			producer, err := session.CreateProducer(ctx, openwire.NewQueue("orders"), tt.opts...)
			require.NoError(t, err)

			msg, err := session.CreateTextMessage("hello")
			require.NoError(t, err)
			require.NoError(t, producer.Send(ctx, msg))

			sent := sentMessages(mock)
			require.Len(t, sent, 1)
			assert.Equal(t, tt.wantSync, sent[0].ResponseRequired)
		})
	}
}

func TestProducerStampsMessage(t *testing.T) {
	session, mock := newProducerSession(t, AutoAcknowledge)
	ctx := testContext(t)
	queue := openwire.NewQueue("orders")
	producer, err := session.CreateProducer(ctx, queue, WithPriority(7), WithTimeToLive(time.Minute))
	require.NoError(t, err)

	before := time.Now().UnixMilli()
	for range 2 {
		msg, err := session.CreateTextMessage("hello")
		require.NoError(t, err)
		require.NoError(t, producer.Send(ctx, msg))
	}

	sent := sentMessages(mock)
	require.Len(t, sent, 2)
	for i, msg := range sent {
		assert.Equal(t, producer.ID(), msg.ProducerID)
		assert.Equal(t, producer.ID(), msg.MessageID.ProducerID)
		assert.Equal(t, int64(i+1), msg.MessageID.ProducerSequenceID)
		assert.True(t, openwire.SameDestination(queue, msg.Destination))
		assert.True(t, msg.Persistent)
		assert.Equal(t, byte(7), msg.Priority)
		assert.GreaterOrEqual(t, msg.Timestamp, before)
		assert.Equal(t, msg.Timestamp+time.Minute.Milliseconds(), msg.Expiration)
		assert.Nil(t, msg.TransactionID)
	}
}

func TestProducerPriorityClamp(t *testing.T) {
	assert.Equal(t, byte(9), applyProducerOptions(WithPriority(200)).priority)
	assert.Equal(t, byte(DefaultPriority), applyProducerOptions().priority)
	assert.True(t, applyProducerOptions().persistent)
}

func TestProducerDestinations(t *testing.T) {
	session, mock := newProducerSession(t, AutoAcknowledge)
	ctx := testContext(t)

	anonymous, err := session.CreateProducer(ctx, nil)
	require.NoError(t, err)
	bound, err := session.CreateProducer(ctx, openwire.NewQueue("a"))
	require.NoError(t, err)

	msg := func() *openwire.TextMessage {
		m, err := session.CreateTextMessage("x")
		require.NoError(t, err)
		return m
	}

	assert.ErrorIs(t, anonymous.Send(ctx, msg()), ErrNoDestination)
	require.NoError(t, anonymous.SendTo(ctx, openwire.NewTopic("t"), msg()))
	assert.ErrorIs(t, bound.SendTo(ctx, openwire.NewQueue("b"), msg()), ErrInvalidDestination)
	require.NoError(t, bound.SendTo(ctx, openwire.NewQueue("a"), msg()))

	sent := sentMessages(mock)
	require.Len(t, sent, 2)
	assert.Equal(t, "t", sent[0].Destination.PhysicalName())
	assert.Equal(t, "a", sent[1].Destination.PhysicalName())
}

func TestProducerTransacted(t *testing.T) {
	session, mock := newProducerSession(t, SessionTransacted)
	ctx := testContext(t)
	producer, err := session.CreateProducer(ctx, openwire.NewQueue("orders"))
	require.NoError(t, err)

	msg, err := session.CreateTextMessage("in tx")
	require.NoError(t, err)
	require.NoError(t, producer.Send(ctx, msg))

	sent := sentMessages(mock)
	require.Len(t, sent, 1)
	require.NotNil(t, sent[0].TransactionID)
	assert.False(t, sent[0].ResponseRequired)
	assert.True(t, session.InTransaction())

	require.NoError(t, session.Commit(ctx))
	infos := sentOf[*openwire.TransactionInfo](mock)
	require.Len(t, infos, 2)
	assert.Equal(t, openwire.TransactionBegin, infos[0].Type)
	assert.Equal(t, openwire.TransactionCommitOnePhase, infos[1].Type)
	assert.Equal(t, sent[0].TransactionID, infos[1].TransactionID)
}

func TestProducerClose(t *testing.T) {
	session, mock := newProducerSession(t, AutoAcknowledge)
	ctx := testContext(t)
	producer, err := session.CreateProducer(ctx, openwire.NewQueue("orders"))
	require.NoError(t, err)

	require.NoError(t, producer.Close(ctx))
	require.NoError(t, producer.Close(ctx))
	assert.True(t, producer.IsClosed())

	removes := sentOf[*openwire.RemoveInfo](mock)
	require.Len(t, removes, 1)
	assert.Equal(t, producer.ID(), removes[0].ObjectID)

	msg, err := session.CreateTextMessage("late")
	require.NoError(t, err)
	assert.ErrorIs(t, producer.Send(ctx, msg), ErrProducerClosed)
}

func TestProducerWindowReleasedByProducerAck(t *testing.T) {
	session, mock := newProducerSession(t, AutoAcknowledge, WithAsyncSend(true))
	ctx := testContext(t)
	producer, err := session.CreateProducer(ctx, openwire.NewQueue("orders"), WithWindowSize(1<<20))
	require.NoError(t, err)

	msg, err := session.CreateBytesMessage(make([]byte, 100))
	require.NoError(t, err)
	require.NoError(t, producer.Send(ctx, msg))
	assert.Equal(t, int64(100), producer.window.inUse())

	mock.Inject(&openwire.ProducerAck{ProducerID: producer.ID(), Size: 100})
	require.Eventually(t, func() bool { return producer.window.inUse() == 0 }, waitTimeout, 5*time.Millisecond)
}

func TestProducerWindow(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		w := newProducerWindow(0)
		require.NoError(t, w.acquire(context.Background(), 1<<30))
		assert.Zero(t, w.inUse())
	})

	t.Run("oversized send into empty window", func(t *testing.T) {
		w := newProducerWindow(10)
		require.NoError(t, w.acquire(context.Background(), 50))
		assert.Equal(t, int64(50), w.inUse())
	})

	t.Run("blocks until released", func(t *testing.T) {
		w := newProducerWindow(10)
		require.NoError(t, w.acquire(context.Background(), 8))

		done := make(chan error, 1)
		go func() {
			done <- w.acquire(context.Background(), 5)
		}()

		select {
		case <-done:
			t.Fatal("acquire did not block")
		case <-time.After(20 * time.Millisecond):
		}

		w.release(8)
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(waitTimeout):
			t.Fatal("acquire was not released")
		}
		assert.Equal(t, int64(5), w.inUse())
	})

	t.Run("context timeout", func(t *testing.T) {
		w := newProducerWindow(10)
		require.NoError(t, w.acquire(context.Background(), 10))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, w.acquire(ctx, 1), context.DeadlineExceeded)
	})

	t.Run("closed", func(t *testing.T) {
		w := newProducerWindow(10)
		require.NoError(t, w.acquire(context.Background(), 10))

		done := make(chan error, 1)
		go func() {
			done <- w.acquire(context.Background(), 1)
		}()
		w.close()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, ErrProducerClosed)
		case <-time.After(waitTimeout):
			t.Fatal("acquire was not released")
		}
	})

	t.Run("release never goes negative", func(t *testing.T) {
		w := newProducerWindow(10)
		w.release(5)
		assert.Zero(t, w.inUse())
	})
}
