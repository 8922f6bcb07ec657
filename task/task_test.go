package task

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTask struct {
	calls   atomic.Int32
	pending atomic.Int32
	ran     chan struct{}
}

func newCountingTask() *countingTask {
	return &countingTask{ran: make(chan struct{}, 64)}
}

func (c *countingTask) Iterate() bool {
	c.calls.Add(1)
	select {
	case c.ran <- struct{}{}:
	default:
	}
	return c.pending.Add(-1) > 0
}

func (c *countingTask) IsPending() bool { return c.pending.Load() > 0 }

func waitRan(t *testing.T, c *countingTask) {
	t.Helper()
	select {
	case <-c.ran:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}

func TestRunner(t *testing.T) {
	t.Run("iterates once on start", func(t *testing.T) {
		task := newCountingTask()
		r := NewRunner(task)
		defer r.Shutdown()

		waitRan(t, task)
		assert.Equal(t, int32(1), task.calls.Load())
	})

	t.Run("iterates until idle", func(t *testing.T) {
		task := newCountingTask()
		task.pending.Store(5)
		r := NewRunner(task)

		require.Eventually(t, func() bool { return task.calls.Load() == 5 }, time.Second, time.Millisecond)
		r.Shutdown()
		assert.Equal(t, int32(5), task.calls.Load())
	})

	t.Run("wakeup runs again", func(t *testing.T) {
		task := newCountingTask()
		r := NewRunner(task)
		defer r.Shutdown()

		waitRan(t, task)
		r.Wakeup()
		waitRan(t, task)
		assert.Equal(t, int32(2), task.calls.Load())
	})

	t.Run("shutdown blocks until exit", func(t *testing.T) {
		r := NewRunner(Func(func() bool { return false }))
		r.Shutdown()

		select {
		case <-r.Done():
		default:
			t.Fatal("runner still alive after Shutdown")
		}

		r.Wakeup()
		r.Shutdown()
	})

	t.Run("shutdown timeout", func(t *testing.T) {
		release := make(chan struct{})
		entered := make(chan struct{})
		r := NewRunner(Func(func() bool {
			close(entered)
			<-release
			return false
		}))
		<-entered

		err := r.ShutdownTimeout(20 * time.Millisecond)
		assert.ErrorIs(t, err, ErrShutdownTimeout)

		close(release)
		assert.NoError(t, r.ShutdownTimeout(time.Second))
	})

	t.Run("stop from inside iterate", func(t *testing.T) {
		var r *Runner
		ready := make(chan struct{})
		r = NewRunner(Func(func() bool {
			<-ready
			r.Stop()
			return true
		}))
		close(ready)

		select {
		case <-r.Done():
		case <-time.After(time.Second):
			t.Fatal("runner did not exit after Stop")
		}
	})

	t.Run("busy task stops on shutdown", func(t *testing.T) {
		r := NewRunner(Func(func() bool { return true }))
		assert.NoError(t, r.ShutdownTimeout(time.Second))
	})
}

func TestFunc(t *testing.T) {
	called := false
	var task Task = Func(func() bool {
		called = true
		return true
	})

	assert.True(t, task.Iterate())
	assert.True(t, called)
}
