package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompositeRunner(t *testing.T) {
	a := newCountingTask()
	b := newCountingTask()

	c := NewCompositeRunner()
	c.AddTask(a)
	c.AddTask(b)
	c.Start()
	c.Start()
	defer c.Shutdown()

	a.pending.Store(3)
	c.Wakeup()
	require.Eventually(t, func() bool { return a.calls.Load() == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(0), b.calls.Load(), "idle tasks are not iterated")

	b.pending.Store(1)
	c.Wakeup()
	require.Eventually(t, func() bool { return b.calls.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(3), a.calls.Load())
}

func TestCompositeRunnerRemoveTask(t *testing.T) {
	a := newCountingTask()
	c := NewCompositeRunner()
	c.AddTask(a)
	c.RemoveTask(a)
	c.Start()

	a.pending.Store(1)
	c.Wakeup()
	assert.NoError(t, c.ShutdownTimeout(time.Second))
	assert.Equal(t, int32(0), a.calls.Load())
}

func TestCompositeRunnerShutdownBeforeStart(t *testing.T) {
	c := NewCompositeRunner()
	c.Wakeup()
	c.Shutdown()
	assert.NoError(t, c.ShutdownTimeout(time.Millisecond))
}
