package task

import (
	"slices"
	"sync"
	"time"
)

// CompositeTask is a Task that can report pending work without running.
type CompositeTask interface {
	Task
	IsPending() bool
}

// CompositeRunner runs several CompositeTasks on a single goroutine. Each
// pass iterates every pending task once.
type CompositeRunner struct {
	mu     sync.Mutex
	tasks  []CompositeTask
	runner *Runner
}

// NewCompositeRunner creates an idle composite runner. Call Start to launch
// its goroutine.
func NewCompositeRunner() *CompositeRunner {
	return &CompositeRunner{}
}

// AddTask registers t. Tasks added after Start are picked up on the next
// wakeup.
func (c *CompositeRunner) AddTask(t CompositeTask) {
	c.mu.Lock()
	c.tasks = append(c.tasks, t)
	c.mu.Unlock()
}

// RemoveTask unregisters t.
func (c *CompositeRunner) RemoveTask(t CompositeTask) {
	c.mu.Lock()
	c.tasks = slices.DeleteFunc(c.tasks, func(x CompositeTask) bool { return x == t })
	c.mu.Unlock()
}

// Start launches the runner goroutine. It is a no-op when already started.
func (c *CompositeRunner) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.runner == nil {
		c.runner = NewRunner(Func(c.iterate))
	}
}

// Wakeup signals the runner to check its tasks.
func (c *CompositeRunner) Wakeup() {
	c.mu.Lock()
	r := c.runner
	c.mu.Unlock()

	if r != nil {
		r.Wakeup()
	}
}

// Stop asks the runner to exit without waiting for it.
func (c *CompositeRunner) Stop() {
	if r := c.detach(); r != nil {
		r.Stop()
	}
}

// Shutdown stops the runner and waits for it to exit.
func (c *CompositeRunner) Shutdown() {
	if r := c.detach(); r != nil {
		r.Shutdown()
	}
}

// ShutdownTimeout stops the runner and waits at most d for it to exit.
func (c *CompositeRunner) ShutdownTimeout(d time.Duration) error {
	if r := c.detach(); r != nil {
		return r.ShutdownTimeout(d)
	}
	return nil
}

func (c *CompositeRunner) detach() *Runner {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.runner
	c.runner = nil
	return r
}

func (c *CompositeRunner) iterate() bool {
	c.mu.Lock()
	tasks := slices.Clone(c.tasks)
	c.mu.Unlock()

	more := false
	for _, t := range tasks {
		if t.IsPending() && t.Iterate() {
			more = true
		}
	}
	return more
}
