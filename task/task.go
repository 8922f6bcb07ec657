// Package task runs background work on dedicated goroutines.
//
// A Runner repeatedly calls a Task's Iterate method while it reports more
// work, then parks until Wakeup is called or the runner is shut down. A
// CompositeRunner multiplexes several CompositeTasks onto one goroutine.
package task

import (
	"errors"
	"sync"
	"time"

	"gopkg.in/tomb.v2"
)

// ErrShutdownTimeout is returned when a runner does not exit in time.
var ErrShutdownTimeout = errors.New("task: runner did not stop before timeout")

// Task is a unit of work driven by a Runner.
type Task interface {
	// Iterate performs one step and reports whether more work is pending.
	Iterate() bool
}

// Func adapts a function to the Task interface.
type Func func() bool

// Iterate calls f.
func (f Func) Iterate() bool { return f() }

// Runner drives a Task on a dedicated goroutine.
type Runner struct {
	t    tomb.Tomb
	task Task
	wake chan struct{}

	mu       sync.Mutex
	shutdown bool
}

// NewRunner starts a goroutine that iterates task once and then every time
// Wakeup is called.
func NewRunner(task Task) *Runner {
	r := &Runner{
		task: task,
		wake: make(chan struct{}, 1),
	}
	r.t.Go(r.run)
	return r
}

func (r *Runner) run() error {
	for {
		for r.task.Iterate() {
			select {
			case <-r.t.Dying():
				return nil
			default:
			}
		}

		select {
		case <-r.wake:
		case <-r.t.Dying():
			return nil
		}
	}
}

// Wakeup signals the runner that the task has work. Calls after shutdown
// are ignored.
func (r *Runner) Wakeup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shutdown {
		return
	}
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Stop asks the runner to exit without waiting. It is safe to call from
// inside Iterate.
func (r *Runner) Stop() {
	r.kill()
}

// Shutdown stops the runner and blocks until its goroutine has exited.
func (r *Runner) Shutdown() {
	r.kill()
	_ = r.t.Wait()
}

// ShutdownTimeout stops the runner and waits at most d for its goroutine
// to exit. A task blocked inside Iterate keeps the goroutine alive.
func (r *Runner) ShutdownTimeout(d time.Duration) error {
	r.kill()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-r.t.Dead():
		return nil
	case <-timer.C:
		return ErrShutdownTimeout
	}
}

// Done is closed once the runner goroutine has exited.
func (r *Runner) Done() <-chan struct{} {
	return r.t.Dead()
}

func (r *Runner) kill() {
	r.mu.Lock()
	r.shutdown = true
	r.mu.Unlock()
	r.t.Kill(nil)
}
