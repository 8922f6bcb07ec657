package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitalvas/openwire"
	"github.com/vitalvas/openwire/task"
)

// InactivityMonitor fails the chain when the peer stays silent and keeps
// the peer's monitor satisfied with KeepAliveInfo when this side has
// nothing to send.
//
// Monitoring starts once WireFormatInfo has been both sent and received.
// The read check runs every negotiated max inactivity duration; the write
// check runs three times as often.
type InactivityMonitor struct {
	Filter

	logger                    openwire.Logger
	metrics                   *openwire.ClientMetrics
	keepAliveResponseRequired bool

	mu         sync.Mutex
	localInfo  *openwire.WireFormatInfo
	remoteInfo *openwire.WireFormatInfo
	readCheck  time.Duration
	writeCheck time.Duration
	lastRead   time.Time
	stop       chan struct{}
	tasks      *task.CompositeRunner

	started         atomic.Bool
	failed          atomic.Bool
	commandSent     atomic.Bool
	commandReceived atomic.Bool
	inRead          atomic.Bool
	inWrite         atomic.Bool

	writeMu   sync.Mutex
	readTask  *readFailureTask
	writeTask *keepAliveTask
}

// InactivityOption configures an InactivityMonitor.
type InactivityOption func(*InactivityMonitor)

// WithKeepAliveResponseRequired asks the peer to answer every keep-alive.
func WithKeepAliveResponseRequired(required bool) InactivityOption {
	return func(m *InactivityMonitor) {
		m.keepAliveResponseRequired = required
	}
}

// WithInactivityLogger sets the logger.
func WithInactivityLogger(l openwire.Logger) InactivityOption {
	return func(m *InactivityMonitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithInactivityMetrics sets the metrics collector.
func WithInactivityMetrics(mt openwire.Metrics) InactivityOption {
	return func(m *InactivityMonitor) {
		if mt != nil {
			m.metrics = openwire.NewClientMetrics(mt)
		}
	}
}

// NewInactivityMonitor wraps next.
func NewInactivityMonitor(next Transport, opts ...InactivityOption) *InactivityMonitor {
	m := &InactivityMonitor{logger: openwire.NewNoOpLogger()}
	for _, opt := range opts {
		opt(m)
	}
	m.readTask = &readFailureTask{m: m}
	m.writeTask = &keepAliveTask{m: m}
	m.attach(next, m)
	return m
}

// ReadCheckTime returns the active read check period, or zero before
// monitoring starts.
func (m *InactivityMonitor) ReadCheckTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readCheck
}

// WriteCheckTime returns the active write check period.
func (m *InactivityMonitor) WriteCheckTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeCheck
}

// Start starts the wrapped transport and the checks if both wire formats
// are already known.
func (m *InactivityMonitor) Start(ctx context.Context) error {
	if err := m.next.Start(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.startMonitor()
	m.mu.Unlock()
	return nil
}

// Stop halts the checks and the wrapped transport.
func (m *InactivityMonitor) Stop() error {
	m.stopMonitor()
	return m.next.Stop()
}

// Close halts the checks and closes the wrapped transport.
func (m *InactivityMonitor) Close() error {
	m.stopMonitor()
	return m.next.Close()
}

// OnCommand marks the channel as read from and passes cmd up.
func (m *InactivityMonitor) OnCommand(cmd openwire.Command) {
	m.commandReceived.Store(true)
	m.inRead.Store(true)
	defer m.inRead.Store(false)

	if info, ok := cmd.(*openwire.WireFormatInfo); ok {
		m.mu.Lock()
		m.remoteInfo = info
		m.startMonitor()
		m.mu.Unlock()
	}
	m.fireCommand(cmd)
}

// OnException stops the checks and reports err once.
func (m *InactivityMonitor) OnException(err error) {
	if !m.failed.CompareAndSwap(false, true) {
		return
	}
	m.stopMonitor()
	m.fireException(err)
}

// Oneway sends cmd and marks the channel as written to.
func (m *InactivityMonitor) Oneway(ctx context.Context, cmd openwire.Command) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.inWrite.Store(true)
	defer func() {
		m.commandSent.Store(true)
		m.inWrite.Store(false)
	}()

	if m.failed.Load() {
		return openwire.NewIOError("send "+m.RemoteAddress(), openwire.ErrInactivityTimeout)
	}

	if info, ok := cmd.(*openwire.WireFormatInfo); ok {
		m.mu.Lock()
		m.localInfo = info
		m.startMonitor()
		m.mu.Unlock()
	}
	return m.next.Oneway(ctx, cmd)
}

// startMonitor launches the checks once both infos are known. Callers
// hold m.mu.
func (m *InactivityMonitor) startMonitor() {
	if m.started.Load() || m.failed.Load() || m.localInfo == nil || m.remoteInfo == nil {
		return
	}

	readCheck := min(m.localInfo.MaxInactivityDuration(), m.remoteInfo.MaxInactivityDuration())
	initialDelay := min(m.localInfo.MaxInactivityDurationInitalDelay(), m.remoteInfo.MaxInactivityDurationInitalDelay())
	if readCheck <= 0 {
		return
	}

	m.readCheck = time.Duration(readCheck) * time.Millisecond
	m.writeCheck = m.readCheck
	if readCheck > 3 {
		m.writeCheck = time.Duration(readCheck/3) * time.Millisecond
	}
	m.lastRead = time.Now()

	m.tasks = task.NewCompositeRunner()
	m.tasks.AddTask(m.readTask)
	m.tasks.AddTask(m.writeTask)
	m.tasks.Start()

	m.stop = make(chan struct{})
	m.started.Store(true)
	go m.run(time.Duration(initialDelay)*time.Millisecond, m.readCheck, m.writeCheck, m.stop)

	m.logger.Debug("inactivity monitor started", openwire.LogFields{
		"read_check":  m.readCheck.String(),
		"write_check": m.writeCheck.String(),
	})
}

// stopMonitor never waits for the task runner, so it is safe on the
// runner's own goroutine.
func (m *InactivityMonitor) stopMonitor() {
	if !m.started.CompareAndSwap(true, false) {
		return
	}
	m.mu.Lock()
	close(m.stop)
	tasks := m.tasks
	m.mu.Unlock()
	tasks.Stop()
}

func (m *InactivityMonitor) run(initialDelay, readEvery, writeEvery time.Duration, stop <-chan struct{}) {
	if initialDelay > 0 {
		delay := time.NewTimer(initialDelay)
		select {
		case <-delay.C:
		case <-stop:
			delay.Stop()
			return
		}
	}

	readTicker := time.NewTicker(readEvery)
	defer readTicker.Stop()
	writeTicker := time.NewTicker(writeEvery)
	defer writeTicker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-writeTicker.C:
			m.checkWrite()
		case now := <-readTicker.C:
			m.checkRead(now)
		}
	}
}

func (m *InactivityMonitor) checkRead(now time.Time) {
	m.mu.Lock()
	elapsed := now.Sub(m.lastRead)
	allowed := elapsed > m.readCheck*9/10
	if allowed {
		m.lastRead = now
	}
	tasks := m.tasks
	m.mu.Unlock()

	if !allowed || m.inRead.Load() || m.WireFormat().InReceive() {
		return
	}
	if !m.commandReceived.Load() {
		m.readTask.failed.Store(true)
		tasks.Wakeup()
	}
	m.commandReceived.Store(false)
}

func (m *InactivityMonitor) checkWrite() {
	if m.inWrite.Load() {
		return
	}
	if !m.commandSent.Load() {
		m.writeTask.write.Store(true)
		m.mu.Lock()
		tasks := m.tasks
		m.mu.Unlock()
		tasks.Wakeup()
	}
	m.commandSent.Store(false)
}

// readFailureTask raises the inactivity failure off the timer goroutine.
type readFailureTask struct {
	m      *InactivityMonitor
	failed atomic.Bool
}

func (t *readFailureTask) IsPending() bool { return t.failed.Load() }

func (t *readFailureTask) Iterate() bool {
	if t.failed.CompareAndSwap(true, false) {
		t.m.metrics.InactivityFailure()
		t.m.logger.Warn("channel was inactive for too long", openwire.LogFields{
			openwire.LogFieldRemoteAddr: t.m.RemoteAddress(),
		})
		t.m.OnException(openwire.NewIOError("inactivity "+t.m.RemoteAddress(), openwire.ErrInactivityTimeout))
	}
	return t.failed.Load()
}

// keepAliveTask writes a KeepAliveInfo off the timer goroutine.
type keepAliveTask struct {
	m     *InactivityMonitor
	write atomic.Bool
}

func (t *keepAliveTask) IsPending() bool { return t.write.Load() }

func (t *keepAliveTask) Iterate() bool {
	if t.write.CompareAndSwap(true, false) && t.m.started.Load() {
		info := &openwire.KeepAliveInfo{}
		info.ResponseRequired = t.m.keepAliveResponseRequired
		if err := t.m.Oneway(context.Background(), info); err != nil {
			t.m.OnException(err)
		} else {
			t.m.metrics.KeepAliveSent()
		}
	}
	return t.write.Load()
}
