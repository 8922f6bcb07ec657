package transport

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/vitalvas/openwire"
	"github.com/vitalvas/openwire/task"
)

// ResponseBuilder plays the broker for a MockTransport.
type ResponseBuilder interface {
	// BuildResponse returns the answer to a request, or nil.
	BuildResponse(cmd openwire.Command) openwire.Responder

	// BuildIncomingCommands returns what the broker sends back after a
	// oneway cmd.
	BuildIncomingCommands(cmd openwire.Command) []openwire.Command
}

// DefaultResponseBuilder answers WireFormatInfo with an identical info
// and every command that requires a response with a plain Response.
type DefaultResponseBuilder struct{}

// BuildResponse acknowledges cmd when it requires a response.
func (DefaultResponseBuilder) BuildResponse(cmd openwire.Command) openwire.Responder {
	if !cmd.Base().ResponseRequired {
		return nil
	}
	return &openwire.Response{CorrelationID: cmd.Base().CommandID}
}

// BuildIncomingCommands echoes WireFormatInfo and acknowledges commands
// that require a response.
func (b DefaultResponseBuilder) BuildIncomingCommands(cmd openwire.Command) []openwire.Command {
	if info, ok := cmd.(*openwire.WireFormatInfo); ok {
		echo := *info
		echo.BaseCommand = openwire.BaseCommand{}
		echo.Properties = maps.Clone(info.Properties)
		return []openwire.Command{&echo}
	}
	if resp := b.BuildResponse(cmd); resp != nil {
		return []openwire.Command{resp}
	}
	return nil
}

// MockConfig injects failures into a MockTransport. A count of N lets N
// operations succeed before the next one fails.
type MockConfig struct {
	FailOnSendMessage            bool
	NumSentMessageBeforeFail     int
	FailOnReceiveMessage         bool
	NumReceivedMessageBeforeFail int
	FailOnKeepAliveSends         bool
	NumSentKeepAlivesBeforeFail  int
	FailOnStart                  bool
	FailOnStop                   bool
	FailOnClose                  bool
}

// MockConfigFromProperties reads the mock:// URI parameters.
func MockConfigFromProperties(p Properties) MockConfig {
	return MockConfig{
		FailOnSendMessage:            p.Bool("failOnSendMessage", false),
		NumSentMessageBeforeFail:     p.Int("numSentMessageBeforeFail", 0),
		FailOnReceiveMessage:         p.Bool("failOnReceiveMessage", false),
		NumReceivedMessageBeforeFail: p.Int("numReceivedMessageBeforeFail", 0),
		FailOnKeepAliveSends:         p.Bool("failOnKeepAliveSends", false),
		NumSentKeepAlivesBeforeFail:  p.Int("numSentKeepAlivesBeforeFail", 0),
		FailOnStart:                  p.Bool("failOnStart", false),
		FailOnStop:                   p.Bool("failOnStop", false),
		FailOnClose:                  p.Bool("failOnClose", false),
	}
}

// MockTransport is an in-memory innermost link. What it sends is recorded
// and answered by its ResponseBuilder; answers are delivered to the
// listener on a separate goroutine, in order.
type MockTransport struct {
	listenerHolder

	name string
	wf   *openwire.WireFormat

	mu            sync.Mutex
	builder       ResponseBuilder
	outgoing      Listener
	config        MockConfig
	sent          []openwire.Command
	inbound       []openwire.Command
	numSent       int
	numReceived   int
	numKeepAlives int

	nextCommandID atomic.Int32
	started       atomic.Bool
	closed        atomic.Bool
	runner        *task.Runner
}

// NewMockTransport creates a mock named name. A nil builder records
// commands without answering them.
func NewMockTransport(name string, wf *openwire.WireFormat, builder ResponseBuilder, config MockConfig) *MockTransport {
	if wf == nil {
		wf = openwire.NewWireFormat()
	}
	m := &MockTransport{
		name:    name,
		wf:      wf,
		builder: builder,
		config:  config,
	}
	m.nextCommandID.Store(1)
	return m
}

// SetResponseBuilder replaces the builder.
func (m *MockTransport) SetResponseBuilder(b ResponseBuilder) {
	m.mu.Lock()
	m.builder = b
	m.mu.Unlock()
}

// SetOutgoingListener installs an observer of every sent command.
func (m *MockTransport) SetOutgoingListener(l Listener) {
	m.mu.Lock()
	m.outgoing = l
	m.mu.Unlock()
}

// Configure replaces the failure configuration and resets its counters.
func (m *MockTransport) Configure(config MockConfig) {
	m.mu.Lock()
	m.config = config
	m.numSent = 0
	m.numReceived = 0
	m.numKeepAlives = 0
	m.mu.Unlock()
}

// Sent returns the commands sent so far.
func (m *MockTransport) Sent() []openwire.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]openwire.Command, len(m.sent))
	copy(out, m.sent)
	return out
}

// ClearSent forgets the recorded commands.
func (m *MockTransport) ClearSent() {
	m.mu.Lock()
	m.sent = nil
	m.mu.Unlock()
}

// NumSentMessages returns the number of sends counted against
// FailOnSendMessage.
func (m *MockTransport) NumSentMessages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.numSent
}

// NumSentKeepAlives returns the number of keep-alives sent.
func (m *MockTransport) NumSentKeepAlives() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.numKeepAlives
}

// Start begins delivering inbound commands.
func (m *MockTransport) Start(context.Context) error {
	if m.closed.Load() {
		return openwire.NewIOError("start", openwire.ErrTransportClosed)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config.FailOnStart {
		return openwire.NewIOError("start mock://"+m.name, ErrInjectedFailure)
	}
	if m.runner == nil {
		m.runner = task.NewRunner(task.Func(m.deliver))
		m.started.Store(true)
	}
	return nil
}

// Stop halts delivery.
func (m *MockTransport) Stop() error {
	m.mu.Lock()
	if m.config.FailOnStop {
		m.mu.Unlock()
		return openwire.NewIOError("stop mock://"+m.name, ErrInjectedFailure)
	}
	m.mu.Unlock()

	m.halt()
	return nil
}

// Close halts delivery and rejects further sends.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	if m.config.FailOnClose {
		m.mu.Unlock()
		return openwire.NewIOError("close mock://"+m.name, ErrInjectedFailure)
	}
	m.mu.Unlock()

	if m.closed.CompareAndSwap(false, true) {
		m.halt()
	}
	return nil
}

func (m *MockTransport) halt() {
	m.mu.Lock()
	runner := m.runner
	m.runner = nil
	m.started.Store(false)
	m.mu.Unlock()

	if runner != nil {
		runner.Stop()
	}
}

// Oneway records cmd and queues the builder's answers.
func (m *MockTransport) Oneway(_ context.Context, cmd openwire.Command) error {
	if m.closed.Load() {
		return openwire.NewIOError("send", openwire.ErrTransportClosed)
	}

	m.mu.Lock()
	if _, ok := cmd.(*openwire.KeepAliveInfo); ok {
		if m.config.FailOnKeepAliveSends && m.numKeepAlives >= m.config.NumSentKeepAlivesBeforeFail {
			m.mu.Unlock()
			return openwire.NewIOError("send keep-alive", ErrInjectedFailure)
		}
		m.numKeepAlives++
	} else {
		if m.config.FailOnSendMessage && m.numSent >= m.config.NumSentMessageBeforeFail {
			m.mu.Unlock()
			return openwire.NewIOError("send", ErrInjectedFailure)
		}
		m.numSent++
	}
	m.sent = append(m.sent, cmd)
	outgoing := m.outgoing
	builder := m.builder
	m.mu.Unlock()

	if outgoing != nil {
		outgoing.OnCommand(cmd)
	}
	if builder != nil {
		m.Inject(builder.BuildIncomingCommands(cmd)...)
	}
	return nil
}

// Request answers cmd synchronously through the builder.
func (m *MockTransport) Request(_ context.Context, cmd openwire.Command) (openwire.Responder, error) {
	m.mu.Lock()
	builder := m.builder
	m.mu.Unlock()
	if builder == nil {
		return nil, ErrUnsupported
	}

	base := cmd.Base()
	base.CommandID = m.nextCommandID.Add(1) - 1
	base.ResponseRequired = true
	return builder.BuildResponse(cmd), nil
}

// Inject queues commands as if the broker had sent them.
func (m *MockTransport) Inject(cmds ...openwire.Command) {
	if len(cmds) == 0 {
		return
	}
	m.mu.Lock()
	m.inbound = append(m.inbound, cmds...)
	runner := m.runner
	m.mu.Unlock()

	if runner != nil {
		runner.Wakeup()
	}
}

// FireException reports err to the listener as a transport failure.
func (m *MockTransport) FireException(err error) {
	m.fireException(err)
}

func (m *MockTransport) deliver() bool {
	m.mu.Lock()
	if len(m.inbound) == 0 {
		m.mu.Unlock()
		return false
	}
	cmd := m.inbound[0]
	m.inbound = m.inbound[1:]

	fail := false
	if m.config.FailOnReceiveMessage {
		fail = m.numReceived >= m.config.NumReceivedMessageBeforeFail
	}
	m.numReceived++
	more := len(m.inbound) > 0
	m.mu.Unlock()

	if fail {
		m.fireException(openwire.NewIOError("receive "+m.RemoteAddress(), ErrInjectedFailure))
		return false
	}
	m.fireCommand(cmd)
	return more
}

func (m *MockTransport) WireFormat() *openwire.WireFormat { return m.wf }
func (m *MockTransport) RemoteAddress() string            { return "mock://" + m.name }
func (m *MockTransport) IsConnected() bool                { return m.started.Load() && !m.closed.Load() }
func (m *MockTransport) IsClosed() bool                   { return m.closed.Load() }
func (m *MockTransport) IsFaultTolerant() bool            { return false }
func (m *MockTransport) Next() Transport                  { return nil }
