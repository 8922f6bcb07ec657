package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/tomb.v2"

	"github.com/vitalvas/openwire"
)

var noDeadline time.Time

var errTornFrame = errors.New("read loop stopped inside a frame")

// countingReader counts the bytes read through it.
type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

func (c *countingReader) take() int {
	n := c.n
	c.n = 0
	return n
}

// IOTransport is the innermost link: it owns the connection, writes
// marshaled frames and runs the read loop that feeds the chain.
type IOTransport struct {
	listenerHolder

	address string
	dialer  Dialer
	wf      *openwire.WireFormat
	logger  openwire.Logger
	metrics *openwire.ClientMetrics
	trace   bool

	state  atomic.Int32
	closed atomic.Bool

	mu   sync.Mutex
	conn net.Conn
	src  *countingReader
	loop *tomb.Tomb
	// torn is set when Stop interrupted the read loop inside a frame.
	torn bool

	writeMu sync.Mutex
}

// IOOption configures an IOTransport.
type IOOption func(*IOTransport)

// WithIOLogger sets the logger.
func WithIOLogger(l openwire.Logger) IOOption {
	return func(t *IOTransport) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithIOMetrics sets the metrics collector.
func WithIOMetrics(m openwire.Metrics) IOOption {
	return func(t *IOTransport) {
		if m != nil {
			t.metrics = openwire.NewClientMetrics(m)
		}
	}
}

// WithFrameTrace logs every frame as hex at debug level.
func WithFrameTrace(enabled bool) IOOption {
	return func(t *IOTransport) {
		t.trace = enabled
	}
}

// NewIOTransport creates a transport that dials address with dialer on
// Start.
func NewIOTransport(address string, dialer Dialer, wf *openwire.WireFormat, opts ...IOOption) *IOTransport {
	t := &IOTransport{
		address: address,
		dialer:  dialer,
		wf:      wf,
		logger:  openwire.NewNoOpLogger(),
		loop:    new(tomb.Tomb),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewIOTransportConn creates a transport over an established connection.
func NewIOTransportConn(conn net.Conn, wf *openwire.WireFormat, opts ...IOOption) *IOTransport {
	t := NewIOTransport(conn.RemoteAddr().String(), nil, wf, opts...)
	t.conn = conn
	return t
}

// State returns the lifecycle state.
func (t *IOTransport) State() State { return State(t.state.Load()) }

// Start dials when needed and launches the read loop. After Stop it
// resumes reading on the same connection.
func (t *IOTransport) Start(ctx context.Context) error {
	if t.closed.Load() {
		return openwire.NewIOError("start", openwire.ErrTransportClosed)
	}
	if !t.state.CompareAndSwap(int32(StateCreated), int32(StateConnecting)) {
		if t.State() == StateConnected {
			return t.restart(ctx)
		}
		return openwire.NewIOError("start", openwire.ErrTransportFailed)
	}

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		if t.dialer == nil {
			t.state.Store(int32(StateFaulted))
			return openwire.NewIOError("dial", ErrUnsupported)
		}
		var err error
		conn, err = t.dialer.Dial(ctx, t.address)
		if err != nil {
			t.state.Store(int32(StateFaulted))
			return openwire.NewIOError("dial "+t.address, err)
		}
	}

	t.mu.Lock()
	if t.closed.Load() {
		t.mu.Unlock()
		conn.Close()
		return openwire.NewIOError("start", openwire.ErrTransportClosed)
	}
	t.conn = conn
	t.state.Store(int32(StateConnected))
	src := &countingReader{r: bufio.NewReader(conn)}
	t.src = src
	loop := t.loop
	loop.Go(func() error { return t.readLoop(loop, src) })
	t.mu.Unlock()

	t.metrics.ConnectionOpened()
	t.logger.Debug("transport connected", openwire.LogFields{
		openwire.LogFieldRemoteAddr: conn.RemoteAddr().String(),
	})
	return nil
}

// restart relaunches a read loop ended by Stop. It waits for the old loop
// to exit so only one goroutine reads the connection.
func (t *IOTransport) restart(ctx context.Context) error {
	t.mu.Lock()
	old := t.loop
	t.mu.Unlock()

	select {
	case <-old.Dying():
	default:
		return nil
	}
	select {
	case <-old.Dead():
	case <-ctx.Done():
		return openwire.NewIOError("start", ctx.Err())
	}

	t.mu.Lock()
	if t.loop != old || t.closed.Load() {
		t.mu.Unlock()
		return nil
	}
	if t.torn {
		t.mu.Unlock()
		t.fail("read", openwire.NewProtocolError(errTornFrame))
		return openwire.NewIOError("start", openwire.ErrTransportFailed)
	}
	if err := t.conn.SetReadDeadline(noDeadline); err != nil {
		t.mu.Unlock()
		return openwire.NewIOError("start", err)
	}
	loop := new(tomb.Tomb)
	src := t.src
	t.loop = loop
	loop.Go(func() error { return t.readLoop(loop, src) })
	t.mu.Unlock()
	return nil
}

func (t *IOTransport) readLoop(loop *tomb.Tomb, src *countingReader) error {
	var traced bytes.Buffer
	var r io.Reader = src
	if t.trace {
		r = io.TeeReader(src, &traced)
	}

	for {
		ds, err := t.wf.Unmarshal(r)
		if err != nil {
			select {
			case <-loop.Dying():
				if src.n > 0 {
					t.mu.Lock()
					t.torn = true
					t.mu.Unlock()
				}
				return nil
			default:
			}
			if t.closed.Load() {
				return nil
			}
			t.fail("read", err)
			return nil
		}

		n := src.take()
		if t.trace {
			t.traceFrame("received", traced.Bytes())
			traced.Reset()
		}
		if ds == nil {
			continue
		}

		cmd, ok := ds.(openwire.Command)
		if !ok {
			t.fail("read", openwire.NewProtocolError(fmt.Errorf("%w: %s is not a command",
				openwire.ErrUnexpectedType, openwire.TypeName(ds.DataStructureType()))))
			return nil
		}
		t.metrics.CommandReceived(cmd.DataStructureType(), n)
		t.fireCommand(cmd)
	}
}

// fail moves a connected transport to faulted and reports err once,
// asynchronously.
func (t *IOTransport) fail(op string, err error) {
	if !t.state.CompareAndSwap(int32(StateConnected), int32(StateFaulted)) {
		return
	}

	var protoErr *openwire.ProtocolError
	if !errors.As(err, &protoErr) {
		err = openwire.NewIOError(op, err)
	}
	t.logger.Warn("transport failed", openwire.LogFields{
		openwire.LogFieldRemoteAddr: t.RemoteAddress(),
		openwire.LogFieldError:      err.Error(),
	})
	go t.fireException(err)
}

func (t *IOTransport) traceFrame(direction string, frame []byte) {
	t.logger.Debug(direction, openwire.LogFields{
		openwire.LogFieldBytes: len(frame),
		"frame":                hex.EncodeToString(frame),
	})
}

// Oneway marshals cmd and writes the frame. The deadline of ctx bounds
// the write.
func (t *IOTransport) Oneway(ctx context.Context, cmd openwire.Command) error {
	if t.closed.Load() {
		return openwire.NewIOError("send", openwire.ErrTransportClosed)
	}
	switch t.State() {
	case StateConnected:
	case StateFaulted:
		return openwire.NewIOError("send", openwire.ErrTransportFailed)
	default:
		return openwire.NewIOError("send", ErrNotStarted)
	}
	if err := ctx.Err(); err != nil {
		return openwire.NewIOError("send", err)
	}

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	// Frames must hit the wire in marshal order or the peer's cache
	// indexes drift.
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	frame, err := t.wf.Marshal(cmd)
	if err != nil {
		return err
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
		defer conn.SetWriteDeadline(noDeadline)
	}
	if _, err := conn.Write(frame); err != nil {
		if t.closed.Load() {
			return openwire.NewIOError("send", openwire.ErrTransportClosed)
		}
		t.fail("write", err)
		return openwire.NewIOError("send", err)
	}

	t.metrics.CommandSent(cmd.DataStructureType(), len(frame))
	if t.trace {
		t.traceFrame("sent", frame)
	}
	return nil
}

// Request is not supported below a response correlator.
func (t *IOTransport) Request(context.Context, openwire.Command) (openwire.Responder, error) {
	return nil, ErrUnsupported
}

// Stop ends the read loop and leaves the connection open. Start resumes
// reading.
func (t *IOTransport) Stop() error {
	t.mu.Lock()
	conn := t.conn
	t.loop.Kill(nil)
	t.mu.Unlock()

	if conn != nil && t.State() == StateConnected {
		return conn.SetReadDeadline(time.Now())
	}
	return nil
}

// Close closes the connection. It does not wait for the read loop; use
// Done for that.
func (t *IOTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	prev := State(t.state.Swap(int32(StateClosing)))

	t.mu.Lock()
	conn := t.conn
	t.loop.Kill(nil)
	t.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	if prev == StateConnected || prev == StateFaulted {
		t.metrics.ConnectionClosed()
	}
	t.state.Store(int32(StateClosed))

	// Links above learn about the close the same way they learn about a
	// failure, so their waiters are released.
	if prev == StateConnected {
		go t.fireException(openwire.NewIOError("close", openwire.ErrTransportClosed))
	}
	return err
}

// Done is closed once the current read loop has exited.
func (t *IOTransport) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loop.Dead()
}

func (t *IOTransport) WireFormat() *openwire.WireFormat { return t.wf }

func (t *IOTransport) RemoteAddress() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ""
	}
	return t.conn.RemoteAddr().String()
}

func (t *IOTransport) IsConnected() bool     { return t.State() == StateConnected }
func (t *IOTransport) IsClosed() bool        { return t.closed.Load() }
func (t *IOTransport) IsFaultTolerant() bool { return false }
func (t *IOTransport) Next() Transport       { return nil }
