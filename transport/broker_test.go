package transport

import (
	"bufio"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitalvas/openwire"
)

// fakeBroker speaks enough OpenWire to exercise a client chain: it
// answers WireFormatInfo, announces a BrokerInfo and acknowledges every
// command that requires a response.
type fakeBroker struct {
	t        *testing.T
	ln       net.Listener
	received chan openwire.Command

	mu    sync.Mutex
	conns []*brokerConn

	// silent suppresses responses and keep-alive replies.
	silent bool
}

type brokerConn struct {
	conn net.Conn
	wf   *openwire.WireFormat
	mu   sync.Mutex
}

func (c *brokerConn) send(cmd openwire.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	frame, err := c.wf.Marshal(cmd)
	if err != nil {
		return err
	}
	_, err = c.conn.Write(frame)
	return err
}

func newFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return serveFakeBroker(t, ln)
}

func serveFakeBroker(t *testing.T, ln net.Listener) *fakeBroker {
	t.Helper()

	b := &fakeBroker{
		t:        t,
		ln:       ln,
		received: make(chan openwire.Command, 256),
	}
	t.Cleanup(b.close)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go b.serve(conn)
		}
	}()
	return b
}

func (b *fakeBroker) addr() string { return b.ln.Addr().String() }

func (b *fakeBroker) serve(conn net.Conn) {
	c := &brokerConn{conn: conn, wf: openwire.NewWireFormat()}
	b.mu.Lock()
	b.conns = append(b.conns, c)
	b.mu.Unlock()
	defer conn.Close()

	r := bufio.NewReader(conn)
	for {
		ds, err := c.wf.Unmarshal(r)
		if err != nil {
			return
		}
		cmd, ok := ds.(openwire.Command)
		if !ok {
			return
		}

		if info, ok := cmd.(*openwire.WireFormatInfo); ok {
			if err := c.send(c.wf.PreferredWireFormatInfo()); err != nil {
				return
			}
			if err := c.wf.Renegotiate(info); err != nil {
				return
			}
			c.send(&openwire.BrokerInfo{
				BrokerID:   &openwire.BrokerID{Value: "ID:fake-broker"},
				BrokerName: "fake",
				BrokerURL:  "tcp://" + b.addr(),
			})
			continue
		}

		select {
		case b.received <- cmd:
		default:
		}

		if b.silent {
			continue
		}
		if cmd.Base().ResponseRequired {
			c.send(&openwire.Response{CorrelationID: cmd.Base().CommandID})
		}
	}
}

// dropConnections closes every accepted connection.
func (b *fakeBroker) dropConnections() {
	b.mu.Lock()
	conns := b.conns
	b.conns = nil
	b.mu.Unlock()
	for _, c := range conns {
		c.conn.Close()
	}
}

// lastConn returns the most recently accepted connection.
func (b *fakeBroker) lastConn() *brokerConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.conns) == 0 {
		return nil
	}
	return b.conns[len(b.conns)-1]
}

func (b *fakeBroker) close() {
	b.ln.Close()
	b.dropConnections()
}
