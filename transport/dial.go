package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// Dialer opens the byte stream a transport runs on.
type Dialer interface {
	// Dial connects to address with the given context.
	Dial(ctx context.Context, address string) (net.Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, address string) (net.Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, address string) (net.Conn, error) {
	return f(ctx, address)
}

// SocketOptions configures TCP sockets.
type SocketOptions struct {
	// ConnectTimeout bounds the connect. Zero means no timeout.
	ConnectTimeout time.Duration

	KeepAlive bool

	// Linger is SO_LINGER in seconds. Negative leaves the OS default.
	Linger int

	// ReceiveBufferSize and SendBufferSize are applied when positive.
	ReceiveBufferSize int
	SendBufferSize    int

	TCPNoDelay bool
}

// DefaultSocketOptions returns the options used when a URI sets none.
func DefaultSocketOptions() SocketOptions {
	return SocketOptions{
		Linger:     -1,
		TCPNoDelay: true,
	}
}

// SocketOptionsFromProperties reads soLinger, soKeepAlive,
// soReceiveBufferSize, soSendBufferSize, tcpNoDelay and connectTimeout.
func SocketOptionsFromProperties(p Properties) SocketOptions {
	def := DefaultSocketOptions()
	return SocketOptions{
		ConnectTimeout:    p.Duration("connectTimeout", def.ConnectTimeout),
		KeepAlive:         p.Bool("soKeepAlive", def.KeepAlive),
		Linger:            p.Int("soLinger", def.Linger),
		ReceiveBufferSize: p.Int("soReceiveBufferSize", def.ReceiveBufferSize),
		SendBufferSize:    p.Int("soSendBufferSize", def.SendBufferSize),
		TCPNoDelay:        p.Bool("tcpNoDelay", def.TCPNoDelay),
	}
}

func (o SocketOptions) apply(conn net.Conn) error {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tcp.SetNoDelay(o.TCPNoDelay); err != nil {
		return err
	}
	if err := tcp.SetKeepAlive(o.KeepAlive); err != nil {
		return err
	}
	if o.Linger >= 0 {
		if err := tcp.SetLinger(o.Linger); err != nil {
			return err
		}
	}
	if o.ReceiveBufferSize > 0 {
		if err := tcp.SetReadBuffer(o.ReceiveBufferSize); err != nil {
			return err
		}
	}
	if o.SendBufferSize > 0 {
		if err := tcp.SetWriteBuffer(o.SendBufferSize); err != nil {
			return err
		}
	}
	return nil
}

// TCPDialer connects to brokers over TCP.
type TCPDialer struct {
	Socket SocketOptions

	// Proxy, when set, tunnels the connection through a proxy.
	Proxy *ProxyDialer
}

// Dial connects to the address and applies the socket options.
func (d *TCPDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	if d.Socket.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Socket.ConnectTimeout)
		defer cancel()
	}

	var (
		conn net.Conn
		err  error
	)
	if d.Proxy != nil {
		conn, err = d.Proxy.DialContext(ctx, "tcp", address)
	} else {
		dialer := net.Dialer{KeepAlive: -1}
		conn, err = dialer.DialContext(ctx, "tcp", address)
	}
	if err != nil {
		return nil, err
	}

	if err := d.Socket.apply(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("socket options: %w", err)
	}
	return conn, nil
}

// TLSDialer connects to brokers over TLS on top of a TCPDialer.
type TLSDialer struct {
	TCPDialer

	// Config is the TLS configuration.
	Config *tls.Config
}

// Dial connects, then completes the handshake. Unless the configuration
// names a server or skips verification, the certificate must match the
// host of address.
func (d *TLSDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	conn, err := d.TCPDialer.Dial(ctx, address)
	if err != nil {
		return nil, err
	}

	config := d.Config
	if config == nil {
		config = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if config.ServerName == "" && !config.InsecureSkipVerify {
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			host = address
		}
		config = config.Clone()
		config.ServerName = host
	}

	tlsConn := tls.Client(conn, config)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}
	return tlsConn, nil
}

// UnixDialer connects to brokers over Unix domain sockets.
type UnixDialer struct{}

// Dial connects to the Unix socket at the given path.
func (d *UnixDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	var dialer net.Dialer
	return dialer.DialContext(ctx, "unix", address)
}
