package transport

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/vitalvas/openwire"
)

// Default broker ports.
const (
	DefaultTCPPort = "61616"
	DefaultSSLPort = "61617"
)

// New builds an unstarted transport chain for rawURI. A component URI
// such as tcp://host:61616 yields
//
//	IOTransport -> InactivityMonitor -> [LoggingTransport] -> Negotiator -> ResponseCorrelator
//
// and a failover URI puts a FailoverTransport, building one such chain per
// connection attempt, under the ResponseCorrelator.
func New(rawURI string, opts ...Option) (Transport, error) {
	o := applyOptions(opts...)
	t, err := newChain(rawURI, o)
	if err != nil {
		return nil, err
	}
	if o.listener != nil {
		t.SetListener(o.listener)
	}
	return t, nil
}

func newChain(rawURI string, o *options) (Transport, error) {
	scheme, _, err := splitScheme(rawURI)
	if err != nil {
		return nil, err
	}
	if scheme == "failover" {
		return newFailover(rawURI, o)
	}

	u, props, err := ParseURI(rawURI)
	if err != nil {
		return nil, err
	}
	chain, err := buildComponent(u, props, o)
	if err != nil {
		return nil, err
	}
	return wrapCorrelator(chain, props, o), nil
}

// Dial builds the chain for rawURI, starts it and, for component URIs,
// waits until the wire format has been negotiated.
func Dial(ctx context.Context, rawURI string, opts ...Option) (Transport, error) {
	t, err := New(rawURI, opts...)
	if err != nil {
		return nil, err
	}
	if err := Open(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Open starts a chain built by New. Unless the chain is fault tolerant it
// also waits for wire format negotiation. The chain is closed when Open
// fails.
func Open(ctx context.Context, t Transport) error {
	if t.Listener() == nil {
		t.SetListener(ListenerFuncs{})
	}
	if err := t.Start(ctx); err != nil {
		t.Close()
		return err
	}

	if _, ok := Narrow[*FailoverTransport](t); ok {
		return nil
	}
	if n, ok := Narrow[*Negotiator](t); ok {
		if err := n.WaitNegotiated(ctx); err != nil {
			t.Close()
			return err
		}
	}
	return nil
}

func wrapCorrelator(t Transport, props Properties, o *options) Transport {
	if !props.Bool("transport.responseCorrelator", true) {
		return t
	}
	return NewResponseCorrelator(t,
		WithCorrelatorLogger(o.logger),
		WithCorrelatorMetrics(o.metrics),
	)
}

func newFailover(rawURI string, o *options) (Transport, error) {
	data, err := ParseComposite(rawURI)
	if err != nil {
		return nil, err
	}
	if len(data.Components) == 0 {
		return nil, fmt.Errorf("%w: %q lists no brokers", ErrInvalidURI, rawURI)
	}

	uris := make([]*url.URL, 0, len(data.Components))
	for _, c := range data.Components {
		u, _, err := ParseURI(c)
		if err != nil {
			return nil, err
		}
		if u.Scheme == "failover" {
			return nil, fmt.Errorf("%w: nested failover in %q", ErrInvalidURI, rawURI)
		}
		uris = append(uris, u)
	}

	build := func(_ context.Context, u *url.URL) (Transport, error) {
		props, err := ParseQuery(u.RawQuery)
		if err != nil {
			return nil, err
		}
		return buildComponent(u, props, o)
	}

	f := NewFailoverTransport(uris, build, FailoverOptionsFromProperties(data.Parameters),
		WithFailoverLogger(o.logger),
		WithFailoverWireFormat(openwire.NewWireFormat(o.wireFormat...)),
		WithStateTrackerOptions(o.tracker...),
	)
	return wrapCorrelator(f, data.Parameters, o), nil
}

// buildComponent builds the chain below the correlator for one broker.
func buildComponent(u *url.URL, props Properties, o *options) (Transport, error) {
	wfOpts, err := wireFormatOptions(props.Subset("wireFormat."), o)
	if err != nil {
		return nil, err
	}
	wf := openwire.NewWireFormat(wfOpts...)

	tprops := props.Subset("transport.")
	useInactivity := tprops.Bool("useInactivityMonitor", true)

	var base Transport
	if u.Scheme == "mock" {
		base = NewMockTransport(u.Host, wf, DefaultResponseBuilder{}, MockConfigFromProperties(props))
		useInactivity = tprops.Bool("useInactivityMonitor", false)
	} else {
		dialer, address, err := dialerFor(u, props, o)
		if err != nil {
			return nil, err
		}
		base = NewIOTransport(address, dialer, wf,
			WithIOLogger(o.logger),
			WithIOMetrics(o.metrics),
			WithFrameTrace(tprops.Bool("commandTracingEnabled", false)),
		)
	}

	chain := base
	if useInactivity {
		chain = NewInactivityMonitor(chain,
			WithKeepAliveResponseRequired(tprops.Bool("keepAliveResponseRequired", false)),
			WithInactivityLogger(o.logger),
			WithInactivityMetrics(o.metrics),
		)
	}
	if tprops.Bool("useLogging", false) {
		chain = NewLoggingTransport(chain, o.logger)
	}

	timeout := tprops.Duration("negotiateTimeout", o.negotiateTimeout)
	return NewNegotiator(chain, timeout, o.logger), nil
}

// dialerFor picks the dialer for u and the address it is given.
func dialerFor(u *url.URL, props Properties, o *options) (Dialer, string, error) {
	socket := SocketOptionsFromProperties(props)

	switch u.Scheme {
	case "tcp", "ssl", "tls":
		port := DefaultTCPPort
		if u.Scheme != "tcp" {
			port = DefaultSSLPort
		}
		address := hostPort(u, port)
		if o.dialer != nil {
			return o.dialer, address, nil
		}

		proxy, err := proxyFor(u, props, o)
		if err != nil {
			return nil, "", err
		}
		tcp := TCPDialer{Socket: socket, Proxy: proxy}
		if u.Scheme == "tcp" {
			return &tcp, address, nil
		}
		return &TLSDialer{TCPDialer: tcp, Config: o.tlsConfig}, address, nil

	case "unix":
		address := u.Path
		if address == "" {
			address = u.Opaque
		}
		if address == "" {
			return nil, "", fmt.Errorf("%w: unix uri %q has no path", ErrInvalidURI, u.String())
		}
		if o.dialer != nil {
			return o.dialer, address, nil
		}
		return &UnixDialer{}, address, nil

	case "ws", "wss":
		target := *u
		target.RawQuery = ""
		target.Fragment = ""
		if o.dialer != nil {
			return o.dialer, target.String(), nil
		}
		d := NewWSDialer()
		d.Header = o.wsHeader
		if u.Scheme == "wss" && o.tlsConfig != nil {
			d.Dialer.TLSClientConfig = o.tlsConfig
		}
		if o.proxyFromEnv {
			d.SetProxyFromEnvironment()
		}
		return d, target.String(), nil

	case "quic":
		address := hostPort(u, DefaultSSLPort)
		if o.dialer != nil {
			return o.dialer, address, nil
		}
		d := NewQUICDialer(o.tlsConfig)
		d.QUICConfig = o.quicConfig
		return d, address, nil
	}

	return nil, "", fmt.Errorf("%w: %q", ErrUnknownScheme, u.Scheme)
}

func hostPort(u *url.URL, defaultPort string) string {
	if u.Port() != "" {
		return u.Host
	}
	return net.JoinHostPort(u.Hostname(), defaultPort)
}

// proxyFor resolves the proxy for a tcp or ssl URI: the socks5Proxy
// parameter first, then WithProxy, then the environment.
func proxyFor(u *url.URL, props Properties, o *options) (*ProxyDialer, error) {
	if raw := props.String("socks5Proxy", ""); raw != "" {
		if !strings.Contains(raw, "://") {
			raw = "socks5://" + raw
		}
		return NewProxyDialer(raw, props.String("socks5ProxyUser", ""), props.String("socks5ProxyPassword", ""))
	}
	if o.proxy != nil {
		return o.proxy, nil
	}
	if !o.proxyFromEnv {
		return nil, nil
	}

	proxyURL, err := ProxyFromEnvironment(u.String())
	if err != nil || proxyURL == nil {
		return nil, err
	}
	return NewProxyDialer(proxyURL.String(), "", "")
}

// wireFormatOptions turns wireFormat.* parameters into options applied
// after the ones passed to New.
func wireFormatOptions(p Properties, o *options) ([]openwire.WireFormatOption, error) {
	opts := append([]openwire.WireFormatOption{
		openwire.WithFormatLogger(o.logger),
		openwire.WithFormatMetrics(o.metrics),
	}, o.wireFormat...)

	if _, ok := p["version"]; ok {
		v := p.Int("version", 0)
		if v < 1 || v > int(openwire.MaxSupportedVersion) {
			return nil, fmt.Errorf("%w: unsupported wireFormat.version %d", ErrInvalidURI, v)
		}
		opts = append(opts, openwire.WithVersion(int32(v)))
	}
	if _, ok := p["tightEncodingEnabled"]; ok {
		opts = append(opts, openwire.WithTightEncoding(p.Bool("tightEncodingEnabled", true)))
	}
	if _, ok := p["stackTraceEnabled"]; ok {
		opts = append(opts, openwire.WithStackTrace(p.Bool("stackTraceEnabled", true)))
	}
	if _, ok := p["tcpNoDelayEnabled"]; ok {
		opts = append(opts, openwire.WithTCPNoDelay(p.Bool("tcpNoDelayEnabled", true)))
	}
	if _, ok := p["sizePrefixDisabled"]; ok {
		opts = append(opts, openwire.WithSizePrefixDisabled(p.Bool("sizePrefixDisabled", false)))
	}

	_, hasEnabled := p["cacheEnabled"]
	_, hasSize := p["cacheSize"]
	if hasEnabled || hasSize {
		size := int32(p.Int("cacheSize", openwire.DefaultCacheSize))
		if !p.Bool("cacheEnabled", true) {
			size = 0
		}
		opts = append(opts, openwire.WithCache(size))
	}

	if _, ok := p["maxInactivityDuration"]; ok {
		opts = append(opts, openwire.WithMaxInactivityDuration(p.Duration("maxInactivityDuration", 0)))
	}
	if _, ok := p["maxInactivityDurationInitalDelay"]; ok {
		opts = append(opts, openwire.WithMaxInactivityDurationInitialDelay(p.Duration("maxInactivityDurationInitalDelay", 0)))
	}
	if _, ok := p["maxFrameSize"]; ok {
		n := p.Int("maxFrameSize", 0)
		if n <= 0 {
			return nil, fmt.Errorf("%w: wireFormat.maxFrameSize must be positive, got %d", ErrInvalidURI, n)
		}
		opts = append(opts, openwire.WithMaxFrameSize(n))
	}
	return opts, nil
}
