package transport

import (
	"context"
	"math/rand/v2"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"
	"gopkg.in/tomb.v2"

	"github.com/vitalvas/openwire"
	"github.com/vitalvas/openwire/state"
)

// Failover defaults.
const (
	DefaultInitialReconnectDelay = 10 * time.Millisecond
	DefaultMaxReconnectDelay     = 30 * time.Second
	DefaultBackOffMultiplier     = 2.0

	// InfiniteAttempts disables a reconnect attempt limit.
	InfiniteAttempts = -1
)

// FailoverOptions tune reconnection and state replay.
type FailoverOptions struct {
	Randomize                   bool
	InitialReconnectDelay       time.Duration
	MaxReconnectDelay           time.Duration
	BackOffMultiplier           float64
	UseExponentialBackOff       bool
	MaxReconnectAttempts        int
	StartupMaxReconnectAttempts int

	// Timeout bounds how long a message send waits for a connection.
	// Zero or negative waits forever.
	Timeout time.Duration

	TrackMessages             bool
	TrackTransactionProducers bool
	MaxCacheSize              int
	MaxPullCacheSize          int
}

// DefaultFailoverOptions returns the options used when a URI sets none.
func DefaultFailoverOptions() FailoverOptions {
	return FailoverOptions{
		Randomize:                   true,
		InitialReconnectDelay:       DefaultInitialReconnectDelay,
		MaxReconnectDelay:           DefaultMaxReconnectDelay,
		BackOffMultiplier:           DefaultBackOffMultiplier,
		UseExponentialBackOff:       true,
		MaxReconnectAttempts:        InfiniteAttempts,
		StartupMaxReconnectAttempts: InfiniteAttempts,
		TrackTransactionProducers:   true,
		MaxCacheSize:                state.DefaultMaxMessageCacheSize,
		MaxPullCacheSize:            state.DefaultMaxMessagePullCacheSize,
	}
}

// FailoverOptionsFromProperties reads the failover:// URI parameters.
func FailoverOptionsFromProperties(p Properties) FailoverOptions {
	def := DefaultFailoverOptions()
	return FailoverOptions{
		Randomize:                   p.Bool("randomize", def.Randomize),
		InitialReconnectDelay:       p.Duration("initialReconnectDelay", def.InitialReconnectDelay),
		MaxReconnectDelay:           p.Duration("maxReconnectDelay", def.MaxReconnectDelay),
		BackOffMultiplier:           p.Float("backOffMultiplier", def.BackOffMultiplier),
		UseExponentialBackOff:       p.Bool("useExponentialBackOff", def.UseExponentialBackOff),
		MaxReconnectAttempts:        p.Int("maxReconnectAttempts", def.MaxReconnectAttempts),
		StartupMaxReconnectAttempts: p.Int("startupMaxReconnectAttempts", def.StartupMaxReconnectAttempts),
		Timeout:                     p.Duration("timeout", def.Timeout),
		TrackMessages:               p.Bool("trackMessages", def.TrackMessages),
		TrackTransactionProducers:   p.Bool("trackTransactionProducers", def.TrackTransactionProducers),
		MaxCacheSize:                p.Int("maxCacheSize", def.MaxCacheSize),
		MaxPullCacheSize:            p.Int("maxPullCacheSize", def.MaxPullCacheSize),
	}
}

// ChainBuilder creates an unstarted transport chain for one component URI.
type ChainBuilder func(ctx context.Context, u *url.URL) (Transport, error)

// pendingRequest is a sent command kept for replay until its response
// arrives.
type pendingRequest struct {
	cmd     openwire.Command
	tracked *state.Tracked
}

// FailoverTransport keeps one connection to any of several brokers. When
// the connection fails it reconnects with backoff, replays the tracked
// connection state and resends unanswered requests.
//
// It sits below the ResponseCorrelator so a request survives the switch
// from one broker to another.
type FailoverTransport struct {
	listenerHolder

	uris    []*url.URL
	build   ChainBuilder
	opts    FailoverOptions
	tracker *state.ConnectionStateTracker
	extra   []state.Option
	logger  openwire.Logger
	wf      *openwire.WireFormat
	limiter *rate.Limiter

	requests *xsync.MapOf[int32, pendingRequest]

	mu           sync.Mutex
	connected    Transport
	connecting   Transport
	connectedURI *url.URL
	failure      error
	ready        chan struct{}
	readyClosed  bool
	everUp       bool

	started   atomic.Bool
	closed    atomic.Bool
	reconnect chan struct{}
	t         tomb.Tomb
}

// FailoverOption configures a FailoverTransport.
type FailoverOption func(*FailoverTransport)

// WithFailoverLogger sets the logger.
func WithFailoverLogger(l openwire.Logger) FailoverOption {
	return func(f *FailoverTransport) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithFailoverWireFormat sets the wire format reported while no broker is
// connected.
func WithFailoverWireFormat(wf *openwire.WireFormat) FailoverOption {
	return func(f *FailoverTransport) {
		if wf != nil {
			f.wf = wf
		}
	}
}

// WithStateTrackerOptions adds options for the state tracker.
func WithStateTrackerOptions(opts ...state.Option) FailoverOption {
	return func(f *FailoverTransport) {
		f.extra = append(f.extra, opts...)
	}
}

// NewFailoverTransport creates a failover transport over uris. build
// creates the chain for each connection attempt.
func NewFailoverTransport(uris []*url.URL, build ChainBuilder, opts FailoverOptions, fopts ...FailoverOption) *FailoverTransport {
	f := &FailoverTransport{
		uris:      slices.Clone(uris),
		build:     build,
		opts:      opts,
		logger:    openwire.NewNoOpLogger(),
		wf:        openwire.NewWireFormat(),
		requests:  xsync.NewMapOf[int32, pendingRequest](),
		ready:     make(chan struct{}),
		reconnect: make(chan struct{}, 1),
	}
	for _, opt := range fopts {
		opt(f)
	}
	f.tracker = state.NewConnectionStateTracker(append(f.trackerOptions(), f.extra...)...)

	every := max(opts.InitialReconnectDelay, time.Millisecond)
	f.limiter = rate.NewLimiter(rate.Every(every), max(len(uris), 1))
	return f
}

func (f *FailoverTransport) trackerOptions() []state.Option {
	return []state.Option{
		state.WithTrackTransactions(true),
		state.WithTrackTransactionProducers(f.opts.TrackTransactionProducers),
		state.WithTrackMessages(f.opts.TrackMessages),
		state.WithMaxMessageCacheSize(f.opts.MaxCacheSize),
		state.WithMaxMessagePullCacheSize(f.opts.MaxPullCacheSize),
		state.WithLogger(f.logger),
	}
}

// StateTracker returns the tracker that records what is replayed after a
// reconnect.
func (f *FailoverTransport) StateTracker() *state.ConnectionStateTracker { return f.tracker }

// ConnectedURI returns the component in use, or nil.
func (f *FailoverTransport) ConnectedURI() *url.URL {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectedURI
}

// Start launches the reconnect loop and begins connecting. It does not
// wait for a connection; sends block until one is available.
func (f *FailoverTransport) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed.Load() {
		return openwire.NewIOError("start", openwire.ErrTransportClosed)
	}
	if !f.started.CompareAndSwap(false, true) {
		return nil
	}
	f.t.Go(f.reconnectLoop)
	f.triggerReconnect()
	return nil
}

func (f *FailoverTransport) triggerReconnect() {
	select {
	case f.reconnect <- struct{}{}:
	default:
	}
}

func (f *FailoverTransport) reconnectLoop() error {
	ctx := f.t.Context(context.Background())
	for {
		select {
		case <-f.t.Dying():
			return nil
		case <-f.reconnect:
			f.doReconnect(ctx)
		}
	}
}

// signalLocked wakes senders waiting for a connection. Callers hold f.mu.
func (f *FailoverTransport) signalLocked() {
	if !f.readyClosed {
		close(f.ready)
		f.readyClosed = true
	}
}

// resetLocked makes senders wait again. Callers hold f.mu.
func (f *FailoverTransport) resetLocked() {
	if f.readyClosed {
		f.ready = make(chan struct{})
		f.readyClosed = false
	}
}

func (f *FailoverTransport) doReconnect(ctx context.Context) {
	delay := f.opts.InitialReconnectDelay
	var lastErr error

	for attempt := 1; ; attempt++ {
		if f.closed.Load() || ctx.Err() != nil {
			return
		}
		f.mu.Lock()
		up := f.connected != nil
		firstConnection := !f.everUp
		f.mu.Unlock()
		if up {
			return
		}

		uris := slices.Clone(f.uris)
		if f.opts.Randomize {
			rand.Shuffle(len(uris), func(i, j int) { uris[i], uris[j] = uris[j], uris[i] })
		}

		for _, u := range uris {
			if err := f.limiter.Wait(ctx); err != nil {
				return
			}
			err := f.connect(ctx, u, firstConnection)
			if err == nil {
				return
			}
			lastErr = err
			f.logger.Debug("failover connect attempt failed", openwire.LogFields{
				openwire.LogFieldRemoteAddr: u.String(),
				openwire.LogFieldError:      err.Error(),
			})
		}

		limit := f.opts.MaxReconnectAttempts
		if firstConnection {
			limit = f.opts.StartupMaxReconnectAttempts
		}
		if limit >= 0 && attempt >= limit {
			if lastErr == nil {
				lastErr = ErrNoTransports
			}
			f.logger.Error("failed to connect to any broker", openwire.LogFields{
				openwire.LogFieldError: lastErr.Error(),
				"attempts":             attempt,
			})
			f.fail(openwire.NewIOError("failover", lastErr))
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}

		if f.opts.UseExponentialBackOff {
			delay = time.Duration(float64(delay) * f.opts.BackOffMultiplier)
			if f.opts.MaxReconnectDelay > 0 && delay > f.opts.MaxReconnectDelay {
				delay = f.opts.MaxReconnectDelay
			}
		}
	}
}

func (f *FailoverTransport) connect(ctx context.Context, u *url.URL, firstConnection bool) error {
	tr, err := f.build(ctx, u)
	if err != nil {
		return err
	}
	tr.SetListener(&failoverListener{f: f, tr: tr})

	f.mu.Lock()
	f.connecting = tr
	f.mu.Unlock()

	err = tr.Start(ctx)
	if err == nil {
		err = f.restoreTransport(ctx, tr)
	}

	f.mu.Lock()
	f.connecting = nil
	if err == nil && f.closed.Load() {
		err = openwire.NewIOError("failover", openwire.ErrTransportClosed)
	}
	if err != nil {
		f.mu.Unlock()
		tr.Close()
		return err
	}
	f.connected = tr
	f.connectedURI = u
	f.everUp = true
	f.signalLocked()
	f.mu.Unlock()

	f.logger.Info("successfully connected", openwire.LogFields{
		openwire.LogFieldRemoteAddr: u.String(),
	})
	if !firstConnection {
		f.fireResumed()
	}
	return nil
}

// restoreTransport replays the tracked state and every unanswered request
// on tr.
func (f *FailoverTransport) restoreTransport(ctx context.Context, tr Transport) error {
	if err := tr.Oneway(ctx, &openwire.ConnectionControl{FaultTolerant: true}); err != nil {
		return err
	}

	onCommand := func(cmd openwire.Command) { f.handleCommand(tr, cmd) }
	if err := f.tracker.Restore(ctx, tr, onCommand); err != nil {
		return err
	}

	type replay struct {
		id  int32
		cmd openwire.Command
	}
	var pending []replay
	f.requests.Range(func(id int32, r pendingRequest) bool {
		if r.tracked == nil {
			pending = append(pending, replay{id: id, cmd: r.cmd})
		}
		return true
	})
	slices.SortFunc(pending, func(a, b replay) int { return int(a.id - b.id) })

	for _, r := range pending {
		f.logger.Debug("resending request", openwire.LogFields{
			openwire.LogFieldCommandID:   r.id,
			openwire.LogFieldCommandType: openwire.TypeName(r.cmd.DataStructureType()),
		})
		if err := tr.Oneway(ctx, r.cmd); err != nil {
			return err
		}
	}
	return nil
}

// fail ends reconnection for good and reports err up the chain.
func (f *FailoverTransport) fail(err error) {
	f.mu.Lock()
	if f.failure == nil {
		f.failure = err
	}
	f.signalLocked()
	f.mu.Unlock()

	f.fireException(err)
}

// handleTransportFailure drops tr if it is still the connected transport
// and starts reconnecting.
func (f *FailoverTransport) handleTransportFailure(tr Transport, err error) {
	f.mu.Lock()
	if f.connected != tr || tr == nil {
		f.mu.Unlock()
		return
	}
	f.connected = nil
	f.connectedURI = nil
	f.resetLocked()
	f.mu.Unlock()

	tr.Close()
	if f.closed.Load() {
		return
	}

	f.logger.Warn("transport interrupted, reconnecting", openwire.LogFields{
		openwire.LogFieldRemoteAddr: tr.RemoteAddress(),
		openwire.LogFieldError:      err.Error(),
	})
	f.tracker.TransportInterrupted()
	f.fireInterrupted()
	f.triggerReconnect()
}

// handleCommand settles replayable requests and passes cmd up.
func (f *FailoverTransport) handleCommand(tr Transport, cmd openwire.Command) {
	f.mu.Lock()
	current := f.connected == tr || f.connecting == tr
	f.mu.Unlock()
	if !current {
		return
	}

	if resp, ok := cmd.(openwire.Responder); ok {
		if r, ok := f.requests.LoadAndDelete(resp.ResponseBase().CorrelationID); ok {
			r.tracked.OnResponse()
		}
	}
	if cc, ok := cmd.(*openwire.ConnectionControl); ok && cc.ReconnectTo != "" {
		f.logger.Info("broker asked to reconnect", openwire.LogFields{
			"reconnect_to": cc.ReconnectTo,
		})
	}
	f.fireCommand(cmd)
}

// Oneway sends cmd on the connected transport, waiting for a connection
// when there is none. Commands that would be stale after a reconnect are
// answered locally instead.
func (f *FailoverTransport) Oneway(ctx context.Context, cmd openwire.Command) error {
	if f.closed.Load() {
		return openwire.NewIOError("send", openwire.ErrTransportClosed)
	}

	f.mu.Lock()
	disconnected := f.connected == nil
	f.mu.Unlock()
	if disconnected {
		if handled := f.onewayDisconnected(cmd); handled {
			return nil
		}
	}

	start := time.Now()
	for {
		tr, err := f.waitConnected(ctx, cmd, start)
		if err != nil {
			return err
		}

		tracked, err := f.tracker.Track(cmd)
		if err != nil {
			return err
		}
		id := cmd.Base().CommandID
		switch {
		case tracked.WaitingForResponse():
			f.requests.Store(id, pendingRequest{cmd: cmd, tracked: tracked})
		case tracked == nil && cmd.Base().ResponseRequired:
			f.requests.Store(id, pendingRequest{cmd: cmd})
		}

		err = tr.Oneway(ctx, cmd)
		if err == nil {
			return nil
		}

		if tracked != nil {
			// Replayed by Restore after the reconnect.
			f.handleTransportFailure(tr, err)
			return nil
		}
		if cmd.Base().ResponseRequired {
			f.requests.Delete(id)
		}
		if ctx.Err() != nil {
			return err
		}
		f.handleTransportFailure(tr, err)
	}
}

func (f *FailoverTransport) onewayDisconnected(cmd openwire.Command) bool {
	switch c := cmd.(type) {
	case *openwire.ShutdownInfo:
		return true
	case *openwire.RemoveInfo, *openwire.MessageAck:
		f.tracker.Track(cmd)
		if cmd.Base().ResponseRequired {
			f.fireCommand(&openwire.Response{CorrelationID: cmd.Base().CommandID})
		}
		return true
	case *openwire.MessagePull:
		if c.Timeout != 0 {
			f.fireCommand(&openwire.MessageDispatch{
				ConsumerID:  c.ConsumerID,
				Destination: c.Destination,
			})
		}
		return true
	}
	return false
}

func (f *FailoverTransport) waitConnected(ctx context.Context, cmd openwire.Command, start time.Time) (Transport, error) {
	var timeout <-chan time.Time
	if f.opts.Timeout > 0 && openwire.IsMessage(cmd) {
		timer := time.NewTimer(f.opts.Timeout - time.Since(start))
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		if f.closed.Load() {
			return nil, openwire.NewIOError("send", openwire.ErrTransportClosed)
		}
		f.mu.Lock()
		tr, failure, ready := f.connected, f.failure, f.ready
		f.mu.Unlock()

		switch {
		case failure != nil:
			return nil, failure
		case tr != nil:
			return tr, nil
		}

		select {
		case <-ready:
		case <-timeout:
			return nil, openwire.NewIOError("send", ErrFailoverTimeout)
		case <-ctx.Done():
			return nil, openwire.NewIOError("send", ctx.Err())
		case <-f.t.Dead():
			return nil, openwire.NewIOError("send", openwire.ErrTransportClosed)
		}
	}
}

// Request is not supported; a ResponseCorrelator above provides it.
func (f *FailoverTransport) Request(context.Context, openwire.Command) (openwire.Responder, error) {
	return nil, ErrUnsupported
}

// ConnectionInterruptProcessingComplete tells the tracker the client has
// dealt with the last interruption of connection id.
func (f *FailoverTransport) ConnectionInterruptProcessingComplete(ctx context.Context, id *openwire.ConnectionID) {
	f.mu.Lock()
	tr := f.connected
	f.mu.Unlock()
	if tr != nil {
		f.tracker.ConnectionInterruptProcessingComplete(ctx, tr, id)
	}
}

// Stop ends reconnection and stops the connected transport.
func (f *FailoverTransport) Stop() error {
	f.t.Kill(nil)

	f.mu.Lock()
	tr := f.connected
	f.mu.Unlock()
	if tr != nil {
		return tr.Stop()
	}
	return nil
}

// Close ends reconnection and closes the connected transport. Waiting
// senders fail with ErrTransportClosed.
func (f *FailoverTransport) Close() error {
	f.mu.Lock()
	if !f.closed.CompareAndSwap(false, true) {
		f.mu.Unlock()
		return nil
	}
	f.t.Kill(nil)
	tr := f.connected
	f.connected = nil
	f.connectedURI = nil
	f.signalLocked()
	f.mu.Unlock()

	if tr != nil {
		return tr.Close()
	}
	return nil
}

// WireFormat returns the codec of the connected transport.
func (f *FailoverTransport) WireFormat() *openwire.WireFormat {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected != nil {
		return f.connected.WireFormat()
	}
	return f.wf
}

func (f *FailoverTransport) RemoteAddress() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected != nil {
		return f.connected.RemoteAddress()
	}
	return ""
}

func (f *FailoverTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected != nil
}

func (f *FailoverTransport) IsClosed() bool        { return f.closed.Load() }
func (f *FailoverTransport) IsFaultTolerant() bool { return true }

// Next returns the connected transport, or nil.
func (f *FailoverTransport) Next() Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected == nil {
		return nil
	}
	return f.connected
}

// failoverListener routes the events of one component chain back to the
// failover transport.
type failoverListener struct {
	f  *FailoverTransport
	tr Transport
}

func (l *failoverListener) OnCommand(cmd openwire.Command) { l.f.handleCommand(l.tr, cmd) }
func (l *failoverListener) OnException(err error)          { l.f.handleTransportFailure(l.tr, err) }
func (l *failoverListener) TransportInterrupted()          {}
func (l *failoverListener) TransportResumed()              {}
