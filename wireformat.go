package openwire

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Protocol versions.
const (
	// DefaultVersion is used until negotiation completes.
	DefaultVersion int32 = 1
	// MaxSupportedVersion is the highest version this package encodes.
	MaxSupportedVersion int32 = 9
)

// Preferred wire format defaults.
const (
	DefaultCacheSize                         = 1024
	DefaultMaxInactivityDuration             = 30 * time.Second
	DefaultMaxInactivityDurationInitialDelay = 10 * time.Second
	DefaultMaxFrameSize                      = 100 << 20
)

// formatSettings is an immutable snapshot of the active encoding options.
type formatSettings struct {
	version                           int32
	stackTraceEnabled                 bool
	tcpNoDelayEnabled                 bool
	cacheEnabled                      bool
	cacheSize                         int32
	tightEncoding                     bool
	sizePrefixDisabled                bool
	maxInactivityDuration             int64
	maxInactivityDurationInitialDelay int64
}

// initialSettings is the format every connection starts with.
func initialSettings() *formatSettings {
	return &formatSettings{version: DefaultVersion}
}

func (s *formatSettings) info() *WireFormatInfo {
	info := NewWireFormatInfo(s.version)
	info.SetStackTraceEnabled(s.stackTraceEnabled)
	info.SetTCPNoDelayEnabled(s.tcpNoDelayEnabled)
	info.SetCacheEnabled(s.cacheEnabled)
	info.SetCacheSize(s.cacheSize)
	info.SetTightEncodingEnabled(s.tightEncoding)
	info.SetSizePrefixDisabled(s.sizePrefixDisabled)
	info.SetMaxInactivityDuration(s.maxInactivityDuration)
	info.SetMaxInactivityDurationInitalDelay(s.maxInactivityDurationInitialDelay)
	return info
}

// wireFormatOptions holds configuration for a WireFormat.
type wireFormatOptions struct {
	preferred    formatSettings
	maxFrameSize int
	logger       Logger
	metrics      Metrics
}

// WireFormatOption configures a WireFormat.
type WireFormatOption func(*wireFormatOptions)

func defaultWireFormatOptions() *wireFormatOptions {
	return &wireFormatOptions{
		preferred: formatSettings{
			version:                           MaxSupportedVersion,
			stackTraceEnabled:                 true,
			tcpNoDelayEnabled:                 true,
			cacheEnabled:                      true,
			cacheSize:                         DefaultCacheSize,
			tightEncoding:                     true,
			maxInactivityDuration:             DefaultMaxInactivityDuration.Milliseconds(),
			maxInactivityDurationInitialDelay: DefaultMaxInactivityDurationInitialDelay.Milliseconds(),
		},
		maxFrameSize: DefaultMaxFrameSize,
		logger:       NewNoOpLogger(),
		metrics:      &NoOpMetrics{},
	}
}

// WithVersion sets the preferred protocol version.
func WithVersion(v int32) WireFormatOption {
	return func(o *wireFormatOptions) {
		o.preferred.version = v
	}
}

// WithTightEncoding enables or disables tight encoding.
func WithTightEncoding(enabled bool) WireFormatOption {
	return func(o *wireFormatOptions) {
		o.preferred.tightEncoding = enabled
	}
}

// WithCache enables the structure cache with the given number of slots.
// A size of zero or less disables caching.
func WithCache(size int32) WireFormatOption {
	return func(o *wireFormatOptions) {
		o.preferred.cacheEnabled = size > 0
		o.preferred.cacheSize = size
	}
}

// WithStackTrace enables or disables stack traces in broker errors.
func WithStackTrace(enabled bool) WireFormatOption {
	return func(o *wireFormatOptions) {
		o.preferred.stackTraceEnabled = enabled
	}
}

// WithTCPNoDelay advertises TCP_NODELAY.
func WithTCPNoDelay(enabled bool) WireFormatOption {
	return func(o *wireFormatOptions) {
		o.preferred.tcpNoDelayEnabled = enabled
	}
}

// WithSizePrefixDisabled drops the 4-byte frame length prefix.
func WithSizePrefixDisabled(disabled bool) WireFormatOption {
	return func(o *wireFormatOptions) {
		o.preferred.sizePrefixDisabled = disabled
	}
}

// WithMaxInactivityDuration sets the advertised inactivity timeout.
// Zero disables inactivity monitoring.
func WithMaxInactivityDuration(d time.Duration) WireFormatOption {
	return func(o *wireFormatOptions) {
		o.preferred.maxInactivityDuration = d.Milliseconds()
	}
}

// WithMaxInactivityDurationInitialDelay sets the delay before the first
// inactivity check.
func WithMaxInactivityDurationInitialDelay(d time.Duration) WireFormatOption {
	return func(o *wireFormatOptions) {
		o.preferred.maxInactivityDurationInitialDelay = d.Milliseconds()
	}
}

// WithMaxFrameSize bounds the size of an inbound frame.
func WithMaxFrameSize(n int) WireFormatOption {
	return func(o *wireFormatOptions) {
		o.maxFrameSize = n
	}
}

// WithFormatLogger sets the logger.
func WithFormatLogger(l Logger) WireFormatOption {
	return func(o *wireFormatOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithFormatMetrics sets the metrics collector.
func WithFormatMetrics(m Metrics) WireFormatOption {
	return func(o *wireFormatOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WireFormat encodes and decodes frames. A new WireFormat speaks the
// initial format (version 1, loose, size-prefixed, no cache) until
// Renegotiate installs the settings agreed with the peer.
//
// Marshal and Unmarshal may be called concurrently with each other; each
// direction serializes on its own cache lock.
type WireFormat struct {
	opts     *wireFormatOptions
	settings atomic.Pointer[formatSettings]
	remote   atomic.Pointer[WireFormatInfo]

	receiving  atomic.Bool
	negotiated atomic.Bool

	marshalMu sync.Mutex
	mcache    *marshalCache

	unmarshalMu sync.Mutex
	ucache      *unmarshalCache

	frameSize Histogram
}

// NewWireFormat creates a wire format with the given preferences.
func NewWireFormat(opts ...WireFormatOption) *WireFormat {
	o := defaultWireFormatOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.preferred.version > MaxSupportedVersion {
		o.preferred.version = MaxSupportedVersion
	}
	if o.preferred.version < DefaultVersion {
		o.preferred.version = DefaultVersion
	}

	wf := &WireFormat{
		opts:      o,
		frameSize: o.metrics.Histogram("openwire_frame_bytes", nil),
	}
	wf.settings.Store(initialSettings())
	return wf
}

// PreferredWireFormatInfo returns the info this side advertises.
func (wf *WireFormat) PreferredWireFormatInfo() *WireFormatInfo {
	return wf.opts.preferred.info()
}

// Version returns the active protocol version.
func (wf *WireFormat) Version() int32 { return wf.settings.Load().version }

// TightEncodingEnabled reports whether tight encoding is active.
func (wf *WireFormat) TightEncodingEnabled() bool { return wf.settings.Load().tightEncoding }

// CacheEnabled reports whether the structure cache is active.
func (wf *WireFormat) CacheEnabled() bool { return wf.settings.Load().cacheEnabled }

// StackTraceEnabled reports whether broker errors carry stack traces.
func (wf *WireFormat) StackTraceEnabled() bool { return wf.settings.Load().stackTraceEnabled }

// SizePrefixDisabled reports whether frames omit the length prefix.
func (wf *WireFormat) SizePrefixDisabled() bool { return wf.settings.Load().sizePrefixDisabled }

// TCPNoDelayEnabled reports whether both sides asked for TCP_NODELAY.
func (wf *WireFormat) TCPNoDelayEnabled() bool { return wf.settings.Load().tcpNoDelayEnabled }

// MaxInactivityDuration returns the negotiated inactivity timeout.
func (wf *WireFormat) MaxInactivityDuration() time.Duration {
	return time.Duration(wf.settings.Load().maxInactivityDuration) * time.Millisecond
}

// MaxInactivityDurationInitialDelay returns the negotiated initial check delay.
func (wf *WireFormat) MaxInactivityDurationInitialDelay() time.Duration {
	return time.Duration(wf.settings.Load().maxInactivityDurationInitialDelay) * time.Millisecond
}

// Negotiated reports whether Renegotiate has completed.
func (wf *WireFormat) Negotiated() bool { return wf.negotiated.Load() }

// RemoteWireFormatInfo returns the info received from the peer, or nil.
func (wf *WireFormat) RemoteWireFormatInfo() *WireFormatInfo { return wf.remote.Load() }

// InReceive reports whether a frame is partially read.
func (wf *WireFormat) InReceive() bool { return wf.receiving.Load() }

// Renegotiate merges the preferred settings with the peer's info and
// installs the result. Booleans are enabled only when both sides enable
// them; the version and sizes take the smaller value.
func (wf *WireFormat) Renegotiate(remote *WireFormatInfo) error {
	if remote == nil {
		return NewProtocolError(fmt.Errorf("%w: missing remote info", ErrNotNegotiable))
	}
	if !remote.Valid() {
		return NewProtocolError(ErrInvalidMagic)
	}
	if remote.Version < DefaultVersion {
		return NewProtocolError(fmt.Errorf("%w: %d", ErrUnsupportedVersion, remote.Version))
	}

	p := &wf.opts.preferred
	s := &formatSettings{
		version:            min(p.version, remote.Version),
		stackTraceEnabled:  p.stackTraceEnabled && remote.StackTraceEnabled(),
		tcpNoDelayEnabled:  p.tcpNoDelayEnabled && remote.TCPNoDelayEnabled(),
		cacheEnabled:       p.cacheEnabled && remote.CacheEnabled(),
		tightEncoding:      p.tightEncoding && remote.TightEncodingEnabled(),
		sizePrefixDisabled: p.sizePrefixDisabled && remote.SizePrefixDisabled(),
	}
	s.maxInactivityDuration = min(p.maxInactivityDuration, remote.MaxInactivityDuration())
	s.maxInactivityDurationInitialDelay = min(p.maxInactivityDurationInitialDelay,
		remote.MaxInactivityDurationInitalDelay())
	if s.cacheEnabled {
		s.cacheSize = min(p.cacheSize, remote.CacheSize())
		if s.cacheSize <= 0 {
			s.cacheEnabled = false
			s.cacheSize = 0
		}
	}

	wf.marshalMu.Lock()
	wf.unmarshalMu.Lock()
	if s.cacheEnabled {
		wf.mcache = newMarshalCache(int(s.cacheSize))
		wf.ucache = newUnmarshalCache(int(s.cacheSize))
	} else {
		wf.mcache = nil
		wf.ucache = nil
	}
	wf.settings.Store(s)
	wf.unmarshalMu.Unlock()
	wf.marshalMu.Unlock()

	wf.remote.Store(remote)
	wf.negotiated.Store(true)

	wf.opts.logger.Debug("wire format negotiated", LogFields{
		"version":        s.version,
		"tight_encoding": s.tightEncoding,
		"cache_enabled":  s.cacheEnabled,
		"cache_size":     s.cacheSize,
	})
	return nil
}

// Marshal encodes cmd as a complete frame. A nil command encodes the
// null type.
func (wf *WireFormat) Marshal(cmd DataStructure) ([]byte, error) {
	w := getDataWriter()
	defer putDataWriter(w)

	if err := wf.marshal(w, cmd); err != nil {
		return nil, err
	}
	out := make([]byte, w.Len())
	copy(out, w.Bytes())
	return out, nil
}

// MarshalTo encodes cmd and writes the frame to dst in a single write.
func (wf *WireFormat) MarshalTo(dst io.Writer, cmd DataStructure) error {
	w := getDataWriter()
	defer putDataWriter(w)

	if err := wf.marshal(w, cmd); err != nil {
		return err
	}
	_, err := dst.Write(w.Bytes())
	return err
}

func (wf *WireFormat) marshal(w *dataWriter, cmd DataStructure) error {
	wf.marshalMu.Lock()
	defer wf.marshalMu.Unlock()

	s := wf.settings.Load()
	if isNil(cmd) {
		if !s.sizePrefixDisabled {
			w.writeInt(1)
		}
		w.writeByte(NullType)
		return nil
	}

	t := cmd.DataStructureType()
	if !Supported(t, s.version) {
		return NewProtocolError(fmt.Errorf("%w: %d (version %d)", ErrUnknownDataType, t, s.version))
	}

	if s.tightEncoding {
		return wf.marshalTight(w, s, cmd)
	}
	return wf.marshalLoose(w, s, cmd)
}

// cacheFrame stages the cache changes of the frame being marshalled. The
// caller holds marshalMu.
func (wf *WireFormat) cacheFrame() *cacheFrame {
	if wf.mcache == nil {
		return nil
	}
	return wf.mcache.begin()
}

func (wf *WireFormat) marshalTight(w *dataWriter, s *formatSettings, cmd DataStructure) error {
	bs := getBooleanStream()
	defer putBooleanStream(bs)

	c := &fieldCodec{mode: modeTightSize, cfg: s, mcache: wf.cacheFrame(), bs: bs}
	cmd.marshalFields(c)
	if c.err != nil {
		return c.err
	}
	size := 1 + c.size + bs.MarshalledSize()

	if !s.sizePrefixDisabled {
		w.writeInt(int32(size))
	}
	w.writeByte(cmd.DataStructureType())
	bs.marshal(w)

	c.mode = modeTightWrite
	c.w = w
	cmd.marshalFields(c)
	if c.err != nil {
		return c.err
	}
	c.commitCache()
	wf.frameSize.Observe(float64(size))
	return nil
}

func (wf *WireFormat) marshalLoose(w *dataWriter, s *formatSettings, cmd DataStructure) error {
	start := w.Len()
	if !s.sizePrefixDisabled {
		w.writeInt(0)
	}
	w.writeByte(cmd.DataStructureType())

	c := &fieldCodec{mode: modeLooseWrite, cfg: s, mcache: wf.cacheFrame(), w: w}
	cmd.marshalFields(c)
	if c.err != nil {
		return c.err
	}
	c.commitCache()

	size := w.Len() - start
	if !s.sizePrefixDisabled {
		size -= 4
		b := w.Bytes()[start:]
		b[0] = byte(size >> 24)
		b[1] = byte(size >> 16)
		b[2] = byte(size >> 8)
		b[3] = byte(size)
	}
	wf.frameSize.Observe(float64(size))
	return nil
}

// Unmarshal reads one frame from r. It returns a nil DataStructure for a
// null frame.
func (wf *WireFormat) Unmarshal(r io.Reader) (DataStructure, error) {
	s := wf.settings.Load()

	var in *dataReader
	if s.sizePrefixDisabled {
		in = &dataReader{src: r, limit: wf.opts.maxFrameSize}
		wf.receiving.Store(true)
	} else {
		var head [4]byte
		if _, err := io.ReadFull(r, head[:]); err != nil {
			return nil, err
		}
		size := int(int32(uint32(head[0])<<24 | uint32(head[1])<<16 | uint32(head[2])<<8 | uint32(head[3])))
		if size < 0 {
			return nil, NewProtocolError(fmt.Errorf("%w: %d", ErrNegativeLength, size))
		}
		if wf.opts.maxFrameSize > 0 && size > wf.opts.maxFrameSize {
			return nil, NewProtocolError(fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, wf.opts.maxFrameSize))
		}

		wf.receiving.Store(true)
		frame := make([]byte, size)
		if _, err := io.ReadFull(r, frame); err != nil {
			wf.receiving.Store(false)
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		in = &dataReader{data: frame}
	}
	defer wf.receiving.Store(false)

	ds, err := wf.decode(in, s)
	if err != nil {
		return nil, err
	}
	wf.frameSize.Observe(float64(len(in.data)))
	return ds, nil
}

// UnmarshalBytes decodes a single frame held in memory.
func (wf *WireFormat) UnmarshalBytes(frame []byte) (DataStructure, error) {
	return wf.Unmarshal(&dataReader{data: frame})
}

func (wf *WireFormat) decode(in *dataReader, s *formatSettings) (DataStructure, error) {
	t, err := in.readByte()
	if err != nil {
		return nil, err
	}
	if t == NullType {
		return nil, nil
	}
	ds, err := New(t, s.version)
	if err != nil {
		return nil, err
	}

	wf.unmarshalMu.Lock()
	defer wf.unmarshalMu.Unlock()

	c := &fieldCodec{cfg: s, ucache: wf.ucache, r: in}
	if s.tightEncoding {
		c.mode = modeTightRead
		c.bs = getBooleanStream()
		defer putBooleanStream(c.bs)
		if err := c.bs.unmarshal(in); err != nil {
			return nil, wrapDecodeError(err)
		}
	} else {
		c.mode = modeLooseRead
	}

	ds.marshalFields(c)
	if c.err != nil {
		return nil, wrapDecodeError(c.err)
	}
	return ds, nil
}

// wrapDecodeError marks malformed input as a protocol error. Truncation
// stays an I/O condition so callers can tell a closed stream apart.
func wrapDecodeError(err error) error {
	var pe *ProtocolError
	if errors.As(err, &pe) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return err
	}
	return NewProtocolError(err)
}
