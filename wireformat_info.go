package openwire

import (
	"bytes"
	"fmt"
)

// Magic opens every WireFormatInfo.
var Magic = [8]byte{'A', 'c', 't', 'i', 'v', 'e', 'M', 'Q'}

// WireFormatInfo property keys.
const (
	PropStackTraceEnabled                = "StackTraceEnabled"
	PropTCPNoDelayEnabled                = "TcpNoDelayEnabled"
	PropCacheEnabled                     = "CacheEnabled"
	PropCacheSize                        = "CacheSize"
	PropTightEncodingEnabled             = "TightEncodingEnabled"
	PropSizePrefixDisabled               = "SizePrefixDisabled"
	PropMaxInactivityDuration            = "MaxInactivityDuration"
	PropMaxInactivityDurationInitalDelay = "MaxInactivityDurationInitalDelay"
)

// WireFormatInfo advertises the encoding options one side is willing to
// use. Only the magic, version and properties are on the wire.
type WireFormatInfo struct {
	BaseCommand
	Magic      [8]byte
	Version    int32
	Properties PrimitiveMap
}

// NewWireFormatInfo returns an info with the magic set and no properties.
func NewWireFormatInfo(version int32) *WireFormatInfo {
	return &WireFormatInfo{Magic: Magic, Version: version, Properties: PrimitiveMap{}}
}

func (*WireFormatInfo) DataStructureType() byte { return WireFormatInfoType }

func (*WireFormatInfo) marshalAware() {}

func (i *WireFormatInfo) marshalFields(c *fieldCodec) {
	c.fixedBytes(i.Magic[:])
	c.int32(&i.Version)

	var props []byte
	if !c.reading() && i.Properties != nil {
		data, err := MarshalPrimitiveMap(i.Properties)
		if err != nil {
			c.fail(fmt.Errorf("wire format properties: %w", err))
			return
		}
		props = data
	}
	c.bytes(&props)
	if c.reading() && c.err == nil {
		m, err := UnmarshalPrimitiveMap(props)
		if err != nil {
			c.fail(NewProtocolError(fmt.Errorf("wire format properties: %w", err)))
			return
		}
		i.Properties = m
	}
}

// Valid reports whether the magic matches.
func (i *WireFormatInfo) Valid() bool {
	return bytes.Equal(i.Magic[:], Magic[:])
}

func (i *WireFormatInfo) set(key string, v any) {
	if i.Properties == nil {
		i.Properties = PrimitiveMap{}
	}
	i.Properties[key] = v
}

func (i *WireFormatInfo) StackTraceEnabled() bool { return i.Properties.GetBool(PropStackTraceEnabled) }
func (i *WireFormatInfo) TCPNoDelayEnabled() bool { return i.Properties.GetBool(PropTCPNoDelayEnabled) }
func (i *WireFormatInfo) CacheEnabled() bool      { return i.Properties.GetBool(PropCacheEnabled) }
func (i *WireFormatInfo) CacheSize() int32        { return i.Properties.GetInt(PropCacheSize) }
func (i *WireFormatInfo) SizePrefixDisabled() bool {
	return i.Properties.GetBool(PropSizePrefixDisabled)
}
func (i *WireFormatInfo) TightEncodingEnabled() bool {
	return i.Properties.GetBool(PropTightEncodingEnabled)
}
func (i *WireFormatInfo) MaxInactivityDuration() int64 {
	return i.Properties.GetLong(PropMaxInactivityDuration)
}
func (i *WireFormatInfo) MaxInactivityDurationInitalDelay() int64 {
	return i.Properties.GetLong(PropMaxInactivityDurationInitalDelay)
}

func (i *WireFormatInfo) SetStackTraceEnabled(v bool)    { i.set(PropStackTraceEnabled, v) }
func (i *WireFormatInfo) SetTCPNoDelayEnabled(v bool)    { i.set(PropTCPNoDelayEnabled, v) }
func (i *WireFormatInfo) SetCacheEnabled(v bool)         { i.set(PropCacheEnabled, v) }
func (i *WireFormatInfo) SetCacheSize(v int32)           { i.set(PropCacheSize, v) }
func (i *WireFormatInfo) SetSizePrefixDisabled(v bool)   { i.set(PropSizePrefixDisabled, v) }
func (i *WireFormatInfo) SetTightEncodingEnabled(v bool) { i.set(PropTightEncodingEnabled, v) }
func (i *WireFormatInfo) SetMaxInactivityDuration(v int64) {
	i.set(PropMaxInactivityDuration, v)
}
func (i *WireFormatInfo) SetMaxInactivityDurationInitalDelay(v int64) {
	i.set(PropMaxInactivityDurationInitalDelay, v)
}

func (i *WireFormatInfo) String() string {
	return fmt.Sprintf("WireFormatInfo{Version:%d, Properties:%v}", i.Version, map[string]any(i.Properties))
}
