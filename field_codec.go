package openwire

import (
	"fmt"
	"strconv"
)

type codecMode uint8

const (
	modeTightSize codecMode = iota
	modeTightWrite
	modeTightRead
	modeLooseWrite
	modeLooseRead
)

// fieldCodec walks the fields of a data structure in declaration order.
// Every variant describes its layout once in marshalFields; the codec
// mode decides whether that walk sizes, writes or reads. In tight mode
// the size pass records presence bits that the write pass replays.
type fieldCodec struct {
	mode   codecMode
	cfg    *formatSettings
	mcache *cacheFrame
	ucache *unmarshalCache
	bs     *BooleanStream
	size   int
	w      *dataWriter
	r      *dataReader
	err    error
}

func (c *fieldCodec) reading() bool {
	return c.mode == modeTightRead || c.mode == modeLooseRead
}

// since reports whether fields introduced in version v are on the wire.
func (c *fieldCodec) since(v int32) bool {
	return c.cfg.version >= v
}

func (c *fieldCodec) fail(err error) {
	if err != nil && c.err == nil {
		c.err = err
	}
}

func (c *fieldCodec) bit() bool {
	if c.err != nil {
		return false
	}
	v, err := c.bs.ReadBoolean()
	c.fail(err)
	return v
}

// presence records or reads a presence marker. Write modes pass the
// actual presence; read modes ignore the argument.
func (c *fieldCodec) presence(present bool) bool {
	if c.err != nil {
		return false
	}
	switch c.mode {
	case modeTightSize:
		c.bs.WriteBoolean(present)
		return present
	case modeTightWrite, modeTightRead:
		return c.bit()
	case modeLooseWrite:
		c.w.writeBool(present)
		return present
	default:
		v, err := c.r.readBool()
		c.fail(err)
		return v
	}
}

func (c *fieldCodec) bool(p *bool) {
	if c.err != nil {
		return
	}
	switch c.mode {
	case modeTightSize:
		c.bs.WriteBoolean(*p)
	case modeTightWrite:
		c.bit()
	case modeTightRead:
		*p = c.bit()
	case modeLooseWrite:
		c.w.writeBool(*p)
	case modeLooseRead:
		v, err := c.r.readBool()
		c.fail(err)
		*p = v
	}
}

func (c *fieldCodec) byteField(p *byte) {
	if c.err != nil {
		return
	}
	switch c.mode {
	case modeTightSize:
		c.size++
	case modeTightWrite, modeLooseWrite:
		c.w.writeByte(*p)
	default:
		v, err := c.r.readByte()
		c.fail(err)
		*p = v
	}
}

func (c *fieldCodec) int16(p *int16) {
	if c.err != nil {
		return
	}
	switch c.mode {
	case modeTightSize:
		c.size += 2
	case modeTightWrite, modeLooseWrite:
		c.w.writeShort(*p)
	default:
		v, err := c.r.readShort()
		c.fail(err)
		*p = v
	}
}

func (c *fieldCodec) int32(p *int32) {
	if c.err != nil {
		return
	}
	switch c.mode {
	case modeTightSize:
		c.size += 4
	case modeTightWrite, modeLooseWrite:
		c.w.writeInt(*p)
	default:
		v, err := c.r.readInt()
		c.fail(err)
		*p = v
	}
}

// int64 uses two presence bits in tight mode to pick a 0, 2, 4 or 8 byte form.
func (c *fieldCodec) int64(p *int64) {
	if c.err != nil {
		return
	}
	v := *p
	switch c.mode {
	case modeTightSize:
		u := uint64(v)
		switch {
		case v == 0:
			c.bs.WriteBoolean(false)
			c.bs.WriteBoolean(false)
		case u&0xFFFFFFFFFFFF0000 == 0:
			c.bs.WriteBoolean(false)
			c.bs.WriteBoolean(true)
			c.size += 2
		case u&0xFFFFFFFF00000000 == 0:
			c.bs.WriteBoolean(true)
			c.bs.WriteBoolean(false)
			c.size += 4
		default:
			c.bs.WriteBoolean(true)
			c.bs.WriteBoolean(true)
			c.size += 8
		}
	case modeTightWrite:
		if c.bit() {
			if c.bit() {
				c.w.writeLong(v)
			} else {
				c.w.writeInt(int32(v))
			}
		} else if c.bit() {
			c.w.writeShort(int16(v))
		}
	case modeTightRead:
		if c.bit() {
			if c.bit() {
				n, err := c.r.readLong()
				c.fail(err)
				*p = n
			} else {
				n, err := c.r.readInt()
				c.fail(err)
				*p = int64(uint32(n))
			}
		} else if c.bit() {
			n, err := c.r.readUnsignedShort()
			c.fail(err)
			*p = int64(n)
		} else {
			*p = 0
		}
	case modeLooseWrite:
		c.w.writeLong(v)
	case modeLooseRead:
		n, err := c.r.readLong()
		c.fail(err)
		*p = n
	}
}

// string encodes the empty string as absent. Tight mode sends pure ASCII
// as raw bytes and everything else as modified UTF-8.
func (c *fieldCodec) string(p *string) {
	if c.err != nil {
		return
	}
	s := *p
	switch c.mode {
	case modeTightSize:
		c.bs.WriteBoolean(s != "")
		if s == "" {
			return
		}
		ascii := isASCII(s)
		n := len(s)
		if !ascii {
			n = modifiedUTF8Len(s)
		}
		if n >= 0x10000 {
			c.fail(ErrStringTooLong)
			return
		}
		c.bs.WriteBoolean(ascii)
		c.size += n + 2
	case modeTightWrite:
		if !c.bit() {
			return
		}
		if c.bit() {
			c.w.writeShort(int16(uint16(len(s))))
			c.w.writeString(s)
		} else {
			c.fail(c.w.writeUTF(s))
		}
	case modeTightRead:
		if !c.bit() {
			*p = ""
			return
		}
		if c.bit() {
			n, err := c.r.readUnsignedShort()
			if err != nil {
				c.fail(err)
				return
			}
			b, err := c.r.next(int(n))
			c.fail(err)
			*p = string(b)
		} else {
			v, err := c.r.readUTF()
			c.fail(err)
			*p = v
		}
	case modeLooseWrite:
		c.w.writeBool(s != "")
		if s != "" {
			c.fail(c.w.writeUTF(s))
		}
	case modeLooseRead:
		present, err := c.r.readBool()
		if err != nil || !present {
			c.fail(err)
			*p = ""
			return
		}
		v, err := c.r.readUTF()
		c.fail(err)
		*p = v
	}
}

// bytes encodes a nil slice as absent and a present slice with a 4-byte length.
func (c *fieldCodec) bytes(p *[]byte) {
	if c.err != nil {
		return
	}
	if !c.presence(!c.reading() && *p != nil) {
		if c.reading() {
			*p = nil
		}
		return
	}
	switch c.mode {
	case modeTightSize:
		c.size += 4 + len(*p)
	case modeTightWrite, modeLooseWrite:
		c.w.writeInt(int32(len(*p)))
		c.w.writeBytes(*p)
	default:
		n, err := c.r.readInt()
		if err != nil {
			c.fail(err)
			return
		}
		b, err := c.r.readBytes(int(n))
		c.fail(err)
		*p = b
	}
}

// fixedBytes encodes exactly len(b) bytes without a length prefix.
func (c *fieldCodec) fixedBytes(b []byte) {
	if c.err != nil {
		return
	}
	switch c.mode {
	case modeTightSize:
		c.size += len(b)
	case modeTightWrite, modeLooseWrite:
		c.w.writeBytes(b)
	default:
		data, err := c.r.next(len(b))
		c.fail(err)
		copy(b, data)
	}
}

// throwable encodes a broker error. Stack frames and the cause chain are
// only on the wire when stack traces are enabled.
func (c *fieldCodec) throwable(p **BrokerError) {
	if c.err != nil {
		return
	}
	e := *p
	if c.reading() {
		e = nil
	}
	if !c.presence(e != nil) {
		if c.reading() {
			*p = nil
		}
		return
	}
	if c.reading() {
		e = new(BrokerError)
		*p = e
	}

	c.string(&e.ExceptionClass)
	c.string(&e.Message)
	if !c.cfg.stackTraceEnabled {
		return
	}

	n := int16(len(e.StackTrace))
	c.int16(&n)
	if c.reading() {
		if n < 0 {
			c.fail(ErrNegativeLength)
			return
		}
		if n > 0 {
			e.StackTrace = make([]StackTraceElement, n)
		}
	}
	for i := 0; i < int(n) && c.err == nil; i++ {
		el := &e.StackTrace[i]
		c.string(&el.ClassName)
		c.string(&el.MethodName)
		c.string(&el.FileName)
		c.int32(&el.LineNumber)
	}
	c.throwable(&e.Cause)
}

// nestedObject encodes a presence marker, the type tag and the fields of ds.
// Read modes ignore ds and return the decoded value.
func (c *fieldCodec) nestedObject(ds DataStructure) DataStructure {
	if c.err != nil {
		return nil
	}
	if c.reading() {
		return c.readNested()
	}

	if !c.presence(ds != nil) {
		return nil
	}
	t := ds.DataStructureType()
	if !Supported(t, c.cfg.version) {
		c.fail(NewProtocolError(fmt.Errorf("%w: %d (version %d)", ErrUnknownDataType, t, c.cfg.version)))
		return nil
	}
	_, aware := ds.(marshalAware)

	switch c.mode {
	case modeTightSize:
		if aware {
			c.bs.WriteBoolean(false)
		}
		c.size++
	case modeTightWrite:
		c.w.writeByte(t)
		if aware {
			c.bit()
		}
	case modeLooseWrite:
		c.w.writeByte(t)
	}
	ds.marshalFields(c)
	return ds
}

func (c *fieldCodec) readNested() DataStructure {
	if !c.presence(false) {
		return nil
	}
	t, err := c.r.readByte()
	if err != nil {
		c.fail(err)
		return nil
	}
	obj, err := New(t, c.cfg.version)
	if err != nil {
		c.fail(err)
		return nil
	}

	if _, aware := obj.(marshalAware); aware && c.mode == modeTightRead && c.bit() {
		// A pre-marshalled body: size and type precede its own boolean stream.
		if _, err := c.r.readInt(); err != nil {
			c.fail(err)
			return nil
		}
		if _, err := c.r.readByte(); err != nil {
			c.fail(err)
			return nil
		}
		inner := new(BooleanStream)
		if err := inner.unmarshal(c.r); err != nil {
			c.fail(err)
			return nil
		}
		outer := c.bs
		c.bs = inner
		obj.marshalFields(c)
		c.bs = outer
		return obj
	}

	obj.marshalFields(c)
	return obj
}

// cachedObject encodes ds by cache index when caching is negotiated,
// sending the full value only the first time it is seen.
func (c *fieldCodec) cachedObject(ds DataStructure) DataStructure {
	if c.err != nil {
		return nil
	}
	if !c.cfg.cacheEnabled {
		return c.nestedObject(ds)
	}

	switch c.mode {
	case modeTightSize:
		key := cacheKey(ds)
		c.size += 2
		if idx, ok := c.mcache.lookup(key); ok {
			c.bs.WriteBoolean(false)
			c.mcache.record(cacheDecision{idx: idx})
			return ds
		}
		c.bs.WriteBoolean(true)
		idx := c.mcache.reserve()
		c.mcache.record(cacheDecision{idx: idx, full: true})
		c.nestedObject(ds)
		c.mcache.assign(idx, key)
		return ds

	case modeTightWrite:
		d, ok := c.mcache.nextDecision()
		full := c.bit()
		if !ok || d.full != full {
			c.fail(NewProtocolError(ErrCacheMiss))
			return nil
		}
		c.w.writeShort(d.idx)
		if full {
			c.nestedObject(ds)
		}
		return ds

	case modeLooseWrite:
		key := cacheKey(ds)
		if idx, ok := c.mcache.lookup(key); ok {
			c.w.writeBool(false)
			c.w.writeShort(idx)
			return ds
		}
		idx := c.mcache.reserve()
		c.w.writeBool(true)
		c.w.writeShort(idx)
		c.nestedObject(ds)
		c.mcache.assign(idx, key)
		return ds

	default:
		full := c.presence(false)
		idx, err := c.r.readShort()
		if err != nil {
			c.fail(err)
			return nil
		}
		if full {
			obj := c.nestedObject(nil)
			if c.err == nil {
				c.fail(c.ucache.set(idx, obj))
			}
			return obj
		}
		obj, err := c.ucache.get(idx)
		c.fail(err)
		return obj
	}
}

func (c *fieldCodec) commitCache() {
	if c.mcache != nil {
		c.mcache.commit()
	}
}

func cacheKey(ds DataStructure) string {
	if isNil(ds) {
		return "\x00"
	}
	prefix := strconv.Itoa(int(ds.DataStructureType())) + "|"
	if s, ok := ds.(fmt.Stringer); ok {
		return prefix + s.String()
	}
	return prefix + fmt.Sprintf("%+v", ds)
}

func dsOrNil(ds DataStructure) DataStructure {
	if isNil(ds) {
		return nil
	}
	return ds
}

func assign[T DataStructure](c *fieldCodec, p *T, ds DataStructure) {
	if ds == nil {
		var zero T
		*p = zero
		return
	}
	v, ok := ds.(T)
	if !ok {
		c.fail(NewProtocolError(fmt.Errorf("%w: %T", ErrUnexpectedType, ds)))
		return
	}
	*p = v
}

// nested encodes a typed field as a nested object.
func nested[T DataStructure](c *fieldCodec, p *T) {
	if c.reading() {
		assign(c, p, c.nestedObject(nil))
		return
	}
	c.nestedObject(dsOrNil(*p))
}

// cached encodes a typed field through the structure cache.
func cached[T DataStructure](c *fieldCodec, p *T) {
	if c.reading() {
		assign(c, p, c.cachedObject(nil))
		return
	}
	c.cachedObject(dsOrNil(*p))
}

// nestedArray encodes a presence marker, a 2-byte count and each element.
// A nil slice is absent; an empty slice is present with a zero count.
func nestedArray[T DataStructure](c *fieldCodec, p *[]T) {
	if c.err != nil {
		return
	}
	if !c.presence(!c.reading() && *p != nil) {
		if c.reading() {
			*p = nil
		}
		return
	}

	n := int16(len(*p))
	c.int16(&n)
	if !c.reading() {
		for _, v := range *p {
			c.nestedObject(dsOrNil(v))
		}
		return
	}
	if n < 0 {
		c.fail(ErrNegativeLength)
		return
	}
	out := make([]T, n)
	for i := range out {
		assign(c, &out[i], c.nestedObject(nil))
	}
	*p = out
}
