package openwire

import "errors"

// ErrBooleanStreamExhausted is returned when more bits are read than were written.
var ErrBooleanStreamExhausted = errors.New("openwire: boolean stream exhausted")

// BooleanStream is the packed bit vector that precedes every tightly
// encoded command. Bits are appended least significant first.
type BooleanStream struct {
	data  []byte
	limit int
	pos   int
	bit   uint8
}

// WriteBoolean appends a bit.
func (b *BooleanStream) WriteBoolean(v bool) {
	if b.bit == 0 {
		b.data = append(b.data[:b.limit], 0)
		b.limit++
	}
	if v {
		b.data[b.limit-1] |= 1 << b.bit
	}
	b.bit++
	if b.bit >= 8 {
		b.bit = 0
	}
}

// ReadBoolean returns the next bit.
func (b *BooleanStream) ReadBoolean() (bool, error) {
	if b.pos >= b.limit {
		return false, ErrBooleanStreamExhausted
	}
	v := (b.data[b.pos]>>b.bit)&0x01 != 0
	b.bit++
	if b.bit >= 8 {
		b.bit = 0
		b.pos++
	}
	return v, nil
}

// Rewind prepares the stream to be read back from the first bit.
func (b *BooleanStream) Rewind() {
	b.pos = 0
	b.bit = 0
}

// Clear discards all bits.
func (b *BooleanStream) Clear() {
	b.data = b.data[:0]
	b.limit = 0
	b.pos = 0
	b.bit = 0
}

// MarshalledSize returns the number of bytes Marshal writes.
func (b *BooleanStream) MarshalledSize() int {
	switch {
	case b.limit < 64:
		return 1 + b.limit
	case b.limit < 256:
		return 2 + b.limit
	default:
		return 3 + b.limit
	}
}

func (b *BooleanStream) marshal(w *dataWriter) {
	switch {
	case b.limit < 64:
		w.writeByte(byte(b.limit))
	case b.limit < 256:
		w.writeByte(0xC0)
		w.writeByte(byte(b.limit))
	default:
		w.writeByte(0x80)
		w.writeShort(int16(b.limit))
	}
	w.writeBytes(b.data[:b.limit])
	b.Rewind()
}

func (b *BooleanStream) unmarshal(r *dataReader) error {
	head, err := r.readByte()
	if err != nil {
		return err
	}
	limit := int(head)
	switch head {
	case 0xC0:
		n, err := r.readByte()
		if err != nil {
			return err
		}
		limit = int(n)
	case 0x80:
		n, err := r.readUnsignedShort()
		if err != nil {
			return err
		}
		limit = int(n)
	default:
		if head >= 64 {
			return ErrInvalidBoolByte
		}
	}
	data, err := r.next(limit)
	if err != nil {
		return err
	}
	b.data = append(b.data[:0], data...)
	b.limit = limit
	b.Rewind()
	return nil
}
