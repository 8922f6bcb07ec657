package openwire

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"unicode/utf16"
)

// Encoding errors.
var (
	ErrStringTooLong   = errors.New("openwire: string exceeds maximum encodable length")
	ErrMalformedUTF    = errors.New("openwire: malformed modified UTF-8 input")
	ErrNegativeLength  = errors.New("openwire: negative length prefix")
	ErrLengthExceeded  = errors.New("openwire: length prefix exceeds remaining frame")
	ErrInvalidBoolByte = errors.New("openwire: invalid boolean stream header")
)

const (
	maxUint16 = 65535
)

// dataWriter appends big-endian primitives to a byte slice.
type dataWriter struct {
	buf []byte
}

func (w *dataWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *dataWriter) Bytes() []byte { return w.buf }

func (w *dataWriter) Len() int { return len(w.buf) }

func (w *dataWriter) reset() { w.buf = w.buf[:0] }

func (w *dataWriter) writeByte(v byte) {
	w.buf = append(w.buf, v)
}

func (w *dataWriter) writeBool(v bool) {
	if v {
		w.writeByte(1)
	} else {
		w.writeByte(0)
	}
}

func (w *dataWriter) writeShort(v int16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(v))
}

func (w *dataWriter) writeInt(v int32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v))
}

func (w *dataWriter) writeLong(v int64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
}

func (w *dataWriter) writeFloat(v float32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, math.Float32bits(v))
}

func (w *dataWriter) writeDouble(v float64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, math.Float64bits(v))
}

func (w *dataWriter) writeBytes(p []byte) {
	w.buf = append(w.buf, p...)
}

func (w *dataWriter) writeString(s string) {
	w.buf = append(w.buf, s...)
}

// writeUTF writes a 2-byte length followed by the modified UTF-8 form of s.
func (w *dataWriter) writeUTF(s string) error {
	n := modifiedUTF8Len(s)
	if n > maxUint16 {
		return ErrStringTooLong
	}
	w.writeShort(int16(uint16(n)))
	w.buf = appendModifiedUTF8(w.buf, s)
	return nil
}

// dataReader consumes big-endian primitives from an in-memory frame. When
// src is set the frame length is unknown and bytes are pulled from src on
// demand, up to limit bytes in total.
type dataReader struct {
	data  []byte
	pos   int
	src   io.Reader
	limit int
}

func (r *dataReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func (r *dataReader) remaining() int { return len(r.data) - r.pos }

func (r *dataReader) next(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrNegativeLength
	}
	if r.remaining() < n {
		if r.src == nil {
			return nil, io.ErrUnexpectedEOF
		}
		if err := r.fill(n - r.remaining()); err != nil {
			return nil, err
		}
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *dataReader) fill(need int) error {
	if r.limit > 0 && len(r.data)+need > r.limit {
		return ErrFrameTooLarge
	}
	start := len(r.data)
	r.data = append(r.data, make([]byte, need)...)
	if _, err := io.ReadFull(r.src, r.data[start:]); err != nil {
		r.data = r.data[:start]
		if errors.Is(err, io.EOF) && start > 0 {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}

func (r *dataReader) readByte() (byte, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *dataReader) readBool() (bool, error) {
	b, err := r.readByte()
	return b != 0, err
}

func (r *dataReader) readShort() (int16, error) {
	b, err := r.next(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b)), nil
}

func (r *dataReader) readUnsignedShort() (uint16, error) {
	b, err := r.next(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *dataReader) readInt() (int32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (r *dataReader) readLong() (int64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (r *dataReader) readFloat() (float32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
}

func (r *dataReader) readDouble() (float64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

// readBytes returns a copy of the next n bytes.
func (r *dataReader) readBytes(n int) ([]byte, error) {
	if r.src == nil && n > r.remaining() {
		return nil, ErrLengthExceeded
	}
	b, err := r.next(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (r *dataReader) readUTF() (string, error) {
	n, err := r.readUnsignedShort()
	if err != nil {
		return "", err
	}
	b, err := r.next(int(n))
	if err != nil {
		return "", err
	}
	return decodeModifiedUTF8(b)
}

// isASCII reports whether every character of s is in the range 0x01..0x7F,
// which encodes identically in modified UTF-8 and plain bytes.
func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c == 0 || c > 0x7F {
			return false
		}
	}
	return true
}

// modifiedUTF8Len returns the encoded length of s in Java modified UTF-8.
func modifiedUTF8Len(s string) int {
	n := 0
	for _, u := range utf16.Encode([]rune(s)) {
		switch {
		case u >= 0x0001 && u <= 0x007F:
			n++
		case u > 0x07FF:
			n += 3
		default:
			n += 2
		}
	}
	return n
}

// appendModifiedUTF8 encodes s as Java modified UTF-8: NUL becomes two bytes
// and supplementary characters are written as surrogate pairs.
func appendModifiedUTF8(dst []byte, s string) []byte {
	for _, u := range utf16.Encode([]rune(s)) {
		switch {
		case u >= 0x0001 && u <= 0x007F:
			dst = append(dst, byte(u))
		case u > 0x07FF:
			dst = append(dst,
				byte(0xE0|((u>>12)&0x0F)),
				byte(0x80|((u>>6)&0x3F)),
				byte(0x80|(u&0x3F)))
		default:
			dst = append(dst,
				byte(0xC0|((u>>6)&0x1F)),
				byte(0x80|(u&0x3F)))
		}
	}
	return dst
}

func decodeModifiedUTF8(b []byte) (string, error) {
	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch c >> 4 {
		case 0, 1, 2, 3, 4, 5, 6, 7:
			units = append(units, uint16(c))
			i++
		case 12, 13:
			if i+1 >= len(b) || b[i+1]&0xC0 != 0x80 {
				return "", ErrMalformedUTF
			}
			units = append(units, uint16(c&0x1F)<<6|uint16(b[i+1]&0x3F))
			i += 2
		case 14:
			if i+2 >= len(b) || b[i+1]&0xC0 != 0x80 || b[i+2]&0xC0 != 0x80 {
				return "", ErrMalformedUTF
			}
			units = append(units, uint16(c&0x0F)<<12|uint16(b[i+1]&0x3F)<<6|uint16(b[i+2]&0x3F))
			i += 3
		default:
			return "", ErrMalformedUTF
		}
	}
	return string(utf16.Decode(units)), nil
}
