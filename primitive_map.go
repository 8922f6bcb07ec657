package openwire

import (
	"errors"
	"fmt"
)

// Primitive value type codes.
const (
	primitiveNull      byte = 0
	primitiveBool      byte = 1
	primitiveByte      byte = 2
	primitiveChar      byte = 3
	primitiveShort     byte = 4
	primitiveInt       byte = 5
	primitiveLong      byte = 6
	primitiveDouble    byte = 7
	primitiveFloat     byte = 8
	primitiveString    byte = 9
	primitiveBytes     byte = 10
	primitiveMap       byte = 11
	primitiveList      byte = 12
	primitiveBigString byte = 13
)

// bigStringThreshold is the encoded length above which strings switch
// to a 4-byte length prefix.
const bigStringThreshold = 32767 / 4

// ErrUnsupportedPrimitive is returned for values a primitive map cannot hold.
var ErrUnsupportedPrimitive = errors.New("openwire: unsupported primitive value")

// Char is a 16-bit character value in a primitive map.
type Char uint16

// PrimitiveMap holds typed properties. Values are nil, bool, byte, Char,
// int16, int32, int64, float32, float64, string, []byte, PrimitiveMap or
// []any.
type PrimitiveMap map[string]any

// GetBool returns the boolean at key, or false.
func (m PrimitiveMap) GetBool(key string) bool {
	v, _ := m[key].(bool)
	return v
}

// GetInt returns the integer at key, or 0.
func (m PrimitiveMap) GetInt(key string) int32 {
	switch v := m[key].(type) {
	case int32:
		return v
	case int16:
		return int32(v)
	case byte:
		return int32(v)
	default:
		return 0
	}
}

// GetLong returns the long at key, or 0. Narrower integers widen.
func (m PrimitiveMap) GetLong(key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int32, int16, byte:
		return int64(m.GetInt(key))
	default:
		return 0
	}
}

// GetString returns the string at key, or "".
func (m PrimitiveMap) GetString(key string) string {
	v, _ := m[key].(string)
	return v
}

// MarshalPrimitiveMap encodes m. A nil map encodes as size -1.
func MarshalPrimitiveMap(m PrimitiveMap) ([]byte, error) {
	w := &dataWriter{}
	if err := writePrimitiveMap(w, m); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// UnmarshalPrimitiveMap decodes a map written by MarshalPrimitiveMap.
func UnmarshalPrimitiveMap(data []byte) (PrimitiveMap, error) {
	if len(data) == 0 {
		return nil, nil
	}
	return readPrimitiveMap(&dataReader{data: data})
}

func writePrimitiveMap(w *dataWriter, m PrimitiveMap) error {
	if m == nil {
		w.writeInt(-1)
		return nil
	}
	w.writeInt(int32(len(m)))
	for k, v := range m {
		if err := w.writeUTF(k); err != nil {
			return err
		}
		if err := writePrimitive(w, v); err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
	}
	return nil
}

func writePrimitiveList(w *dataWriter, l []any) error {
	w.writeInt(int32(len(l)))
	for _, v := range l {
		if err := writePrimitive(w, v); err != nil {
			return err
		}
	}
	return nil
}

func writePrimitive(w *dataWriter, v any) error {
	switch v := v.(type) {
	case nil:
		w.writeByte(primitiveNull)
	case bool:
		w.writeByte(primitiveBool)
		w.writeBool(v)
	case byte:
		w.writeByte(primitiveByte)
		w.writeByte(v)
	case Char:
		w.writeByte(primitiveChar)
		w.writeShort(int16(v))
	case int16:
		w.writeByte(primitiveShort)
		w.writeShort(v)
	case int32:
		w.writeByte(primitiveInt)
		w.writeInt(v)
	case int:
		if int(int32(v)) == v {
			w.writeByte(primitiveInt)
			w.writeInt(int32(v))
		} else {
			w.writeByte(primitiveLong)
			w.writeLong(int64(v))
		}
	case int64:
		w.writeByte(primitiveLong)
		w.writeLong(v)
	case float32:
		w.writeByte(primitiveFloat)
		w.writeFloat(v)
	case float64:
		w.writeByte(primitiveDouble)
		w.writeDouble(v)
	case []byte:
		w.writeByte(primitiveBytes)
		w.writeInt(int32(len(v)))
		w.writeBytes(v)
	case string:
		n := modifiedUTF8Len(v)
		if n > bigStringThreshold {
			w.writeByte(primitiveBigString)
			w.writeInt(int32(n))
			w.buf = appendModifiedUTF8(w.buf, v)
			return nil
		}
		w.writeByte(primitiveString)
		return w.writeUTF(v)
	case PrimitiveMap:
		w.writeByte(primitiveMap)
		return writePrimitiveMap(w, v)
	case map[string]any:
		w.writeByte(primitiveMap)
		return writePrimitiveMap(w, v)
	case []any:
		w.writeByte(primitiveList)
		return writePrimitiveList(w, v)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedPrimitive, v)
	}
	return nil
}

func readPrimitiveMap(r *dataReader) (PrimitiveMap, error) {
	n, err := r.readInt()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	m := make(PrimitiveMap, n)
	for i := int32(0); i < n; i++ {
		key, err := r.readUTF()
		if err != nil {
			return nil, err
		}
		v, err := readPrimitive(r)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		m[key] = v
	}
	return m, nil
}

func readPrimitiveList(r *dataReader) ([]any, error) {
	n, err := r.readInt()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, ErrNegativeLength
	}
	l := make([]any, 0, min(int(n), r.remaining()))
	for i := int32(0); i < n; i++ {
		v, err := readPrimitive(r)
		if err != nil {
			return nil, err
		}
		l = append(l, v)
	}
	return l, nil
}

func readPrimitive(r *dataReader) (any, error) {
	t, err := r.readByte()
	if err != nil {
		return nil, err
	}
	switch t {
	case primitiveNull:
		return nil, nil
	case primitiveBool:
		return r.readBool()
	case primitiveByte:
		return r.readByte()
	case primitiveChar:
		v, err := r.readUnsignedShort()
		return Char(v), err
	case primitiveShort:
		return r.readShort()
	case primitiveInt:
		return r.readInt()
	case primitiveLong:
		return r.readLong()
	case primitiveFloat:
		return r.readFloat()
	case primitiveDouble:
		return r.readDouble()
	case primitiveBytes:
		n, err := r.readInt()
		if err != nil {
			return nil, err
		}
		return r.readBytes(int(n))
	case primitiveString:
		return r.readUTF()
	case primitiveBigString:
		n, err := r.readInt()
		if err != nil {
			return nil, err
		}
		b, err := r.next(int(n))
		if err != nil {
			return nil, err
		}
		return decodeModifiedUTF8(b)
	case primitiveMap:
		return readPrimitiveMap(r)
	case primitiveList:
		return readPrimitiveList(r)
	default:
		return nil, fmt.Errorf("%w: type code %d", ErrUnsupportedPrimitive, t)
	}
}
