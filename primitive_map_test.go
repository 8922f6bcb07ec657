package openwire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrimitiveMapRoundTrip(t *testing.T) {
	m := PrimitiveMap{
		"null":   nil,
		"bool":   true,
		"byte":   byte(0x7F),
		"char":   Char('x'),
		"short":  int16(-3),
		"int":    int32(1 << 20),
		"long":   int64(1) << 40,
		"float":  float32(1.25),
		"double": 3.5,
		"string": "hello wörld",
		"bytes":  []byte{1, 2, 3},
		"map":    PrimitiveMap{"nested": int32(1)},
		"list":   []any{int32(1), "two", []any{false}},
	}

	data, err := MarshalPrimitiveMap(m)
	require.NoError(t, err)

	got, err := UnmarshalPrimitiveMap(data)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestPrimitiveMapNil(t *testing.T) {
	data, err := MarshalPrimitiveMap(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, data)

	got, err := UnmarshalPrimitiveMap(data)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = UnmarshalPrimitiveMap(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPrimitiveMapEncoding(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  []byte
	}{
		{"null", nil, []byte{primitiveNull}},
		{"bool", false, []byte{primitiveBool, 0}},
		{"int fits int32", 7, []byte{primitiveInt, 0, 0, 0, 7}},
		{"int needs int64", 1 << 33, []byte{primitiveLong, 0, 0, 0, 2, 0, 0, 0, 0}},
		{"char", Char(0x20AC), []byte{primitiveChar, 0x20, 0xAC}},
		{"string", "ab", []byte{primitiveString, 0, 2, 'a', 'b'}},
		{"map[string]any", map[string]any{}, []byte{primitiveMap, 0, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &dataWriter{}
			require.NoError(t, writePrimitive(w, tt.value))
			assert.Equal(t, tt.want, w.Bytes())
		})
	}
}

func TestPrimitiveMapBigString(t *testing.T) {
	small := strings.Repeat("s", bigStringThreshold)
	big := strings.Repeat("b", bigStringThreshold+1)

	w := &dataWriter{}
	require.NoError(t, writePrimitive(w, small))
	assert.Equal(t, primitiveString, w.Bytes()[0])

	w = &dataWriter{}
	require.NoError(t, writePrimitive(w, big))
	assert.Equal(t, primitiveBigString, w.Bytes()[0])

	v, err := readPrimitive(&dataReader{data: w.Bytes()})
	require.NoError(t, err)
	assert.Equal(t, big, v)
}

func TestPrimitiveMapErrors(t *testing.T) {
	t.Run("unsupported value", func(t *testing.T) {
		_, err := MarshalPrimitiveMap(PrimitiveMap{"ch": make(chan int)})
		assert.ErrorIs(t, err, ErrUnsupportedPrimitive)
	})

	t.Run("unknown type code", func(t *testing.T) {
		data := []byte{0, 0, 0, 1, 0, 1, 'k', 99}
		_, err := UnmarshalPrimitiveMap(data)
		assert.ErrorIs(t, err, ErrUnsupportedPrimitive)
	})

	t.Run("negative list length", func(t *testing.T) {
		_, err := readPrimitive(&dataReader{data: []byte{primitiveList, 0xFF, 0xFF, 0xFF, 0xFF}})
		assert.ErrorIs(t, err, ErrNegativeLength)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := UnmarshalPrimitiveMap([]byte{0, 0, 0, 1, 0, 1})
		assert.Error(t, err)
	})
}

func TestPrimitiveMapGetters(t *testing.T) {
	m := PrimitiveMap{
		"b":   true,
		"i":   int32(5),
		"s16": int16(6),
		"u8":  byte(7),
		"l":   int64(1) << 35,
		"str": "x",
	}

	assert.True(t, m.GetBool("b"))
	assert.False(t, m.GetBool("missing"))
	assert.False(t, m.GetBool("str"))

	assert.Equal(t, int32(5), m.GetInt("i"))
	assert.Equal(t, int32(6), m.GetInt("s16"))
	assert.Equal(t, int32(7), m.GetInt("u8"))
	assert.Zero(t, m.GetInt("l"))

	assert.Equal(t, int64(1)<<35, m.GetLong("l"))
	assert.Equal(t, int64(5), m.GetLong("i"))
	assert.Zero(t, m.GetLong("str"))

	assert.Equal(t, "x", m.GetString("str"))
	assert.Empty(t, m.GetString("i"))
}
