package openwire

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadUTF(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		encoded []byte
	}{
		{
			name:    "empty string",
			input:   "",
			encoded: []byte{0x00, 0x00},
		},
		{
			name:    "simple ASCII",
			input:   "abc",
			encoded: []byte{0x00, 0x03, 'a', 'b', 'c'},
		},
		{
			name:    "null character uses two bytes",
			input:   "\x00",
			encoded: []byte{0x00, 0x02, 0xC0, 0x80},
		},
		{
			name:    "two byte character",
			input:   "é",
			encoded: []byte{0x00, 0x02, 0xC3, 0xA9},
		},
		{
			name:    "three byte character",
			input:   "€",
			encoded: []byte{0x00, 0x03, 0xE2, 0x82, 0xAC},
		},
		{
			name:    "supplementary character as surrogate pair",
			input:   "😀",
			encoded: []byte{0x00, 0x06, 0xED, 0xA0, 0xBD, 0xED, 0xB8, 0x80},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &dataWriter{}
			require.NoError(t, w.writeUTF(tt.input))
			assert.Equal(t, tt.encoded, w.Bytes())
			assert.Equal(t, len(tt.encoded)-2, modifiedUTF8Len(tt.input))

			r := &dataReader{data: w.Bytes()}
			decoded, err := r.readUTF()
			require.NoError(t, err)
			assert.Equal(t, tt.input, decoded)
			assert.Zero(t, r.remaining())
		})
	}
}

func TestWriteUTFTooLong(t *testing.T) {
	w := &dataWriter{}
	assert.NoError(t, w.writeUTF(strings.Repeat("a", 65535)))

	w.reset()
	assert.ErrorIs(t, w.writeUTF(strings.Repeat("a", 65536)), ErrStringTooLong)
	assert.ErrorIs(t, w.writeUTF(strings.Repeat("é", 40000)), ErrStringTooLong)
}

func TestDecodeModifiedUTF8Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"truncated two byte", []byte{0xC3}},
		{"bad continuation", []byte{0xC3, 0x29}},
		{"truncated three byte", []byte{0xE2, 0x82}},
		{"invalid lead byte", []byte{0xF0, 0x9F, 0x98, 0x80}},
		{"stray continuation", []byte{0x80}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeModifiedUTF8(tt.input)
			assert.ErrorIs(t, err, ErrMalformedUTF)
		})
	}
}

func TestIsASCII(t *testing.T) {
	assert.True(t, isASCII(""))
	assert.True(t, isASCII("queue://TEST.FOO"))
	assert.False(t, isASCII("a\x00b"))
	assert.False(t, isASCII("naïve"))
}

func TestDataWriterPrimitives(t *testing.T) {
	w := &dataWriter{}
	w.writeByte(0x7F)
	w.writeBool(true)
	w.writeShort(-2)
	w.writeInt(0x01020304)
	w.writeLong(-1)
	w.writeFloat(1.5)
	w.writeDouble(-2.25)

	r := &dataReader{data: w.Bytes()}

	b, err := r.readByte()
	require.NoError(t, err)
	assert.Equal(t, byte(0x7F), b)

	ok, err := r.readBool()
	require.NoError(t, err)
	assert.True(t, ok)

	s, err := r.readShort()
	require.NoError(t, err)
	assert.Equal(t, int16(-2), s)

	i, err := r.readInt()
	require.NoError(t, err)
	assert.Equal(t, int32(0x01020304), i)

	l, err := r.readLong()
	require.NoError(t, err)
	assert.Equal(t, int64(-1), l)

	f, err := r.readFloat()
	require.NoError(t, err)
	assert.Equal(t, float32(1.5), f)

	d, err := r.readDouble()
	require.NoError(t, err)
	assert.Equal(t, -2.25, d)

	_, err = r.readByte()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDataReaderReadBytes(t *testing.T) {
	t.Run("copies the data", func(t *testing.T) {
		src := []byte{1, 2, 3}
		r := &dataReader{data: src}
		b, err := r.readBytes(2)
		require.NoError(t, err)
		b[0] = 9
		assert.Equal(t, byte(1), src[0])
	})

	t.Run("length beyond frame", func(t *testing.T) {
		r := &dataReader{data: []byte{1, 2, 3}}
		_, err := r.readBytes(4)
		assert.ErrorIs(t, err, ErrLengthExceeded)
	})

	t.Run("negative length", func(t *testing.T) {
		r := &dataReader{data: []byte{1}}
		_, err := r.next(-1)
		assert.ErrorIs(t, err, ErrNegativeLength)
	})
}

func TestDataReaderStreaming(t *testing.T) {
	t.Run("pulls bytes on demand", func(t *testing.T) {
		src := bytes.NewReader([]byte{0, 0, 0, 7, 0xAA, 0xBB})
		r := &dataReader{src: src}

		n, err := r.readInt()
		require.NoError(t, err)
		assert.Equal(t, int32(7), n)
		assert.Equal(t, 2, src.Len())

		b, err := r.readBytes(2)
		require.NoError(t, err)
		assert.Equal(t, []byte{0xAA, 0xBB}, b)
	})

	t.Run("clean end of stream", func(t *testing.T) {
		r := &dataReader{src: bytes.NewReader(nil)}
		_, err := r.readByte()
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("truncated mid frame", func(t *testing.T) {
		r := &dataReader{src: bytes.NewReader([]byte{1, 0, 0})}
		_, err := r.readByte()
		require.NoError(t, err)
		_, err = r.readInt()
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("limit", func(t *testing.T) {
		r := &dataReader{src: bytes.NewReader(make([]byte, 16)), limit: 8}
		_, err := r.readLong()
		require.NoError(t, err)
		_, err = r.readByte()
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})
}

func TestTightLongEncoding(t *testing.T) {
	tests := []struct {
		name string
		v    int64
		size int
	}{
		{"zero", 0, 0},
		{"small", 1, 2},
		{"max 16 bit", 0xFFFF, 2},
		{"min 32 bit", 0x10000, 4},
		{"max 32 bit", 0xFFFFFFFF, 4},
		{"min 64 bit", 0x100000000, 8},
		{"negative", -1, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &formatSettings{version: MaxSupportedVersion, tightEncoding: true}
			bs := &BooleanStream{}

			c := &fieldCodec{mode: modeTightSize, cfg: cfg, bs: bs}
			v := tt.v
			c.int64(&v)
			require.NoError(t, c.err)
			assert.Equal(t, tt.size, c.size)

			w := &dataWriter{}
			bs.Rewind()
			c = &fieldCodec{mode: modeTightWrite, cfg: cfg, bs: bs, w: w}
			c.int64(&v)
			require.NoError(t, c.err)
			assert.Equal(t, tt.size, w.Len())

			bs.Rewind()
			var got int64
			c = &fieldCodec{mode: modeTightRead, cfg: cfg, bs: bs, r: &dataReader{data: w.Bytes()}}
			c.int64(&got)
			require.NoError(t, c.err)
			assert.Equal(t, tt.v, got)
		})
	}
}
