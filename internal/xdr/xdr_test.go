package xdr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPad(t *testing.T) {
	for n, want := range map[int]int{0: 0, 1: 3, 2: 2, 3: 1, 4: 0, 5: 3} {
		assert.Equal(t, want, Pad(n), "n=%d", n)
	}
}

func TestEncoderWireFormat(t *testing.T) {
	t.Run("Opaque", func(t *testing.T) {
		e := NewEncoder(16)
		e.Opaque([]byte{1, 2, 3})
		assert.Equal(t, []byte{0, 0, 0, 3, 1, 2, 3, 0}, e.Bytes())
	})

	t.Run("StringAligned", func(t *testing.T) {
		e := NewEncoder(16)
		e.String("test")
		assert.Equal(t, []byte{0, 0, 0, 4, 't', 'e', 's', 't'}, e.Bytes())
	})

	t.Run("Scalars", func(t *testing.T) {
		e := NewEncoder(32)
		e.Uint32(0x01020304)
		e.Uint64(0x0102030405060708)
		e.Bool(true)
		e.Int32(-1)
		assert.Equal(t, []byte{
			1, 2, 3, 4,
			1, 2, 3, 4, 5, 6, 7, 8,
			0, 0, 0, 1,
			0xff, 0xff, 0xff, 0xff,
		}, e.Bytes())
	})

	t.Run("Reset", func(t *testing.T) {
		e := NewEncoder(8)
		e.Uint32(7)
		e.Reset()
		assert.Zero(t, e.Len())
	})
}

func TestDecoder(t *testing.T) {
	t.Run("ReadsWhatEncoderWrote", func(t *testing.T) {
		e := NewEncoder(64)
		e.Uint32(42)
		e.Uint64(1 << 40)
		e.Bool(false)
		e.String("export")
		e.Opaque([]byte{9, 9})
		e.FixedOpaque([]byte{1, 2, 3, 4, 5, 6, 7, 8})
		e.Uint32Array([]uint32{5, 6})

		d := NewDecoder(e.Bytes())
		assert.Equal(t, uint32(42), d.Uint32())
		assert.Equal(t, uint64(1<<40), d.Uint64())
		assert.False(t, d.Bool())
		assert.Equal(t, "export", d.String(255))
		assert.Equal(t, []byte{9, 9}, d.Opaque(64))
		assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, d.FixedOpaque(8))
		assert.Equal(t, uint32(2), d.Uint32())
		assert.Equal(t, uint32(5), d.Uint32())
		assert.Equal(t, uint32(6), d.Uint32())
		require.NoError(t, d.Err())
		assert.Zero(t, d.Remaining())
	})

	t.Run("ShortBufferIsSticky", func(t *testing.T) {
		d := NewDecoder([]byte{0, 0, 0})
		assert.Zero(t, d.Uint32())
		assert.True(t, errors.Is(d.Err(), ErrShort))

		first := d.Err()
		d.Uint64()
		assert.Same(t, first, d.Err())
	})

	t.Run("LengthLimit", func(t *testing.T) {
		e := NewEncoder(16)
		e.Opaque(make([]byte, 65))
		d := NewDecoder(e.Bytes())
		assert.Nil(t, d.Opaque(64))
		assert.ErrorContains(t, d.Err(), "exceeds maximum")
	})

	t.Run("InvalidBool", func(t *testing.T) {
		d := NewDecoder([]byte{0, 0, 0, 2})
		d.Bool()
		assert.Error(t, d.Err())
	})

	t.Run("OpaqueIntoCopiesInPlace", func(t *testing.T) {
		e := NewEncoder(16)
		e.Opaque([]byte("hello"))
		dst := make([]byte, 8)

		d := NewDecoder(e.Bytes())
		n := d.OpaqueInto(dst)
		require.NoError(t, d.Err())
		assert.Equal(t, 5, n)
		assert.Equal(t, "hello", string(dst[:n]))
	})

	t.Run("OpaqueIntoRejectsOverflow", func(t *testing.T) {
		e := NewEncoder(16)
		e.Opaque([]byte("too long"))
		d := NewDecoder(e.Bytes())
		assert.Zero(t, d.OpaqueInto(make([]byte, 4)))
		assert.Error(t, d.Err())
	})

	t.Run("MissingPadding", func(t *testing.T) {
		d := NewDecoder([]byte{0, 0, 0, 1, 0xaa})
		d.Opaque(8)
		assert.True(t, errors.Is(d.Err(), ErrShort))
	})
}
