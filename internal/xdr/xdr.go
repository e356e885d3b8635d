// Package xdr implements the subset of XDR (RFC 4506) needed by the ONC RPC
// client and the NFSv3/MOUNT codecs.
//
// Key characteristics of XDR:
//   - Big-endian byte order for all multi-byte integers
//   - 4-byte alignment for all data types
//   - Variable-length data is preceded by a 4-byte length
//   - Strings and opaque data are padded to 4-byte boundaries
//
// Encoder appends to an in-memory buffer and cannot fail. Decoder walks a
// received record in place and keeps the first error it hits, so codecs can
// decode a whole structure and check Err once.
package xdr

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxOpaque bounds variable-length items accepted by the decoder.
const MaxOpaque = 1 << 20

// ErrShort is returned when a record ends before a complete item.
var ErrShort = errors.New("xdr: short buffer")

// Pad returns the number of zero bytes that follow n bytes of opaque data.
func Pad(n int) int {
	return (4 - n%4) % 4
}

// ============================================================================
// Encoder
// ============================================================================

// Encoder builds an XDR byte stream.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an Encoder whose buffer starts with capacity hint.
func NewEncoder(hint int) *Encoder {
	return &Encoder{buf: make([]byte, 0, hint)}
}

// Bytes returns the encoded bytes. The slice aliases the encoder's buffer.
func (e *Encoder) Bytes() []byte { return e.buf }

// Len returns the number of encoded bytes.
func (e *Encoder) Len() int { return len(e.buf) }

// Reset empties the encoder, keeping its capacity.
func (e *Encoder) Reset() { e.buf = e.buf[:0] }

func (e *Encoder) Uint32(v uint32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

func (e *Encoder) Uint64(v uint64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, v)
}

func (e *Encoder) Int32(v int32) { e.Uint32(uint32(v)) }

func (e *Encoder) Int64(v int64) { e.Uint64(uint64(v)) }

// Bool encodes true as 1 and false as 0.
func (e *Encoder) Bool(v bool) {
	if v {
		e.Uint32(1)
	} else {
		e.Uint32(0)
	}
}

// Opaque encodes variable-length opaque data: length, bytes, padding.
func (e *Encoder) Opaque(p []byte) {
	e.Uint32(uint32(len(p)))
	e.FixedOpaque(p)
}

// FixedOpaque encodes fixed-length opaque data: bytes and padding only.
func (e *Encoder) FixedOpaque(p []byte) {
	e.buf = append(e.buf, p...)
	for i := Pad(len(p)); i > 0; i-- {
		e.buf = append(e.buf, 0)
	}
}

// String encodes s like variable-length opaque data.
func (e *Encoder) String(s string) {
	e.Uint32(uint32(len(s)))
	e.buf = append(e.buf, s...)
	for i := Pad(len(s)); i > 0; i-- {
		e.buf = append(e.buf, 0)
	}
}

// Uint32Array encodes a counted array of uint32.
func (e *Encoder) Uint32Array(vs []uint32) {
	e.Uint32(uint32(len(vs)))
	for _, v := range vs {
		e.Uint32(v)
	}
}

// ============================================================================
// Decoder
// ============================================================================

// Decoder reads XDR items from a byte slice.
type Decoder struct {
	buf []byte
	off int
	err error
}

// NewDecoder returns a Decoder positioned at the start of buf.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Err returns the first decoding error, if any.
func (d *Decoder) Err() error { return d.err }

// Remaining returns the number of undecoded bytes.
func (d *Decoder) Remaining() int { return len(d.buf) - d.off }

// Offset returns the number of bytes consumed so far.
func (d *Decoder) Offset() int { return d.off }

// Fail records err unless an earlier error is already recorded.
func (d *Decoder) Fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.Remaining() < n {
		d.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShort, n, d.off, d.Remaining())
		return nil
	}
	p := d.buf[d.off : d.off+n]
	d.off += n
	return p
}

func (d *Decoder) Uint32() uint32 {
	p := d.take(4)
	if p == nil {
		return 0
	}
	return binary.BigEndian.Uint32(p)
}

func (d *Decoder) Uint64() uint64 {
	p := d.take(8)
	if p == nil {
		return 0
	}
	return binary.BigEndian.Uint64(p)
}

func (d *Decoder) Int32() int32 { return int32(d.Uint32()) }

// Bool decodes an XDR boolean. Values other than 0 and 1 are an error.
func (d *Decoder) Bool() bool {
	switch v := d.Uint32(); v {
	case 0:
		return false
	case 1:
		return true
	default:
		d.Fail(fmt.Errorf("xdr: invalid boolean %d", v))
		return false
	}
}

func (d *Decoder) length(max int) int {
	n := d.Uint32()
	if d.err != nil {
		return 0
	}
	if uint64(n) > uint64(max) {
		d.Fail(fmt.Errorf("xdr: length %d exceeds maximum %d", n, max))
		return 0
	}
	return int(n)
}

// OpaqueRef decodes variable-length opaque data without copying. The result
// aliases the decoder's buffer.
func (d *Decoder) OpaqueRef(max int) []byte {
	n := d.length(max)
	p := d.take(n)
	d.take(Pad(n))
	if d.err != nil {
		return nil
	}
	return p
}

// Opaque decodes variable-length opaque data into a new slice.
func (d *Decoder) Opaque(max int) []byte {
	p := d.OpaqueRef(max)
	if p == nil {
		return nil
	}
	return append([]byte(nil), p...)
}

// OpaqueInto decodes variable-length opaque data directly into dst and
// returns the number of bytes copied. Data longer than dst is an error.
func (d *Decoder) OpaqueInto(dst []byte) int {
	p := d.OpaqueRef(MaxOpaque)
	if d.err != nil {
		return 0
	}
	if len(p) > len(dst) {
		d.Fail(fmt.Errorf("xdr: opaque of %d bytes does not fit %d byte buffer", len(p), len(dst)))
		return 0
	}
	return copy(dst, p)
}

// FixedOpaque decodes n bytes of fixed-length opaque data into a new slice.
func (d *Decoder) FixedOpaque(n int) []byte {
	p := d.take(n)
	d.take(Pad(n))
	if d.err != nil {
		return nil
	}
	return append([]byte(nil), p...)
}

// String decodes a string of at most max bytes.
func (d *Decoder) String(max int) string {
	return string(d.OpaqueRef(max))
}

// Rest consumes and returns all undecoded bytes without copying.
func (d *Decoder) Rest() []byte {
	return d.take(d.Remaining())
}

// Skip discards n bytes.
func (d *Decoder) Skip(n int) { d.take(n) }
