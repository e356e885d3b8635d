package stream

import (
	"fmt"

	"github.com/marmos91/nfsstream/pkg/bufpool"
)

// DefaultMaxTransfer bounds the bytes moved by a single blocking call.
const DefaultMaxTransfer = 16 << 10

// Buf is the staging buffer of an open file. It holds either read-ahead
// returned by the last blocking read or the bytes of a write about to be
// dispatched, never both.
//
// Buf has no locking. Exactly one party owns it at a time: the File while
// idle, the worker running the outstanding call while busy.
type Buf struct {
	pool *bufpool.Pool
	data []byte
	pos  int
}

// NewBuf returns an empty buffer that draws storage from pool on first use.
// A nil pool means the package-level bufpool.
func NewBuf(pool *bufpool.Pool) *Buf {
	if pool == nil {
		pool = bufpool.Default()
	}
	return &Buf{pool: pool}
}

// Len returns the number of staged bytes not yet consumed.
func (b *Buf) Len() int { return len(b.data) - b.pos }

// Empty reports whether no staged bytes remain.
func (b *Buf) Empty() bool { return b.Len() == 0 }

// Bytes returns the unconsumed region. The slice aliases the buffer and is
// valid until the next mutating call.
func (b *Buf) Bytes() []byte { return b.data[b.pos:] }

func (b *Buf) mustBeEmpty(op string) {
	if !b.Empty() {
		panic(fmt.Sprintf("stream: Buf.%s on a buffer holding %d staged bytes", op, b.Len()))
	}
}

// reserve makes data exactly n bytes long, reusing storage when it is big
// enough. Contents are left uninitialised.
func (b *Buf) reserve(n int) {
	if cap(b.data) < n {
		b.pool.Put(b.data)
		b.data = b.pool.Get(n)
	}
	b.data = b.data[:n]
	b.pos = 0
}

// CapacityFor sizes the buffer to min(request, limit) bytes so a blocking
// read can fill it, and returns that region. The buffer must be empty.
func (b *Buf) CapacityFor(request, limit int) []byte {
	b.mustBeEmpty("CapacityFor")
	b.reserve(min(request, limit))
	return b.data
}

// StageFrom copies up to limit bytes of src into the buffer and returns the
// count. The buffer must be empty; the caller resubmits the remainder.
func (b *Buf) StageFrom(src []byte, limit int) int {
	b.mustBeEmpty("StageFrom")
	n := min(len(src), limit)
	b.reserve(n)
	copy(b.data, src)
	return n
}

// DrainInto copies staged bytes into dst, advancing the cursor. The buffer
// resets once everything has been consumed.
func (b *Buf) DrainInto(dst []byte) int {
	n := copy(dst, b.data[b.pos:])
	b.pos += n
	if b.pos == len(b.data) {
		b.Clear()
	}
	return n
}

// DiscardRead drops any unconsumed read-ahead and returns the relative seek
// needed to move the remote offset back to the caller's logical position.
// The result is zero or negative.
func (b *Buf) DiscardRead() int64 {
	off := -int64(b.Len())
	b.Clear()
	return off
}

// Truncate keeps the first n bytes of the staged region. It is used after a
// blocking read that returned fewer bytes than were reserved.
func (b *Buf) Truncate(n int) {
	if n < 0 || n > b.Len() {
		panic(fmt.Sprintf("stream: Buf.Truncate(%d) out of range [0, %d]", n, b.Len()))
	}
	b.data = b.data[:b.pos+n]
	if b.Empty() {
		b.Clear()
	}
}

// Clear empties the buffer and resets the cursor. Storage is kept.
func (b *Buf) Clear() {
	b.data = b.data[:0]
	b.pos = 0
}

// Release returns the storage to the pool. The buffer stays usable and will
// acquire new storage on demand.
func (b *Buf) Release() {
	b.pool.Put(b.data)
	b.data = nil
	b.pos = 0
}
