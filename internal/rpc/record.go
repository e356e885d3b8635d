package rpc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/marmos91/nfsstream/pkg/bufpool"
)

// Record marking (RFC 5531 Section 11): on TCP every message is split into
// fragments, each preceded by a 4-byte header whose top bit marks the last
// fragment and whose low 31 bits carry the fragment length.
const (
	lastFragment = 0x80000000
	fragmentMask = 0x7FFFFFFF

	// MaxRecord bounds a reassembled record: a full 1MiB READ reply plus headers.
	MaxRecord = 1<<20 + 64<<10
)

// markRecord fills the 4 bytes reserved at the start of msg with a
// last-fragment header covering the rest of msg.
func markRecord(msg []byte) {
	binary.BigEndian.PutUint32(msg[:4], uint32(len(msg)-4)|lastFragment)
}

// ReadRecord reads one complete record, reassembling fragments. The returned
// slice comes from bufpool; callers hand it back with bufpool.Put.
func ReadRecord(r io.Reader) ([]byte, error) {
	var (
		hdr [4]byte
		rec []byte
	)
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			bufpool.Put(rec)
			return nil, err
		}
		word := binary.BigEndian.Uint32(hdr[:])
		n := int(word & fragmentMask)
		if len(rec)+n > MaxRecord {
			bufpool.Put(rec)
			return nil, fmt.Errorf("rpc: record of at least %d bytes exceeds %d", len(rec)+n, MaxRecord)
		}

		start := len(rec)
		if rec == nil {
			rec = bufpool.Get(n)
		} else {
			rec = append(rec, make([]byte, n)...)
		}
		if _, err := io.ReadFull(r, rec[start:]); err != nil {
			bufpool.Put(rec)
			return nil, fmt.Errorf("rpc: read fragment: %w", err)
		}
		if word&lastFragment != 0 {
			return rec, nil
		}
	}
}

// WriteRecord writes msg as a single last fragment.
func WriteRecord(w io.Writer, msg []byte) error {
	framed := make([]byte, 4+len(msg))
	copy(framed[4:], msg)
	markRecord(framed)
	_, err := w.Write(framed)
	return err
}
