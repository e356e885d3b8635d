package nfs

import (
	"context"
	"io"
	"io/fs"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/marmos91/nfsstream/pkg/stream"
)

var _ stream.Remote = (*Handle)(nil)

// Handle is an open remote file with a client-side offset. Its methods
// block until the server replies and are safe for concurrent use, though
// concurrent Read and Write calls share one offset.
//
// Writes are sent with the mount's stable_how (UNSTABLE by default); Sync
// and Close COMMIT them.
type Handle struct {
	c    *Client
	fh   []byte
	path string
	flag int

	mu       sync.Mutex
	off      int64
	closed   bool
	unstable bool
	verf     [VerifierSize]byte
	hasVerf  bool
	lost     bool // the verifier changed between unstable writes
}

func newHandle(c *Client, fh []byte, p string, flag int) *Handle {
	return &Handle{c: c, fh: fh, path: p, flag: flag}
}

// Path returns the file's path relative to the export root.
func (h *Handle) Path() string { return h.path }

// FileHandle returns the NFS file handle.
func (h *Handle) FileHandle() []byte { return h.fh }

// Offset returns the current file offset.
func (h *Handle) Offset() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.off
}

func (h *Handle) readable() bool { return h.flag&unix.O_WRONLY == 0 }
func (h *Handle) writable() bool { return h.flag&(unix.O_WRONLY|unix.O_RDWR) != 0 }

func (h *Handle) check(op string) error {
	if h.closed {
		return &fs.PathError{Op: op, Path: h.path, Err: fs.ErrClosed}
	}
	return nil
}

// Read reads up to len(p) bytes at the current offset with one READ. It
// returns io.EOF once the server reports end of file and no data.
func (h *Handle) Read(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.check("read"); err != nil {
		return 0, err
	}
	if !h.readable() {
		return 0, &fs.PathError{Op: "read", Path: h.path, Err: unix.EBADF}
	}
	if len(p) == 0 {
		return 0, nil
	}
	if len(p) > MaxIO {
		p = p[:MaxIO]
	}

	n, eof, err := h.c.read(context.Background(), h.fh, h.path, h.off, p)
	if err != nil {
		return 0, err
	}
	h.off += int64(n)
	if n == 0 && eof {
		return 0, io.EOF
	}
	return n, nil
}

// Write writes p at the current offset, or at end of file for O_APPEND,
// with one WRITE. The server may accept fewer bytes than len(p).
func (h *Handle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.check("write"); err != nil {
		return 0, err
	}
	if !h.writable() {
		return 0, &fs.PathError{Op: "write", Path: h.path, Err: unix.EBADF}
	}
	if len(p) == 0 {
		return 0, nil
	}
	if len(p) > MaxIO {
		p = p[:MaxIO]
	}

	ctx := context.Background()
	if h.flag&unix.O_APPEND != 0 {
		attr, err := h.c.getattr(ctx, h.fh, h.path)
		if err != nil {
			return 0, err
		}
		h.off = attr.Size()
	}

	n, committed, verf, err := h.c.write(ctx, h.fh, h.path, h.off, p, h.c.url.Stable)
	if err != nil {
		return 0, err
	}
	h.off += int64(n)
	if committed == Unstable {
		if h.hasVerf && verf != h.verf {
			h.lost = true
		}
		h.verf, h.hasVerf = verf, true
		h.unstable = true
	}
	return n, nil
}

// Seek sets the offset for the next Read or Write. io.SeekEnd asks the
// server for the current size.
func (h *Handle) Seek(offset int64, whence int) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.check("seek"); err != nil {
		return 0, err
	}
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = h.off
	case io.SeekEnd:
		attr, err := h.c.getattr(context.Background(), h.fh, h.path)
		if err != nil {
			return 0, err
		}
		base = attr.Size()
	default:
		return 0, &fs.PathError{Op: "seek", Path: h.path, Err: unix.EINVAL}
	}
	if base+offset < 0 {
		return 0, &fs.PathError{Op: "seek", Path: h.path, Err: unix.EINVAL}
	}
	h.off = base + offset
	return h.off, nil
}

// Stat returns the file's attributes as an *Attr.
func (h *Handle) Stat() (fs.FileInfo, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, &fs.PathError{Op: "stat", Path: h.path, Err: fs.ErrClosed}
	}
	return h.c.getattr(context.Background(), h.fh, h.path)
}

// Truncate changes the file size.
func (h *Handle) Truncate(size int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.check("truncate"); err != nil {
		return err
	}
	if size < 0 {
		return &fs.PathError{Op: "truncate", Path: h.path, Err: unix.EINVAL}
	}
	sz := uint64(size)
	return h.c.setattr(context.Background(), h.fh, h.path, &SetAttr{Size: &sz})
}

// Sync commits unstable writes to stable storage. It fails with
// ErrVerifierChanged when the server restarted after accepting data that
// had not been committed.
func (h *Handle) Sync() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.check("sync"); err != nil {
		return err
	}
	return h.syncLocked()
}

func (h *Handle) syncLocked() error {
	verf, err := h.c.commit(context.Background(), h.fh, h.path)
	if err != nil {
		return err
	}
	lost := h.lost || (h.hasVerf && verf != h.verf)
	h.unstable, h.hasVerf, h.lost = false, false, false
	if lost {
		return &Error{Kind: KindNFS, Op: "COMMIT", Path: h.path, Status: NFS3ErrIO, Err: ErrVerifierChanged}
	}
	return nil
}

// Close commits outstanding unstable writes and forgets the handle. NFS v3
// has no close on the wire.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.check("close"); err != nil {
		return err
	}
	h.closed = true
	if h.unstable {
		return h.syncLocked()
	}
	return nil
}
