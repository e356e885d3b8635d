package stream

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/marmos91/nfsstream/internal/logger"
	"github.com/marmos91/nfsstream/pkg/blocking"
	"github.com/marmos91/nfsstream/pkg/metrics"
)

type opKind uint8

const (
	opRead opKind = iota + 1
	opWrite
)

func (k opKind) String() string {
	switch k {
	case opRead:
		return "read"
	case opWrite:
		return "write"
	default:
		return "unknown"
	}
}

// outcome is what a finished transfer hands back to the File, together with
// ownership of the staging buffer.
type outcome struct {
	op  opKind
	buf *Buf
	n   int
	eof bool
	err error
}

// worker holds everything a blocking call needs. Closures submitted to the
// pool capture a *worker, never the File, so an abandoned File stays
// collectable while a call is in flight.
type worker struct {
	remote  Remote
	limiter *rate.Limiter
	metrics metrics.StreamMetrics
	logCtx  context.Context
}

func (w *worker) observe(op string, start time.Time, n int, err error) {
	if w.metrics != nil {
		w.metrics.ObserveCall(op, time.Since(start), n, err)
	}
}

// throttle waits for n tokens, in bursts the limiter can grant.
func (w *worker) throttle(n int) {
	if w.limiter == nil || w.limiter.Limit() == rate.Inf {
		return
	}
	burst := max(w.limiter.Burst(), 1)
	for n > 0 {
		step := min(n, burst)
		if err := w.limiter.WaitN(context.Background(), step); err != nil {
			logger.WarnCtx(w.logCtx, "Rate limiter rejected transfer, not throttling", logger.Err(err))
			return
		}
		n -= step
	}
}

// read fills the reserved region of buf with one blocking read. On success
// buf holds exactly the bytes returned; on failure it is empty.
//
// A zero-byte read, or io.EOF with no data, marks end of file. Bytes that
// arrive together with an error are delivered and the error is dropped; the
// next read reaches it again.
func (w *worker) read(buf *Buf) outcome {
	p := buf.Bytes()
	w.throttle(len(p))

	start := time.Now()
	n, err := w.remote.Read(p)
	switch {
	case n > 0:
		err = nil
	case err == nil || errors.Is(err, io.EOF):
		err = nil
		buf.Clear()
		w.observe("read", start, 0, nil)
		return outcome{op: opRead, buf: buf, eof: true}
	}
	if err != nil {
		buf.Clear()
		w.observe("read", start, 0, err)
		return outcome{op: opRead, buf: buf, err: err}
	}
	buf.Truncate(n)
	w.observe("read", start, n, nil)
	return outcome{op: opRead, buf: buf, n: n}
}

// write applies a pending seek correction and then writes the staged region
// in full. The buffer is empty afterwards whatever the result.
func (w *worker) write(buf *Buf, seek int64) outcome {
	defer buf.Clear()

	if seek != 0 {
		start := time.Now()
		_, err := w.remote.Seek(seek, io.SeekCurrent)
		w.observe("seek", start, 0, err)
		if err != nil {
			return outcome{op: opWrite, buf: buf, err: err}
		}
	}

	p := buf.Bytes()
	start := time.Now()
	written := 0
	var err error
	for written < len(p) {
		w.throttle(len(p) - written)
		var n int
		n, err = w.remote.Write(p[written:])
		written += n
		if err != nil {
			break
		}
		if n == 0 {
			err = io.ErrShortWrite
			break
		}
	}
	w.observe("write", start, written, err)
	return outcome{op: opWrite, buf: buf, n: written, err: err}
}

type statResult struct {
	info fs.FileInfo
	err  error
}

func (w *worker) stat() statResult {
	start := time.Now()
	info, err := w.remote.Stat()
	w.observe("stat", start, 0, err)
	return statResult{info: info, err: err}
}

func (w *worker) sync() error {
	start := time.Now()
	err := w.remote.Sync()
	w.observe("sync", start, 0, err)
	return err
}

// handleRef owns the release of the remote handle. It is shared by the
// File, which releases it on Close, and by the cleanup registered for the
// File, which releases it if the File is dropped without Close.
type handleRef struct {
	w      *worker
	pool   *blocking.Pool
	logCtx context.Context

	mu       sync.Mutex
	inflight <-chan struct{}
	released bool
}

// track records the completion channel of the call now in flight.
func (h *handleRef) track(done <-chan struct{}) {
	h.mu.Lock()
	h.inflight = done
	h.mu.Unlock()
}

// release waits for the in-flight call, if any, and closes the remote once.
// Failures are logged and counted, then returned for callers that care.
func (h *handleRef) release() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	inflight := h.inflight
	h.mu.Unlock()

	if inflight != nil {
		<-inflight
	}

	start := time.Now()
	err := h.w.remote.Close()
	h.w.observe("release", start, 0, err)
	if err != nil {
		if h.w.metrics != nil {
			h.w.metrics.RecordReleaseFailure()
		}
		logger.WarnCtx(h.logCtx, "Failed to release remote file", logger.Err(err))
	}
	return err
}

// releaseOnPool runs release on the pool and waits for it. A stopped pool
// does not leak the handle: the release then runs on the caller.
func (h *handleRef) releaseOnPool() error {
	err, serr := blocking.Submit(h.pool, "release", h.release).Result()
	if errors.Is(serr, blocking.ErrPoolClosed) {
		return h.release()
	}
	if serr != nil {
		return serr
	}
	return err
}
