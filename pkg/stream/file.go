// Package stream turns a blocking remote file into a non-blocking duplex
// byte stream.
//
// A File owns one staging buffer and allows at most one blocking call on
// its Remote at a time. Every call runs on a blocking.Pool worker. The Poll
// methods never wait: when a call is outstanding they return ErrWouldBlock,
// and Ready yields a channel that closes once polling can make progress.
// Read, Write, Flush and their Context variants wrap the Poll methods for
// callers that prefer to block.
//
// Writes are fire-and-forget. PollWrite stages up to the transfer limit,
// dispatches the write and reports the staged count straight away. A write
// that later fails is reported by the next PollWrite or PollFlush; a read
// that observes it keeps it for them. Only the most recent such failure is
// kept.
//
// Reads may fetch more than the caller consumes. Before writing, the File
// drops that read-ahead and seeks the remote back by the same amount, so
// writes land at the caller's logical position.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"runtime"
	"sync"

	"github.com/marmos91/nfsstream/internal/logger"
	"github.com/marmos91/nfsstream/pkg/blocking"
)

// ErrWouldBlock is returned by the Poll methods while a blocking call is
// outstanding. Wait on Ready and poll again.
var ErrWouldBlock = errors.New("stream: operation would block")

// Remote is a file whose every operation blocks until the server replies.
// *nfs.Handle and *os.File both satisfy it.
type Remote interface {
	// Read returns 0, io.EOF (or 0, nil) at end of file.
	Read(p []byte) (int, error)
	// Write may accept fewer bytes than given.
	Write(p []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
	Stat() (fs.FileInfo, error)
	Sync() error
	Close() error
}

// state is idleState or busyState. The staging buffer lives in exactly one
// of them: the idle state holds it, while the busy state's task carries it
// back inside its outcome.
type state interface{ isState() }

type idleState struct{ buf *Buf }

type busyState struct {
	op   opKind
	task *blocking.Task[outcome]
}

func (idleState) isState() {}
func (busyState) isState() {}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// File is a non-blocking stream over a Remote.
//
// A File is meant to be driven by one goroutine. Its methods are also safe
// for concurrent use, but interleaving reads and writes from several
// goroutines gives no ordering guarantee.
type File struct {
	opts   options
	w      *worker
	ref    *handleRef
	logCtx context.Context

	mu       sync.Mutex
	state    state
	deferred error
	closed   bool
	cleanup  runtime.Cleanup
}

// New wraps remote. The File owns remote from now on and releases it on
// Close, or when the File is garbage collected without being closed.
func New(remote Remote, opts ...Option) *File {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	logCtx := context.Background()
	if o.logCtx != nil {
		logCtx = logger.WithContext(logCtx, o.logCtx)
	}

	w := &worker{remote: remote, limiter: o.limiter, metrics: o.metrics, logCtx: logCtx}
	f := &File{
		opts:   o,
		w:      w,
		ref:    &handleRef{w: w, pool: o.pool, logCtx: logCtx},
		logCtx: logCtx,
		state:  idleState{buf: NewBuf(o.buffers)},
	}
	f.cleanup = runtime.AddCleanup(f, func(h *handleRef) {
		go func() { _ = h.releaseOnPool() }()
	}, f.ref)
	return f
}

// MaxTransfer returns the per-call transfer limit.
func (f *File) MaxTransfer() int { return f.opts.maxTransfer }

// Ready returns a channel that is closed when the outstanding blocking call
// completes. If no call is outstanding the channel is already closed.
func (f *File) Ready() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.state.(busyState); ok {
		return s.task.Done()
	}
	return closedChan
}

func (f *File) startRead(buf *Buf, n int) {
	buf.CapacityFor(n, f.opts.maxTransfer)
	w := f.w
	task := blocking.Submit(f.opts.pool, "read", func() outcome { return w.read(buf) })
	f.ref.track(task.Done())
	f.state = busyState{op: opRead, task: task}
}

func (f *File) startWrite(buf *Buf, seek int64) {
	w := f.w
	task := blocking.Submit(f.opts.pool, "write", func() outcome { return w.write(buf, seek) })
	f.ref.track(task.Done())
	f.state = busyState{op: opWrite, task: task}
}

// complete collects the result of the outstanding call once it is done and
// returns the File to idle. err reports a scheduling failure; the buffer
// went down with the call, so the File continues with a fresh one.
func (f *File) complete(s busyState) (out outcome, done bool, err error) {
	if !s.task.Ready() {
		return outcome{}, false, nil
	}
	out, err = s.task.Result()
	if err != nil {
		logger.WarnCtx(f.logCtx, "Blocking call did not complete",
			logger.Operation(s.op.String()), logger.Err(err))
		f.state = idleState{buf: NewBuf(f.opts.buffers)}
		return outcome{}, true, err
	}
	f.state = idleState{buf: out.buf}
	return out, true, nil
}

// deferError keeps a failed write for the next write or flush. A failure
// already waiting there is replaced.
func (f *File) deferError(err error) {
	if f.deferred != nil {
		logger.DebugCtx(f.logCtx, "Replacing unreported write failure",
			logger.KeyError, f.deferred)
	}
	f.deferred = err
	if f.w.metrics != nil {
		f.w.metrics.RecordDeferredError()
	}
}

func (f *File) takeDeferred() error {
	err := f.deferred
	f.deferred = nil
	return err
}

// PollRead reads into p without blocking.
//
// Staged read-ahead is returned immediately. Otherwise one blocking read of
// up to min(len(p), MaxTransfer) bytes is dispatched and ErrWouldBlock is
// returned until it completes. At end of file PollRead returns 0, io.EOF.
// Read failures are returned as soon as they are observed.
func (f *File) PollRead(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, fs.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	for {
		switch s := f.state.(type) {
		case idleState:
			if !s.buf.Empty() {
				return s.buf.DrainInto(p), nil
			}
			f.startRead(s.buf, len(p))

		case busyState:
			out, done, err := f.complete(s)
			if !done {
				return 0, ErrWouldBlock
			}
			if err != nil {
				return 0, err
			}

			switch out.op {
			case opRead:
				if out.err != nil {
					if !out.buf.Empty() {
						panic(fmt.Sprintf("stream: failed read left %d staged bytes", out.buf.Len()))
					}
					return 0, out.err
				}
				if out.eof {
					return 0, io.EOF
				}
				return out.buf.DrainInto(p), nil

			case opWrite:
				if !out.buf.Empty() {
					panic(fmt.Sprintf("stream: finished write left %d staged bytes", out.buf.Len()))
				}
				if out.err != nil {
					f.deferError(out.err)
				}
			}
		}
	}
}

// PollWrite stages up to MaxTransfer bytes of p, dispatches their write and
// returns the staged count without waiting for the server. Callers resubmit
// the remainder.
//
// A failure of an earlier write is returned first, once, with n == 0.
// While an earlier call is still running PollWrite returns ErrWouldBlock.
func (f *File) PollWrite(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, fs.ErrClosed
	}
	if f.deferred != nil {
		return 0, f.takeDeferred()
	}
	if len(p) == 0 {
		return 0, nil
	}

	for {
		switch s := f.state.(type) {
		case idleState:
			var seek int64
			if !s.buf.Empty() {
				seek = s.buf.DiscardRead()
				if f.w.metrics != nil {
					f.w.metrics.RecordSeekCorrection(-seek)
				}
				logger.DebugCtx(f.logCtx, "Discarding read-ahead before write",
					logger.KeySeek, seek)
			}
			n := s.buf.StageFrom(p, f.opts.maxTransfer)
			f.startWrite(s.buf, seek)
			return n, nil

		case busyState:
			out, done, err := f.complete(s)
			if !done {
				return 0, ErrWouldBlock
			}
			if err != nil {
				return 0, err
			}
			// A finished read leaves its read-ahead staged; the idle branch
			// rolls it back. Its error, if any, belongs to nobody now.
			if out.op == opWrite && out.err != nil {
				return 0, out.err
			}
		}
	}
}

// PollFlush reports whether every dispatched write has reached the remote.
// It issues no blocking call of its own.
func (f *File) PollFlush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fs.ErrClosed
	}
	return f.pollFlushLocked()
}

func (f *File) pollFlushLocked() error {
	if f.deferred != nil {
		return f.takeDeferred()
	}

	s, ok := f.state.(busyState)
	if !ok {
		return nil
	}
	out, done, err := f.complete(s)
	if !done {
		return ErrWouldBlock
	}
	if err != nil {
		return err
	}
	if out.op == opWrite {
		return out.err
	}
	return nil
}

// PollShutdown is PollFlush. A File has no teardown beyond flushing; the
// remote handle is released by Close.
func (f *File) PollShutdown() error {
	return f.PollFlush()
}

func (f *File) wait(ctx context.Context) error {
	select {
	case <-f.Ready():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadContext blocks until PollRead makes progress or ctx is done. On
// cancellation the outstanding call keeps running; the next poll collects
// its result.
func (f *File) ReadContext(ctx context.Context, p []byte) (int, error) {
	for {
		n, err := f.PollRead(p)
		if err != ErrWouldBlock {
			return n, err
		}
		if err := f.wait(ctx); err != nil {
			return 0, err
		}
	}
}

// WriteContext stages all of p, one transfer at a time. It returns once the
// last chunk is dispatched, not when it reaches the remote; use Flush for
// that.
func (f *File) WriteContext(ctx context.Context, p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		n, err := f.PollWrite(p)
		if err == ErrWouldBlock {
			if err := f.wait(ctx); err != nil {
				return total, err
			}
			continue
		}
		total += n
		if err != nil {
			return total, err
		}
		p = p[n:]
	}
	return total, nil
}

// FlushContext waits until every dispatched write has completed and returns
// the first failure not yet reported.
func (f *File) FlushContext(ctx context.Context) error {
	for {
		err := f.PollFlush()
		if err != ErrWouldBlock {
			return err
		}
		if err := f.wait(ctx); err != nil {
			return err
		}
	}
}

// Read implements io.Reader.
func (f *File) Read(p []byte) (int, error) {
	return f.ReadContext(context.Background(), p)
}

// Write implements io.Writer.
func (f *File) Write(p []byte) (int, error) {
	return f.WriteContext(context.Background(), p)
}

// Flush waits for dispatched writes. See FlushContext.
func (f *File) Flush() error {
	return f.FlushContext(context.Background())
}

// Shutdown is FlushContext.
func (f *File) Shutdown(ctx context.Context) error {
	return f.FlushContext(ctx)
}

// Close flushes the File and releases the remote handle. The flush result
// is returned; a failed release is only logged and counted. Closing twice
// returns fs.ErrClosed.
func (f *File) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return fs.ErrClosed
	}
	f.mu.Unlock()

	flushErr := f.Flush()

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return fs.ErrClosed
	}
	f.closed = true
	if s, ok := f.state.(idleState); ok {
		s.buf.Release()
	}
	f.mu.Unlock()

	f.cleanup.Stop()
	_ = f.ref.releaseOnPool()
	return flushErr
}

// Stat returns the remote file's metadata. It runs one blocking call
// directly and leaves the buffering state alone, so it does not wait for
// dispatched writes.
func (f *File) Stat(ctx context.Context) (fs.FileInfo, error) {
	if f.isClosed() {
		return nil, fs.ErrClosed
	}
	w := f.w
	res, err := blocking.Submit(f.opts.pool, "stat", w.stat).Wait(ctx)
	if err != nil {
		return nil, err
	}
	return res.info, res.err
}

// Sync asks the remote to commit written data to stable storage. Like Stat
// it bypasses the buffering state; call Flush first to include writes that
// are still in flight.
func (f *File) Sync(ctx context.Context) error {
	if f.isClosed() {
		return fs.ErrClosed
	}
	w := f.w
	res, err := blocking.Submit(f.opts.pool, "sync", w.sync).Wait(ctx)
	if err != nil {
		return err
	}
	return res
}

func (f *File) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
