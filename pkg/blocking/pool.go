// Package blocking runs blocking calls off the caller's goroutine.
//
// A Pool bounds how many blocking calls execute at once. Submission never
// blocks: each task gets its own goroutine, which first waits for a slot on
// the pool's semaphore and then runs the call. A goroutine parked inside a
// blocking syscall or network read does not hold a scheduler P, so the
// bound exists to cap load on the remote server, not to protect the runtime.
//
// Results are delivered through a Task, whose Done channel closes when the
// call has finished. A panic inside the call is recovered and reported as a
// *PanicError; submitting to a stopped pool yields ErrPoolClosed. Both are
// scheduling failures: the call's own result is lost.
package blocking

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/marmos91/nfsstream/internal/logger"
	"github.com/marmos91/nfsstream/pkg/metrics"
)

// DefaultWorkers is the default bound on concurrently running calls.
const DefaultWorkers = 64

// ErrPoolClosed is the task error for submissions after Stop.
var ErrPoolClosed = errors.New("blocking: pool closed")

// PanicError reports a blocking call that panicked.
type PanicError struct {
	Op    string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("blocking: %s panicked: %v", e.Op, e.Value)
}

// Config configures a Pool.
type Config struct {
	// Workers bounds concurrently running calls (default DefaultWorkers).
	Workers int

	// Metrics is optional; nil disables collection.
	Metrics metrics.PoolMetrics
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Workers   int
	Pending   int
	Running   int
	Completed uint64
	Panicked  uint64
}

// Pool executes blocking calls on bounded goroutines.
type Pool struct {
	sem     *semaphore.Weighted
	workers int
	metrics metrics.PoolMetrics
	wg      sync.WaitGroup

	mu          sync.Mutex
	stopped     bool
	pending     int
	running     int
	completed   uint64
	panicked    uint64
	lastError   error
	lastErrorAt time.Time
}

// NewPool creates a pool. It is ready for use immediately.
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	return &Pool{
		sem:     semaphore.NewWeighted(int64(cfg.Workers)),
		workers: cfg.Workers,
		metrics: cfg.Metrics,
	}
}

var (
	defaultOnce sync.Once
	defaultPool *Pool
)

// Default returns a process-wide pool with DefaultWorkers slots.
func Default() *Pool {
	defaultOnce.Do(func() {
		defaultPool = NewPool(Config{Metrics: metrics.NewPoolMetrics()})
	})
	return defaultPool
}

// Task is the completion handle of a submitted call.
type Task[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Done returns a channel that is closed once the call has finished.
func (t *Task[T]) Done() <-chan struct{} { return t.done }

// Ready reports whether the call has finished, without blocking.
func (t *Task[T]) Ready() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Result waits for the call and returns its value. A non-nil error is a
// scheduling failure (*PanicError or ErrPoolClosed); errors produced by the
// call itself travel inside T.
func (t *Task[T]) Result() (T, error) {
	<-t.done
	return t.val, t.err
}

// Wait is like Result but gives up when ctx is done. The call keeps running;
// its result stays available on the task.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.val, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Submit schedules fn on p and returns immediately. op names the call in
// logs, metrics and panic reports.
func Submit[T any](p *Pool, op string, fn func() T) *Task[T] {
	t := &Task[T]{done: make(chan struct{})}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		t.err = ErrPoolClosed
		close(t.done)
		return t
	}
	p.pending++
	p.wg.Add(1)
	p.reportLocked()
	p.mu.Unlock()

	submitted := time.Now()
	go func() {
		defer p.wg.Done()
		defer close(t.done)

		// Acquire cannot fail with a background context.
		_ = p.sem.Acquire(context.Background(), 1)
		defer p.sem.Release(1)

		started := time.Now()
		p.begin()
		t.err = p.call(op, func() { t.val = fn() })
		p.end(op, started.Sub(submitted), time.Since(started), t.err)
	}()
	return t
}

func (p *Pool) call(op string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Op: op, Value: r, Stack: debug.Stack()}
		}
	}()
	fn()
	return nil
}

func (p *Pool) begin() {
	p.mu.Lock()
	p.pending--
	p.running++
	p.reportLocked()
	p.mu.Unlock()
}

func (p *Pool) end(op string, wait, run time.Duration, err error) {
	p.mu.Lock()
	p.running--
	p.completed++
	if err != nil {
		p.panicked++
		p.lastError = err
		p.lastErrorAt = time.Now()
	}
	p.reportLocked()
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.ObserveTask(op, wait, run, err != nil)
	}
	if err != nil {
		var pe *PanicError
		if errors.As(err, &pe) {
			logger.Error("Blocking call panicked",
				logger.KeyOperation, op,
				logger.KeyError, pe.Value,
				"stack", string(pe.Stack))
		}
	}
}

func (p *Pool) reportLocked() {
	if p.metrics != nil {
		p.metrics.SetQueue(p.pending, p.running)
	}
}

// Stop rejects new submissions and waits up to timeout for running and
// pending calls to finish.
func (p *Pool) Stop(timeout time.Duration) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	inflight := p.pending + p.running
	p.mu.Unlock()

	logger.Debug("Stopping blocking pool", logger.KeyPending, inflight)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Debug("Blocking pool stopped")
	case <-time.After(timeout):
		s := p.Stats()
		logger.Warn("Blocking pool stop timed out", logger.KeyPending, s.Pending+s.Running)
	}
}

// Stats returns pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Workers:   p.workers,
		Pending:   p.pending,
		Running:   p.running,
		Completed: p.completed,
		Panicked:  p.panicked,
	}
}

// LastError returns the most recent scheduling failure and when it happened.
func (p *Pool) LastError() (time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErrorAt, p.lastError
}

// Stopped reports whether Stop has been called.
func (p *Pool) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}
