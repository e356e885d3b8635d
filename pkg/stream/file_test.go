package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/marmos91/nfsstream/pkg/blocking"
)

var errRemote = errors.New("remote I/O error")

func testPool(t *testing.T) *blocking.Pool {
	t.Helper()
	p := blocking.NewPool(blocking.Config{Workers: 4})
	t.Cleanup(func() { p.Stop(5 * time.Second) })
	return p
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

// assertSerial fails when the remote ever ran two calls at once.
func assertSerial(t *testing.T, m *memRemote) {
	t.Helper()
	assert.LessOrEqual(t, m.peak.Load(), int32(1), "more than one blocking call was outstanding")
}

// ============================================================================
// Round Trip Tests
// ============================================================================

func TestRoundTrip(t *testing.T) {
	const size = 1 << 20
	pool := testPool(t)
	want := pattern(size)

	t.Run("ArbitraryChunks", func(t *testing.T) {
		remote := newMemRemote(nil)
		remote.maxWrite = 1000
		f := New(remote, WithPool(pool))

		rng := rand.New(rand.NewSource(1))
		src := want
		for len(src) > 0 {
			chunk := min(len(src), 1+rng.Intn(40<<10))
			n, err := f.Write(src[:chunk])
			require.NoError(t, err)
			require.Equal(t, chunk, n)
			src = src[chunk:]
		}
		require.NoError(t, f.Close())
		assertSerial(t, remote)
		require.Equal(t, want, remote.store.bytes())

		rf := New(remote.reopen(), WithPool(pool))
		defer rf.Close()

		got, err := io.ReadAll(rf)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(want, got), "read back differs from written data")
	})

	t.Run("TransfersNeverExceedLimit", func(t *testing.T) {
		remote := newMemRemote(nil)
		f := New(remote, WithPool(pool))

		_, err := io.Copy(f, bytes.NewReader(want))
		require.NoError(t, err)
		require.NoError(t, f.Close())

		for _, call := range remote.callLog() {
			var n int
			if _, err := fmt.Sscanf(call, "write %d", &n); err == nil {
				assert.LessOrEqual(t, n, DefaultMaxTransfer)
			}
		}
	})

	t.Run("OSFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "data.bin")
		wf, err := os.Create(path)
		require.NoError(t, err)

		f := New(wf, WithPool(pool))
		_, err = io.Copy(f, bytes.NewReader(want))
		require.NoError(t, err)
		require.NoError(t, f.Sync(context.Background()))
		require.NoError(t, f.Close())

		rf, err := os.Open(path)
		require.NoError(t, err)
		r := New(rf, WithPool(pool))
		defer r.Close()

		info, err := r.Stat(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(size), info.Size())

		got, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(want, got))
	})
}

// ============================================================================
// Staging Limit Tests
// ============================================================================

func TestWriteAcceptsAtMostMaxTransfer(t *testing.T) {
	remote := newMemRemote(nil)
	f := New(remote, WithPool(testPool(t)), WithMaxTransfer(1024))
	defer f.Close()

	src := pattern(2000)
	n, err := f.PollWrite(src)
	require.NoError(t, err)
	assert.Equal(t, 1024, n)

	require.NoError(t, f.Flush())
	assert.Equal(t, src[:1024], remote.store.bytes())

	n, err = f.Write(src[n:])
	require.NoError(t, err)
	assert.Equal(t, 976, n)
	require.NoError(t, f.Flush())
	assert.Equal(t, src, remote.store.bytes())
}

func TestReadIsBoundedByMaxTransfer(t *testing.T) {
	remote := newMemRemote(pattern(4096))
	f := New(remote, WithPool(testPool(t)), WithMaxTransfer(1024))
	defer f.Close()

	n, err := f.Read(make([]byte, 4096))
	require.NoError(t, err)
	assert.Equal(t, 1024, n)
	assert.Equal(t, []string{"read 1024"}, remote.callLog())
}

// ============================================================================
// Read / Write Interaction Tests
// ============================================================================

func TestWriteAfterReadAheadSeeksBack(t *testing.T) {
	content := pattern(4096)
	remote := newMemRemote(content)
	f := New(remote, WithPool(testPool(t)), WithMaxTransfer(1024))
	defer f.Close()

	// Dispatch a 1024-byte read but consume only 100 bytes of it.
	remote.hold()
	big := make([]byte, 1024)
	_, err := f.PollRead(big)
	require.ErrorIs(t, err, ErrWouldBlock)
	remote.release()
	<-f.Ready()

	n, err := f.PollRead(big[:100])
	require.NoError(t, err)
	require.Equal(t, 100, n)
	assert.Equal(t, content[:100], big[:100])

	patch := bytes.Repeat([]byte{'x'}, 50)
	n, err = f.Write(patch)
	require.NoError(t, err)
	assert.Equal(t, 50, n)
	require.NoError(t, f.Flush())

	assert.Equal(t, []string{"read 1024", "seek -924 1", "write 50"}, remote.callLog())

	want := append([]byte(nil), content...)
	copy(want[100:], patch)
	assert.Equal(t, want, remote.store.bytes())
	assertSerial(t, remote)
}

func TestReadAfterWriteSkipsWrittenData(t *testing.T) {
	remote := newMemRemote([]byte("0123456789"))
	f := New(remote, WithPool(testPool(t)))
	defer f.Close()

	n, err := f.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "56789", string(got))
	assert.Equal(t, "hello56789", string(remote.store.bytes()))
}

func TestSeekFailureSkipsWrite(t *testing.T) {
	remote := newMemRemote(pattern(2048))
	f := New(remote, WithPool(testPool(t)), WithMaxTransfer(1024))
	defer f.Close()

	remote.hold()
	_, err := f.PollRead(make([]byte, 1024))
	require.ErrorIs(t, err, ErrWouldBlock)
	remote.release()
	<-f.Ready()
	_, err = f.PollRead(make([]byte, 10))
	require.NoError(t, err)

	remote.set(func(m *memRemote) { m.seekErr = errRemote })
	n, err := f.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.ErrorIs(t, f.Flush(), errRemote)
	assert.NotContains(t, remote.callLog(), "write 3")
}

// ============================================================================
// Deferred Error Tests
// ============================================================================

func TestDeferredWriteError(t *testing.T) {
	t.Run("ReportedOnceByFlush", func(t *testing.T) {
		remote := newMemRemote(nil)
		remote.writeErr = errRemote
		f := New(remote, WithPool(testPool(t)))
		defer f.Close()

		n, err := f.PollWrite([]byte("abc"))
		require.NoError(t, err, "the submitting call never sees the failure")
		assert.Equal(t, 3, n)

		assert.ErrorIs(t, f.Flush(), errRemote)
		assert.NoError(t, f.Flush())
	})

	t.Run("NeverReportedByRead", func(t *testing.T) {
		remote := newMemRemote([]byte("data"))
		remote.writeErr = errRemote
		f := New(remote, WithPool(testPool(t)))
		defer f.Close()

		_, err := f.Write([]byte("abc"))
		require.NoError(t, err)

		buf := make([]byte, 16)
		n, err := f.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, "data", string(buf[:n]))

		// The next write reports it instead of writing.
		n, err = f.PollWrite([]byte("xyz"))
		assert.ErrorIs(t, err, errRemote)
		assert.Zero(t, n)

		remote.set(func(m *memRemote) { m.writeErr = nil })
		n, err = f.PollWrite([]byte("xyz"))
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		require.NoError(t, f.Flush())
	})

	t.Run("ReportedDirectlyByNextWrite", func(t *testing.T) {
		remote := newMemRemote(nil)
		remote.writeErr = errRemote
		f := New(remote, WithPool(testPool(t)))
		defer f.Close()

		_, err := f.Write([]byte("first"))
		require.NoError(t, err)

		_, err = f.Write([]byte("second"))
		assert.ErrorIs(t, err, errRemote)

		remote.set(func(m *memRemote) { m.writeErr = nil })
		_, err = f.Write([]byte("third"))
		require.NoError(t, err)
		require.NoError(t, f.Flush())
		assert.Equal(t, "third", string(remote.store.bytes()))
	})

	t.Run("ZeroByteWriteIsShort", func(t *testing.T) {
		f := New(zeroWriter{newMemRemote(nil)}, WithPool(testPool(t)))
		defer f.Close()

		_, err := f.Write([]byte("abc"))
		require.NoError(t, err)
		assert.ErrorIs(t, f.Flush(), io.ErrShortWrite)
	})
}

type zeroWriter struct{ *memRemote }

func (zeroWriter) Write([]byte) (int, error) { return 0, nil }

func TestReadErrorIsImmediate(t *testing.T) {
	remote := newMemRemote([]byte("data"))
	remote.readErr = errRemote
	f := New(remote, WithPool(testPool(t)))
	defer f.Close()

	_, err := f.Read(make([]byte, 8))
	assert.ErrorIs(t, err, errRemote)

	// Nothing is held back for later.
	assert.NoError(t, f.Flush())
}

func TestEndOfFile(t *testing.T) {
	f := New(newMemRemote(nil), WithPool(testPool(t)))
	defer f.Close()

	n, err := f.Read(make([]byte, 8))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)

	n, err = f.Read(nil)
	assert.Zero(t, n)
	assert.NoError(t, err)
}

// ============================================================================
// Flush / Close Tests
// ============================================================================

func TestFlushIdleIssuesNoCall(t *testing.T) {
	remote := newMemRemote(nil)
	f := New(remote, WithPool(testPool(t)))
	defer f.Close()

	assert.NoError(t, f.PollFlush())
	assert.NoError(t, f.PollShutdown())
	assert.NoError(t, f.Flush())
	assert.Empty(t, remote.callLog())
}

func TestFlushAfterReadSucceeds(t *testing.T) {
	remote := newMemRemote([]byte("data"))
	remote.hold()
	f := New(remote, WithPool(testPool(t)))
	defer f.Close()

	_, err := f.PollRead(make([]byte, 4))
	require.ErrorIs(t, err, ErrWouldBlock)
	assert.ErrorIs(t, f.PollFlush(), ErrWouldBlock)

	remote.release()
	assert.NoError(t, f.Flush())
}

func TestClose(t *testing.T) {
	t.Run("ReleasesOnce", func(t *testing.T) {
		remote := newMemRemote(nil)
		f := New(remote, WithPool(testPool(t)))

		_, err := f.Write([]byte("abc"))
		require.NoError(t, err)
		require.NoError(t, f.Close())
		assert.Equal(t, int32(1), remote.closes.Load())
		assert.Equal(t, "abc", string(remote.store.bytes()))

		assert.ErrorIs(t, f.Close(), fs.ErrClosed)
		assert.Equal(t, int32(1), remote.closes.Load())
	})

	t.Run("ReturnsFlushErrorNotReleaseError", func(t *testing.T) {
		remote := newMemRemote(nil)
		remote.closeErr = errors.New("release failed")
		f := New(remote, WithPool(testPool(t)))
		assert.NoError(t, f.Close())

		remote = newMemRemote(nil)
		remote.writeErr = errRemote
		f = New(remote, WithPool(testPool(t)))
		_, err := f.Write([]byte("abc"))
		require.NoError(t, err)
		assert.ErrorIs(t, f.Close(), errRemote)
		assert.Equal(t, int32(1), remote.closes.Load())
	})

	t.Run("OperationsAfterClose", func(t *testing.T) {
		f := New(newMemRemote(nil), WithPool(testPool(t)))
		require.NoError(t, f.Close())

		_, err := f.Read(make([]byte, 1))
		assert.ErrorIs(t, err, fs.ErrClosed)
		_, err = f.Write([]byte("x"))
		assert.ErrorIs(t, err, fs.ErrClosed)
		assert.ErrorIs(t, f.Flush(), fs.ErrClosed)
		_, err = f.Stat(context.Background())
		assert.ErrorIs(t, err, fs.ErrClosed)
		assert.ErrorIs(t, f.Sync(context.Background()), fs.ErrClosed)
	})

	t.Run("StoppedPoolStillReleases", func(t *testing.T) {
		pool := blocking.NewPool(blocking.Config{Workers: 1})
		remote := newMemRemote(nil)
		f := New(remote, WithPool(pool))
		pool.Stop(time.Second)

		assert.NoError(t, f.Close())
		assert.Equal(t, int32(1), remote.closes.Load())
	})
}

func TestAbandonedFileIsReleased(t *testing.T) {
	pool := testPool(t)
	remote := newMemRemote(nil)

	func() {
		f := New(remote, WithPool(pool))
		_, err := f.Write([]byte("abc"))
		require.NoError(t, err)
	}()

	assert.Eventually(t, func() bool {
		runtime.GC()
		return remote.closes.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "abc", string(remote.store.bytes()))
}

// ============================================================================
// Concurrency Tests
// ============================================================================

func TestAtMostOneCallOutstanding(t *testing.T) {
	remote := newMemRemote(pattern(256 << 10))
	remote.maxWrite = 700
	f := New(remote, WithPool(blocking.NewPool(blocking.Config{Workers: 16})), WithMaxTransfer(4096))
	defer f.Close()

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		size := 1 + rng.Intn(8192)
		if rng.Intn(2) == 0 {
			_, err := f.Read(make([]byte, size))
			if err != nil {
				require.ErrorIs(t, err, io.EOF)
			}
		} else {
			_, err := f.Write(pattern(size))
			require.NoError(t, err)
		}
	}
	require.NoError(t, f.Flush())
	assertSerial(t, remote)
}

func TestConcurrentCallersDoNotCorruptState(t *testing.T) {
	remote := newMemRemote(nil)
	f := New(remote, WithPool(testPool(t)), WithMaxTransfer(512))
	defer f.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := f.Write(pattern(300))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, f.Flush())
	assertSerial(t, remote)
	assert.Len(t, remote.store.bytes(), 8*50*300)
}

func TestCancelledWaitKeepsCallForNextPoll(t *testing.T) {
	remote := newMemRemote([]byte("payload"))
	remote.hold()
	f := New(remote, WithPool(testPool(t)))
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	buf := make([]byte, 16)
	_, err := f.ReadContext(ctx, buf)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	remote.release()
	n, err := f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf[:n]))
	assert.Equal(t, []string{"read 16"}, remote.callLog())
}

func TestPanickingCallIsReported(t *testing.T) {
	remote := newMemRemote([]byte("data"))
	remote.panicRd = true
	f := New(remote, WithPool(testPool(t)))
	defer f.Close()

	_, err := f.Read(make([]byte, 4))
	var pe *blocking.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "read", pe.Op)

	remote.set(func(m *memRemote) { m.panicRd = false })
	buf := make([]byte, 4)
	n, err := f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "data", string(buf[:n]))
}

// ============================================================================
// Request / Response Tests
// ============================================================================

func TestStatAndSyncBypassState(t *testing.T) {
	remote := newMemRemote(pattern(100))
	f := New(remote, WithPool(testPool(t)))
	defer f.Close()

	// Leave read-ahead staged; Stat and Sync must not disturb it.
	remote.hold()
	_, err := f.PollRead(make([]byte, 100))
	require.ErrorIs(t, err, ErrWouldBlock)
	remote.release()
	<-f.Ready()
	buf := make([]byte, 10)
	n, err := f.PollRead(buf)
	require.NoError(t, err)
	require.Equal(t, 10, n)

	info, err := f.Stat(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100), info.Size())
	require.NoError(t, f.Sync(context.Background()))

	n, err = f.PollRead(buf)
	require.NoError(t, err)
	assert.Equal(t, pattern(100)[10:20], buf[:n])
	assert.Equal(t, []string{"read 100", "stat", "sync"}, remote.callLog())
}

func TestStatHonoursContext(t *testing.T) {
	remote := newMemRemote(nil)
	remote.hold()
	f := New(remote, WithPool(testPool(t)))
	defer func() {
		remote.release()
		f.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Stat(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// ============================================================================
// Options Tests
// ============================================================================

func TestLimiterThrottlesTransfers(t *testing.T) {
	remote := newMemRemote(nil)
	lim := rate.NewLimiter(rate.Limit(1<<20), 4096)
	f := New(remote, WithPool(testPool(t)), WithLimiter(lim))
	defer f.Close()

	src := pattern(64 << 10)
	_, err := f.Write(src)
	require.NoError(t, err)
	require.NoError(t, f.Flush())
	assert.Equal(t, src, remote.store.bytes())
}

func TestLimiterWithoutBurstIsIgnored(t *testing.T) {
	var o options
	WithLimiter(rate.NewLimiter(rate.Limit(1<<20), 0))(&o)
	assert.Nil(t, o.limiter)

	unlimited := rate.NewLimiter(rate.Inf, 0)
	WithLimiter(unlimited)(&o)
	assert.Same(t, unlimited, o.limiter)

	remote := newMemRemote(nil)
	f := New(remote, WithPool(testPool(t)), WithLimiter(rate.NewLimiter(10, 0)))
	defer f.Close()

	src := pattern(8 << 10)
	_, err := f.Write(src)
	require.NoError(t, err)
	require.NoError(t, f.Flush())
	assert.Equal(t, src, remote.store.bytes())
}

func TestThrottleSurvivesRejectingLimiter(t *testing.T) {
	lim := rate.NewLimiter(10, 0)
	w := &worker{limiter: lim, logCtx: context.Background()}

	done := make(chan struct{})
	go func() {
		w.throttle(4096)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("throttle blocked on a limiter that cannot grant tokens")
	}
}

type recordingMetrics struct {
	mu       sync.Mutex
	calls    map[string]int
	deferred int
	seeks    []int64
	releases int
}

func (m *recordingMetrics) ObserveCall(op string, _ time.Duration, _ int, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[op]++
}

func (m *recordingMetrics) RecordDeferredError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deferred++
}

func (m *recordingMetrics) RecordSeekCorrection(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seeks = append(m.seeks, n)
}

func (m *recordingMetrics) RecordReleaseFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases++
}

func TestMetricsAreRecorded(t *testing.T) {
	m := &recordingMetrics{}
	remote := newMemRemote(pattern(64))
	remote.closeErr = errRemote
	f := New(remote, WithPool(testPool(t)), WithMetrics(m))

	remote.hold()
	_, err := f.PollRead(make([]byte, 64))
	require.ErrorIs(t, err, ErrWouldBlock)
	remote.release()
	<-f.Ready()
	_, err = f.PollRead(make([]byte, 4))
	require.NoError(t, err)

	remote.set(func(m *memRemote) { m.writeErr = errRemote })
	_, err = f.Write([]byte("x"))
	require.NoError(t, err)
	_, err = f.Read(make([]byte, 4))
	require.NoError(t, err)
	assert.ErrorIs(t, f.Close(), errRemote)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, []int64{60}, m.seeks)
	assert.Equal(t, 1, m.deferred)
	assert.Equal(t, 1, m.releases)
	assert.Equal(t, 1, m.calls["release"])
	assert.GreaterOrEqual(t, m.calls["read"], 1)
}
