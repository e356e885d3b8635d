package stream

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync"
	"sync/atomic"
	"time"
)

// memStore is file content shared by every memRemote opened on it.
type memStore struct {
	mu   sync.Mutex
	data []byte
}

func (s *memStore) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...)
}

// memRemote is an in-memory Remote that records its calls and how many of
// them ever overlapped.
type memRemote struct {
	store *memStore

	mu       sync.Mutex
	off      int64
	calls    []string
	maxWrite int
	writeErr error
	readErr  error
	seekErr  error
	closeErr error
	panicRd  bool
	gate     chan struct{}

	active atomic.Int32
	peak   atomic.Int32
	closes atomic.Int32
}

func newMemRemote(content []byte) *memRemote {
	return &memRemote{store: &memStore{data: append([]byte(nil), content...)}}
}

// reopen returns a fresh handle on the same content, positioned at 0.
func (m *memRemote) reopen() *memRemote {
	return &memRemote{store: m.store}
}

func (m *memRemote) enter(call string) func() {
	n := m.active.Add(1)
	for {
		old := m.peak.Load()
		if n <= old || m.peak.CompareAndSwap(old, n) {
			break
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, call)
	gate := m.gate
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return func() { m.active.Add(-1) }
}

// hold makes every following call block until release.
func (m *memRemote) hold() {
	m.mu.Lock()
	m.gate = make(chan struct{})
	m.mu.Unlock()
}

func (m *memRemote) release() {
	m.mu.Lock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
	m.mu.Unlock()
}

func (m *memRemote) set(fn func(m *memRemote)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

func (m *memRemote) callLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *memRemote) Read(p []byte) (int, error) {
	defer m.enter(fmt.Sprintf("read %d", len(p)))()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panicRd {
		panic("remote read exploded")
	}
	if m.readErr != nil {
		return 0, m.readErr
	}

	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if m.off >= int64(len(m.store.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.store.data[m.off:])
	m.off += int64(n)
	return n, nil
}

func (m *memRemote) Write(p []byte) (int, error) {
	defer m.enter(fmt.Sprintf("write %d", len(p)))()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	if m.maxWrite > 0 && len(p) > m.maxWrite {
		p = p[:m.maxWrite]
	}

	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	end := m.off + int64(len(p))
	if end > int64(len(m.store.data)) {
		m.store.data = append(m.store.data, make([]byte, end-int64(len(m.store.data)))...)
	}
	copy(m.store.data[m.off:], p)
	m.off = end
	return len(p), nil
}

func (m *memRemote) Seek(offset int64, whence int) (int64, error) {
	defer m.enter(fmt.Sprintf("seek %d %d", offset, whence))()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seekErr != nil {
		return 0, m.seekErr
	}
	var base int64
	switch whence {
	case io.SeekCurrent:
		base = m.off
	case io.SeekEnd:
		m.store.mu.Lock()
		base = int64(len(m.store.data))
		m.store.mu.Unlock()
	}
	if base+offset < 0 {
		return 0, errors.New("negative offset")
	}
	m.off = base + offset
	return m.off, nil
}

func (m *memRemote) Stat() (fs.FileInfo, error) {
	defer m.enter("stat")()

	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	return memInfo{size: int64(len(m.store.data))}, nil
}

func (m *memRemote) Sync() error {
	defer m.enter("sync")()
	return nil
}

func (m *memRemote) Close() error {
	defer m.enter("close")()
	m.closes.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeErr
}

type memInfo struct{ size int64 }

func (i memInfo) Name() string       { return "mem" }
func (i memInfo) Size() int64        { return i.size }
func (i memInfo) Mode() fs.FileMode  { return 0o644 }
func (i memInfo) ModTime() time.Time { return time.Time{} }
func (i memInfo) IsDir() bool        { return false }
func (i memInfo) Sys() any           { return nil }
