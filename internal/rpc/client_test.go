package rpc_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfsstream/internal/rpc"
	"github.com/marmos91/nfsstream/internal/rpc/rpctest"
	"github.com/marmos91/nfsstream/internal/xdr"
)

const (
	testProg = 400123
	testVers = 1

	procEcho  = 1
	procSleep = 2
	procDrop  = 3
	procWho   = 4
)

func newServer(t *testing.T) *rpctest.Server {
	t.Helper()
	srv, err := rpctest.NewServer()
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	srv.Handle(testProg, testVers, func(c *rpctest.Call, res *xdr.Encoder) (rpc.AcceptStat, error) {
		switch c.Proc {
		case procEcho:
			res.Opaque(c.Args.Opaque(1 << 20))
		case procSleep:
			time.Sleep(200 * time.Millisecond)
		case procDrop:
			return 0, rpctest.ErrDrop
		case procWho:
			if c.Cred.Flavor != rpc.AuthUnix {
				res.Uint32(0xFFFFFFFF)
				break
			}
			u, err := rpc.ParseUnixAuth(c.Cred.Body)
			if err != nil {
				return rpc.GarbageArgs, nil
			}
			res.Uint32(u.UID)
		default:
			return rpc.ProcUnavail, nil
		}
		return rpc.Success, nil
	})
	return srv
}

func dial(t *testing.T, srv *rpctest.Server, cfg rpc.Config) *rpc.Client {
	t.Helper()
	cfg.Addr = srv.Addr()
	if cfg.Program == 0 {
		cfg.Program, cfg.Version = testProg, testVers
	}
	c, err := rpc.Dial(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func echo(ctx context.Context, c *rpc.Client, payload []byte) ([]byte, error) {
	args := xdr.NewEncoder(len(payload) + 8)
	args.Opaque(payload)

	var out []byte
	err := c.Call(ctx, procEcho, args.Bytes(), func(d *xdr.Decoder) error {
		out = d.Opaque(1 << 20)
		return nil
	})
	return out, err
}

// ============================================================================
// Call Tests
// ============================================================================

func TestCall(t *testing.T) {
	t.Run("RoundTripsArguments", func(t *testing.T) {
		c := dial(t, newServer(t), rpc.Config{})

		out, err := echo(context.Background(), c, []byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, "hello", string(out))
	})

	t.Run("LargePayload", func(t *testing.T) {
		c := dial(t, newServer(t), rpc.Config{})
		payload := bytes.Repeat([]byte{0xA5}, 512<<10)

		out, err := echo(context.Background(), c, payload)
		require.NoError(t, err)
		assert.Equal(t, payload, out)
	})

	t.Run("SendsUnixCredential", func(t *testing.T) {
		cred := (&rpc.UnixAuth{MachineName: "client", UID: 1234, GID: 100}).Encode()
		c := dial(t, newServer(t), rpc.Config{Cred: cred})

		var uid uint32
		err := c.Call(context.Background(), procWho, nil, func(d *xdr.Decoder) error {
			uid = d.Uint32()
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, uint32(1234), uid)
	})

	t.Run("ProcUnavailable", func(t *testing.T) {
		c := dial(t, newServer(t), rpc.Config{})

		err := c.Call(context.Background(), 99, nil, func(*xdr.Decoder) error { return nil })
		var ae *rpc.AcceptError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, rpc.ProcUnavail, ae.Stat)
	})

	t.Run("ProgramUnavailable", func(t *testing.T) {
		c := dial(t, newServer(t), rpc.Config{Program: 1, Version: 1})

		err := c.Call(context.Background(), 0, nil, func(*xdr.Decoder) error { return nil })
		var ae *rpc.AcceptError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, rpc.ProgUnavail, ae.Stat)
		assert.Equal(t, "rpc: PROG_UNAVAIL", err.Error())
	})

	t.Run("DecodeErrorIsReported", func(t *testing.T) {
		c := dial(t, newServer(t), rpc.Config{})
		boom := errors.New("boom")

		args := xdr.NewEncoder(8)
		args.Opaque(nil)
		err := c.Call(context.Background(), procEcho, args.Bytes(), func(*xdr.Decoder) error { return boom })
		assert.ErrorIs(t, err, boom)

		// The connection stays usable.
		_, err = echo(context.Background(), c, []byte("again"))
		assert.NoError(t, err)
	})
}

// ============================================================================
// Connection Failure Tests
// ============================================================================

func TestConnectionFailures(t *testing.T) {
	t.Run("ContextCancellation", func(t *testing.T) {
		c := dial(t, newServer(t), rpc.Config{})
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := c.Call(ctx, procSleep, nil, func(*xdr.Decoder) error { return nil })
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("ReconnectsAfterDrop", func(t *testing.T) {
		srv := newServer(t)
		c := dial(t, srv, rpc.Config{})

		err := c.Call(context.Background(), procDrop, nil, func(*xdr.Decoder) error { return nil })
		require.Error(t, err)

		out, err := echo(context.Background(), c, []byte("back"))
		require.NoError(t, err)
		assert.Equal(t, "back", string(out))
	})

	t.Run("ClosedClient", func(t *testing.T) {
		c := dial(t, newServer(t), rpc.Config{})
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())

		_, err := echo(context.Background(), c, nil)
		assert.ErrorIs(t, err, rpc.ErrClosed)
	})

	t.Run("DialFailure", func(t *testing.T) {
		srv := newServer(t)
		addr := srv.Addr()
		srv.Close()

		_, err := rpc.Dial(context.Background(), rpc.Config{Addr: addr, Timeout: time.Second})
		assert.Error(t, err)
	})
}

func TestConcurrentCallsAreSerialized(t *testing.T) {
	c := dial(t, newServer(t), rpc.Config{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := bytes.Repeat([]byte{byte(i)}, 1000+i)
			out, err := echo(context.Background(), c, payload)
			assert.NoError(t, err)
			assert.Equal(t, payload, out)
		}(i)
	}
	wg.Wait()
}

// ============================================================================
// Record Marking Tests
// ============================================================================

func TestReadRecordReassemblesFragments(t *testing.T) {
	var wire bytes.Buffer
	wire.Write([]byte{0x00, 0x00, 0x00, 0x03, 'a', 'b', 'c'})
	wire.Write([]byte{0x80, 0x00, 0x00, 0x02, 'd', 'e'})

	rec, err := rpc.ReadRecord(&wire)
	require.NoError(t, err)
	assert.Equal(t, "abcde", string(rec))
}

func TestReadRecordRejectsOversized(t *testing.T) {
	wire := bytes.NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := rpc.ReadRecord(wire)
	assert.ErrorContains(t, err, "exceeds")
}

func TestWriteRecord(t *testing.T) {
	var wire bytes.Buffer
	require.NoError(t, rpc.WriteRecord(&wire, []byte{1, 2, 3, 4}))
	assert.Equal(t, []byte{0x80, 0, 0, 4, 1, 2, 3, 4}, wire.Bytes())
}

func TestUnixAuthRoundTrip(t *testing.T) {
	in := &rpc.UnixAuth{Stamp: 7, MachineName: "host", UID: 1, GID: 2, GIDs: []uint32{3, 4}}
	cred := in.Encode()
	assert.Equal(t, rpc.AuthUnix, cred.Flavor)

	out, err := rpc.ParseUnixAuth(cred.Body)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
