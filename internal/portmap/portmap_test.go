package portmap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfsstream/internal/rpc"
	"github.com/marmos91/nfsstream/internal/rpc/rpctest"
	"github.com/marmos91/nfsstream/internal/xdr"
)

func newPortmapper(t *testing.T, ports map[uint32]uint32) *rpctest.Server {
	t.Helper()
	srv, err := rpctest.NewServer()
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	srv.Handle(Program, Version, func(c *rpctest.Call, res *xdr.Encoder) (rpc.AcceptStat, error) {
		if c.Proc != ProcGetport {
			return rpc.ProcUnavail, nil
		}
		m, err := DecodeMapping(c.Args.Rest())
		if err != nil || m.Protocol != ProtoTCP {
			return rpc.GarbageArgs, nil
		}
		res.Uint32(ports[m.Program])
		return rpc.Success, nil
	})
	return srv
}

func TestMappingCodec(t *testing.T) {
	in := &Mapping{Program: 100003, Version: 3, Protocol: ProtoTCP, Port: 2049}
	wire, err := EncodeMapping(in)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x00, 0x01, 0x86, 0xa3,
		0x00, 0x00, 0x00, 0x03,
		0x00, 0x00, 0x00, 0x06,
		0x00, 0x00, 0x08, 0x01,
	}, wire)

	out, err := DecodeMapping(wire)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestGetPort(t *testing.T) {
	srv := newPortmapper(t, map[uint32]uint32{100003: 2049, 100005: 20048})

	t.Run("Registered", func(t *testing.T) {
		port, err := GetPort(context.Background(), "127.0.0.1", srv.Port(), 100005, 3)
		require.NoError(t, err)
		assert.Equal(t, 20048, port)
	})

	t.Run("NotRegistered", func(t *testing.T) {
		_, err := GetPort(context.Background(), "127.0.0.1", srv.Port(), 100021, 4)
		assert.ErrorIs(t, err, ErrNotRegistered)
	})

	t.Run("Unreachable", func(t *testing.T) {
		dead := newPortmapper(t, nil)
		port := dead.Port()
		dead.Close()

		_, err := GetPort(context.Background(), "127.0.0.1", port, 100003, 3)
		assert.Error(t, err)
	})
}
