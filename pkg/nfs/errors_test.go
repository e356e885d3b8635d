package nfs

import (
	"context"
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"URL", urlError("host is missing"), "URL error: host is missing"},
		{"Status", statusError("LOOKUP", "a/b", NFS3ErrNoEnt), "NFS error: LOOKUP a/b: NFS3ERR_NOENT"},
		{"StatusNoPath", statusError("MNT", "", NFS3ErrAccess), "NFS error: MNT: NFS3ERR_ACCES"},
		{"RPC", rpcError("READ", "f", errors.New("rpc: read reply: EOF")), "NFS error: READ f: rpc: read reply: EOF"},
		{"Runtime", &Error{Kind: KindRuntime, Op: "stat", Err: errors.New("pool closed")}, "runtime error: stat: pool closed"},
		{"UnknownStatus", statusError("GETATTR", "", Status(4242)), "NFS error: GETATTR: NFS3ERR_4242"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorUnwrapsToErrno(t *testing.T) {
	tests := []struct {
		status Status
		target error
	}{
		{NFS3ErrNoEnt, fs.ErrNotExist},
		{NFS3ErrExist, fs.ErrExist},
		{NFS3ErrAccess, fs.ErrPermission},
		{NFS3ErrPerm, fs.ErrPermission},
		{NFS3ErrStale, unix.ESTALE},
		{NFS3ErrBadHandle, unix.EBADF},
		{NFS3ErrNotSupp, unix.ENOTSUP},
		{NFS3ErrJukebox, unix.EAGAIN},
		{NFS3ErrServerFault, unix.EIO},
		{NFS3ErrNotEmpty, unix.ENOTEMPTY},
		{Status(4242), unix.EINVAL},
	}
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			err := statusError("OP", "p", tt.status)
			assert.ErrorIs(t, err, tt.target)

			st, ok := StatusOf(err)
			assert.True(t, ok)
			assert.Equal(t, tt.status, st)
		})
	}
}

func TestErrorKinds(t *testing.T) {
	rpcErr := rpcError("READ", "f", context.DeadlineExceeded)
	assert.ErrorIs(t, rpcErr, context.DeadlineExceeded)
	_, ok := StatusOf(rpcErr)
	assert.False(t, ok)

	lost := &Error{Kind: KindNFS, Op: "COMMIT", Status: NFS3ErrIO, Err: ErrVerifierChanged}
	assert.ErrorIs(t, lost, ErrVerifierChanged)
	assert.ErrorIs(t, lost, unix.EIO)

	assert.Equal(t, "url", KindURL.String())
	assert.Equal(t, "nfs", KindNFS.String())
	assert.Equal(t, "rpc", KindRPC.String())
	assert.Equal(t, "runtime", KindRuntime.String())
}
