package rpc

import (
	"fmt"

	"github.com/marmos91/nfsstream/internal/xdr"
)

// Authentication flavors (RFC 5531 Section 8.2).
const (
	AuthNull uint32 = 0
	AuthUnix uint32 = 1
)

// maxMachineName is the AUTH_UNIX machinename limit.
const maxMachineName = 255

// maxAuthBody is the opaque_auth body limit.
const maxAuthBody = 400

// OpaqueAuth is a credential or verifier as carried in call and reply headers.
type OpaqueAuth struct {
	Flavor uint32
	Body   []byte
}

// NullAuth is the AUTH_NULL credential.
var NullAuth = OpaqueAuth{Flavor: AuthNull}

// UnixAuth is the AUTH_UNIX (AUTH_SYS) credential body.
type UnixAuth struct {
	Stamp       uint32
	MachineName string
	UID         uint32
	GID         uint32
	GIDs        []uint32
}

// Encode returns the credential in its opaque_auth form.
func (u *UnixAuth) Encode() OpaqueAuth {
	e := xdr.NewEncoder(32 + len(u.MachineName) + 4*len(u.GIDs))
	e.Uint32(u.Stamp)
	e.String(u.MachineName)
	e.Uint32(u.UID)
	e.Uint32(u.GID)
	e.Uint32Array(u.GIDs)
	return OpaqueAuth{Flavor: AuthUnix, Body: e.Bytes()}
}

// ParseUnixAuth decodes an AUTH_UNIX credential body.
func ParseUnixAuth(body []byte) (*UnixAuth, error) {
	d := xdr.NewDecoder(body)
	u := &UnixAuth{
		Stamp:       d.Uint32(),
		MachineName: d.String(maxMachineName),
		UID:         d.Uint32(),
		GID:         d.Uint32(),
	}
	n := d.Uint32()
	if n > 16 {
		return nil, fmt.Errorf("auth_unix: %d supplementary groups exceeds 16", n)
	}
	u.GIDs = make([]uint32, n)
	for i := range u.GIDs {
		u.GIDs[i] = d.Uint32()
	}
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("auth_unix: %w", err)
	}
	return u, nil
}
