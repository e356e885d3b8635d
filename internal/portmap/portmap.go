// Package portmap resolves RPC program ports through the portmapper
// (RFC 1057 Appendix A, portmap version 2).
//
// NFS clients use it to discover which TCP ports the MOUNT and NFS programs
// listen on when the mount URL does not pin them.
package portmap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	xdr2 "github.com/rasky/go-xdr/xdr2"

	"github.com/marmos91/nfsstream/internal/logger"
	"github.com/marmos91/nfsstream/internal/rpc"
	"github.com/marmos91/nfsstream/internal/xdr"
)

const (
	// Program is the portmapper RPC program number.
	Program uint32 = 100000

	// Version is portmap protocol version 2.
	Version uint32 = 2

	// DefaultPort is the well-known portmapper port.
	DefaultPort = 111

	ProcNull    uint32 = 0
	ProcGetport uint32 = 3
)

// IPPROTO values used in mappings.
const (
	ProtoTCP uint32 = 6
	ProtoUDP uint32 = 17
)

// ErrNotRegistered is returned when the portmapper has no mapping for the
// requested program, version and protocol.
var ErrNotRegistered = errors.New("portmap: program not registered")

// Mapping is the GETPORT argument (struct mapping in RFC 1057).
type Mapping struct {
	Program  uint32
	Version  uint32
	Protocol uint32
	Port     uint32
}

// EncodeMapping returns the XDR encoding of m.
func EncodeMapping(m *Mapping) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr2.Marshal(&buf, m); err != nil {
		return nil, fmt.Errorf("portmap: encode mapping: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeMapping decodes a mapping from p.
func DecodeMapping(p []byte) (*Mapping, error) {
	m := &Mapping{}
	if _, err := xdr2.Unmarshal(bytes.NewReader(p), m); err != nil {
		return nil, fmt.Errorf("portmap: decode mapping: %w", err)
	}
	return m, nil
}

// GetPort asks the portmapper at host:port for the TCP port of prog/vers.
func GetPort(ctx context.Context, host string, port int, prog, vers uint32) (int, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	c, err := rpc.Dial(ctx, rpc.Config{Addr: addr, Program: Program, Version: Version})
	if err != nil {
		return 0, err
	}
	defer func() { _ = c.Close() }()

	args, err := EncodeMapping(&Mapping{Program: prog, Version: vers, Protocol: ProtoTCP})
	if err != nil {
		return 0, err
	}

	var result uint32
	err = c.Call(ctx, ProcGetport, args, func(d *xdr.Decoder) error {
		_, err := xdr2.Unmarshal(bytes.NewReader(d.Rest()), &result)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("portmap: GETPORT %d/%d on %s: %w", prog, vers, addr, err)
	}
	if result == 0 {
		return 0, fmt.Errorf("%w: program %d version %d on %s", ErrNotRegistered, prog, vers, host)
	}

	logger.Debug("portmap resolved",
		logger.KeyServer, host,
		logger.KeyProgram, prog,
		logger.KeyVersion, vers,
		logger.KeyPort, result)
	return int(result), nil
}
