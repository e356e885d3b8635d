package nfs

import (
	"bytes"
	"context"
	"fmt"
	"time"

	xdr2 "github.com/rasky/go-xdr/xdr2"

	"github.com/marmos91/nfsstream/internal/logger"
	"github.com/marmos91/nfsstream/internal/rpc"
	"github.com/marmos91/nfsstream/internal/telemetry"
	"github.com/marmos91/nfsstream/internal/xdr"
)

// MountArgs is the argument of MNT and UMNT (dirpath).
type MountArgs struct {
	DirPath string
}

// MountResult is the body of a successful MNT reply (mountres3_ok).
type MountResult struct {
	Handle      []byte
	AuthFlavors []uint32
}

// EncodeMountArgs returns the XDR encoding of a MNT/UMNT argument.
func EncodeMountArgs(dirpath string) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr2.Marshal(&buf, &MountArgs{DirPath: dirpath}); err != nil {
		return nil, fmt.Errorf("mount: encode args: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeMountArgs decodes a MNT/UMNT argument.
func DecodeMountArgs(p []byte) (string, error) {
	var args MountArgs
	if _, err := xdr2.Unmarshal(bytes.NewReader(p), &args); err != nil {
		return "", fmt.Errorf("mount: decode args: %w", err)
	}
	if len(args.DirPath) > MaxPath {
		return "", fmt.Errorf("mount: dirpath of %d bytes exceeds %d", len(args.DirPath), MaxPath)
	}
	return args.DirPath, nil
}

// EncodeMountResult returns the XDR encoding of a successful MNT body.
func EncodeMountResult(res *MountResult) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr2.Marshal(&buf, res); err != nil {
		return nil, fmt.Errorf("mount: encode result: %w", err)
	}
	return buf.Bytes(), nil
}

// mountClient speaks MOUNT v3 to one server.
type mountClient struct {
	rpc    *rpc.Client
	export string
	c      *Client
}

// mnt asks the server for the root handle of the export.
func (m *mountClient) mnt(ctx context.Context) ([]byte, error) {
	ctx, span := telemetry.StartNFSSpan(ctx, "mount", "MNT", nil, telemetry.NFSExport(m.export))
	defer span.End()

	args, err := EncodeMountArgs(m.export)
	if err != nil {
		return nil, &Error{Kind: KindRuntime, Op: "MNT", Path: m.export, Err: err}
	}

	start := time.Now()
	var (
		st  Status
		res MountResult
	)
	err = m.rpc.Call(ctx, MountProcMnt, args, func(d *xdr.Decoder) error {
		st = Status(d.Uint32())
		if d.Err() != nil || st != NFS3OK {
			return nil
		}
		_, err := xdr2.Unmarshal(bytes.NewReader(d.Rest()), &res)
		return err
	})
	err = m.c.finish(ctx, "MNT", m.export, start, st, err)
	if err != nil {
		return nil, err
	}
	if len(res.Handle) == 0 || len(res.Handle) > MaxHandle {
		err := &Error{Kind: KindRPC, Op: "MNT", Path: m.export,
			Err: fmt.Errorf("invalid root handle of %d bytes", len(res.Handle))}
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	logger.DebugCtx(ctx, "export mounted",
		logger.KeyExport, m.export,
		logger.KeyHandle, fmt.Sprintf("%x", res.Handle),
		"auth_flavors", res.AuthFlavors)
	return res.Handle, nil
}

// umnt tells the server the export is no longer in use. The reply is void.
func (m *mountClient) umnt(ctx context.Context) error {
	ctx, span := telemetry.StartNFSSpan(ctx, "mount", "UMNT", nil, telemetry.NFSExport(m.export))
	defer span.End()

	args, err := EncodeMountArgs(m.export)
	if err != nil {
		return &Error{Kind: KindRuntime, Op: "UMNT", Path: m.export, Err: err}
	}
	start := time.Now()
	err = m.rpc.Call(ctx, MountProcUmnt, args, func(*xdr.Decoder) error { return nil })
	return m.c.finish(ctx, "UMNT", m.export, start, NFS3OK, err)
}
