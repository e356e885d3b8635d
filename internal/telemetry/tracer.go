package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys. Generic stream keys use the "stream." prefix, wire-level
// keys their protocol's.
const (
	// ========================================================================
	// Server attributes
	// ========================================================================
	AttrServerAddr = "server.address"
	AttrServerPort = "server.port"

	// ========================================================================
	// RPC attributes
	// ========================================================================
	AttrRPCXID      = "rpc.xid"
	AttrRPCProgram  = "rpc.program"
	AttrRPCVersion  = "rpc.version"
	AttrRPCAuthType = "rpc.auth_type"

	// ========================================================================
	// NFS attributes
	// ========================================================================
	AttrNFSProcedure = "nfs.procedure"
	AttrNFSHandle    = "nfs.handle"
	AttrNFSExport    = "nfs.export"
	AttrNFSPath      = "nfs.path"
	AttrNFSFilename  = "nfs.filename"
	AttrNFSOffset    = "nfs.offset"
	AttrNFSCount     = "nfs.count"
	AttrNFSSize      = "nfs.size"
	AttrNFSMode      = "nfs.mode"
	AttrNFSStatus    = "nfs.status"
	AttrNFSEOF       = "nfs.eof"
	AttrNFSStable    = "nfs.stable"

	// ========================================================================
	// Stream attributes
	// ========================================================================
	AttrStreamOperation = "stream.operation"
	AttrStreamBytes     = "stream.bytes"
	AttrStreamSession   = "stream.session_id"

	// ========================================================================
	// User attributes
	// ========================================================================
	AttrUID = "user.uid"
	AttrGID = "user.gid"
)

// Span names.
const (
	SpanMount   = "nfs.mount"
	SpanUmount  = "nfs.umount"
	SpanOpen    = "nfs.open"
	SpanPortmap = "portmap.GETPORT"

	SpanMountMnt  = "mount.MNT"
	SpanMountUmnt = "mount.UMNT"

	SpanCLITransfer = "cli.transfer"
)

// ServerAddr returns an attribute for the server host.
func ServerAddr(host string) attribute.KeyValue {
	return attribute.String(AttrServerAddr, host)
}

// ServerPort returns an attribute for the server port.
func ServerPort(port int) attribute.KeyValue {
	return attribute.Int(AttrServerPort, port)
}

// RPCXID returns an attribute for RPC transaction ID
func RPCXID(xid uint32) attribute.KeyValue {
	return attribute.Int64(AttrRPCXID, int64(xid))
}

// RPCProgram returns an attribute for the RPC program number.
func RPCProgram(prog uint32) attribute.KeyValue {
	return attribute.Int64(AttrRPCProgram, int64(prog))
}

// NFSProcedure returns an attribute for NFS procedure name
func NFSProcedure(name string) attribute.KeyValue {
	return attribute.String(AttrNFSProcedure, name)
}

// NFSHandle returns an attribute for file handle
func NFSHandle(handle []byte) attribute.KeyValue {
	return attribute.String(AttrNFSHandle, fmt.Sprintf("%x", handle))
}

// NFSExport returns an attribute for the mounted export.
func NFSExport(export string) attribute.KeyValue {
	return attribute.String(AttrNFSExport, export)
}

// NFSPath returns an attribute for file path
func NFSPath(path string) attribute.KeyValue {
	return attribute.String(AttrNFSPath, path)
}

// NFSFilename returns an attribute for filename
func NFSFilename(name string) attribute.KeyValue {
	return attribute.String(AttrNFSFilename, name)
}

// NFSOffset returns an attribute for file offset
func NFSOffset(offset uint64) attribute.KeyValue {
	return attribute.Int64(AttrNFSOffset, int64(offset))
}

// NFSCount returns an attribute for byte count
func NFSCount(count uint32) attribute.KeyValue {
	return attribute.Int64(AttrNFSCount, int64(count))
}

// NFSSize returns an attribute for file size
func NFSSize(size uint64) attribute.KeyValue {
	return attribute.Int64(AttrNFSSize, int64(size))
}

// NFSMode returns an attribute for file mode
func NFSMode(mode uint32) attribute.KeyValue {
	return attribute.Int64(AttrNFSMode, int64(mode))
}

// NFSStatus returns an attribute for NFS status code
func NFSStatus(status uint32) attribute.KeyValue {
	return attribute.Int64(AttrNFSStatus, int64(status))
}

// NFSEOF returns an attribute for end-of-file indicator
func NFSEOF(eof bool) attribute.KeyValue {
	return attribute.Bool(AttrNFSEOF, eof)
}

// NFSStable returns an attribute for the stable_how of a WRITE.
func NFSStable(how string) attribute.KeyValue {
	return attribute.String(AttrNFSStable, how)
}

// StreamOperation returns an attribute for a stream-level operation.
func StreamOperation(op string) attribute.KeyValue {
	return attribute.String(AttrStreamOperation, op)
}

// StreamBytes returns an attribute for bytes moved by a stream operation.
func StreamBytes(n int64) attribute.KeyValue {
	return attribute.Int64(AttrStreamBytes, n)
}

// SessionID returns an attribute for the mount session.
func SessionID(id string) attribute.KeyValue {
	return attribute.String(AttrStreamSession, id)
}

// UID returns an attribute for user ID
func UID(uid uint32) attribute.KeyValue {
	return attribute.Int64(AttrUID, int64(uid))
}

// GID returns an attribute for group ID
func GID(gid uint32) attribute.KeyValue {
	return attribute.Int64(AttrGID, int64(gid))
}

// StartNFSSpan starts a client span for an NFS or MOUNT procedure, named
// "<program>.<PROCEDURE>".
func StartNFSSpan(ctx context.Context, program, procedure string, handle []byte, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+2)
	allAttrs = append(allAttrs, NFSProcedure(procedure))
	if len(handle) > 0 {
		allAttrs = append(allAttrs, NFSHandle(handle))
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, program+"."+procedure,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(allAttrs...))
}
