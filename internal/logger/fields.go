package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently so log lines from the client, the stream adapter
// and the CLI can be correlated.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// ========================================================================
	// Mount & Session
	// ========================================================================
	KeySessionID = "session_id" // Mount session identifier
	KeyServer    = "server"     // NFS server host
	KeyExport    = "export"     // Exported directory
	KeyPort      = "port"       // Resolved service port
	KeyProgram   = "program"    // ONC RPC program number
	KeyVersion   = "version"    // ONC RPC program version
	KeyXID       = "xid"        // RPC transaction ID

	// ========================================================================
	// Remote File
	// ========================================================================
	KeyProcedure = "procedure" // NFS procedure name: READ, WRITE, COMMIT, ...
	KeyHandle    = "handle"    // File handle (hex)
	KeyPath      = "path"      // Path relative to the export
	KeyStatus    = "status"    // NFS status code
	KeySize      = "size"      // File size in bytes
	KeyMode      = "mode"      // File mode

	// ========================================================================
	// I/O Operations
	// ========================================================================
	KeyOffset       = "offset"
	KeyCount        = "count"
	KeyBytesRead    = "bytes_read"
	KeyBytesWritten = "bytes_written"
	KeyEOF          = "eof"
	KeyStable       = "stable" // WRITE stability: unstable, data_sync, file_sync
	KeySeek         = "seek"   // Read-ahead correction applied before a write

	// ========================================================================
	// Stream Adapter & Worker Pool
	// ========================================================================
	KeyOperation = "operation" // Blocking call kind: read, write, stat, sync, release
	KeyState     = "state"     // Adapter state: idle, busy
	KeyWorkers   = "workers"   // Worker pool size
	KeyPending   = "pending"   // Calls waiting for a worker slot

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorCode  = "error_code"
	KeyUID        = "uid"
	KeyGID        = "gid"
)

// ============================================================================
// Field constructors
// ============================================================================

// SessionID returns a slog.Attr for the mount session identifier
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// Server returns a slog.Attr for the NFS server host
func Server(host string) slog.Attr {
	return slog.String(KeyServer, host)
}

// Export returns a slog.Attr for the exported directory
func Export(dir string) slog.Attr {
	return slog.String(KeyExport, dir)
}

// Procedure returns a slog.Attr for an NFS procedure name
func Procedure(name string) slog.Attr {
	return slog.String(KeyProcedure, name)
}

// Handle returns a slog.Attr for a file handle (formatted as hex)
func Handle(h []byte) slog.Attr {
	return slog.String(KeyHandle, fmt.Sprintf("%x", h))
}

// Path returns a slog.Attr for a path relative to the export
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Status returns a slog.Attr for an NFS status code
func Status(code uint32) slog.Attr {
	return slog.Any(KeyStatus, code)
}

// Offset returns a slog.Attr for a file offset
func Offset(off int64) slog.Attr {
	return slog.Int64(KeyOffset, off)
}

// Count returns a slog.Attr for a requested byte count
func Count(c int) slog.Attr {
	return slog.Int(KeyCount, c)
}

// BytesRead returns a slog.Attr for actual bytes read
func BytesRead(n int) slog.Attr {
	return slog.Int(KeyBytesRead, n)
}

// BytesWritten returns a slog.Attr for actual bytes written
func BytesWritten(n int) slog.Attr {
	return slog.Int(KeyBytesWritten, n)
}

// EOF returns a slog.Attr for end-of-file indicator
func EOF(eof bool) slog.Attr {
	return slog.Bool(KeyEOF, eof)
}

// Operation returns a slog.Attr for a blocking call kind
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
