package nfs

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// Kind classifies an Error by where it originated.
type Kind uint8

const (
	// KindURL is a malformed or unsupported mount URL.
	KindURL Kind = iota + 1
	// KindNFS is a non-OK status returned by the server.
	KindNFS
	// KindRPC is a transport or RPC-level failure: the server never
	// produced an NFS status.
	KindRPC
	// KindRuntime is a failure to schedule the blocking call itself.
	KindRuntime
)

func (k Kind) String() string {
	switch k {
	case KindURL:
		return "url"
	case KindNFS:
		return "nfs"
	case KindRPC:
		return "rpc"
	case KindRuntime:
		return "runtime"
	default:
		return "unknown"
	}
}

// Status is an nfsstat3 (RFC 1813 Section 2.6) or mountstat3 value.
type Status uint32

const (
	NFS3OK             Status = 0
	NFS3ErrPerm        Status = 1
	NFS3ErrNoEnt       Status = 2
	NFS3ErrIO          Status = 5
	NFS3ErrNXIO        Status = 6
	NFS3ErrAccess      Status = 13
	NFS3ErrExist       Status = 17
	NFS3ErrXDev        Status = 18
	NFS3ErrNoDev       Status = 19
	NFS3ErrNotDir      Status = 20
	NFS3ErrIsDir       Status = 21
	NFS3ErrInval       Status = 22
	NFS3ErrFBig        Status = 27
	NFS3ErrNoSpc       Status = 28
	NFS3ErrRofs        Status = 30
	NFS3ErrMLink       Status = 31
	NFS3ErrNameTooLong Status = 63
	NFS3ErrNotEmpty    Status = 66
	NFS3ErrDQuot       Status = 69
	NFS3ErrStale       Status = 70
	NFS3ErrRemote      Status = 71
	NFS3ErrBadHandle   Status = 10001
	NFS3ErrNotSync     Status = 10002
	NFS3ErrBadCookie   Status = 10003
	NFS3ErrNotSupp     Status = 10004
	NFS3ErrTooSmall    Status = 10005
	NFS3ErrServerFault Status = 10006
	NFS3ErrBadType     Status = 10007
	NFS3ErrJukebox     Status = 10008
)

type statusInfo struct {
	name  string
	errno unix.Errno
}

var statusTable = map[Status]statusInfo{
	NFS3OK:             {"NFS3_OK", 0},
	NFS3ErrPerm:        {"NFS3ERR_PERM", unix.EPERM},
	NFS3ErrNoEnt:       {"NFS3ERR_NOENT", unix.ENOENT},
	NFS3ErrIO:          {"NFS3ERR_IO", unix.EIO},
	NFS3ErrNXIO:        {"NFS3ERR_NXIO", unix.ENXIO},
	NFS3ErrAccess:      {"NFS3ERR_ACCES", unix.EACCES},
	NFS3ErrExist:       {"NFS3ERR_EXIST", unix.EEXIST},
	NFS3ErrXDev:        {"NFS3ERR_XDEV", unix.EXDEV},
	NFS3ErrNoDev:       {"NFS3ERR_NODEV", unix.ENODEV},
	NFS3ErrNotDir:      {"NFS3ERR_NOTDIR", unix.ENOTDIR},
	NFS3ErrIsDir:       {"NFS3ERR_ISDIR", unix.EISDIR},
	NFS3ErrInval:       {"NFS3ERR_INVAL", unix.EINVAL},
	NFS3ErrFBig:        {"NFS3ERR_FBIG", unix.EFBIG},
	NFS3ErrNoSpc:       {"NFS3ERR_NOSPC", unix.ENOSPC},
	NFS3ErrRofs:        {"NFS3ERR_ROFS", unix.EROFS},
	NFS3ErrMLink:       {"NFS3ERR_MLINK", unix.EMLINK},
	NFS3ErrNameTooLong: {"NFS3ERR_NAMETOOLONG", unix.ENAMETOOLONG},
	NFS3ErrNotEmpty:    {"NFS3ERR_NOTEMPTY", unix.ENOTEMPTY},
	NFS3ErrDQuot:       {"NFS3ERR_DQUOT", unix.EDQUOT},
	NFS3ErrStale:       {"NFS3ERR_STALE", unix.ESTALE},
	NFS3ErrRemote:      {"NFS3ERR_REMOTE", unix.EREMOTE},
	NFS3ErrBadHandle:   {"NFS3ERR_BADHANDLE", unix.EBADF},
	NFS3ErrNotSync:     {"NFS3ERR_NOT_SYNC", unix.EINVAL},
	NFS3ErrBadCookie:   {"NFS3ERR_BAD_COOKIE", unix.EINVAL},
	NFS3ErrNotSupp:     {"NFS3ERR_NOTSUPP", unix.ENOTSUP},
	NFS3ErrTooSmall:    {"NFS3ERR_TOOSMALL", unix.EINVAL},
	NFS3ErrServerFault: {"NFS3ERR_SERVERFAULT", unix.EIO},
	NFS3ErrBadType:     {"NFS3ERR_BADTYPE", unix.EINVAL},
	NFS3ErrJukebox:     {"NFS3ERR_JUKEBOX", unix.EAGAIN},
}

func (s Status) String() string {
	if info, ok := statusTable[s]; ok {
		return info.name
	}
	return fmt.Sprintf("NFS3ERR_%d", uint32(s))
}

// Errno maps s onto the closest POSIX error. Unknown statuses map to EINVAL.
func (s Status) Errno() unix.Errno {
	if info, ok := statusTable[s]; ok {
		return info.errno
	}
	return unix.EINVAL
}

// ErrVerifierChanged reports that the server's write verifier changed
// between WRITE and COMMIT: the server restarted and unstable data may be
// lost.
var ErrVerifierChanged = errors.New("write verifier changed")

// ErrClosed is returned by operations on an unmounted client.
var ErrClosed = errors.New("client is unmounted")

// Error is the error type of this package.
//
// For KindNFS errors Unwrap yields the errno matching Status, so callers
// branch with errors.Is(err, fs.ErrNotExist) and friends instead of
// inspecting NFS status codes.
type Error struct {
	Kind   Kind
	Op     string
	Path   string
	Status Status
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	switch e.Kind {
	case KindURL:
		b.WriteString("URL error")
	case KindRuntime:
		b.WriteString("runtime error")
	default:
		b.WriteString("NFS error")
	}
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
		if e.Path != "" {
			b.WriteString(" ")
			b.WriteString(e.Path)
		}
	}
	if e.Kind == KindNFS {
		b.WriteString(": ")
		b.WriteString(e.Status.String())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Kind == KindNFS {
		errs = append(errs, e.Status.Errno())
	}
	return errs
}

// StatusOf returns the NFS status carried by err, if any.
func StatusOf(err error) (Status, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindNFS {
		return e.Status, true
	}
	return NFS3OK, false
}

func urlError(msg string) error {
	return &Error{Kind: KindURL, Err: errors.New(msg)}
}

func statusError(op, path string, st Status) error {
	return &Error{Kind: KindNFS, Op: op, Path: path, Status: st}
}

func rpcError(op, path string, err error) error {
	return &Error{Kind: KindRPC, Op: op, Path: path, Err: err}
}
