package nfs

import (
	"fmt"
	"strings"
	"time"

	"github.com/marmos91/nfsstream/internal/xdr"
)

// RPC programs (RFC 1813).
const (
	MountProgram uint32 = 100005
	MountVersion uint32 = 3
	NFSProgram   uint32 = 100003
	NFSVersion   uint32 = 3

	// DefaultNFSPort is the well-known NFS port.
	DefaultNFSPort = 2049
)

// MOUNT v3 procedures.
const (
	MountProcNull uint32 = 0
	MountProcMnt  uint32 = 1
	MountProcUmnt uint32 = 3
)

// NFS v3 procedures used by the client.
const (
	ProcNull    uint32 = 0
	ProcGetattr uint32 = 1
	ProcSetattr uint32 = 2
	ProcLookup  uint32 = 3
	ProcRead    uint32 = 6
	ProcWrite   uint32 = 7
	ProcCreate  uint32 = 8
	ProcMkdir   uint32 = 9
	ProcRemove  uint32 = 12
	ProcRmdir   uint32 = 13
	ProcCommit  uint32 = 21
)

var procNames = map[uint32]string{
	ProcNull:    "NULL",
	ProcGetattr: "GETATTR",
	ProcSetattr: "SETATTR",
	ProcLookup:  "LOOKUP",
	ProcRead:    "READ",
	ProcWrite:   "WRITE",
	ProcCreate:  "CREATE",
	ProcMkdir:   "MKDIR",
	ProcRemove:  "REMOVE",
	ProcRmdir:   "RMDIR",
	ProcCommit:  "COMMIT",
}

// ProcName returns the upper-case name of an NFS v3 procedure.
func ProcName(proc uint32) string {
	if n, ok := procNames[proc]; ok {
		return n
	}
	return "UNKNOWN"
}

const (
	// MaxHandle is the NFS v3 file handle size limit.
	MaxHandle = 64
	// MaxName bounds a single path component.
	MaxName = 255
	// MaxPath bounds MOUNT dirpath arguments.
	MaxPath = 1024
	// MaxIO bounds one READ or WRITE payload.
	MaxIO = 1 << 20

	// VerifierSize is the length of write and create verifiers.
	VerifierSize = 8
)

// StableHow is the stable_how of a WRITE.
type StableHow uint32

const (
	Unstable StableHow = 0
	DataSync StableHow = 1
	FileSync StableHow = 2
)

func (s StableHow) String() string {
	switch s {
	case Unstable:
		return "unstable"
	case DataSync:
		return "data_sync"
	case FileSync:
		return "file_sync"
	default:
		return fmt.Sprintf("stable_how(%d)", uint32(s))
	}
}

// ParseStableHow accepts "unstable", "datasync"/"data_sync" and
// "filesync"/"file_sync".
func ParseStableHow(s string) (StableHow, bool) {
	switch strings.ReplaceAll(strings.ToLower(s), "_", "") {
	case "unstable":
		return Unstable, true
	case "datasync":
		return DataSync, true
	case "filesync":
		return FileSync, true
	}
	return 0, false
}

// CREATE modes.
const (
	createUnchecked uint32 = 0
	createGuarded   uint32 = 1
	createExclusive uint32 = 2
)

// set_atime / set_mtime discriminants.
const (
	dontChange      uint32 = 0
	setToServerTime uint32 = 1
)

// ============================================================================
// Codecs
// ============================================================================

func decodeTime(d *xdr.Decoder) time.Time {
	sec := d.Uint32()
	nsec := d.Uint32()
	return time.Unix(int64(sec), int64(nsec))
}

func encodeTime(e *xdr.Encoder, t time.Time) {
	e.Uint32(uint32(t.Unix()))
	e.Uint32(uint32(t.Nanosecond()))
}

// decodeFattr decodes a fattr3.
func decodeFattr(d *xdr.Decoder, name string) *Attr {
	a := &Attr{name: name}
	a.Type = FileType(d.Uint32())
	a.Perm = d.Uint32()
	a.Nlink = d.Uint32()
	a.UID = d.Uint32()
	a.GID = d.Uint32()
	a.Bytes = d.Uint64()
	a.Used = d.Uint64()
	a.Rdev = [2]uint32{d.Uint32(), d.Uint32()}
	a.FSID = d.Uint64()
	a.FileID = d.Uint64()
	a.Atime = decodeTime(d)
	a.Mtime = decodeTime(d)
	a.Ctime = decodeTime(d)
	return a
}

// EncodeFattr encodes a as a fattr3.
func EncodeFattr(e *xdr.Encoder, a *Attr) {
	e.Uint32(uint32(a.Type))
	e.Uint32(a.Perm)
	e.Uint32(a.Nlink)
	e.Uint32(a.UID)
	e.Uint32(a.GID)
	e.Uint64(a.Bytes)
	e.Uint64(a.Used)
	e.Uint32(a.Rdev[0])
	e.Uint32(a.Rdev[1])
	e.Uint64(a.FSID)
	e.Uint64(a.FileID)
	encodeTime(e, a.Atime)
	encodeTime(e, a.Mtime)
	encodeTime(e, a.Ctime)
}

// decodePostOpAttr decodes a post_op_attr, returning nil when absent.
func decodePostOpAttr(d *xdr.Decoder, name string) *Attr {
	if !d.Bool() {
		return nil
	}
	return decodeFattr(d, name)
}

// EncodePostOpAttr encodes a post_op_attr; nil encodes as absent.
func EncodePostOpAttr(e *xdr.Encoder, a *Attr) {
	if a == nil {
		e.Bool(false)
		return
	}
	e.Bool(true)
	EncodeFattr(e, a)
}

// decodeWcc decodes a wcc_data and returns its post-operation attributes.
func decodeWcc(d *xdr.Decoder, name string) *Attr {
	if d.Bool() {
		d.Skip(8 + 8 + 8) // size, mtime, ctime
	}
	return decodePostOpAttr(d, name)
}

// EncodeWcc encodes a wcc_data with no pre-operation attributes.
func EncodeWcc(e *xdr.Encoder, after *Attr) {
	e.Bool(false)
	EncodePostOpAttr(e, after)
}

// decodePostOpFH decodes a post_op_fh3, returning nil when absent.
func decodePostOpFH(d *xdr.Decoder) []byte {
	if !d.Bool() {
		return nil
	}
	return d.Opaque(MaxHandle)
}

// SetAttr is a sattr3: nil fields are left unchanged.
type SetAttr struct {
	Mode  *uint32
	UID   *uint32
	GID   *uint32
	Size  *uint64
	Mtime bool // set mtime to server time
}

func encodeOptUint32(e *xdr.Encoder, v *uint32) {
	if v == nil {
		e.Bool(false)
		return
	}
	e.Bool(true)
	e.Uint32(*v)
}

func (s *SetAttr) encode(e *xdr.Encoder) {
	encodeOptUint32(e, s.Mode)
	encodeOptUint32(e, s.UID)
	encodeOptUint32(e, s.GID)
	if s.Size == nil {
		e.Bool(false)
	} else {
		e.Bool(true)
		e.Uint64(*s.Size)
	}
	e.Uint32(dontChange) // atime
	if s.Mtime {
		e.Uint32(setToServerTime)
	} else {
		e.Uint32(dontChange)
	}
}

// DecodeSetAttr decodes a sattr3. Client times are accepted and ignored.
func DecodeSetAttr(d *xdr.Decoder) *SetAttr {
	s := &SetAttr{}
	opt := func() *uint32 {
		if !d.Bool() {
			return nil
		}
		v := d.Uint32()
		return &v
	}
	s.Mode = opt()
	s.UID = opt()
	s.GID = opt()
	if d.Bool() {
		v := d.Uint64()
		s.Size = &v
	}
	for i := 0; i < 2; i++ {
		how := d.Uint32()
		if how == 2 { // SET_TO_CLIENT_TIME
			decodeTime(d)
		}
		if i == 1 && how != dontChange {
			s.Mtime = true
		}
	}
	return s
}

func encodeDirOp(e *xdr.Encoder, dir []byte, name string) {
	e.Opaque(dir)
	e.String(name)
}
