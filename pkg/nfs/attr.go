package nfs

import (
	"io/fs"
	"time"
)

// FileType is an ftype3.
type FileType uint32

const (
	TypeReg  FileType = 1
	TypeDir  FileType = 2
	TypeBlk  FileType = 3
	TypeChr  FileType = 4
	TypeLnk  FileType = 5
	TypeSock FileType = 6
	TypeFifo FileType = 7
)

func (t FileType) String() string {
	switch t {
	case TypeReg:
		return "regular"
	case TypeDir:
		return "directory"
	case TypeBlk:
		return "block"
	case TypeChr:
		return "char"
	case TypeLnk:
		return "symlink"
	case TypeSock:
		return "socket"
	case TypeFifo:
		return "fifo"
	default:
		return "unknown"
	}
}

// Attr holds the attributes of a remote file (fattr3) and implements
// fs.FileInfo. Sys returns the *Attr itself.
type Attr struct {
	name string

	Type   FileType
	Perm   uint32 // permission and setuid/setgid/sticky bits
	Nlink  uint32
	UID    uint32
	GID    uint32
	Bytes  uint64
	Used   uint64
	Rdev   [2]uint32
	FSID   uint64
	FileID uint64
	Atime  time.Time
	Mtime  time.Time
	Ctime  time.Time
}

// NewAttr returns attributes named name, for fakes and tests.
func NewAttr(name string) *Attr { return &Attr{name: name} }

func (a *Attr) Name() string       { return a.name }
func (a *Attr) Size() int64        { return int64(a.Bytes) }
func (a *Attr) ModTime() time.Time { return a.Mtime }
func (a *Attr) IsDir() bool        { return a.Type == TypeDir }
func (a *Attr) Sys() any           { return a }

// Mode maps the NFS type and permission bits onto fs.FileMode.
func (a *Attr) Mode() fs.FileMode {
	m := fs.FileMode(a.Perm & 0o777)
	if a.Perm&0o4000 != 0 {
		m |= fs.ModeSetuid
	}
	if a.Perm&0o2000 != 0 {
		m |= fs.ModeSetgid
	}
	if a.Perm&0o1000 != 0 {
		m |= fs.ModeSticky
	}
	switch a.Type {
	case TypeDir:
		m |= fs.ModeDir
	case TypeBlk:
		m |= fs.ModeDevice
	case TypeChr:
		m |= fs.ModeDevice | fs.ModeCharDevice
	case TypeLnk:
		m |= fs.ModeSymlink
	case TypeSock:
		m |= fs.ModeSocket
	case TypeFifo:
		m |= fs.ModeNamedPipe
	}
	return m
}

// unixPerm converts the permission bits of an fs.FileMode to the NFS form.
func unixPerm(mode fs.FileMode) uint32 {
	p := uint32(mode.Perm())
	if mode&fs.ModeSetuid != 0 {
		p |= 0o4000
	}
	if mode&fs.ModeSetgid != 0 {
		p |= 0o2000
	}
	if mode&fs.ModeSticky != 0 {
		p |= 0o1000
	}
	return p
}

var _ fs.FileInfo = (*Attr)(nil)
