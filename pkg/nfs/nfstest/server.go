// Package nfstest provides an in-memory NFS v3 server for tests.
//
// The server answers portmap, MOUNT and NFS calls on a single loopback
// port, so a client pointed at URL() finds everything through its
// portmapper lookup. Files live in memory; failures can be injected per
// procedure.
package nfstest

import (
	"encoding/binary"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/nfsstream/internal/portmap"
	"github.com/marmos91/nfsstream/internal/rpc"
	"github.com/marmos91/nfsstream/internal/rpc/rpctest"
	"github.com/marmos91/nfsstream/internal/xdr"
	"github.com/marmos91/nfsstream/pkg/nfs"
)

const rootID = 1

type node struct {
	id       uint64
	typ      nfs.FileType
	perm     uint32
	uid      uint32
	gid      uint32
	data     []byte
	children map[string]uint64
	mtime    time.Time
}

// Server is an in-memory NFS v3 server.
type Server struct {
	rpc    *rpctest.Server
	export string

	mu        sync.Mutex
	nodes     map[uint64]*node
	nextID    uint64
	verf      [nfs.VerifierSize]byte
	fail      map[uint32]nfs.Status
	drop      map[uint32]bool
	maxRead   int
	maxWrite  int
	committed nfs.StableHow
	counts    map[string]int
	cred      *rpc.UnixAuth
	mounted   bool
}

// NewServer starts a server exporting an empty directory at export.
func NewServer(export string) (*Server, error) {
	r, err := rpctest.NewServer()
	if err != nil {
		return nil, err
	}
	s := &Server{
		rpc:    r,
		export: path.Clean("/" + export),
		nodes:  make(map[uint64]*node),
		nextID: rootID + 1,
		fail:   make(map[uint32]nfs.Status),
		drop:   make(map[uint32]bool),
		counts: make(map[string]int),
	}
	s.nodes[rootID] = &node{id: rootID, typ: nfs.TypeDir, perm: 0o755, children: map[string]uint64{}, mtime: time.Now()}
	s.newVerifier()

	r.Handle(portmap.Program, portmap.Version, s.servePortmap)
	r.Handle(nfs.MountProgram, nfs.MountVersion, s.serveMount)
	r.Handle(nfs.NFSProgram, nfs.NFSVersion, s.serveNFS)
	return s, nil
}

// URL returns a mount URL for the export, with extra query parameters
// appended verbatim.
func (s *Server) URL(query ...string) string {
	u := fmt.Sprintf("nfs://127.0.0.1:%d%s", s.rpc.Port(), s.export)
	if len(query) > 0 {
		u += "?" + strings.Join(query, "&")
	}
	return u
}

// Port returns the port every program listens on.
func (s *Server) Port() int { return s.rpc.Port() }

// Close stops the server.
func (s *Server) Close() { s.rpc.Close() }

// DropConnections closes open connections; clients reconnect on their next
// call.
func (s *Server) DropConnections() { s.rpc.DropConnections() }

// FailNext makes the next call of NFS procedure proc fail with st.
func (s *Server) FailNext(proc uint32, st nfs.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[proc] = st
}

// DropNext makes the server close the connection instead of answering the
// next call of proc.
func (s *Server) DropNext(proc uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drop[proc] = true
}

// SetMaxRead caps READ replies at n bytes. Zero removes the cap.
func (s *Server) SetMaxRead(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxRead = n
}

// SetMaxWrite makes WRITE accept at most n bytes. Zero removes the cap.
func (s *Server) SetMaxWrite(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxWrite = n
}

// SetCommitted sets the stability reported for UNSTABLE writes.
func (s *Server) SetCommitted(how nfs.StableHow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = how
}

// Restart changes the write verifier, as a server reboot would.
func (s *Server) Restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.newVerifier()
}

// Count returns how many calls of the named procedure ("READ", "MNT", ...)
// were served.
func (s *Server) Count(proc string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[proc]
}

// Mounted reports whether the export is currently mounted.
func (s *Server) Mounted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mounted
}

// Cred returns the AUTH_UNIX credential of the last NFS call, or nil.
func (s *Server) Cred() *rpc.UnixAuth {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred
}

// WriteFile creates or replaces the file at name, creating parents.
func (s *Server) WriteFile(name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir := s.mkdirAll(path.Dir(cleanName(name)))
	n := s.child(dir, path.Base(cleanName(name)), nfs.TypeReg, 0o644)
	n.data = append([]byte(nil), data...)
}

// ReadFile returns the content of the file at name.
func (s *Server) ReadFile(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.walk(cleanName(name))
	if n == nil || n.typ != nfs.TypeReg {
		return nil, false
	}
	return append([]byte(nil), n.data...), true
}

// Mode returns the permission bits of name.
func (s *Server) Mode(name string) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.walk(cleanName(name))
	if n == nil {
		return 0, false
	}
	return n.perm, true
}

// Exists reports whether name exists.
func (s *Server) Exists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.walk(cleanName(name)) != nil
}

// ============================================================================
// Tree
// ============================================================================

func cleanName(name string) string {
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}

func (s *Server) newVerifier() {
	binary.BigEndian.PutUint64(s.verf[:], uint64(time.Now().UnixNano()))
}

func (s *Server) walk(p string) *node {
	n := s.nodes[rootID]
	if p == "" {
		return n
	}
	for _, name := range strings.Split(p, "/") {
		if n.typ != nfs.TypeDir {
			return nil
		}
		id, ok := n.children[name]
		if !ok {
			return nil
		}
		n = s.nodes[id]
	}
	return n
}

func (s *Server) mkdirAll(p string) *node {
	n := s.nodes[rootID]
	if p == "" || p == "." {
		return n
	}
	for _, name := range strings.Split(p, "/") {
		n = s.child(n, name, nfs.TypeDir, 0o755)
	}
	return n
}

// child returns dir's entry name, creating it with typ and perm if missing.
func (s *Server) child(dir *node, name string, typ nfs.FileType, perm uint32) *node {
	if id, ok := dir.children[name]; ok {
		return s.nodes[id]
	}
	n := &node{id: s.nextID, typ: typ, perm: perm, mtime: time.Now()}
	if s.cred != nil {
		n.uid, n.gid = s.cred.UID, s.cred.GID
	}
	if typ == nfs.TypeDir {
		n.children = map[string]uint64{}
	}
	s.nextID++
	s.nodes[n.id] = n
	dir.children[name] = n.id
	dir.mtime = time.Now()
	return n
}

func handleOf(n *node) []byte {
	fh := make([]byte, 8)
	binary.BigEndian.PutUint64(fh, n.id)
	return fh
}

func (s *Server) attr(n *node) *nfs.Attr {
	if n == nil {
		return nil
	}
	a := nfs.NewAttr("")
	a.Type = n.typ
	a.Perm = n.perm
	a.Nlink = 1
	if n.typ == nfs.TypeDir {
		a.Nlink = 2
	}
	a.UID, a.GID = n.uid, n.gid
	a.Bytes = uint64(len(n.data))
	a.Used = a.Bytes
	a.FSID = 1
	a.FileID = n.id
	a.Atime, a.Mtime, a.Ctime = n.mtime, n.mtime, n.mtime
	return a
}

// ============================================================================
// Portmap and MOUNT
// ============================================================================

func (s *Server) servePortmap(c *rpctest.Call, res *xdr.Encoder) (rpc.AcceptStat, error) {
	switch c.Proc {
	case portmap.ProcNull:
		return rpc.Success, nil
	case portmap.ProcGetport:
		m, err := portmap.DecodeMapping(c.Args.Rest())
		if err != nil {
			return rpc.GarbageArgs, nil
		}
		var port uint32
		if m.Protocol == portmap.ProtoTCP &&
			((m.Program == nfs.MountProgram && m.Version == nfs.MountVersion) ||
				(m.Program == nfs.NFSProgram && m.Version == nfs.NFSVersion)) {
			port = uint32(s.rpc.Port())
		}
		res.Uint32(port)
		return rpc.Success, nil
	default:
		return rpc.ProcUnavail, nil
	}
}

func (s *Server) serveMount(c *rpctest.Call, res *xdr.Encoder) (rpc.AcceptStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch c.Proc {
	case nfs.MountProcNull:
		return rpc.Success, nil
	case nfs.MountProcMnt:
		s.counts["MNT"]++
		dir, err := nfs.DecodeMountArgs(c.Args.Rest())
		if err != nil {
			return rpc.GarbageArgs, nil
		}
		if path.Clean(dir) != s.export {
			res.Uint32(uint32(nfs.NFS3ErrNoEnt))
			return rpc.Success, nil
		}
		body, err := nfs.EncodeMountResult(&nfs.MountResult{
			Handle:      handleOf(s.nodes[rootID]),
			AuthFlavors: []uint32{rpc.AuthUnix},
		})
		if err != nil {
			return rpc.SystemErr, nil
		}
		s.mounted = true
		res.Uint32(uint32(nfs.NFS3OK))
		res.FixedOpaque(body)
		return rpc.Success, nil
	case nfs.MountProcUmnt:
		s.counts["UMNT"]++
		s.mounted = false
		return rpc.Success, nil
	default:
		return rpc.ProcUnavail, nil
	}
}

// ============================================================================
// NFS
// ============================================================================

func (s *Server) serveNFS(c *rpctest.Call, res *xdr.Encoder) (rpc.AcceptStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := nfs.ProcName(c.Proc)
	s.counts[name]++
	if c.Cred.Flavor == rpc.AuthUnix {
		if cred, err := rpc.ParseUnixAuth(c.Cred.Body); err == nil {
			s.cred = cred
		}
	}
	if s.drop[c.Proc] {
		delete(s.drop, c.Proc)
		return 0, rpctest.ErrDrop
	}
	if st, ok := s.fail[c.Proc]; ok {
		delete(s.fail, c.Proc)
		res.Uint32(uint32(st))
		failBody(c.Proc, res)
		return rpc.Success, nil
	}

	d := c.Args
	var st nfs.Status
	switch c.Proc {
	case nfs.ProcNull:
		return rpc.Success, nil
	case nfs.ProcGetattr:
		st = s.getattr(d, res)
	case nfs.ProcSetattr:
		st = s.setattr(d, res)
	case nfs.ProcLookup:
		st = s.lookup(d, res)
	case nfs.ProcRead:
		st = s.read(d, res)
	case nfs.ProcWrite:
		st = s.write(d, res)
	case nfs.ProcCreate:
		st = s.create(d, res)
	case nfs.ProcMkdir:
		st = s.mkdir(d, res)
	case nfs.ProcRemove, nfs.ProcRmdir:
		st = s.remove(d, res, c.Proc == nfs.ProcRmdir)
	case nfs.ProcCommit:
		st = s.commit(d, res)
	default:
		return rpc.ProcUnavail, nil
	}
	if d.Err() != nil {
		return rpc.GarbageArgs, nil
	}
	if st != nfs.NFS3OK {
		res.Reset()
		res.Uint32(uint32(st))
		failBody(c.Proc, res)
	}
	return rpc.Success, nil
}

// failBody writes the resfail arm for proc with every optional attribute
// absent.
func failBody(proc uint32, res *xdr.Encoder) {
	switch proc {
	case nfs.ProcGetattr:
	case nfs.ProcLookup, nfs.ProcRead:
		nfs.EncodePostOpAttr(res, nil)
	default:
		nfs.EncodeWcc(res, nil)
	}
}

func (s *Server) node(d *xdr.Decoder) (*node, nfs.Status) {
	fh := d.Opaque(nfs.MaxHandle)
	if d.Err() != nil {
		return nil, nfs.NFS3ErrBadHandle
	}
	if len(fh) != 8 {
		return nil, nfs.NFS3ErrBadHandle
	}
	n, ok := s.nodes[binary.BigEndian.Uint64(fh)]
	if !ok {
		return nil, nfs.NFS3ErrStale
	}
	return n, nfs.NFS3OK
}

func (s *Server) dirop(d *xdr.Decoder) (*node, string, nfs.Status) {
	dir, st := s.node(d)
	name := d.String(nfs.MaxName + 1)
	if st != nfs.NFS3OK {
		return nil, "", st
	}
	switch {
	case dir.typ != nfs.TypeDir:
		return nil, "", nfs.NFS3ErrNotDir
	case name == "" || name == "." || name == ".." || strings.Contains(name, "/"):
		return nil, "", nfs.NFS3ErrInval
	case len(name) > nfs.MaxName:
		return nil, "", nfs.NFS3ErrNameTooLong
	}
	return dir, name, nfs.NFS3OK
}

func (s *Server) getattr(d *xdr.Decoder, res *xdr.Encoder) nfs.Status {
	n, st := s.node(d)
	if st != nfs.NFS3OK {
		return st
	}
	res.Uint32(uint32(nfs.NFS3OK))
	nfs.EncodeFattr(res, s.attr(n))
	return nfs.NFS3OK
}

func (s *Server) setattr(d *xdr.Decoder, res *xdr.Encoder) nfs.Status {
	n, st := s.node(d)
	sa := nfs.DecodeSetAttr(d)
	if d.Bool() {
		d.Skip(8) // guard ctime
	}
	if st != nfs.NFS3OK {
		return st
	}
	if sa.Size != nil {
		if n.typ != nfs.TypeReg {
			return nfs.NFS3ErrIsDir
		}
		size := int(*sa.Size)
		if size <= len(n.data) {
			n.data = n.data[:size]
		} else {
			n.data = append(n.data, make([]byte, size-len(n.data))...)
		}
	}
	if sa.Mode != nil {
		n.perm = *sa.Mode & 0o7777
	}
	if sa.UID != nil {
		n.uid = *sa.UID
	}
	if sa.GID != nil {
		n.gid = *sa.GID
	}
	n.mtime = time.Now()
	res.Uint32(uint32(nfs.NFS3OK))
	nfs.EncodeWcc(res, s.attr(n))
	return nfs.NFS3OK
}

func (s *Server) lookup(d *xdr.Decoder, res *xdr.Encoder) nfs.Status {
	dir, name, st := s.dirop(d)
	if st != nfs.NFS3OK {
		return st
	}
	id, ok := dir.children[name]
	if !ok {
		return nfs.NFS3ErrNoEnt
	}
	n := s.nodes[id]
	res.Uint32(uint32(nfs.NFS3OK))
	res.Opaque(handleOf(n))
	nfs.EncodePostOpAttr(res, s.attr(n))
	nfs.EncodePostOpAttr(res, s.attr(dir))
	return nfs.NFS3OK
}

func (s *Server) read(d *xdr.Decoder, res *xdr.Encoder) nfs.Status {
	n, st := s.node(d)
	off := d.Uint64()
	count := int(d.Uint32())
	if st != nfs.NFS3OK {
		return st
	}
	if n.typ != nfs.TypeReg {
		return nfs.NFS3ErrIsDir
	}
	if s.maxRead > 0 && count > s.maxRead {
		count = s.maxRead
	}
	var chunk []byte
	if off < uint64(len(n.data)) {
		chunk = n.data[off:min(off+uint64(count), uint64(len(n.data)))]
	}
	res.Uint32(uint32(nfs.NFS3OK))
	nfs.EncodePostOpAttr(res, s.attr(n))
	res.Uint32(uint32(len(chunk)))
	res.Bool(off+uint64(len(chunk)) >= uint64(len(n.data)))
	res.Opaque(chunk)
	return nfs.NFS3OK
}

func (s *Server) write(d *xdr.Decoder, res *xdr.Encoder) nfs.Status {
	n, st := s.node(d)
	off := int(d.Uint64())
	d.Uint32() // count, repeated by the opaque length
	stable := nfs.StableHow(d.Uint32())
	data := d.OpaqueRef(nfs.MaxIO)
	if st != nfs.NFS3OK {
		return st
	}
	if n.typ != nfs.TypeReg {
		return nfs.NFS3ErrIsDir
	}
	if s.maxWrite > 0 && len(data) > s.maxWrite {
		data = data[:s.maxWrite]
	}
	if end := off + len(data); end > len(n.data) {
		n.data = append(n.data, make([]byte, end-len(n.data))...)
	}
	copy(n.data[off:], data)
	n.mtime = time.Now()

	committed := stable
	if stable == nfs.Unstable {
		committed = s.committed
	}
	res.Uint32(uint32(nfs.NFS3OK))
	nfs.EncodeWcc(res, s.attr(n))
	res.Uint32(uint32(len(data)))
	res.Uint32(uint32(committed))
	res.FixedOpaque(s.verf[:])
	return nfs.NFS3OK
}

func (s *Server) create(d *xdr.Decoder, res *xdr.Encoder) nfs.Status {
	dir, name, st := s.dirop(d)
	how := d.Uint32()
	var sa *nfs.SetAttr
	if how == 2 { // EXCLUSIVE
		d.FixedOpaque(nfs.VerifierSize)
		sa = &nfs.SetAttr{}
	} else {
		sa = nfs.DecodeSetAttr(d)
	}
	if st != nfs.NFS3OK {
		return st
	}

	_, exists := dir.children[name]
	if exists && how != 0 {
		return nfs.NFS3ErrExist
	}
	perm := uint32(0o644)
	if sa.Mode != nil {
		perm = *sa.Mode & 0o7777
	}
	n := s.child(dir, name, nfs.TypeReg, perm)
	if n.typ != nfs.TypeReg {
		return nfs.NFS3ErrIsDir
	}
	if sa.Size != nil && *sa.Size == 0 {
		n.data = nil
	}

	res.Uint32(uint32(nfs.NFS3OK))
	res.Bool(true)
	res.Opaque(handleOf(n))
	nfs.EncodePostOpAttr(res, s.attr(n))
	nfs.EncodeWcc(res, s.attr(dir))
	return nfs.NFS3OK
}

func (s *Server) mkdir(d *xdr.Decoder, res *xdr.Encoder) nfs.Status {
	dir, name, st := s.dirop(d)
	sa := nfs.DecodeSetAttr(d)
	if st != nfs.NFS3OK {
		return st
	}
	if _, exists := dir.children[name]; exists {
		return nfs.NFS3ErrExist
	}
	perm := uint32(0o755)
	if sa.Mode != nil {
		perm = *sa.Mode & 0o7777
	}
	n := s.child(dir, name, nfs.TypeDir, perm)

	res.Uint32(uint32(nfs.NFS3OK))
	res.Bool(true)
	res.Opaque(handleOf(n))
	nfs.EncodePostOpAttr(res, s.attr(n))
	nfs.EncodeWcc(res, s.attr(dir))
	return nfs.NFS3OK
}

func (s *Server) remove(d *xdr.Decoder, res *xdr.Encoder, rmdir bool) nfs.Status {
	dir, name, st := s.dirop(d)
	if st != nfs.NFS3OK {
		return st
	}
	id, ok := dir.children[name]
	if !ok {
		return nfs.NFS3ErrNoEnt
	}
	n := s.nodes[id]
	switch {
	case rmdir && n.typ != nfs.TypeDir:
		return nfs.NFS3ErrNotDir
	case rmdir && len(n.children) > 0:
		return nfs.NFS3ErrNotEmpty
	case !rmdir && n.typ == nfs.TypeDir:
		return nfs.NFS3ErrIsDir
	}
	delete(dir.children, name)
	delete(s.nodes, id)
	dir.mtime = time.Now()

	res.Uint32(uint32(nfs.NFS3OK))
	nfs.EncodeWcc(res, s.attr(dir))
	return nfs.NFS3OK
}

func (s *Server) commit(d *xdr.Decoder, res *xdr.Encoder) nfs.Status {
	n, st := s.node(d)
	d.Uint64()
	d.Uint32()
	if st != nfs.NFS3OK {
		return st
	}
	res.Uint32(uint32(nfs.NFS3OK))
	nfs.EncodeWcc(res, s.attr(n))
	res.FixedOpaque(s.verf[:])
	return nfs.NFS3OK
}
