// Package rpctest provides an in-process ONC RPC server for tests.
package rpctest

import (
	"errors"
	"net"
	"sync"

	"github.com/marmos91/nfsstream/internal/rpc"
	"github.com/marmos91/nfsstream/internal/xdr"
)

// ErrDrop makes the server close the connection without replying.
var ErrDrop = errors.New("rpctest: drop connection")

// Call is one decoded request.
type Call struct {
	XID     uint32
	Program uint32
	Version uint32
	Proc    uint32
	Cred    rpc.OpaqueAuth
	Args    *xdr.Decoder
}

// Handler serves calls for one program/version. It writes procedure results
// to res and returns the accept status; results are only sent with
// rpc.Success. Returning an error closes the connection.
type Handler func(call *Call, res *xdr.Encoder) (rpc.AcceptStat, error)

type progVers struct{ prog, vers uint32 }

// Server accepts TCP connections on a loopback port.
type Server struct {
	ln net.Listener

	mu       sync.Mutex
	handlers map[progVers]Handler
	conns    map[net.Conn]struct{}
	calls    int

	wg sync.WaitGroup
}

// NewServer starts a server on 127.0.0.1 with an ephemeral port.
func NewServer() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln:       ln,
		handlers: make(map[progVers]Handler),
		conns:    make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.accept()
	return s, nil
}

// Handle registers h for prog/vers, replacing any previous handler.
func (s *Server) Handle(prog, vers uint32, h Handler) {
	s.mu.Lock()
	s.handlers[progVers{prog, vers}] = h
	s.mu.Unlock()
}

// Addr returns the listening address as host:port.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Port returns the listening port.
func (s *Server) Port() int { return s.ln.Addr().(*net.TCPAddr).Port }

// Calls returns the number of calls served so far.
func (s *Server) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// DropConnections closes every open connection, leaving the listener up.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

// Close stops the listener and all connections and waits for them to exit.
func (s *Server) Close() {
	_ = s.ln.Close()
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		rec, err := rpc.ReadRecord(conn)
		if err != nil {
			return
		}
		reply, err := s.dispatch(rec)
		if err != nil {
			return
		}
		if err := rpc.WriteRecord(conn, reply); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(rec []byte) ([]byte, error) {
	d := xdr.NewDecoder(rec)
	call := &Call{XID: d.Uint32()}
	if mt := d.Uint32(); mt != 0 {
		return nil, errors.New("rpctest: not a call")
	}
	if rv := d.Uint32(); rv != 2 {
		return nil, errors.New("rpctest: bad rpc version")
	}
	call.Program = d.Uint32()
	call.Version = d.Uint32()
	call.Proc = d.Uint32()
	call.Cred.Flavor = d.Uint32()
	call.Cred.Body = d.Opaque(400)
	d.Uint32()
	d.OpaqueRef(400)
	if err := d.Err(); err != nil {
		return nil, err
	}
	call.Args = d

	s.mu.Lock()
	h, ok := s.handlers[progVers{call.Program, call.Version}]
	s.calls++
	s.mu.Unlock()

	res := xdr.NewEncoder(256)
	stat := rpc.ProgUnavail
	if ok {
		var err error
		if stat, err = h(call, res); err != nil {
			return nil, err
		}
	}

	out := xdr.NewEncoder(64 + res.Len())
	out.Uint32(call.XID)
	out.Uint32(1) // REPLY
	out.Uint32(0) // MSG_ACCEPTED
	out.Uint32(rpc.AuthNull)
	out.Uint32(0)
	out.Uint32(uint32(stat))
	if stat == rpc.Success {
		out.FixedOpaque(res.Bytes())
	}
	return out.Bytes(), nil
}
