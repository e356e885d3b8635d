// Package rpc is a minimal ONC RPC v2 (RFC 5531) client over TCP.
//
// A Client owns one connection to one program/version and performs one call
// at a time: the request is written, then the caller waits for the matching
// reply. Callers that need parallelism open more clients. When the
// connection fails the client drops it and the next call dials again; the
// failed call itself is not retried.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/marmos91/nfsstream/internal/logger"
	"github.com/marmos91/nfsstream/internal/xdr"
	"github.com/marmos91/nfsstream/pkg/bufpool"
)

const (
	msgCall  = 0
	msgReply = 1

	rpcVersion = 2

	replyAccepted = 0
	replyDenied   = 1

	// DefaultTimeout bounds a single call when the context has no deadline.
	DefaultTimeout = 60 * time.Second
)

// Dialer opens connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// Config describes the remote program and how to reach it.
type Config struct {
	Addr    string
	Program uint32
	Version uint32

	// Cred is sent with every call; zero value means AUTH_NULL.
	Cred OpaqueAuth

	// Timeout bounds calls whose context has no deadline.
	Timeout time.Duration

	// Dialer defaults to a *net.Dialer.
	Dialer Dialer
}

// Client issues calls to one RPC program over a TCP connection.
type Client struct {
	cfg Config

	mu     sync.Mutex
	conn   net.Conn
	xid    uint32
	closed bool
	enc    *xdr.Encoder
}

// Dial connects to cfg.Addr and returns a ready client.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{KeepAlive: 30 * time.Second}
	}

	c := &Client{
		cfg: cfg,
		xid: rand.Uint32(),
		enc: xdr.NewEncoder(512),
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Addr returns the remote address.
func (c *Client) Addr() string { return c.cfg.Addr }

func (c *Client) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	conn, err := c.cfg.Dialer.DialContext(dialCtx, "tcp", c.cfg.Addr)
	if err != nil {
		return fmt.Errorf("rpc: dial %s: %w", c.cfg.Addr, err)
	}
	c.conn = conn
	logger.Debug("rpc connected",
		logger.KeyServer, c.cfg.Addr,
		logger.KeyProgram, c.cfg.Program,
		logger.KeyVersion, c.cfg.Version)
	return nil
}

// Call sends procedure proc with pre-encoded args and waits for the reply.
// On success, decode is invoked with a decoder positioned at the procedure
// results; the decoder's buffer is only valid for the duration of decode.
func (c *Client) Call(ctx context.Context, proc uint32, args []byte, decode func(*xdr.Decoder) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.conn == nil {
		if err := c.connect(ctx); err != nil {
			return err
		}
	}

	c.xid++
	xid := c.xid
	msg := c.encodeCall(xid, proc, args)

	err := c.roundTrip(ctx, xid, msg, decode)
	if err != nil && c.conn != nil && isConnError(err) {
		logger.Debug("rpc connection dropped",
			logger.KeyServer, c.cfg.Addr,
			logger.KeyXID, xid,
			logger.KeyError, err)
		_ = c.conn.Close()
		c.conn = nil
	}
	return err
}

func (c *Client) encodeCall(xid, proc uint32, args []byte) []byte {
	cred := c.cfg.Cred

	e := c.enc
	e.Reset()
	e.Uint32(0) // record mark, filled in below
	e.Uint32(xid)
	e.Uint32(msgCall)
	e.Uint32(rpcVersion)
	e.Uint32(c.cfg.Program)
	e.Uint32(c.cfg.Version)
	e.Uint32(proc)
	e.Uint32(cred.Flavor)
	e.Opaque(cred.Body)
	e.Uint32(AuthNull) // verifier
	e.Uint32(0)
	e.FixedOpaque(args)

	msg := e.Bytes()
	markRecord(msg)
	return msg
}

// connError marks failures after which the connection state is unknown.
type connError struct{ err error }

func (e *connError) Error() string { return e.err.Error() }
func (e *connError) Unwrap() error { return e.err }

func isConnError(err error) bool {
	var ce *connError
	return errors.As(err, &ce)
}

func (c *Client) roundTrip(ctx context.Context, xid uint32, msg []byte, decode func(*xdr.Decoder) error) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.cfg.Timeout)
	}
	conn := c.conn
	if err := conn.SetDeadline(deadline); err != nil {
		return &connError{fmt.Errorf("rpc: set deadline: %w", err)}
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := conn.Write(msg); err != nil {
		return &connError{c.ctxErr(ctx, fmt.Errorf("rpc: write call: %w", err))}
	}

	for {
		rec, err := ReadRecord(conn)
		if err != nil {
			return &connError{c.ctxErr(ctx, fmt.Errorf("rpc: read reply: %w", err))}
		}

		d := xdr.NewDecoder(rec)
		if got := d.Uint32(); got != xid {
			// A reply to an earlier call that timed out on our side.
			bufpool.Put(rec)
			continue
		}

		err = parseReply(d)
		if err == nil {
			err = decode(d)
			if err == nil {
				err = d.Err()
			}
			if err != nil {
				err = fmt.Errorf("rpc: decode reply: %w", err)
			}
		}
		bufpool.Put(rec)
		return err
	}
}

// ctxErr attributes an I/O failure to ctx when ctx is done or its deadline,
// which was also set on the connection, has passed.
func (c *Client) ctxErr(ctx context.Context, err error) error {
	cerr := ctx.Err()
	if cerr == nil {
		if dl, ok := ctx.Deadline(); ok && !time.Now().Before(dl) {
			cerr = context.DeadlineExceeded
		}
	}
	if cerr != nil {
		return fmt.Errorf("%w: %w", cerr, err)
	}
	return err
}

// parseReply consumes the reply header up to the procedure results.
func parseReply(d *xdr.Decoder) error {
	if mt := d.Uint32(); d.Err() == nil && mt != msgReply {
		return &connError{fmt.Errorf("rpc: expected REPLY, got message type %d", mt)}
	}

	switch stat := d.Uint32(); stat {
	case replyAccepted:
		d.Uint32()               // verifier flavor
		d.OpaqueRef(maxAuthBody) // verifier body
		as := AcceptStat(d.Uint32())
		if err := d.Err(); err != nil {
			return &connError{fmt.Errorf("rpc: malformed reply: %w", err)}
		}
		switch as {
		case Success:
			return nil
		case ProgMismatch:
			return &AcceptError{Stat: as, Low: d.Uint32(), High: d.Uint32()}
		default:
			return &AcceptError{Stat: as}
		}
	case replyDenied:
		re := &RejectError{Stat: d.Uint32()}
		if re.Stat == RPCMismatch {
			re.Low, re.High = d.Uint32(), d.Uint32()
		} else {
			re.AuthStat = d.Uint32()
		}
		return re
	default:
		if err := d.Err(); err != nil {
			return &connError{fmt.Errorf("rpc: malformed reply: %w", err)}
		}
		return &connError{fmt.Errorf("rpc: invalid reply_stat %d", stat)}
	}
}

// Close closes the connection. Further calls fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
