// Package nfs is a blocking NFS v3 client over TCP.
//
// A Client is one mount of one export. It speaks MOUNT v3 to obtain the root
// handle and keeps a single NFS connection on which every call is issued in
// turn. Namespace operations (Stat, Mkdir, Remove, Rmdir, Open) are run on a
// blocking.Pool and honour their context; file I/O goes through a Handle,
// whose methods block the calling goroutine, or through the *stream.File
// returned by Open, which drives a Handle from the pool.
//
// Example:
//
//	c, err := nfs.Mount(ctx, "nfs://filer/export?uid=1000&gid=1000")
//	if err != nil {
//		return err
//	}
//	defer c.Umount(ctx)
//
//	f, err := c.Open(ctx, "logs/app.log", os.O_RDONLY, 0)
//	if err != nil {
//		return err
//	}
//	defer f.Close()
//	_, err = io.Copy(os.Stdout, f)
package nfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sys/unix"

	"github.com/marmos91/nfsstream/internal/logger"
	"github.com/marmos91/nfsstream/internal/portmap"
	"github.com/marmos91/nfsstream/internal/rpc"
	"github.com/marmos91/nfsstream/internal/telemetry"
	"github.com/marmos91/nfsstream/internal/xdr"
	"github.com/marmos91/nfsstream/pkg/blocking"
	"github.com/marmos91/nfsstream/pkg/metrics"
	"github.com/marmos91/nfsstream/pkg/stream"
)

type clientOptions struct {
	portmapPort int
	timeout     time.Duration
	dialer      rpc.Dialer
	pool        *blocking.Pool
	metrics     metrics.ClientMetrics
	machineName string
	streamOpts  []stream.Option
}

// Option configures Mount.
type Option func(*clientOptions)

// WithPortmapPort sets the portmapper port used when the URL carries none.
func WithPortmapPort(port int) Option {
	return func(o *clientOptions) { o.portmapPort = port }
}

// WithTimeout bounds each RPC whose context has no deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.timeout = d }
}

// WithDialer opens the MOUNT and NFS connections through d.
func WithDialer(d rpc.Dialer) Option {
	return func(o *clientOptions) { o.dialer = d }
}

// WithPool runs blocking calls on p, for the client and for files it opens.
func WithPool(p *blocking.Pool) Option {
	return func(o *clientOptions) {
		if p != nil {
			o.pool = p
		}
	}
}

// WithMetrics records per-procedure request metrics. Nil disables them.
func WithMetrics(m metrics.ClientMetrics) Option {
	return func(o *clientOptions) { o.metrics = m }
}

// WithMachineName overrides the AUTH_UNIX machine name (default: hostname).
func WithMachineName(name string) Option {
	return func(o *clientOptions) { o.machineName = name }
}

// WithStreamOptions applies opts to every file returned by Client.Open.
func WithStreamOptions(opts ...stream.Option) Option {
	return func(o *clientOptions) { o.streamOpts = append(o.streamOpts, opts...) }
}

// Client is a mounted export.
type Client struct {
	url     *URL
	opts    clientOptions
	session string
	logCtx  *logger.LogContext

	mnt  *mountClient
	nfs  *rpc.Client
	root []byte

	mu     sync.Mutex
	closed bool
}

// Mount parses rawURL, resolves the MOUNT and NFS ports and mounts the
// export.
func Mount(ctx context.Context, rawURL string, opts ...Option) (*Client, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	o := clientOptions{
		portmapPort: portmap.DefaultPort,
		timeout:     rpc.DefaultTimeout,
		pool:        blocking.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.machineName == "" {
		o.machineName, _ = os.Hostname()
	}

	c := &Client{url: u, opts: o, session: uuid.NewString()}
	c.logCtx = logger.NewLogContext(c.session, u.Host, u.Export)

	ctx = logger.WithContext(ctx, c.logCtx)
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanMount, trace.WithAttributes(
		telemetry.ServerAddr(u.Host),
		telemetry.NFSExport(u.Export),
		telemetry.SessionID(c.session),
		telemetry.UID(u.UID),
		telemetry.GID(u.GID),
	))
	defer span.End()

	if _, err := run(ctx, c, "mount", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.mount(ctx)
	}); err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	logger.InfoCtx(ctx, "export mounted",
		logger.KeyServer, u.Host,
		logger.KeyExport, u.Export,
		logger.KeyUID, u.UID,
		logger.KeyGID, u.GID)
	return c, nil
}

func (c *Client) mount(ctx context.Context) error {
	u := c.url
	cred := (&rpc.UnixAuth{
		Stamp:       uint32(time.Now().Unix()),
		MachineName: c.opts.machineName,
		UID:         u.UID,
		GID:         u.GID,
		GIDs:        []uint32{u.GID},
	}).Encode()

	mountPort, err := c.resolvePort(ctx, u.MountPort, MountProgram, MountVersion)
	if err != nil {
		return err
	}
	nfsPort, err := c.resolvePort(ctx, u.NFSPort, NFSProgram, NFSVersion)
	if err != nil {
		return err
	}

	mrpc, err := rpc.Dial(ctx, rpc.Config{
		Addr:    u.Addr(mountPort),
		Program: MountProgram,
		Version: MountVersion,
		Cred:    cred,
		Timeout: c.opts.timeout,
		Dialer:  c.opts.dialer,
	})
	if err != nil {
		return rpcError("MNT", u.Export, err)
	}
	c.mnt = &mountClient{rpc: mrpc, export: u.Export, c: c}

	root, err := c.mnt.mnt(ctx)
	if err != nil {
		_ = mrpc.Close()
		return err
	}

	nrpc, err := rpc.Dial(ctx, rpc.Config{
		Addr:    u.Addr(nfsPort),
		Program: NFSProgram,
		Version: NFSVersion,
		Cred:    cred,
		Timeout: c.opts.timeout,
		Dialer:  c.opts.dialer,
	})
	if err != nil {
		_ = c.mnt.umnt(ctx)
		_ = mrpc.Close()
		return rpcError("connect", u.Export, err)
	}

	c.nfs = nrpc
	c.root = root
	return nil
}

func (c *Client) resolvePort(ctx context.Context, pinned int, prog, vers uint32) (int, error) {
	if pinned > 0 {
		return pinned, nil
	}
	pm := c.url.Port
	if pm == 0 {
		pm = c.opts.portmapPort
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanPortmap, trace.WithAttributes(
		telemetry.ServerAddr(c.url.Host),
		telemetry.ServerPort(pm),
		telemetry.RPCProgram(prog),
	))
	defer span.End()

	port, err := portmap.GetPort(ctx, c.url.Host, pm, prog, vers)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return 0, rpcError("GETPORT", "", err)
	}
	return port, nil
}

// Umount sends UMNT and closes the client's connections. Handles and files
// opened on c fail afterwards. A second call returns ErrClosed.
func (c *Client) Umount(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &Error{Kind: KindRuntime, Op: "umount", Err: ErrClosed}
	}
	c.closed = true
	c.mu.Unlock()

	ctx = logger.WithContext(ctx, c.logCtx)
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanUmount, trace.WithAttributes(
		telemetry.NFSExport(c.url.Export),
		telemetry.SessionID(c.session),
	))
	defer span.End()

	_, err := run(ctx, c, "umount", func(ctx context.Context) (struct{}, error) {
		err := c.mnt.umnt(ctx)
		return struct{}{}, errors.Join(err, c.nfs.Close(), c.mnt.rpc.Close())
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.WarnCtx(ctx, "unmount failed", logger.KeyError, err)
		return err
	}
	logger.InfoCtx(ctx, "export unmounted", logger.KeyDurationMs, c.logCtx.DurationMs())
	return nil
}

// URL returns the parsed mount URL.
func (c *Client) URL() *URL { return c.url }

// SessionID identifies this mount in logs and traces.
func (c *Client) SessionID() string { return c.session }

// Root returns the export's root file handle.
func (c *Client) Root() []byte { return c.root }

// Stat returns the attributes of name.
func (c *Client) Stat(ctx context.Context, name string) (*Attr, error) {
	p := cleanPath(name)
	return run(ctx, c, "stat", func(ctx context.Context) (*Attr, error) {
		fh, attr, err := c.resolve(ctx, p)
		if err != nil || attr != nil {
			return attr, err
		}
		return c.getattr(ctx, fh, p)
	})
}

// Mkdir creates directory name with permission bits perm.
func (c *Client) Mkdir(ctx context.Context, name string, perm fs.FileMode) error {
	p := cleanPath(name)
	_, err := run(ctx, c, "mkdir", func(ctx context.Context) (struct{}, error) {
		dir, base, err := c.resolveParent(ctx, "mkdir", p)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, c.mkdir(ctx, dir, base, p, unixPerm(perm))
	})
	return err
}

// Remove removes the file name. Directories need Rmdir.
func (c *Client) Remove(ctx context.Context, name string) error {
	return c.unlink(ctx, "remove", ProcRemove, name)
}

// Rmdir removes the empty directory name.
func (c *Client) Rmdir(ctx context.Context, name string) error {
	return c.unlink(ctx, "rmdir", ProcRmdir, name)
}

func (c *Client) unlink(ctx context.Context, op string, proc uint32, name string) error {
	p := cleanPath(name)
	_, err := run(ctx, c, op, func(ctx context.Context) (struct{}, error) {
		dir, base, err := c.resolveParent(ctx, op, p)
		if err != nil {
			return struct{}{}, err
		}
		e := xdr.NewEncoder(len(dir) + len(base) + 16)
		encodeDirOp(e, dir, base)
		return struct{}{}, c.call(ctx, proc, p, dir, e.Bytes(), nil, telemetry.NFSFilename(base))
	})
	return err
}

// Open opens name as an asynchronous byte stream. flag takes the os.O_*
// values: O_CREATE creates the file (exclusively with O_EXCL), O_TRUNC
// truncates it and O_APPEND moves every write to the end of file. perm
// applies only to files created by this call.
func (c *Client) Open(ctx context.Context, name string, flag int, perm fs.FileMode) (*stream.File, error) {
	h, err := c.OpenHandle(ctx, name, flag, perm)
	if err != nil {
		return nil, err
	}
	opts := make([]stream.Option, 0, len(c.opts.streamOpts)+2)
	opts = append(opts,
		stream.WithPool(c.opts.pool),
		stream.WithLogContext(c.logCtx.WithPath(h.path).WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))))
	opts = append(opts, c.opts.streamOpts...)
	return stream.New(h, opts...), nil
}

// OpenHandle is like Open but returns the blocking handle itself.
func (c *Client) OpenHandle(ctx context.Context, name string, flag int, perm fs.FileMode) (*Handle, error) {
	p := cleanPath(name)
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanOpen, trace.WithAttributes(
		telemetry.NFSPath(p),
		telemetry.NFSMode(unixPerm(perm)),
	))
	defer span.End()
	ctx = logger.WithContext(ctx, c.logCtx.WithPath(p).WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx)))

	h, err := run(ctx, c, "open", func(ctx context.Context) (*Handle, error) {
		return c.open(ctx, p, flag, perm)
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	logger.DebugCtx(ctx, "file opened",
		logger.KeyHandle, fmt.Sprintf("%x", h.fh),
		"flag", flag)
	return h, nil
}

func (c *Client) open(ctx context.Context, p string, flag int, perm fs.FileMode) (*Handle, error) {
	writable := flag&(unix.O_WRONLY|unix.O_RDWR) != 0

	var (
		fh      []byte
		attr    *Attr
		created bool
		err     error
	)
	if flag&unix.O_CREAT != 0 {
		dir, base, err := c.resolveParent(ctx, "open", p)
		if err != nil {
			return nil, err
		}
		exclusive := flag&unix.O_EXCL != 0
		if !exclusive {
			fh, attr, err = c.lookup(ctx, dir, base, p)
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
		if fh == nil {
			if fh, err = c.create(ctx, dir, base, p, unixPerm(perm), exclusive); err != nil {
				return nil, err
			}
			created = true
		}
	} else if fh, attr, err = c.resolve(ctx, p); err != nil {
		return nil, err
	}

	if attr != nil && attr.IsDir() && writable {
		return nil, &fs.PathError{Op: "open", Path: p, Err: unix.EISDIR}
	}
	if flag&unix.O_TRUNC != 0 && writable && !created {
		zero := uint64(0)
		if err := c.setattr(ctx, fh, p, &SetAttr{Size: &zero}); err != nil {
			return nil, err
		}
	}
	return newHandle(c, fh, p, flag), nil
}

// run executes fn on the client's pool and waits for it. The context is
// shared with fn, so cancelling it also aborts the RPC in flight.
func run[T any](ctx context.Context, c *Client, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	res, err := blocking.Submit(c.opts.pool, "nfs."+op, func() result {
		v, err := fn(ctx)
		return result{v, err}
	}).Wait(ctx)
	if err != nil {
		var zero T
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return zero, err
		}
		return zero, &Error{Kind: KindRuntime, Op: op, Err: err}
	}
	return res.v, res.err
}

// ============================================================================
// Procedures
// ============================================================================

func (c *Client) conn(op, p string) (*rpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, &Error{Kind: KindRPC, Op: op, Path: p, Err: ErrClosed}
	}
	return c.nfs, nil
}

// call issues one NFS procedure. decode runs only for NFS3_OK replies, with
// the decoder positioned after the status.
func (c *Client) call(ctx context.Context, proc uint32, p string, fh, args []byte, decode func(*xdr.Decoder) error, attrs ...attribute.KeyValue) error {
	name := ProcName(proc)
	ctx, span := telemetry.StartNFSSpan(ctx, "nfs", name, fh, attrs...)
	defer span.End()

	nc, err := c.conn(name, p)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}

	start := time.Now()
	var st Status
	err = nc.Call(ctx, proc, args, func(d *xdr.Decoder) error {
		st = Status(d.Uint32())
		if d.Err() != nil || st != NFS3OK || decode == nil {
			return nil
		}
		return decode(d)
	})
	return c.finish(ctx, name, p, start, st, err)
}

// finish turns an RPC outcome into the package error and records it.
func (c *Client) finish(ctx context.Context, proc, p string, start time.Time, st Status, err error) error {
	elapsed := time.Since(start)
	label := st.String()
	switch {
	case err != nil:
		label = "RPC_ERROR"
		err = rpcError(proc, p, err)
	case st != NFS3OK:
		err = statusError(proc, p, st)
	}

	if c.opts.metrics != nil {
		c.opts.metrics.RecordRequest(proc, c.url.Export, elapsed, label)
	}
	telemetry.SetAttributes(ctx, telemetry.NFSStatus(uint32(st)))

	ms := float64(elapsed.Microseconds()) / 1000.0
	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.DebugCtx(ctx, "nfs call failed",
			logger.KeyProcedure, proc,
			logger.KeyPath, p,
			logger.KeyStatus, label,
			logger.KeyDurationMs, ms,
			logger.KeyError, err)
		return err
	}
	logger.DebugCtx(ctx, "nfs call",
		logger.KeyProcedure, proc,
		logger.KeyPath, p,
		logger.KeyDurationMs, ms)
	return nil
}

func (c *Client) getattr(ctx context.Context, fh []byte, p string) (*Attr, error) {
	e := xdr.NewEncoder(len(fh) + 8)
	e.Opaque(fh)
	var attr *Attr
	err := c.call(ctx, ProcGetattr, p, fh, e.Bytes(), func(d *xdr.Decoder) error {
		attr = decodeFattr(d, baseName(p))
		return nil
	})
	return attr, err
}

func (c *Client) setattr(ctx context.Context, fh []byte, p string, sa *SetAttr) error {
	e := xdr.NewEncoder(len(fh) + 64)
	e.Opaque(fh)
	sa.encode(e)
	e.Bool(false) // no ctime guard
	var attrs []attribute.KeyValue
	if sa.Size != nil {
		attrs = append(attrs, telemetry.NFSSize(*sa.Size))
	}
	return c.call(ctx, ProcSetattr, p, fh, e.Bytes(), nil, attrs...)
}

// lookup resolves one component. The returned attributes may be nil when
// the server omits them.
func (c *Client) lookup(ctx context.Context, dir []byte, name, p string) ([]byte, *Attr, error) {
	e := xdr.NewEncoder(len(dir) + len(name) + 16)
	encodeDirOp(e, dir, name)
	var (
		fh   []byte
		attr *Attr
	)
	err := c.call(ctx, ProcLookup, p, dir, e.Bytes(), func(d *xdr.Decoder) error {
		fh = d.Opaque(MaxHandle)
		attr = decodePostOpAttr(d, name)
		return nil
	}, telemetry.NFSFilename(name))
	return fh, attr, err
}

// resolve walks p from the export root, one LOOKUP per component.
func (c *Client) resolve(ctx context.Context, p string) ([]byte, *Attr, error) {
	fh := c.root
	var attr *Attr
	if p == "" {
		return fh, nil, nil
	}
	for _, name := range strings.Split(p, "/") {
		var err error
		if fh, attr, err = c.lookup(ctx, fh, name, p); err != nil {
			return nil, nil, err
		}
	}
	return fh, attr, nil
}

// resolveParent returns the handle of p's directory and p's last component.
func (c *Client) resolveParent(ctx context.Context, op, p string) ([]byte, string, error) {
	if p == "" {
		return nil, "", &fs.PathError{Op: op, Path: "/", Err: unix.EINVAL}
	}
	dir, base := path.Split(p)
	if len(base) > MaxName {
		return nil, "", &fs.PathError{Op: op, Path: p, Err: unix.ENAMETOOLONG}
	}
	fh, attr, err := c.resolve(ctx, strings.TrimSuffix(dir, "/"))
	if err != nil {
		return nil, "", err
	}
	if attr != nil && !attr.IsDir() {
		return nil, "", &fs.PathError{Op: op, Path: p, Err: unix.ENOTDIR}
	}
	return fh, base, nil
}

func (c *Client) create(ctx context.Context, dir []byte, name, p string, perm uint32, exclusive bool) ([]byte, error) {
	e := xdr.NewEncoder(len(dir) + len(name) + 64)
	encodeDirOp(e, dir, name)
	if exclusive {
		e.Uint32(createGuarded)
	} else {
		e.Uint32(createUnchecked)
	}
	(&SetAttr{Mode: &perm}).encode(e)

	var fh []byte
	err := c.call(ctx, ProcCreate, p, dir, e.Bytes(), func(d *xdr.Decoder) error {
		fh = decodePostOpFH(d)
		return nil
	}, telemetry.NFSFilename(name), telemetry.NFSMode(perm))
	if err != nil {
		return nil, err
	}
	if fh == nil {
		fh, _, err = c.lookup(ctx, dir, name, p)
	}
	return fh, err
}

func (c *Client) mkdir(ctx context.Context, dir []byte, name, p string, perm uint32) error {
	e := xdr.NewEncoder(len(dir) + len(name) + 64)
	encodeDirOp(e, dir, name)
	(&SetAttr{Mode: &perm}).encode(e)
	return c.call(ctx, ProcMkdir, p, dir, e.Bytes(), nil,
		telemetry.NFSFilename(name), telemetry.NFSMode(perm))
}

func (c *Client) read(ctx context.Context, fh []byte, p string, off int64, dst []byte) (int, bool, error) {
	e := xdr.NewEncoder(len(fh) + 20)
	e.Opaque(fh)
	e.Uint64(uint64(off))
	e.Uint32(uint32(len(dst)))

	var (
		n   int
		eof bool
	)
	err := c.call(ctx, ProcRead, p, fh, e.Bytes(), func(d *xdr.Decoder) error {
		decodePostOpAttr(d, "")
		count := d.Uint32()
		eof = d.Bool()
		n = d.OpaqueInto(dst)
		if d.Err() == nil && uint32(n) != count {
			return fmt.Errorf("READ count %d does not match %d data bytes", count, n)
		}
		return nil
	}, telemetry.NFSOffset(uint64(off)), telemetry.NFSCount(uint32(len(dst))))
	if err != nil {
		return 0, false, err
	}
	if c.opts.metrics != nil {
		c.opts.metrics.RecordBytes("READ", c.url.Export, uint64(n))
	}
	return n, eof, nil
}

func (c *Client) write(ctx context.Context, fh []byte, p string, off int64, src []byte, stable StableHow) (int, StableHow, [VerifierSize]byte, error) {
	e := xdr.NewEncoder(len(fh) + len(src) + 32)
	e.Opaque(fh)
	e.Uint64(uint64(off))
	e.Uint32(uint32(len(src)))
	e.Uint32(uint32(stable))
	e.Opaque(src)

	var (
		n         uint32
		committed StableHow
		verf      [VerifierSize]byte
	)
	err := c.call(ctx, ProcWrite, p, fh, e.Bytes(), func(d *xdr.Decoder) error {
		decodeWcc(d, "")
		n = d.Uint32()
		committed = StableHow(d.Uint32())
		copy(verf[:], d.FixedOpaque(VerifierSize))
		if d.Err() == nil && n > uint32(len(src)) {
			return fmt.Errorf("WRITE count %d exceeds %d bytes sent", n, len(src))
		}
		return nil
	}, telemetry.NFSOffset(uint64(off)), telemetry.NFSCount(uint32(len(src))), telemetry.NFSStable(stable.String()))
	if err != nil {
		return 0, 0, verf, err
	}
	if c.opts.metrics != nil {
		c.opts.metrics.RecordBytes("WRITE", c.url.Export, uint64(n))
	}
	return int(n), committed, verf, nil
}

func (c *Client) commit(ctx context.Context, fh []byte, p string) ([VerifierSize]byte, error) {
	e := xdr.NewEncoder(len(fh) + 16)
	e.Opaque(fh)
	e.Uint64(0) // offset and count 0: the whole file
	e.Uint32(0)

	var verf [VerifierSize]byte
	err := c.call(ctx, ProcCommit, p, fh, e.Bytes(), func(d *xdr.Decoder) error {
		decodeWcc(d, "")
		copy(verf[:], d.FixedOpaque(VerifierSize))
		return nil
	})
	return verf, err
}

// cleanPath turns name into a slash-separated path relative to the export
// root; the root itself is "".
func cleanPath(name string) string {
	p := path.Clean("/" + name)
	return strings.TrimPrefix(p, "/")
}

func baseName(p string) string {
	if p == "" {
		return "/"
	}
	return path.Base(p)
}
