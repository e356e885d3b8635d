package commands

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/nfsstream/internal/compress"
	"github.com/marmos91/nfsstream/internal/logger"
)

type putOptions struct {
	compress string
	mode     string
	force    bool
	append   bool
}

func newPutCmd(g *GlobalFlags) *cobra.Command {
	o := &putOptions{}

	cmd := &cobra.Command{
		Use:   "put LOCAL REMOTE",
		Short: "Upload a local file to the export",
		Long: `Upload LOCAL to REMOTE, a path relative to the export root.

LOCAL may be "-" to read standard input. Data is written with unstable
WRITEs and committed before the command returns.

Examples:
  # Upload a file
  nfsstream put ./backup.tar backups/backup.tar

  # Compress on the fly
  nfsstream put --compress zstd ./backup.tar backups/backup.tar.zst

  # Upload from a pipe, replacing an existing file
  pg_dump mydb | nfsstream put --force - dumps/mydb.sql`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPut(cmd, g, o, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&o.compress, "compress", "", "Compress while uploading (none|zstd|lz4|gzip, default: stream.compression)")
	cmd.Flags().StringVar(&o.mode, "mode", "0644", "Permissions of a newly created file")
	cmd.Flags().BoolVarP(&o.force, "force", "f", false, "Overwrite REMOTE if it exists")
	cmd.Flags().BoolVar(&o.append, "append", false, "Append to REMOTE instead of replacing it")
	cmd.MarkFlagsMutuallyExclusive("force", "append")
	return cmd
}

func runPut(cmd *cobra.Command, g *GlobalFlags, o *putOptions, local, remote string) (err error) {
	perm, err := parseMode(o.mode)
	if err != nil {
		return err
	}

	src := cmd.InOrStdin()
	if local != "-" {
		in, err := os.Open(local)
		if err != nil {
			return err
		}
		defer func() { _ = in.Close() }()
		src = in
	}

	s, err := openSession(cmd, g)
	if err != nil {
		return err
	}
	defer s.close()

	name := o.compress
	if !cmd.Flags().Changed("compress") {
		name = s.cfg.Stream.Compression
	}
	codec, err := compress.Parse(name)
	if err != nil {
		return err
	}

	flag := os.O_WRONLY | os.O_CREATE
	switch {
	case o.append:
		flag |= os.O_APPEND
	case o.force:
		flag |= os.O_TRUNC
	default:
		flag |= os.O_EXCL
	}

	ctx, span := startTransfer(cmd.Context(), "put", remote)
	var n int64
	defer func() { endTransfer(ctx, span, n, err) }()
	start := time.Now()

	f, err := s.client.Open(ctx, remote, flag, fs.FileMode(perm))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	wire := &countingWriter{w: fileIO{ctx: ctx, f: f}}
	zw, err := compress.NewWriter(wire, codec)
	if err != nil {
		return err
	}
	n, err = io.CopyBuffer(zw, src, copyBuffer(f))
	if err != nil {
		_ = zw.Close()
		return fmt.Errorf("upload %s: %w", remote, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("upload %s: %w", remote, err)
	}

	// Commit before Close so a failed COMMIT fails the command instead of
	// surfacing only in the log.
	if err := f.FlushContext(ctx); err != nil {
		return fmt.Errorf("upload %s: %w", remote, err)
	}
	if err := f.Sync(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", remote, err)
	}

	res := newTransferResult(local, remote, codec, n, wire.n, time.Since(start))
	logger.Debug("Upload complete",
		logger.Path(remote),
		logger.BytesWritten(int(wire.n)),
		logger.DurationMs(float64(res.DurationMs)))
	return s.printer.Print(res)
}
