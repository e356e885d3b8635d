package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/nfsstream/internal/compress"
	"github.com/marmos91/nfsstream/internal/logger"
)

const decompressAuto = "auto"

type getOptions struct {
	decompress string
	force      bool
}

func newGetCmd(g *GlobalFlags) *cobra.Command {
	o := &getOptions{}

	cmd := &cobra.Command{
		Use:   "get REMOTE [LOCAL]",
		Short: "Download a file from the export",
		Long: `Download REMOTE, a path relative to the export root, to LOCAL.

LOCAL defaults to the base name of REMOTE in the current directory. When
decompressing, a matching .zst, .lz4 or .gz suffix is dropped from it.

Examples:
  # Download a file
  nfsstream get backups/backup.tar

  # Decompress whatever codec the file was written with
  nfsstream get --decompress auto backups/backup.tar.zst ./backup.tar`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			local := ""
			if len(args) == 2 {
				local = args[1]
			}
			return runGet(cmd, g, o, args[0], local)
		},
	}

	cmd.Flags().StringVarP(&o.decompress, "decompress", "d", "none", "Decompress while downloading (none|zstd|lz4|gzip|auto)")
	cmd.Flags().BoolVarP(&o.force, "force", "f", false, "Overwrite LOCAL if it exists")
	return cmd
}

func newCatCmd(g *GlobalFlags) *cobra.Command {
	var decompress string

	cmd := &cobra.Command{
		Use:   "cat REMOTE...",
		Short: "Write remote files to standard output",
		Example: `  nfsstream cat logs/app.log
  nfsstream cat --decompress auto logs/app.log.gz | grep ERROR`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, g)
			if err != nil {
				return err
			}
			defer s.close()

			for _, remote := range args {
				if _, err := download(cmd.Context(), s, "cat", remote, cmd.OutOrStdout(), decompress); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&decompress, "decompress", "d", "none", "Decompress while reading (none|zstd|lz4|gzip|auto)")
	return cmd
}

func runGet(cmd *cobra.Command, g *GlobalFlags, o *getOptions, remote, local string) (err error) {
	if o.decompress != decompressAuto {
		if _, err := compress.Parse(o.decompress); err != nil {
			return err
		}
	}
	if local == "" {
		local = localName(remote, o.decompress)
	}

	s, err := openSession(cmd, g)
	if err != nil {
		return err
	}
	defer s.close()

	flag := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if o.force {
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	out, err := os.OpenFile(local, flag, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(local)
		}
	}()

	start := time.Now()
	res, err := download(cmd.Context(), s, "get", remote, out, o.decompress)
	if err != nil {
		return err
	}
	res.Destination = local
	res.elapsed = time.Since(start)
	res.DurationMs = res.elapsed.Milliseconds()

	logger.Debug("Download complete",
		logger.Path(remote),
		logger.BytesRead(int(res.WireBytes)),
		logger.DurationMs(float64(res.DurationMs)))
	return s.printer.Print(res)
}

// download copies remote into dst, decompressing with the named codec or
// with whatever codec the content starts with when name is "auto".
func download(ctx context.Context, s *session, op, remote string, dst io.Writer, name string) (res *transferResult, err error) {
	ctx, span := startTransfer(ctx, op, remote)
	var n int64
	defer func() { endTransfer(ctx, span, n, err) }()
	start := time.Now()

	f, err := s.client.Open(ctx, remote, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	wire := &countingReader{r: fileIO{ctx: ctx, f: f}}

	var (
		src   io.ReadCloser
		codec compress.Codec
	)
	if name == decompressAuto {
		src, codec, err = compress.NewAutoReader(wire)
	} else {
		if codec, err = compress.Parse(name); err == nil {
			src, err = compress.NewReader(wire, codec)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", remote, err)
	}
	defer func() { _ = src.Close() }()

	n, err = io.CopyBuffer(dst, src, copyBuffer(f))
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", remote, err)
	}
	return newTransferResult(remote, "", codec, n, wire.n, time.Since(start)), nil
}

// localName derives the download target from the remote path.
func localName(remote, decompress string) string {
	base := path.Base(strings.TrimRight(remote, "/"))
	if decompress == "none" || decompress == "" {
		return base
	}
	c := compress.FromPath(base)
	if c == compress.None {
		return base
	}
	if decompress != decompressAuto {
		if want, err := compress.Parse(decompress); err != nil || want != c {
			return base
		}
	}
	if trimmed := strings.TrimSuffix(base, c.Extension()); trimmed != "" {
		return trimmed
	}
	return base
}
