package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/nfsstream/internal/cli/output"
	"github.com/marmos91/nfsstream/internal/cli/timeutil"
	"github.com/marmos91/nfsstream/pkg/nfs"
)

// statResult is the printable form of nfs.Attr.
type statResult struct {
	Path   string    `json:"path" yaml:"path"`
	Type   string    `json:"type" yaml:"type"`
	Mode   string    `json:"mode" yaml:"mode"`
	Size   int64     `json:"size" yaml:"size"`
	Used   uint64    `json:"used" yaml:"used"`
	Nlink  uint32    `json:"nlink" yaml:"nlink"`
	UID    uint32    `json:"uid" yaml:"uid"`
	GID    uint32    `json:"gid" yaml:"gid"`
	FileID uint64    `json:"fileid" yaml:"fileid"`
	Atime  time.Time `json:"atime" yaml:"atime"`
	Mtime  time.Time `json:"mtime" yaml:"mtime"`
	Ctime  time.Time `json:"ctime" yaml:"ctime"`
}

func newStatResult(p string, a *nfs.Attr) *statResult {
	return &statResult{
		Path:   p,
		Type:   a.Type.String(),
		Mode:   a.Mode().String(),
		Size:   a.Size(),
		Used:   a.Used,
		Nlink:  a.Nlink,
		UID:    a.UID,
		GID:    a.GID,
		FileID: a.FileID,
		Atime:  a.Atime,
		Mtime:  a.Mtime,
		Ctime:  a.Ctime,
	}
}

func (r *statResult) Headers() []string { return nil }

func (r *statResult) Rows() [][]string {
	return output.KeyValues{}.
		Add("Path", r.Path).
		Add("Type", r.Type).
		Add("Mode", r.Mode).
		Add("Size", fmt.Sprintf("%d (%s)", r.Size, timeutil.FormatBytes(float64(r.Size)))).
		Add("Links", fmt.Sprint(r.Nlink)).
		Add("Owner", fmt.Sprintf("%d:%d", r.UID, r.GID)).
		Add("File ID", fmt.Sprint(r.FileID)).
		Add("Accessed", timeutil.FormatTime(r.Atime)).
		Add("Modified", timeutil.FormatTime(r.Mtime)).
		Add("Changed", timeutil.FormatTime(r.Ctime)).
		Rows()
}

func newStatCmd(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stat REMOTE",
		Short: "Show the attributes of a remote file",
		Example: `  nfsstream stat backups/backup.tar
  nfsstream stat -o json backups`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, g)
			if err != nil {
				return err
			}
			defer s.close()

			attr, err := s.client.Stat(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return s.printer.Print(newStatResult(args[0], attr))
		},
	}
}
