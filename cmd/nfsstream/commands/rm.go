package commands

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/marmos91/nfsstream/internal/cli/prompt"
)

func newRmCmd(g *GlobalFlags) *cobra.Command {
	var (
		force bool
		dir   bool
	)

	cmd := &cobra.Command{
		Use:   "rm REMOTE...",
		Short: "Remove remote files or empty directories",
		Long: `Remove files from the export. Directories must be empty and need --dir.

Each removal is confirmed interactively unless --force is given.`,
		Example: `  nfsstream rm backups/old.tar
  nfsstream rm --force --dir backups/2025`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, g)
			if err != nil {
				return err
			}
			defer s.close()

			ctx := cmd.Context()
			for _, p := range args {
				attr, err := s.client.Stat(ctx, p)
				if err != nil {
					if force && errors.Is(err, fs.ErrNotExist) {
						continue
					}
					return err
				}
				if attr.IsDir() && !dir {
					return fmt.Errorf("rm %s: is a directory (use --dir)", p)
				}

				ok, err := prompt.ConfirmWithForce(fmt.Sprintf("Remove %s %s", attr.Type, p), force)
				if err != nil {
					if prompt.IsAborted(err) {
						return nil
					}
					return err
				}
				if !ok {
					s.printer.Status("Skipped %s", p)
					continue
				}

				if attr.IsDir() {
					err = s.client.Rmdir(ctx, p)
				} else {
					err = s.client.Remove(ctx, p)
				}
				if err != nil {
					return err
				}
				s.printer.Success(fmt.Sprintf("Removed %s", p))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation and ignore missing files")
	cmd.Flags().BoolVarP(&dir, "dir", "d", false, "Allow removing empty directories")
	return cmd
}
