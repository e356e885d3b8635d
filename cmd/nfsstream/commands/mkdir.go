package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/spf13/cobra"
)

func newMkdirCmd(g *GlobalFlags) *cobra.Command {
	var (
		mode    string
		parents bool
	)

	cmd := &cobra.Command{
		Use:   "mkdir REMOTE...",
		Short: "Create remote directories",
		Example: `  nfsstream mkdir backups
  nfsstream mkdir -p backups/2026/10`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			perm, err := parseMode(mode)
			if err != nil {
				return err
			}

			s, err := openSession(cmd, g)
			if err != nil {
				return err
			}
			defer s.close()

			ctx := cmd.Context()
			for _, dir := range args {
				targets := []string{dir}
				if parents {
					targets = ancestors(dir)
				}
				for i, p := range targets {
					err := s.client.Mkdir(ctx, p, fs.FileMode(perm))
					// With -p an existing directory anywhere on the path is fine.
					if err != nil && parents && errors.Is(err, fs.ErrExist) {
						attr, serr := s.client.Stat(ctx, p)
						if serr == nil && attr.IsDir() {
							continue
						}
					}
					if err != nil {
						return fmt.Errorf("mkdir %s: %w", p, err)
					}
					if i == len(targets)-1 {
						s.printer.Success(fmt.Sprintf("Created %s", p))
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "0755", "Permissions of the new directories")
	cmd.Flags().BoolVarP(&parents, "parents", "p", false, "Create missing parents and accept existing directories")
	return cmd
}

// ancestors lists p and its parents, shallowest first:
// "a/b/c" yields "a", "a/b", "a/b/c".
func ancestors(p string) []string {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return nil
	}
	parts := strings.Split(p, "/")
	out := make([]string, len(parts))
	for i := range parts {
		out[i] = strings.Join(parts[:i+1], "/")
	}
	return out
}
