// Package commands implements the nfsstream CLI.
package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	configcmd "github.com/marmos91/nfsstream/cmd/nfsstream/commands/config"

	// Register the Prometheus metrics implementations.
	_ "github.com/marmos91/nfsstream/pkg/metrics/prometheus"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// GlobalFlags are the persistent flags shared by every subcommand.
type GlobalFlags struct {
	ConfigFile string
	URL        string
	LogLevel   string
	Output     string
	NoColor    bool
}

// NewRootCmd builds the command tree. Each call returns fresh commands with
// their own flag state.
func NewRootCmd() *cobra.Command {
	flags := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "nfsstream",
		Short: "Stream files to and from NFSv3 exports",
		Long: `nfsstream copies data between local files and an NFSv3 export without
mounting it in the kernel.

The export is addressed with an NFS URL:
  nfs://host[:port]/export?uid=1000&gid=1000

Set it once in the configuration file (nfs.url), in NFSSTREAM_NFS_URL, or
pass --url to each command.

Use "nfsstream [command] --help" for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigFile, "config", "", "Path to config file (default: $XDG_CONFIG_HOME/nfsstream/config.yaml)")
	pf.StringVar(&flags.URL, "url", "", "NFS URL (overrides nfs.url)")
	pf.StringVar(&flags.LogLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")
	pf.StringVarP(&flags.Output, "output", "o", "table", "Output format (table|json|yaml)")
	pf.BoolVar(&flags.NoColor, "no-color", false, "Disable colored output")

	root.AddCommand(newPutCmd(flags))
	root.AddCommand(newGetCmd(flags))
	root.AddCommand(newCatCmd(flags))
	root.AddCommand(newStatCmd(flags))
	root.AddCommand(newMkdirCmd(flags))
	root.AddCommand(newRmCmd(flags))
	root.AddCommand(configcmd.NewCmd())
	root.AddCommand(newVersionCmd())

	root.CompletionOptions.HiddenDefaultCmd = true
	return root
}

// Execute runs the CLI until ctx is cancelled.
func Execute(ctx context.Context) error {
	root := NewRootCmd()
	root.SetIn(os.Stdin)
	return root.ExecuteContext(ctx)
}
