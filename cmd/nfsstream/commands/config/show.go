package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/nfsstream/internal/cli/output"
	"github.com/marmos91/nfsstream/pkg/config"
)

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the effective nfsstream configuration: the file merged with
NFSSTREAM_* environment overrides and defaults.

By default outputs YAML format. Use --output json for JSON.

Examples:
  # Show default config as YAML
  nfsstream config show

  # Show as JSON
  nfsstream config show --output json`,
		RunE: runConfigShow,
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	name, _ := cmd.Flags().GetString("output")
	format, err := output.ParseFormat(name)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(cmd.OutOrStdout(), cfg)
	default:
		return output.PrintYAML(cmd.OutOrStdout(), cfg)
	}
}
