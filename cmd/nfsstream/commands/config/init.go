package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/nfsstream/internal/bytesize"
	"github.com/marmos91/nfsstream/internal/cli/prompt"
	"github.com/marmos91/nfsstream/pkg/config"
	"github.com/marmos91/nfsstream/pkg/nfs"
)

func newInitCmd() *cobra.Command {
	var force, interactive bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a configuration file",
		Long: `Initialize an nfsstream configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/nfsstream/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  nfsstream config init

  # Answer a few questions instead of writing the defaults
  nfsstream config init --interactive

  # Force overwrite existing config
  nfsstream config init --force --config ./nfsstream.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			if configPath == "" {
				configPath = config.GetDefaultConfigPath()
			}

			cfg := config.GetDefaultConfig()
			if interactive {
				if err := askConfig(cfg); err != nil {
					if prompt.IsAborted(err) {
						return nil
					}
					return err
				}
			}

			if err := config.InitConfigToPath(configPath, force, cfg); err != nil {
				return fmt.Errorf("failed to initialize config: %w", err)
			}

			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "Configuration file created at: %s\n", configPath)
			_, _ = fmt.Fprintln(w, "\nNext steps:")
			if cfg.NFS.URL == "" {
				_, _ = fmt.Fprintln(w, "  1. Set nfs.url to your export, e.g. nfs://server/export")
			} else {
				_, _ = fmt.Fprintln(w, "  1. Review the generated settings")
			}
			_, _ = fmt.Fprintln(w, "  2. Check the file with: nfsstream config validate")
			_, _ = fmt.Fprintln(w, "  3. Copy a file with: nfsstream put ./file remote/file")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Force overwrite existing config file")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Prompt for the main settings")
	return cmd
}

// askConfig fills the settings most people change from interactive prompts.
func askConfig(cfg *config.Config) error {
	url, err := prompt.Input("NFS URL (nfs://host/export)", cfg.NFS.URL, prompt.Optional(func(s string) error {
		_, err := nfs.ParseURL(s)
		return err
	}))
	if err != nil {
		return err
	}
	cfg.NFS.URL = url

	size, err := prompt.Input("Max transfer per call", cfg.Stream.MaxTransfer.String(), func(s string) error {
		_, err := bytesize.Parse(strings.TrimSpace(s))
		return err
	})
	if err != nil {
		return err
	}
	cfg.Stream.MaxTransfer, _ = bytesize.Parse(size)

	workers, err := prompt.Input("Concurrent blocking calls", strconv.Itoa(cfg.Stream.Workers), func(s string) error {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || n < 1 {
			return fmt.Errorf("must be a positive number")
		}
		return nil
	})
	if err != nil {
		return err
	}
	cfg.Stream.Workers, _ = strconv.Atoi(workers)

	cfg.Stream.Compression, err = prompt.Select("Default compression", []prompt.SelectOption{
		{Label: "none", Value: "none", Description: "Store files as they are"},
		{Label: "zstd", Value: "zstd", Description: "Good ratio at high speed"},
		{Label: "lz4", Value: "lz4", Description: "Fastest, lower ratio"},
		{Label: "gzip", Value: "gzip", Description: "Readable by any gunzip"},
	}, cfg.Stream.Compression)
	if err != nil {
		return err
	}

	cfg.Logging.Level, err = prompt.Select("Log level", []prompt.SelectOption{
		{Label: "DEBUG", Value: "DEBUG"},
		{Label: "INFO", Value: "INFO"},
		{Label: "WARN", Value: "WARN"},
		{Label: "ERROR", Value: "ERROR"},
	}, cfg.Logging.Level)
	if err != nil {
		return err
	}

	cfg.Metrics.Enabled, err = prompt.Confirm("Serve Prometheus metrics while commands run", false)
	if err != nil {
		return err
	}
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port, err = prompt.InputPort("Metrics port", 9090); err != nil {
			return err
		}
	}
	return nil
}
