package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/nfsstream/pkg/config"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		Long: `Validate the nfsstream configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  nfsstream config validate

  # Validate specific config file
  nfsstream config validate --config /etc/nfsstream/config.yaml`,
		RunE: runConfigValidate,
	}
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(w, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(w, "Validation: OK")

	if warnings := warningsFor(cfg); len(warnings) > 0 {
		_, _ = fmt.Fprintln(w, "\nWarnings:")
		for _, msg := range warnings {
			_, _ = fmt.Fprintf(w, "  - %s\n", msg)
		}
	}

	_, _ = fmt.Fprintf(w, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(w, "  NFS URL:        %s\n", orDash(cfg.NFS.URL))
	_, _ = fmt.Fprintf(w, "  Max transfer:   %s\n", cfg.Stream.MaxTransfer)
	_, _ = fmt.Fprintf(w, "  Workers:        %d\n", cfg.Stream.Workers)
	_, _ = fmt.Fprintf(w, "  Compression:    %s\n", cfg.Stream.Compression)
	_, _ = fmt.Fprintf(w, "  Log level:      %s\n", cfg.Logging.Level)
	return nil
}

func warningsFor(cfg *config.Config) []string {
	var warnings []string
	if cfg.NFS.URL == "" {
		warnings = append(warnings, "nfs.url not set - every command needs --url")
	}
	if cfg.Stream.RateLimit > 0 && cfg.Stream.RateLimit < cfg.Stream.MaxTransfer {
		warnings = append(warnings, "stream.rate_limit is below stream.max_transfer - each transfer waits for tokens")
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.SampleRate == 0 {
		warnings = append(warnings, "telemetry enabled with sample_rate 0 - no spans will be exported")
	}
	return warnings
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
