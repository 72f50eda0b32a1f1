package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dvuploader/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the dvuploader configuration file.

Checks for syntax errors, invalid values, and settings an upload needs.

Examples:
  # Validate default config
  dvuploader config validate

  # Validate specific config file
  dvuploader config validate --config ./dvuploader.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)

	cfg, err := config.MustLoad(path)
	if err != nil {
		return err
	}

	displayPath := path
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if err := cfg.Repository.Check(); err != nil {
		warnings = append(warnings, err.Error())
	}
	if cfg.Repository.InsecureSkipVerify {
		warnings = append(warnings, "TLS certificate verification is disabled")
	}
	if cfg.Metrics.Textfile != "" && !cfg.Metrics.Enabled {
		warnings = append(warnings, "metrics.textfile is set but metrics are disabled")
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  Repository:   %s\n", cfg.Repository.URL)
	_, _ = fmt.Fprintf(out, "  Dataset:      %s\n", cfg.Repository.DatasetPID)
	_, _ = fmt.Fprintf(out, "  Concurrency:  %d\n", cfg.Upload.Concurrency)
	_, _ = fmt.Fprintf(out, "  Fixity:       %s\n", cfg.Upload.Fixity)
	if cfg.Journal.Enabled {
		_, _ = fmt.Fprintf(out, "  Journal:      %s\n", cfg.Journal.Type)
	}
	_, _ = fmt.Fprintf(out, "  Log level:    %s\n", cfg.Logging.Level)
	return nil
}
