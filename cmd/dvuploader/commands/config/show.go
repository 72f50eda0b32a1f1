package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/dvuploader/cmd/dvuploader/commands/cmdutil"
	"github.com/marmos91/dvuploader/internal/cli/output"
	"github.com/marmos91/dvuploader/pkg/config"
)

const maskedSecret = "********"

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective dvuploader configuration, after environment
variables and defaults are applied. Secrets are masked.

By default outputs YAML format. Use --output json for JSON.

Examples:
  # Show default config as YAML
  dvuploader config show

  # Show as JSON
  dvuploader config show --output json`,
	RunE: runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return err
	}

	if cfg.Repository.APIToken != "" {
		cfg.Repository.APIToken = maskedSecret
	}
	if cfg.Journal.Postgres.Password != "" {
		cfg.Journal.Postgres.Password = maskedSecret
	}

	format, err := output.ParseFormat(cmdutil.Flags.Output)
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
