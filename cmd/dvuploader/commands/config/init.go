package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/dvuploader/internal/cli/prompt"
	"github.com/marmos91/dvuploader/pkg/checksum"
	"github.com/marmos91/dvuploader/pkg/config"
)

var (
	initForce       bool
	initInteractive bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a configuration file",
	Long: `Initialize a dvuploader configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/dvuploader/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  dvuploader config init

  # Answer a few questions about the repository first
  dvuploader config init --interactive

  # Force overwrite existing config
  dvuploader config init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
	initCmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "Prompt for repository settings")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil {
		if !initForce && !prompt.IsInteractive() {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
		ok, err := prompt.ConfirmWithForce(fmt.Sprintf("%s exists, overwrite", path), initForce)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	cfg := config.GetDefaultConfig()
	if initInteractive {
		if err := askRepository(cfg); err != nil {
			return err
		}
	}

	if err := config.SaveConfig(cfg, path); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", path)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Set repository.url and repository.dataset_pid")
	_, _ = fmt.Fprintf(out, "  2. Export your API token: export %s_REPOSITORY_API_TOKEN=...\n", config.EnvPrefix)
	_, _ = fmt.Fprintln(out, "  3. Upload with: dvuploader upload <path>...")
	return nil
}

func askRepository(cfg *config.Config) error {
	u, err := prompt.InputWithValidation("Repository URL", cfg.Repository.URL, func(s string) error {
		parsed, err := url.Parse(s)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("enter an absolute URL")
		}
		return nil
	})
	if err != nil {
		return err
	}
	cfg.Repository.URL = u

	pid, err := prompt.Input("Dataset PID (e.g. doi:10.5072/FK2/ABCDEF)", cfg.Repository.DatasetPID)
	if err != nil {
		return err
	}
	cfg.Repository.DatasetPID = pid

	fixity, err := prompt.Select("Fixity algorithm", []prompt.SelectOption{
		{Label: "MD5", Value: string(checksum.MD5), Description: "Repository default"},
		{Label: "SHA-1", Value: string(checksum.SHA1)},
		{Label: "SHA-256", Value: string(checksum.SHA256)},
		{Label: "SHA-512", Value: string(checksum.SHA512)},
	})
	if err != nil {
		return err
	}
	cfg.Upload.Fixity = fixity

	n, err := prompt.InputInt("Concurrent transfers", cfg.Upload.Concurrency, 1, 64)
	if err != nil {
		return err
	}
	cfg.Upload.Concurrency = n
	return nil
}
