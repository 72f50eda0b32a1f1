// Package cmdutil holds state and helpers shared by dvuploader subcommands.
package cmdutil

import (
	"errors"
	"io"
	"os"

	"github.com/marmos91/dvuploader/internal/cli/output"
	"github.com/marmos91/dvuploader/internal/logger"
	"github.com/marmos91/dvuploader/pkg/config"
	"github.com/marmos91/dvuploader/pkg/upload"
)

// GlobalFlags holds the persistent flag values of the root command.
type GlobalFlags struct {
	ConfigFile string
	Output     string
	NoColor    bool
	Verbose    bool
	Version    string
}

// Flags is populated by the root command before any subcommand runs.
var Flags = &GlobalFlags{Output: "table", Version: "dev"}

// ErrIncomplete is returned when a batch finished with failed files or was
// interrupted. The report has already been printed.
var ErrIncomplete = errors.New("batch incomplete")

// Exit codes.
const (
	ExitOK         = 0
	ExitError      = 1
	ExitIncomplete = 2
	ExitConfig     = 3
)

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrIncomplete):
		return ExitIncomplete
	case upload.IsConfigurationError(err):
		return ExitConfig
	default:
		return ExitError
	}
}

// LoadConfig loads the configuration named by --config, or the default path.
func LoadConfig() (*config.Config, error) {
	return config.Load(Flags.ConfigFile)
}

// InitLogger configures the global logger from cfg, honoring --verbose.
func InitLogger(cfg *config.Config) error {
	level := cfg.Logging.Level
	if Flags.Verbose {
		level = "DEBUG"
	}
	return logger.Init(logger.Config{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}

// GetPrinter returns a printer for the --output format writing to w.
func GetPrinter(w io.Writer) (*output.Printer, error) {
	format, err := output.ParseFormat(Flags.Output)
	if err != nil {
		return nil, err
	}
	return output.NewPrinter(w, format, colorEnabled(w)), nil
}

func colorEnabled(w io.Writer) bool {
	if Flags.NoColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && f == os.Stdout
}
