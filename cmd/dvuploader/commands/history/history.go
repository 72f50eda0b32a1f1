// Package history implements the batch journal subcommands.
package history

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dvuploader/cmd/dvuploader/commands/cmdutil"
	"github.com/marmos91/dvuploader/pkg/journal"
)

// Cmd is the history subcommand.
var Cmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded batches",
	Long: `Inspect batches recorded in the journal.

The journal is written after every upload when journal.enabled is set.

Subcommands:
  list   List recorded batches
  show   Show the report of one batch
  prune  Delete old batches`,
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(pruneCmd)
}

// openJournal loads the configuration and opens the journal it names.
func openJournal() (*journal.Store, error) {
	cfg, err := cmdutil.LoadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Journal.Enabled {
		return nil, fmt.Errorf("journal is disabled (set journal.enabled: true)")
	}
	if err := cmdutil.InitLogger(cfg); err != nil {
		return nil, err
	}
	return journal.Open(&cfg.Journal.Config)
}
