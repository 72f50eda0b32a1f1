package history

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/dvuploader/cmd/dvuploader/commands/cmdutil"
	"github.com/marmos91/dvuploader/internal/cli/output"
)

var showAll bool

var showCmd = &cobra.Command{
	Use:   "show <batch-id>",
	Short: "Show the report of one batch",
	Long: `Show the report of a recorded batch. A unique prefix of the batch id
is enough.

Examples:
  dvuploader history show 3f2a9c1e
  dvuploader history show 3f2a9c1e --all-files=false -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	showCmd.Flags().BoolVar(&showAll, "all-files", true, "List every file, not only failures")
}

func runShow(cmd *cobra.Command, args []string) error {
	printer, err := cmdutil.GetPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}

	store, err := openJournal()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	record, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return output.PrintReport(printer, record.Result(), showAll)
}
