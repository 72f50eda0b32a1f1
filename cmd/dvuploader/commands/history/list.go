package history

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/dvuploader/cmd/dvuploader/commands/cmdutil"
	"github.com/marmos91/dvuploader/internal/cli/output"
	"github.com/marmos91/dvuploader/pkg/journal"
)

var listFlags struct {
	limit   int
	dataset string
	failed  bool
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List recorded batches",
	Long: `List recorded batches, newest first.

Examples:
  # Last 20 batches
  dvuploader history list

  # Batches of one dataset that had failures
  dvuploader history list --dataset doi:10.5072/FK2/ABCDEF --failed`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listCmd.Flags().IntVarP(&listFlags.limit, "limit", "n", 20, "Maximum number of batches (0 for all)")
	listCmd.Flags().StringVar(&listFlags.dataset, "dataset", "", "Only batches of this dataset")
	listCmd.Flags().BoolVar(&listFlags.failed, "failed", false, "Only batches with failed files")
}

func runList(cmd *cobra.Command, args []string) error {
	printer, err := cmdutil.GetPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}

	store, err := openJournal()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	batches, err := store.List(cmd.Context(), journal.ListOptions{
		Limit:      listFlags.limit,
		DatasetPID: listFlags.dataset,
		FailedOnly: listFlags.failed,
	})
	if err != nil {
		return err
	}

	if len(batches) == 0 && printer.Format() == output.FormatTable {
		printer.Println("No batches recorded.")
		return nil
	}
	return printer.Print(output.HistoryTable(batches))
}
