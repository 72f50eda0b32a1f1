package history

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dvuploader/cmd/dvuploader/commands/cmdutil"
	"github.com/marmos91/dvuploader/internal/cli/prompt"
)

var pruneFlags struct {
	olderThan string
	force     bool
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old batches",
	Long: `Delete batches that started before the given age.

Examples:
  # Keep the last 30 days
  dvuploader history prune --older-than 30d

  # Without confirmation
  dvuploader history prune --older-than 12h --force`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func init() {
	pruneCmd.Flags().StringVar(&pruneFlags.olderThan, "older-than", "30d", "Age of the batches to delete (e.g. 72h, 30d)")
	pruneCmd.Flags().BoolVarP(&pruneFlags.force, "force", "f", false, "Skip confirmation")
}

// parseAge parses a Go duration, also accepting a whole number of days ("30d").
func parseAge(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid age %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid age %q", s)
	}
	return d, nil
}

func runPrune(cmd *cobra.Command, args []string) error {
	age, err := parseAge(pruneFlags.olderThan)
	if err != nil {
		return err
	}
	printer, err := cmdutil.GetPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-age)
	ok, err := prompt.ConfirmWithForce(fmt.Sprintf("Delete batches started before %s", cutoff.Format(time.DateTime)), pruneFlags.force)
	if err != nil {
		return err
	}
	if !ok {
		printer.Println("Aborted.")
		return nil
	}

	store, err := openJournal()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	n, err := store.Prune(cmd.Context(), cutoff)
	if err != nil {
		return err
	}
	printer.Success(fmt.Sprintf("Pruned %d batch(es)", n))
	return nil
}
