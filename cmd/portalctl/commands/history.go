package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/orcd/portalctl/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		historyPath string
		limit       int
	)

	cmd := &cobra.Command{
		Use:     "history",
		Short:   "List past deployment runs",
		Example: `  portalctl history --limit 10`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := stores.NewHistoryStore(stores.Config{Path: historyPath})
			if err != nil {
				return err
			}
			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to open run history: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(ctx); err != nil {
				return err
			}

			records, err := store.ListRuns(ctx, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "no runs recorded")
				return nil
			}

			for _, r := range records {
				mode := ""
				if r.DryRun {
					mode = "  dry-run"
				}
				fmt.Fprintf(out, "%s  %s  target=%s  selection=%s  %s%s\n",
					r.StartedAt.Format(time.RFC3339), shortID(r.ID), r.Target, r.Selection, r.Status, mode)

				if verbose {
					results, err := r.PhaseResults()
					if err != nil {
						return err
					}
					for _, res := range results {
						fmt.Fprintf(out, "    phase %d %-24s %s\n", res.Number, res.Name, res.Outcome)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&historyPath, "history", defaultHistoryPath(), "run history database path")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")

	return cmd
}

// shortID abbreviates a run ID for the listing. IDs are UUIDs in
// practice, but a hand-edited database must not crash the listing.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
