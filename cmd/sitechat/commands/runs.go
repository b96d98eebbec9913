package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/sitechat-go/internal/logging"
)

// NewRunsCmd constructs the `sitechat runs` command, which lists recent
// ingestion runs from the SQLite ledger.
func NewRunsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent ingestion runs",
		Long: `List the most recent ingestion runs recorded in the run ledger
(~/.sitechat/runs.db, or SITECHAT_RUNS_DB).

Examples:
  sitechat runs
  sitechat runs --limit 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()

			runs := openRunLog(log)
			if runs == nil {
				return fmt.Errorf("runs: ledger is disabled or unavailable")
			}
			defer func() { _ = runs.Close() }()

			recent, err := runs.Recent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("runs: %w", err)
			}
			if len(recent) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTARTED\tTRIGGER\tSECTIONS\tWINDOW\tPROCESSED\tSKIPPED\tCHUNKS\tNEXT\tERROR")
			for _, r := range recent {
				next := "done"
				if r.NextOffset != nil {
					next = fmt.Sprint(*r.NextOffset)
				}
				sections := r.Sections
				if r.URL != "" {
					sections = r.URL
				} else if sections == "" {
					sections = "all"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d+%d/%d\t%d\t%d\t%d\t%s\t%s\n",
					r.ID,
					r.StartedAt.Local().Format(time.DateTime),
					r.Trigger,
					sections,
					r.Offset, r.Limit, r.Total,
					r.Processed, r.Skipped, r.Chunks,
					next,
					r.Error,
				)
			}
			if err := tw.Flush(); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")

	return cmd
}
