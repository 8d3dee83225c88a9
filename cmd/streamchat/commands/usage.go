package commands

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/aschepis/backscratcher/streamchat/usage"
	"github.com/spf13/cobra"
)

// newUsageCmd creates the `streamchat usage` command.
func newUsageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show token usage and cost",
		Long: `Prints token totals and cost per model and metric, or the individual
records of one conversation.

Examples:
  streamchat usage --since 24h
  streamchat usage --conversation trip-planning`,
		Args: cobra.NoArgs,
		RunE: runUsage,
	}

	cmd.Flags().Duration("since", 0, "only count usage recorded within this duration (0 counts everything)")
	cmd.Flags().String("conversation", "", "list the records of this conversation id")
	return cmd
}

func runUsage(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	store, err := a.usageStore(ctx)
	if err != nil {
		return err
	}

	if id, _ := cmd.Flags().GetString("conversation"); id != "" {
		records, err := store.Records(ctx, id)
		if err != nil {
			return err
		}
		return printRecords(cmd.OutOrStdout(), records)
	}

	var since time.Time
	if d, _ := cmd.Flags().GetDuration("since"); d > 0 {
		since = time.Now().Add(-d)
	}
	totals, err := store.Totals(ctx, since)
	if err != nil {
		return err
	}
	return printTotals(cmd.OutOrStdout(), totals)
}

func printTotals(w io.Writer, totals []usage.Total) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tMETRIC\tQUANTITY\tCOST") //nolint:errcheck // flushed below
	var cost float64
	for _, t := range totals {
		fmt.Fprintf(tw, "%s\t%s\t%d\t$%.6f\n", t.Model, t.Metric, t.Quantity, t.Cost) //nolint:errcheck // flushed below
		cost += t.Cost
	}
	fmt.Fprintf(tw, "\t\t\t$%.6f\n", cost) //nolint:errcheck // flushed below
	return tw.Flush()
}

func printRecords(w io.Writer, records []usage.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tMODEL\tMETRIC\tQUANTITY") //nolint:errcheck // flushed below
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", r.CreatedAt.Format(time.RFC3339), r.Model, r.Metric, r.Quantity) //nolint:errcheck // flushed below
	}
	return tw.Flush()
}
