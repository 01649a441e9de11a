package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/linktrunc/internal/journal"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Stream string
	Limit  int
}

// HistoryOutput is the history command payload.
type HistoryOutput struct {
	Runs []journal.Run `json:"runs"`

	now time.Time
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs from the journal",
		Long: `List runs recorded in the local journal, newest first.

Examples:
  linktrunc history
  linktrunc history --stream '$ce-orders' --limit 5
  linktrunc history --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Stream, "stream", "", "only runs for this stream")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs (0 for all)")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	f := opts.formatter(cmd)

	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid limit %d", opts.Limit))
	}

	j, err := opts.openJournal()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	if j == nil {
		return NewExitError(ExitCommandError, "journal is disabled: set journal.path or --journal")
	}
	defer closeQuietly(opts.Logger, "journal", j)

	runs, err := j.List(ctx, journal.ListOptions{Stream: opts.Stream, Limit: opts.Limit})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list runs", err)
	}

	return f.Success(HistoryOutput{Runs: runs, now: opts.now()})
}

// String renders the runs as a table for text output.
func (o HistoryOutput) String() string {
	if len(o.Runs) == 0 {
		return "No runs recorded."
	}

	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.SeparateColumns = false
	tbl.Style().Options.DrawBorder = false

	tbl.AppendHeader(table.Row{"Seq", "Recorded", "Stream", "Outcome", "Start", "Candidate", "Truncate Before", "Committed"})
	for _, r := range o.Runs {
		tbl.AppendRow(table.Row{
			r.Seq,
			humanize.RelTime(r.RecordedAt, o.now, "ago", "from now"),
			r.Stream,
			r.Outcome,
			humanize.Comma(r.Start),
			optional(r.Candidate),
			optional(r.TruncateBefore),
			yesNo(r.Committed),
		})
	}
	tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d runs", len(o.Runs))})

	return tbl.Render()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
