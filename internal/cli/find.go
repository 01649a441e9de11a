package cli

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/linktrunc/internal/truncate"
)

// FindOptions holds flags for the find command.
type FindOptions struct {
	*RootOptions
	Stream string
	Start  int64
	Commit bool
}

// FindOutput is the find command payload.
type FindOutput struct {
	*truncate.Result
	RunID string `json:"run_id,omitempty"`
}

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FindOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "find",
		Short: "Find the safe truncation point of a link stream",
		Long: `Find the earliest point a $ce- or $et- link stream can be truncated before.

Every persistent subscription on the stream and every continuous projection
that reads it bounds the search. The leading run of dead links (links whose
target event has been deleted) below that bound is the truncatable prefix.
System projections must have processed the chosen link before it is safe.

With --commit the result is written as the stream's $tb metadata, guarded by
the metadata version read at the start of the run.

Exit codes:
  0 - Safe point found, nothing to truncate, or blocked by a consumer
  1 - Run failed (consistency violation, write conflict, transport)
  2 - Command error (bad flags, ineligible stream, bad config)

Examples:
  linktrunc find --stream '$ce-orders'
  linktrunc find --stream '$et-OrderPlaced' --start 10000 --commit
  linktrunc find --stream '$ce-orders' --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFind(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Stream, "stream", "", "link stream to truncate (required)")
	_ = cmd.MarkFlagRequired("stream")
	cmd.Flags().Int64Var(&opts.Start, "start", 0, "offset to start scanning from")
	cmd.Flags().BoolVar(&opts.Commit, "commit", false, "write the truncate-before value")
	cmd.Flags().Int("page-size", 0, "links read per page while scanning")
	cmd.Flags().Int("concurrency", 0, "concurrent checkpoint lookups")
	cmd.Flags().StringSlice("ignore-system", nil, "system projections to leave out of the gate")
	cmd.Flags().String("metrics-textfile", "", "write run metrics to this Prometheus textfile")
	cmd.Flags().Bool("trace", false, "export spans to stderr")

	return cmd
}

func runFind(opts *FindOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	f := opts.formatter(cmd)

	run, err := opts.startEngine(cmd)
	if err != nil {
		return err
	}
	defer run.close(ctx)

	f.VerboseLog("Searching %s from offset %d (commit=%t)", opts.Stream, opts.Start, opts.Commit)

	res, runErr := run.engine.FindSafePoint(ctx, truncate.Request{
		Stream: opts.Stream,
		Start:  opts.Start,
		Commit: opts.Commit,
	})
	if truncate.IsInvalid(runErr) {
		_ = f.Error(errorCode(ctx, runErr), errorMessage(runErr), nil)
		return reported(WrapExitError(ExitCommandError, "invalid request", runErr))
	}

	out := FindOutput{Result: res}
	out.RunID = opts.recordRun(ctx, res)
	opts.writeMetrics(res)

	switch {
	case runErr == nil:
		return f.Success(out)
	case truncate.IsBlocked(runErr):
		return f.Blocked(out, errorCode(ctx, runErr), errorMessage(runErr))
	default:
		_ = f.Error(errorCode(ctx, runErr), errorMessage(runErr), out)
		return reported(WrapExitError(ExitFailure, "find failed", runErr))
	}
}

// String renders the run for text output.
func (o FindOutput) String() string {
	r := o.Result
	var b strings.Builder

	fmt.Fprintf(&b, "Stream:           %s\n", r.Stream)
	if r.Start != r.RequestedStart {
		fmt.Fprintf(&b, "Start:            %s (requested %s)\n", humanize.Comma(r.Start), humanize.Comma(r.RequestedStart))
	} else {
		fmt.Fprintf(&b, "Start:            %s\n", humanize.Comma(r.Start))
	}
	fmt.Fprintf(&b, "Previous $tb:     %s\n", optional(r.PreviousTruncateBefore))
	fmt.Fprintf(&b, "Scan bound:       %s\n", optional(r.EndExclusive))
	fmt.Fprintf(&b, "Candidate:        %s\n", optional(r.Candidate))

	tb := optional(r.TruncateBefore)
	switch {
	case r.TruncateBefore == nil:
	case r.Committed:
		tb += " (committed)"
	default:
		tb += " (not committed)"
	}
	fmt.Fprintf(&b, "Truncate before:  %s\n", tb)
	fmt.Fprintf(&b, "Outcome:          %s\n", r.Outcome)
	fmt.Fprintf(&b, "Scanned:          %s events in %s pages\n", humanize.Comma(r.EventsExamined), humanize.Comma(int64(r.PagesRead)))

	if len(r.Consumers) > 0 {
		b.WriteString("Consumers:\n")
		for _, c := range r.Consumers {
			relevance := ""
			if !c.Relevant {
				relevance = " (not reading this stream)"
			}
			fmt.Fprintf(&b, "  %-18s %-30s %s%s\n", c.Kind, c.Name, c.Checkpoint, relevance)
		}
	}
	if o.RunID != "" {
		fmt.Fprintf(&b, "Run:              %s\n", o.RunID)
	}
	return strings.TrimRight(b.String(), "\n")
}

func optional(v *int64) string {
	if v == nil {
		return "-"
	}
	return humanize.Comma(*v)
}
