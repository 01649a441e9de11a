package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/linktrunc/internal/journal"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	Stream string
}

// ShowOutput is the show command payload.
type ShowOutput struct {
	Stream         string       `json:"stream"`
	TruncateBefore *int64       `json:"truncate_before,omitempty"`
	LastCommitted  *journal.Run `json:"last_committed,omitempty"`

	now time.Time
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current truncate-before value of a link stream",
		Long: `Show the $tb value currently stored in a link stream's metadata, and the
last value this tool committed for it according to the run journal.

Examples:
  linktrunc show --stream '$ce-orders'
  linktrunc show --stream '$ce-orders' --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Stream, "stream", "", "link stream (required)")
	_ = cmd.MarkFlagRequired("stream")

	return cmd
}

func runShow(opts *ShowOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	f := opts.formatter(cmd)

	run, err := opts.startEngine(cmd)
	if err != nil {
		return err
	}
	defer run.close(ctx)

	tb, ok, err := run.engine.Current(ctx, opts.Stream)
	if err != nil {
		_ = f.Error(errorCode(ctx, err), errorMessage(err), nil)
		return reported(WrapExitError(exitCodeFor(err), "show failed", err))
	}

	out := ShowOutput{Stream: opts.Stream, now: opts.now()}
	if ok {
		out.TruncateBefore = &tb
	}

	j, err := opts.openJournal()
	if err != nil {
		opts.Logger.Warn("open journal failed", "path", opts.Config.Journal.Path, "error", err)
	} else if j != nil {
		defer closeQuietly(opts.Logger, "journal", j)
		last, found, err := j.LastCommitted(ctx, opts.Stream)
		if err != nil {
			opts.Logger.Warn("read journal failed", "error", err)
		} else if found {
			out.LastCommitted = &last
		}
	}

	return f.Success(out)
}

// String renders the stream state for text output.
func (o ShowOutput) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Stream:           %s\n", o.Stream)
	if o.TruncateBefore != nil {
		fmt.Fprintf(&b, "Truncate before:  %s\n", humanize.Comma(*o.TruncateBefore))
	} else {
		b.WriteString("Truncate before:  not set\n")
	}
	if o.LastCommitted != nil {
		fmt.Fprintf(&b, "Last committed:   %s (%s)\n",
			optional(o.LastCommitted.TruncateBefore),
			humanize.RelTime(o.LastCommitted.RecordedAt, o.now, "ago", "from now"))
	}
	return strings.TrimRight(b.String(), "\n")
}
