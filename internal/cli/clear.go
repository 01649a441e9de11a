package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/linktrunc/internal/truncate"
)

// ClearOptions holds flags for the clear command.
type ClearOptions struct {
	*RootOptions
	Stream string
}

// ClearOutput is the clear command payload.
type ClearOutput struct {
	Stream   string `json:"stream"`
	Cleared  bool   `json:"cleared"`
	Previous *int64 `json:"previous_truncate_before,omitempty"`
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClearOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the truncate-before value of a link stream",
		Long: `Remove $tb from a link stream's metadata, keeping every other metadata key.
Links that were already scavenged do not come back.

Examples:
  linktrunc clear --stream '$ce-orders'`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Stream, "stream", "", "link stream (required)")
	_ = cmd.MarkFlagRequired("stream")

	return cmd
}

func runClear(opts *ClearOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	f := opts.formatter(cmd)

	run, err := opts.startEngine(cmd)
	if err != nil {
		return err
	}
	defer run.close(ctx)

	prev, cleared, err := run.engine.Clear(ctx, opts.Stream)
	if err != nil {
		_ = f.Error(errorCode(ctx, err), errorMessage(err), nil)
		return reported(WrapExitError(exitCodeFor(err), "clear failed", err))
	}

	out := ClearOutput{Stream: opts.Stream, Cleared: cleared}
	if cleared {
		out.Previous = &prev
	}
	return f.Success(out)
}

// String renders the result for text output.
func (o ClearOutput) String() string {
	if !o.Cleared {
		return fmt.Sprintf("%s has no truncate-before value", o.Stream)
	}
	return fmt.Sprintf("Cleared truncate-before %s on %s", humanize.Comma(*o.Previous), o.Stream)
}

// exitCodeFor maps an engine error to an exit code.
func exitCodeFor(err error) int {
	if truncate.IsInvalid(err) {
		return ExitCommandError
	}
	return ExitFailure
}
