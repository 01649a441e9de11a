package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// Execute runs the command tree and returns the process exit code. Errors
// not already written by a command are printed to stderr.
func Execute(ctx context.Context, cmd *cobra.Command, stderr io.Writer) int {
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		// Flag parsing and required flag checks fail before RunE.
		exitErr = WrapExitError(ExitCommandError, "invalid command", err)
	}
	if !exitErr.Silent {
		fmt.Fprintf(stderr, "Error: %v\n", exitErr)
	}
	return exitErr.Code
}
