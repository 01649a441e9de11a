// Command linktrunc finds and commits safe truncation points for
// EventStoreDB $ce- and $et- link streams.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/linktrunc/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, cli.NewRootCommand(), os.Stderr)
	stop()
	os.Exit(code)
}
