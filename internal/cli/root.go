package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/linktrunc/internal/config"
	"github.com/roach88/linktrunc/internal/eventstore"
	"github.com/roach88/linktrunc/internal/journal"
	"github.com/roach88/linktrunc/internal/observability"
	"github.com/roach88/linktrunc/internal/session"
)

// RootOptions holds global flags and the state resolved from them before
// a subcommand runs.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	Env    Environment
	Config *config.Config
	Logger *slog.Logger
}

// Environment supplies the external resources commands use. Tests replace
// it to run commands against in-memory fakes.
type Environment struct {
	// Dial creates the session for one invocation. Handles connect lazily.
	Dial func(cfg *config.Config) (*session.Session, error)

	// OpenJournal opens the run journal.
	OpenJournal func(path string) (*journal.Journal, error)

	// Now is the wall clock used for metrics and relative times.
	Now func() time.Time
}

// DefaultEnvironment dials EventStoreDB over gRPC and HTTP.
func DefaultEnvironment() Environment {
	return Environment{
		Dial:        dialEventStore,
		OpenJournal: func(path string) (*journal.Journal, error) { return journal.Open(path) },
		Now:         time.Now,
	}
}

func dialEventStore(cfg *config.Config) (*session.Session, error) {
	if cfg.Connection == "" {
		return nil, fmt.Errorf("no connection string configured")
	}
	return session.New(session.Dialer{
		Store: func(context.Context) (eventstore.Store, error) {
			return eventstore.DialGRPC(cfg.Connection)
		},
		Subscriptions: func(context.Context) (eventstore.SubscriptionManager, error) {
			return eventstore.NewHTTPManager(cfg.HTTP.URL, cfg.HTTP.Username, cfg.HTTP.Password, cfg.HTTP.Timeout)
		},
		Projections: func(context.Context) (eventstore.ProjectionManager, error) {
			return eventstore.NewHTTPManager(cfg.HTTP.URL, cfg.HTTP.Username, cfg.HTTP.Password, cfg.HTTP.Timeout)
		},
	}), nil
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the linktrunc CLI.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWith(DefaultEnvironment())
}

// NewRootCommandWith creates the root command with the given environment.
func NewRootCommandWith(env Environment) *cobra.Command {
	opts := &RootOptions{Env: env}

	cmd := &cobra.Command{
		Use:   "linktrunc",
		Short: "linktrunc - safe truncation for EventStoreDB link streams",
		Long: `Find the point before which a $ce- or $et- link stream can be truncated
without losing any link a consumer still needs, and optionally write it as
the stream's $tb metadata.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.resolve(cmd)
		},
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (debug logging)")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file")
	pf.String("connection", "", "EventStoreDB gRPC connection string")
	pf.String("http-url", "", "EventStoreDB HTTP management URL")
	pf.String("http-user", "", "management API username")
	pf.String("http-pass", "", "management API password")
	pf.String("journal", "", "path to the run journal (empty string disables it)")
	pf.String("log-level", "", "log level (debug|info|warn|error)")
	pf.String("log-format", "", "log format (text|json)")

	cmd.AddCommand(NewFindCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

// resolve loads configuration and installs the default logger.
func (o *RootOptions) resolve(cmd *cobra.Command) error {
	cfg, err := config.Load(o.ConfigPath, cmd.Flags())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if o.Verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := observability.NewLogger(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to configure logging", err)
	}
	slog.SetDefault(logger)

	o.Config = cfg
	o.Logger = logger
	return nil
}

// formatter returns an OutputFormatter bound to the command's writers.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// now returns the environment clock, or time.Now.
func (o *RootOptions) now() time.Time {
	if o.Env.Now != nil {
		return o.Env.Now()
	}
	return time.Now()
}

// openJournal opens the configured journal. It returns nil when the
// journal is disabled.
func (o *RootOptions) openJournal() (*journal.Journal, error) {
	if o.Config.Journal.Path == "" || o.Env.OpenJournal == nil {
		return nil, nil
	}
	return o.Env.OpenJournal(o.Config.Journal.Path)
}

func closeQuietly(logger *slog.Logger, what string, c io.Closer) {
	if err := c.Close(); err != nil {
		logger.Warn("close failed", "resource", what, "error", err)
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
