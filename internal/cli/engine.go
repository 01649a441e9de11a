package cli

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/linktrunc/internal/journal"
	"github.com/roach88/linktrunc/internal/observability"
	"github.com/roach88/linktrunc/internal/session"
	"github.com/roach88/linktrunc/internal/truncate"
)

const engineTracerName = "github.com/roach88/linktrunc/internal/truncate"

// engineRun bundles what one engine-backed command needs and releases it
// on close.
type engineRun struct {
	engine  *truncate.Engine
	session *session.Session
	tracing observability.Tracing
	logger  *slog.Logger
}

// startEngine dials the session, installs tracing and builds an engine
// configured from the resolved settings.
func (o *RootOptions) startEngine(cmd *cobra.Command) (*engineRun, error) {
	sess, err := o.Env.Dial(o.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to set up connection", err)
	}

	tr, err := observability.InitTracing(o.Config.Tracing.Enabled, cmd.ErrOrStderr())
	if err != nil {
		closeQuietly(o.Logger, "session", sess)
		return nil, WrapExitError(ExitCommandError, "failed to set up tracing", err)
	}

	eng := truncate.New(sess,
		truncate.WithPageSize(o.Config.Scan.PageSize),
		truncate.WithProgressInterval(o.Config.Scan.ProgressInterval),
		truncate.WithConcurrency(o.Config.Lookups.Concurrency),
		truncate.WithIgnoredSystemProjections(o.Config.SystemProjections.Ignore...),
		truncate.WithLogger(o.Logger),
		truncate.WithTracer(tr.Tracer(engineTracerName)),
	)
	return &engineRun{engine: eng, session: sess, tracing: tr, logger: o.Logger}, nil
}

func (r *engineRun) close(ctx context.Context) {
	if err := r.tracing.Shutdown(context.WithoutCancel(ctx)); err != nil {
		r.logger.Warn("flush spans failed", "error", err)
	}
	closeQuietly(r.logger, "session", r.session)
}

// errorCode names err for output: the engine code when there is one.
func errorCode(ctx context.Context, err error) string {
	if code := truncate.CodeOf(err); code != "" {
		return string(code)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return "CANCELLED"
	}
	return "INTERNAL"
}

// errorMessage returns the engine message without the code prefix.
func errorMessage(err error) string {
	var e *truncate.Error
	if errors.As(err, &e) {
		if e.Err != nil {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}
	return err.Error()
}

// runFromResult converts an engine result into a journal row.
func runFromResult(res *truncate.Result) (journal.Run, error) {
	consumers, err := json.Marshal(res.Consumers)
	if err != nil {
		return journal.Run{}, err
	}
	return journal.Run{
		Stream:                 res.Stream,
		RequestedStart:         res.RequestedStart,
		Start:                  res.Start,
		EndExclusive:           res.EndExclusive,
		PreviousTruncateBefore: res.PreviousTruncateBefore,
		Candidate:              res.Candidate,
		TruncateBefore:         res.TruncateBefore,
		Outcome:                string(res.Outcome),
		Committed:              res.Committed,
		Reason:                 res.Reason,
		Consumers:              consumers,
		PagesRead:              res.PagesRead,
		EventsExamined:         res.EventsExamined,
	}, nil
}

// recordRun appends res to the journal. Journal failures are logged and do
// not change the command's outcome. It returns the run id, if recorded.
func (o *RootOptions) recordRun(ctx context.Context, res *truncate.Result) string {
	j, err := o.openJournal()
	if err != nil {
		o.Logger.Warn("open journal failed", "path", o.Config.Journal.Path, "error", err)
		return ""
	}
	if j == nil {
		return ""
	}
	defer closeQuietly(o.Logger, "journal", j)

	run, err := runFromResult(res)
	if err != nil {
		o.Logger.Warn("encode run failed", "error", err)
		return ""
	}
	stored, err := j.Record(context.WithoutCancel(ctx), run)
	if err != nil {
		o.Logger.Warn("record run failed", "error", err)
		return ""
	}
	o.Logger.Debug("run recorded", "id", stored.ID, "seq", stored.Seq)
	return stored.ID
}

// writeMetrics writes the run to the configured textfile, if any.
func (o *RootOptions) writeMetrics(res *truncate.Result) {
	path := o.Config.Metrics.Textfile
	if path == "" {
		return
	}
	m := observability.NewMetrics()
	m.Observe(res, o.now())
	if err := m.WriteTextfile(path); err != nil {
		o.Logger.Warn("write metrics failed", "path", path, "error", err)
	}
}
