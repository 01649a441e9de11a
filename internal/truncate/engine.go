// Package truncate decides where a link stream can be truncated.
//
// The engine gathers every consumer position on the stream, bounds a scan
// for the leading run of dead links by the most conservative of them,
// re-validates the candidate, checks that the system projections have
// moved past it, and optionally writes the new truncate-before value with
// an optimistic concurrency check.
package truncate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/linktrunc/internal/checkpoint"
	"github.com/roach88/linktrunc/internal/eventstore"
	"github.com/roach88/linktrunc/internal/provider"
	"github.com/roach88/linktrunc/internal/scanner"
	"github.com/roach88/linktrunc/internal/stream"
)

const tracerName = "github.com/roach88/linktrunc/internal/truncate"

// DefaultConcurrency bounds concurrent checkpoint lookups.
const DefaultConcurrency = 8

// Handles gives the engine access to the store and the management APIs.
// session.Session implements it.
type Handles interface {
	Store(ctx context.Context) (eventstore.Store, error)
	Subscriptions(ctx context.Context) (eventstore.SubscriptionManager, error)
	Projections(ctx context.Context) (eventstore.ProjectionManager, error)
}

// Engine computes safe truncation points.
type Engine struct {
	handles          Handles
	pageSize         int
	progressInterval time.Duration
	concurrency      int
	ignored          map[string]bool
	logger           *slog.Logger
	tracer           trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithPageSize sets the scan page size.
func WithPageSize(n int) Option {
	return func(e *Engine) { e.pageSize = n }
}

// WithProgressInterval sets how often scan progress is logged.
func WithProgressInterval(d time.Duration) Option {
	return func(e *Engine) { e.progressInterval = d }
}

// WithConcurrency bounds concurrent checkpoint lookups.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithIgnoredSystemProjections excludes system projections from the gate.
// Use for system projections that are disabled on the server.
func WithIgnoredSystemProjections(names ...string) Option {
	return func(e *Engine) {
		for _, n := range names {
			e.ignored[n] = true
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer sets the tracer used for run spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// New creates an engine.
func New(h Handles, opts ...Option) *Engine {
	e := &Engine{
		handles:          h,
		pageSize:         scanner.DefaultPageSize,
		progressInterval: scanner.DefaultProgressInterval,
		concurrency:      DefaultConcurrency,
		ignored:          make(map[string]bool),
		logger:           slog.Default(),
		tracer:           otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FindSafePoint runs the decision procedure for one stream. The returned
// Result is never nil. A blocked run returns an error for which IsBlocked
// is true.
func (e *Engine) FindSafePoint(ctx context.Context, req Request) (res *Result, err error) {
	ctx, span := e.tracer.Start(ctx, "truncate.FindSafePoint", trace.WithAttributes(
		attribute.String("stream", req.Stream),
		attribute.Int64("start", req.Start),
		attribute.Bool("commit", req.Commit),
	))
	res = &Result{
		Stream:         req.Stream,
		RequestedStart: req.Start,
		Start:          req.Start,
		Consumers:      []Consumer{},
	}
	defer func() { e.finish(span, res, err) }()

	if err := validate(req.Stream); err != nil {
		return res, err
	}
	if req.Start < 0 {
		return res, newError(ErrCodeInvalidRequest, req.Stream, fmt.Sprintf("start must not be negative, got %d", req.Start), nil)
	}

	store, err := e.handles.Store(ctx)
	if err != nil {
		return res, newError(ErrCodeTransport, req.Stream, "connect to store", err)
	}

	md, err := store.GetMetadata(ctx, req.Stream)
	if err != nil {
		return res, e.transport(req.Stream, "read stream metadata", err)
	}
	if tb, ok := md.TruncateBefore(); ok {
		res.PreviousTruncateBefore = int64Ptr(tb)
		if tb > res.Start {
			res.Start = tb
		}
	}
	e.logger.Info("looking for safe truncation point", "stream", req.Stream, "start", res.Start)

	b, err := e.subscriptionBound(ctx, store, res)
	if err != nil {
		return res, err
	}
	if b.unknown {
		return res, newError(ErrCodeUnknownCheckpoint, req.Stream, "persistent subscription checkpoint unknown", nil)
	}

	projections, err := e.projectionBound(ctx, store, res, &b)
	if err != nil {
		return res, err
	}
	if b.unknown {
		return res, newError(ErrCodeUnknownCheckpoint, req.Stream, "projection checkpoint unknown", nil)
	}

	sc := scanner.New(store,
		scanner.WithPageSize(e.pageSize),
		scanner.WithProgressInterval(e.progressInterval),
		scanner.WithLogger(e.logger),
	)

	end, err := e.endBound(ctx, sc, res, b)
	if err != nil {
		return res, err
	}

	candidate, found, err := e.scan(ctx, sc, res, end)
	if err != nil {
		return res, err
	}
	if !found {
		res.Outcome = OutcomeNothingToTruncate
		e.logger.Info("nothing to truncate", "stream", req.Stream, "start", res.Start)
		return res, nil
	}

	if candidate < res.Start || candidate >= end {
		return res, newError(ErrCodeConsistency, req.Stream,
			fmt.Sprintf("candidate %d outside scanned range [%d, %d)", candidate, res.Start, end), nil)
	}

	link, err := e.revalidate(ctx, store, req.Stream, candidate)
	if err != nil {
		return res, err
	}

	if err := e.checkSystemProjections(ctx, store, res, projections, link); err != nil {
		return res, err
	}

	tb := candidate + 1
	res.Candidate = int64Ptr(candidate)
	res.TruncateBefore = int64Ptr(tb)
	res.Outcome = OutcomeSafePoint
	e.logger.Info("safe truncation point found", "stream", req.Stream, "candidate", candidate, "truncate_before", tb)

	if !req.Commit {
		return res, nil
	}
	if err := e.commit(ctx, store, res, md, tb); err != nil {
		return res, err
	}
	return res, nil
}

// Current returns the truncate-before value stored for the stream.
func (e *Engine) Current(ctx context.Context, name string) (int64, bool, error) {
	if err := validate(name); err != nil {
		return 0, false, err
	}
	store, err := e.handles.Store(ctx)
	if err != nil {
		return 0, false, newError(ErrCodeTransport, name, "connect to store", err)
	}
	md, err := store.GetMetadata(ctx, name)
	if err != nil {
		return 0, false, e.transport(name, "read stream metadata", err)
	}
	tb, ok := md.TruncateBefore()
	return tb, ok, nil
}

// Clear removes the truncate-before value, keeping every other metadata
// key. It returns the value that was removed.
func (e *Engine) Clear(ctx context.Context, name string) (int64, bool, error) {
	ctx, span := e.tracer.Start(ctx, "truncate.Clear", trace.WithAttributes(attribute.String("stream", name)))
	defer span.End()

	if err := validate(name); err != nil {
		return 0, false, err
	}
	store, err := e.handles.Store(ctx)
	if err != nil {
		return 0, false, newError(ErrCodeTransport, name, "connect to store", err)
	}
	md, err := store.GetMetadata(ctx, name)
	if err != nil {
		return 0, false, e.transport(name, "read stream metadata", err)
	}
	tb, ok := md.TruncateBefore()
	if !ok {
		return 0, false, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	if err := store.SetMetadata(ctx, name, md.Version, md.WithoutTruncateBefore()); err != nil {
		if errors.Is(err, eventstore.ErrWrongExpectedVersion) {
			return 0, false, newError(ErrCodeWriteConflict, name, "stream metadata changed concurrently", err)
		}
		return 0, false, e.transport(name, "write stream metadata", err)
	}
	e.logger.Info("cleared truncate-before", "stream", name, "previous", tb)
	return tb, true, nil
}

// bound is the running minimum of consumer positions. Direct and Logical
// positions are kept apart because they cannot be compared.
type bound struct {
	direct  checkpoint.Checkpoint
	logical checkpoint.Checkpoint
	unknown bool
}

func newBound() bound {
	return bound{direct: checkpoint.NotApplicable, logical: checkpoint.NotApplicable}
}

func (b *bound) add(c checkpoint.Checkpoint) {
	switch c.Kind() {
	case checkpoint.KindUnknown:
		b.unknown = true
	case checkpoint.KindDirect:
		b.direct, _ = checkpoint.Min(b.direct, c)
	case checkpoint.KindLogical:
		b.logical, _ = checkpoint.Min(b.logical, c)
	}
}

func (e *Engine) subscriptionBound(ctx context.Context, store eventstore.Store, res *Result) (bound, error) {
	ctx, span := e.tracer.Start(ctx, "truncate.subscriptions")
	defer span.End()

	b := newBound()
	mgr, err := e.handles.Subscriptions(ctx)
	if err != nil {
		e.logger.Warn("subscription manager unavailable", "stream", res.Stream, "error", err)
		b.unknown = true
		return b, nil
	}
	subs, err := mgr.ListSubscriptions(ctx, res.Stream)
	if err != nil {
		e.logger.Warn("could not list persistent subscriptions", "stream", res.Stream, "error", err)
		b.unknown = true
		return b, nil
	}

	cps, err := e.collect(ctx, len(subs), func(ctx context.Context, i int) checkpoint.Checkpoint {
		return provider.NewPersistentSubscription(subs[i].Group, store, e.logger).CheckpointForStream(ctx, res.Stream)
	})
	if err != nil {
		return b, err
	}
	for i, cp := range cps {
		e.logger.Info("subscription checkpoint", "stream", res.Stream, "group", subs[i].Group, "checkpoint", cp.String())
		res.observe(ConsumerSubscription, subs[i].Group, cp, true)
		b.add(cp)
	}
	e.logger.Info("minimum subscription checkpoint", "stream", res.Stream, "checkpoint", b.direct.String())
	return b, nil
}

// projectionBound folds the relevant user projections into b and returns
// the full projection list for the system projection gate.
func (e *Engine) projectionBound(ctx context.Context, store eventstore.Store, res *Result, b *bound) ([]eventstore.ProjectionInfo, error) {
	ctx, span := e.tracer.Start(ctx, "truncate.projections")
	defer span.End()

	mgr, err := e.handles.Projections(ctx)
	if err != nil {
		e.logger.Warn("projection manager unavailable", "stream", res.Stream, "error", err)
		b.unknown = true
		return nil, nil
	}
	all, err := mgr.ListContinuous(ctx)
	if err != nil {
		e.logger.Warn("could not list projections", "stream", res.Stream, "error", err)
		b.unknown = true
		return nil, nil
	}

	var user []eventstore.ProjectionInfo
	for _, p := range all {
		if !p.IsSystem() {
			user = append(user, p)
		}
	}

	relevant := make([]bool, len(user))
	cps, err := e.collect(ctx, len(user), func(ctx context.Context, i int) checkpoint.Checkpoint {
		name := user[i].Name
		query, err := mgr.Query(ctx, name)
		if err != nil {
			e.logger.Warn("could not load projection query", "projection", name, "error", err)
			relevant[i] = true
			return checkpoint.Unknown
		}
		if !provider.IsRelevant(query, res.Stream) {
			return checkpoint.NotApplicable
		}
		relevant[i] = true
		return provider.NewProjection(name, store, e.logger).CheckpointForStream(ctx, res.Stream)
	})
	if err != nil {
		return nil, err
	}
	for i, cp := range cps {
		res.observe(ConsumerProjection, user[i].Name, cp, relevant[i])
		if !relevant[i] {
			continue
		}
		e.logger.Info("projection checkpoint", "stream", res.Stream, "projection", user[i].Name, "checkpoint", cp.String())
		b.add(cp)
	}
	return all, nil
}

// endBound turns the folded consumer positions into an exclusive scan
// bound. A logical position is located on the stream by the first link at
// or past it.
func (e *Engine) endBound(ctx context.Context, sc *scanner.Scanner, res *Result, b bound) (int64, error) {
	end := scanner.Unbounded
	if off, ok := b.direct.Offset(); ok {
		end = off
	}
	if commit, prepare, ok := b.logical.Position(); ok {
		off, found, err := sc.FirstAtOrAfter(ctx, res.Stream, res.Start, commit, prepare)
		if err != nil {
			return 0, e.transport(res.Stream, "locate projection position", err)
		}
		if found && off < end {
			end = off
		}
	}
	if end != scanner.Unbounded {
		res.EndExclusive = int64Ptr(end)
	}
	e.logger.Info("scan bound", "stream", res.Stream, "start", res.Start, "end_exclusive", boundString(end))
	return end, nil
}

func (e *Engine) scan(ctx context.Context, sc *scanner.Scanner, res *Result, end int64) (int64, bool, error) {
	ctx, span := e.tracer.Start(ctx, "truncate.scan")
	defer span.End()

	sr, err := sc.Scan(ctx, res.Stream, res.Start, end)
	res.PagesRead = sr.Pages
	res.EventsExamined = sr.Examined
	span.SetAttributes(attribute.Int("pages", sr.Pages), attribute.Int64("examined", sr.Examined))
	if err != nil {
		return 0, false, e.transport(res.Stream, "scan", err)
	}
	return sr.Offset, sr.Found, nil
}

// revalidate re-reads the candidate and confirms it is still dead.
func (e *Engine) revalidate(ctx context.Context, store eventstore.Store, name string, candidate int64) (eventstore.ResolvedEvent, error) {
	page, err := store.ReadForward(ctx, name, candidate, 1, true)
	if err != nil {
		return eventstore.ResolvedEvent{}, e.transport(name, "re-read candidate", err)
	}
	if len(page.Events) == 0 || page.Events[0].Offset != candidate {
		return eventstore.ResolvedEvent{}, newError(ErrCodeConsistency, name,
			fmt.Sprintf("candidate %d is no longer readable", candidate), nil)
	}
	ev := page.Events[0]
	if !ev.IsDead() {
		return eventstore.ResolvedEvent{}, newError(ErrCodeConsistency, name,
			fmt.Sprintf("candidate %d resolves to a live %s event", candidate, ev.TargetType()), nil)
	}
	return ev, nil
}

// checkSystemProjections requires every system projection with a global
// position to be at or past the candidate's position.
func (e *Engine) checkSystemProjections(ctx context.Context, store eventstore.Store, res *Result, all []eventstore.ProjectionInfo, link eventstore.ResolvedEvent) error {
	ctx, span := e.tracer.Start(ctx, "truncate.systemProjections")
	defer span.End()

	lm, err := eventstore.ParseLinkMetadata(link.LinkMetadata())
	if err != nil {
		return newError(ErrCodeConsistency, res.Stream,
			fmt.Sprintf("candidate %d has no link position", link.Offset), err)
	}

	var system []eventstore.ProjectionInfo
	for _, p := range all {
		if p.IsSystem() && !e.ignored[p.Name] {
			system = append(system, p)
		}
	}

	cps, err := e.collect(ctx, len(system), func(ctx context.Context, i int) checkpoint.Checkpoint {
		return provider.NewProjection(system[i].Name, store, e.logger).CheckpointForStream(ctx, res.Stream)
	})
	if err != nil {
		return err
	}

	for i, cp := range cps {
		name := system[i].Name
		res.observe(ConsumerSystemProjection, name, cp, true)
		e.logger.Info("system projection checkpoint", "projection", name, "checkpoint", cp.String())

		switch cp.Kind() {
		case checkpoint.KindUnknown:
			return newError(ErrCodeUnknownCheckpoint, res.Stream,
				fmt.Sprintf("checkpoint for %s is unknown, it may be behind %d/%d", name, lm.CommitPosition, lm.PreparePosition), nil)
		case checkpoint.KindLogical:
			if !cp.AtLeast(lm.CommitPosition, lm.PreparePosition) {
				return newError(ErrCodeSystemProjectionBehind, res.Stream,
					fmt.Sprintf("%s at %s is behind %d/%d", name, cp, lm.CommitPosition, lm.PreparePosition), nil)
			}
		}
	}
	return nil
}

func (e *Engine) commit(ctx context.Context, store eventstore.Store, res *Result, md eventstore.StreamMetadata, tb int64) error {
	ctx, span := e.tracer.Start(ctx, "truncate.commit", trace.WithAttributes(attribute.Int64("truncate_before", tb)))
	defer span.End()

	if prev, ok := md.TruncateBefore(); ok && tb <= prev {
		return newError(ErrCodeConsistency, res.Stream,
			fmt.Sprintf("refusing to move truncate-before from %d to %d", prev, tb), nil)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if err := store.SetMetadata(ctx, res.Stream, md.Version, md.WithTruncateBefore(tb)); err != nil {
		if errors.Is(err, eventstore.ErrWrongExpectedVersion) {
			return newError(ErrCodeWriteConflict, res.Stream, "stream metadata changed concurrently", err)
		}
		return e.transport(res.Stream, "write stream metadata", err)
	}
	res.Committed = true
	e.logger.Info("truncate-before committed", "stream", res.Stream, "truncate_before", tb)
	return nil
}

// collect runs fn for 0..n-1 with bounded concurrency. Results keep input
// order; the fold over them is order independent anyway.
func (e *Engine) collect(ctx context.Context, n int, fn func(context.Context, int) checkpoint.Checkpoint) ([]checkpoint.Checkpoint, error) {
	out := make([]checkpoint.Checkpoint, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = fn(gctx, i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// transport wraps a store failure. Cancellation passes through unwrapped
// so callers can tell it apart.
func (e *Engine) transport(name, op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return newError(ErrCodeTransport, name, op, err)
}

func (e *Engine) finish(span trace.Span, res *Result, err error) {
	if err != nil {
		if IsBlocked(err) {
			res.Outcome = OutcomeBlocked
		} else {
			res.Outcome = OutcomeFailed
			span.SetStatus(codes.Error, err.Error())
		}
		res.Reason = err.Error()
		span.RecordError(err)
		e.logger.Info("no safe truncation point", "stream", res.Stream, "outcome", res.Outcome, "reason", res.Reason)
	}
	span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
	if res.TruncateBefore != nil {
		span.SetAttributes(attribute.Int64("truncate_before", *res.TruncateBefore))
	}
	span.End()
}

func validate(name string) error {
	if !stream.IsTruncatable(name) {
		return newError(ErrCodeIneligibleStream, name, "only $ce- and $et- streams can be truncated", nil)
	}
	return nil
}

func boundString(end int64) string {
	if end == scanner.Unbounded {
		return "unbounded"
	}
	return fmt.Sprintf("%d", end)
}
