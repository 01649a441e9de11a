package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/linktrunc/internal/testutil"
	"github.com/roach88/linktrunc/internal/truncate"
)

// Harness holds the store and engine for one scenario.
type Harness struct {
	store  *testutil.Store
	engine *truncate.Engine
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory store.
//
// Execution flow:
// 1. Build the store from the setup section
// 2. Run each flow step through the engine and check its expect clause
// 3. Capture the final metadata state
// 4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	st, err := buildStore(scenario)
	if err != nil {
		return nil, fmt.Errorf("failed to build store: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	opts := []truncate.Option{
		truncate.WithLogger(logger),
		truncate.WithIgnoredSystemProjections(scenario.Options.IgnoreSystem...),
	}
	if scenario.Options.PageSize > 0 {
		opts = append(opts, truncate.WithPageSize(scenario.Options.PageSize))
	}

	h := &Harness{
		store:  st,
		engine: truncate.New(st.Session(), opts...),
		logger: logger,
	}

	ctx := context.Background()
	result := NewResult()
	if err := h.executeFlow(ctx, scenario, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	if tb, ok := st.TruncateBefore(scenario.Stream); ok {
		result.StoredTruncateBefore = &tb
	}
	result.MetadataVersion = st.MetadataVersion(scenario.Stream)
	result.MetadataWrites = st.Calls(testutil.OpSetMetadata)

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

func buildStore(s *Scenario) (*testutil.Store, error) {
	st := testutil.NewStore()

	kinds := make([]testutil.LinkKind, 0, len(s.Setup.Links))
	for _, k := range s.Setup.Links {
		switch k {
		case LinkLive:
			kinds = append(kinds, testutil.Live)
		case LinkDead:
			kinds = append(kinds, testutil.Dead)
		case LinkMetadata:
			kinds = append(kinds, testutil.MetadataLink)
		default:
			return nil, fmt.Errorf("unknown link kind %q", k)
		}
	}
	st.AppendLinks(s.Stream, kinds...)

	if s.Setup.TruncateBefore != nil {
		st.SetTruncateBefore(s.Stream, *s.Setup.TruncateBefore)
	}

	for _, sub := range s.Setup.Subscriptions {
		if sub.Checkpoint != nil {
			st.SetSubscriptionCheckpoint(s.Stream, sub.Group, *sub.Checkpoint)
		} else {
			st.AddSubscription(s.Stream, sub.Group)
		}
	}

	for _, p := range s.Setup.Projections {
		st.AddProjection(p.Name, p.Query)
		switch {
		case p.AtLink != nil:
			commit, prepare := testutil.LinkPosition(*p.AtLink)
			st.SetProjectionPosition(p.Name, commit, prepare)
		case p.Position != nil:
			st.SetProjectionPosition(p.Name, p.Position.Commit, p.Position.Prepare)
		case p.Streams != nil:
			st.SetProjectionStreams(p.Name, p.Streams)
		case p.Raw != "":
			st.SetProjectionCheckpoint(p.Name, []byte(p.Raw))
		}
	}
	return st, nil
}

// executeFlow runs every step in order and checks expect clauses.
// Engine errors without a code (such as cancellation) abort the flow.
func (h *Harness) executeFlow(ctx context.Context, s *Scenario, result *Result) error {
	for i, step := range s.Flow {
		req := truncate.Request{Stream: s.Stream, Start: step.Start, Commit: step.Commit}
		res, err := h.engine.FindSafePoint(ctx, req)
		if err != nil && truncate.CodeOf(err) == "" {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}

		report := reportFrom(i, req, res, err)
		result.Runs = append(result.Runs, report)
		h.logger.Debug("flow step done", "step", i, "outcome", report.Outcome, "error", report.Error)

		if step.Expect != nil {
			for _, msg := range checkExpect(i, step.Expect, report) {
				result.AddError(msg)
			}
		}
	}
	return nil
}

func checkExpect(step int, want *ExpectClause, got RunReport) []string {
	var errs []string
	if got.Outcome != want.Outcome {
		errs = append(errs, fmt.Sprintf("flow[%d]: expected outcome %s, got %s", step, want.Outcome, got.Outcome))
	}
	if got.Error != want.Error {
		errs = append(errs, fmt.Sprintf("flow[%d]: expected error %q, got %q", step, want.Error, got.Error))
	}
	if want.TruncateBefore != nil && !equalPtr(got.TruncateBefore, want.TruncateBefore) {
		errs = append(errs, fmt.Sprintf("flow[%d]: expected truncate_before %d, got %s", step, *want.TruncateBefore, fmtPtr(got.TruncateBefore)))
	}
	return errs
}

func equalPtr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func fmtPtr(v *int64) string {
	if v == nil {
		return "none"
	}
	return fmt.Sprintf("%d", *v)
}
