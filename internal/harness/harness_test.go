package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64p(v int64) *int64 { return &v }

func TestRun_SafePointAndStoredValue(t *testing.T) {
	s := &Scenario{
		Name:        "inline",
		Description: "inline",
		Stream:      "$ce-orders",
		Setup:       Setup{Links: []string{LinkDead, LinkDead, LinkLive}},
		Flow: []RunStep{{
			Commit: true,
			Expect: &ExpectClause{Outcome: "safe_point", TruncateBefore: int64p(2)},
		}},
		Assertions: []Assertion{
			{Type: AssertStoredTruncateBefore, Value: int64p(2)},
			{Type: AssertMetadataWrites, Count: 1},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	require.Len(t, result.Runs, 1)
	assert.Equal(t, int64p(1), result.Runs[0].Candidate)
	assert.True(t, result.Runs[0].Committed)
	assert.Equal(t, int64p(2), result.StoredTruncateBefore)
	assert.Equal(t, int64(0), result.MetadataVersion)
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	s := &Scenario{
		Name:        "mismatch",
		Description: "mismatch",
		Stream:      "$ce-orders",
		Setup:       Setup{Links: []string{LinkLive}},
		Flow: []RunStep{{
			Expect: &ExpectClause{Outcome: "safe_point", Error: "WRITE_CONFLICT", TruncateBefore: int64p(1)},
		}},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "expected outcome safe_point, got nothing_to_truncate")
	assert.Contains(t, result.Errors[1], `expected error "WRITE_CONFLICT", got ""`)
	assert.Contains(t, result.Errors[2], "expected truncate_before 1, got none")
}

func TestRun_IgnoredSystemProjection(t *testing.T) {
	s := &Scenario{
		Name:        "ignored",
		Description: "ignored",
		Stream:      "$ce-orders",
		Setup: Setup{
			Links:       []string{LinkDead, LinkLive},
			Projections: []ProjectionSetup{{Name: "$by_category"}},
		},
		Options: Options{IgnoreSystem: []string{"$by_category"}},
		Flow:    []RunStep{{Expect: &ExpectClause{Outcome: "safe_point"}}},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Empty(t, result.Runs[0].Consumers)
}

func TestRun_ExplicitPositionAndRaw(t *testing.T) {
	s := &Scenario{
		Name:        "positions",
		Description: "positions",
		Stream:      "$ce-orders",
		Setup: Setup{
			Links: []string{LinkDead, LinkDead, LinkDead, LinkLive},
			Projections: []ProjectionSetup{
				{Name: "$by_category", Position: &Position{Commit: 1000, Prepare: 1000}},
				{Name: "$by_event_type", Raw: `{"$v":"1","$s":{}}`},
			},
		},
		Flow: []RunStep{{Expect: &ExpectClause{Outcome: "safe_point", TruncateBefore: int64p(3)}}},
		Assertions: []Assertion{
			{Type: AssertConsumer, Name: "$by_category", Checkpoint: "logical(1000/1000)"},
			{Type: AssertConsumer, Name: "$by_event_type", Checkpoint: "not-applicable"},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}
