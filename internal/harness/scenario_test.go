package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "one run"
stream: $ce-orders
setup:
  links: [dead, live]
flow:
  - commit: false
`

func TestParseScenario_Minimal(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)
	assert.Equal(t, "$ce-orders", s.Stream)
	assert.Equal(t, []string{LinkDead, LinkLive}, s.Setup.Links)
	require.Len(t, s.Flow, 1)
	assert.Nil(t, s.Flow[0].Expect)
}

func TestParseScenario_Full(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: full
description: "every field"
stream: $ce-orders
setup:
  links: [dead, metadata, live]
  truncate_before: 1
  subscriptions:
    - group: billing
      checkpoint: 2
    - group: audit
  projections:
    - name: order-summary
      query: "fromCategory('orders')"
      streams: { $ce-orders: 3 }
    - name: $by_category
      at_link: 1
    - name: $by_event_type
      position: { commit: 10, prepare: 5 }
    - name: $streams
      raw: '{"$v":"1"}'
options:
  page_size: 2
  ignore_system: [$stream_by_category]
flow:
  - start: 1
    commit: true
    expect:
      outcome: blocked
      error: UNKNOWN_CHECKPOINT
assertions:
  - type: stored_truncate_before
    value: 1
  - type: consumer
    name: audit
    checkpoint: unknown
    relevant: true
  - type: metadata_writes
    count: 0
`))
	require.NoError(t, err)

	require.NotNil(t, s.Setup.TruncateBefore)
	assert.Equal(t, int64(1), *s.Setup.TruncateBefore)
	require.Len(t, s.Setup.Subscriptions, 2)
	assert.Nil(t, s.Setup.Subscriptions[1].Checkpoint)
	require.Len(t, s.Setup.Projections, 4)
	assert.Equal(t, map[string]int64{"$ce-orders": 3}, s.Setup.Projections[0].Streams)
	assert.Equal(t, &Position{Commit: 10, Prepare: 5}, s.Setup.Projections[2].Position)
	assert.Equal(t, `{"$v":"1"}`, s.Setup.Projections[3].Raw)
	assert.Equal(t, 2, s.Options.PageSize)
	assert.Equal(t, []string{"$stream_by_category"}, s.Options.IgnoreSystem)
	assert.Equal(t, int64(1), s.Flow[0].Start)
	assert.Equal(t, "UNKNOWN_CHECKPOINT", s.Flow[0].Expect.Error)
	require.Len(t, s.Assertions, 3)
	require.NotNil(t, s.Assertions[1].Relevant)
	assert.True(t, *s.Assertions[1].Relevant)
}

func TestParseScenario_RejectsUnknownFields(t *testing.T) {
	_, err := ParseScenario([]byte(minimalScenario + "assertion: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "description: d\nstream: $ce-a\nflow: [{}]\n",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: n\nstream: $ce-a\nflow: [{}]\n",
			want: "description is required",
		},
		{
			name: "missing stream",
			yaml: "name: n\ndescription: d\nflow: [{}]\n",
			want: "stream is required",
		},
		{
			name: "empty flow",
			yaml: "name: n\ndescription: d\nstream: $ce-a\n",
			want: "flow list is required",
		},
		{
			name: "bad link kind",
			yaml: "name: n\ndescription: d\nstream: $ce-a\nsetup:\n  links: [zombie]\nflow: [{}]\n",
			want: `unknown link kind "zombie"`,
		},
		{
			name: "subscription without group",
			yaml: "name: n\ndescription: d\nstream: $ce-a\nsetup:\n  subscriptions: [{checkpoint: 1}]\nflow: [{}]\n",
			want: "group is required",
		},
		{
			name: "user projection without query",
			yaml: "name: n\ndescription: d\nstream: $ce-a\nsetup:\n  projections: [{name: p}]\nflow: [{}]\n",
			want: "query is required",
		},
		{
			name: "two checkpoint sources",
			yaml: "name: n\ndescription: d\nstream: $ce-a\nsetup:\n  projections: [{name: $p, at_link: 1, raw: '{}'}]\nflow: [{}]\n",
			want: "at most one",
		},
		{
			name: "expect without outcome",
			yaml: "name: n\ndescription: d\nstream: $ce-a\nflow: [{expect: {error: X}}]\n",
			want: "outcome is required",
		},
		{
			name: "unknown assertion",
			yaml: "name: n\ndescription: d\nstream: $ce-a\nflow: [{}]\nassertions: [{type: vibes}]\n",
			want: `unknown assertion type "vibes"`,
		},
		{
			name: "consumer run out of range",
			yaml: "name: n\ndescription: d\nstream: $ce-a\nflow: [{}]\nassertions: [{type: consumer, name: g, checkpoint: unknown, run: 1}]\n",
			want: "run 1 out of range",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)

	_, err = LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}
