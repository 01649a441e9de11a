package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/linktrunc/internal/config"
	"github.com/roach88/linktrunc/internal/eventstore"
	"github.com/roach88/linktrunc/internal/journal"
	"github.com/roach88/linktrunc/internal/session"
	"github.com/roach88/linktrunc/internal/testutil"
)

const ordersStream = "$ce-orders"

type fixture struct {
	store       *testutil.Store
	configPath  string
	journalPath string
	now         time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "linktrunc.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("logging:\n  level: warn\n"), 0o600))

	return &fixture{
		store:       testutil.NewStore(),
		configPath:  configPath,
		journalPath: filepath.Join(dir, "journal.db"),
		now:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (fx *fixture) env() Environment {
	return Environment{
		Dial: func(*config.Config) (*session.Session, error) { return fx.store.Session(), nil },
		OpenJournal: func(path string) (*journal.Journal, error) {
			return journal.Open(path, journal.WithClock(func() time.Time { return fx.now }))
		},
		Now: func() time.Time { return fx.now },
	}
}

type cliResult struct {
	stdout string
	stderr string
	code   int
}

func (fx *fixture) run(t *testing.T, args ...string) cliResult {
	t.Helper()
	cmd := NewRootCommandWith(fx.env())
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", fx.configPath, "--journal", fx.journalPath}, args...))

	code := Execute(context.Background(), cmd, &stderr)
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), code: code}
}

type findResponse struct {
	Status string `json:"status"`
	Data   struct {
		Stream         string `json:"stream"`
		Outcome        string `json:"outcome"`
		Candidate      *int64 `json:"candidate"`
		TruncateBefore *int64 `json:"truncate_before"`
		Committed      bool   `json:"committed"`
		RunID          string `json:"run_id"`
	} `json:"data"`
	Error *CLIError `json:"error"`
}

func decodeFind(t *testing.T, out string) findResponse {
	t.Helper()
	var resp findResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

func TestFind_SafePointDryRun(t *testing.T) {
	fx := newFixture(t)
	fx.store.AppendLinks(ordersStream, testutil.Dead, testutil.Dead, testutil.Live, testutil.Dead)

	res := fx.run(t, "--format", "json", "find", "--stream", ordersStream)
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	resp := decodeFind(t, res.stdout)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Equal(t, "safe_point", resp.Data.Outcome)
	require.NotNil(t, resp.Data.Candidate)
	assert.Equal(t, int64(1), *resp.Data.Candidate)
	require.NotNil(t, resp.Data.TruncateBefore)
	assert.Equal(t, int64(2), *resp.Data.TruncateBefore)
	assert.False(t, resp.Data.Committed)
	assert.NotEmpty(t, resp.Data.RunID)

	_, ok := fx.store.TruncateBefore(ordersStream)
	assert.False(t, ok, "dry run must not write metadata")
}

func TestFind_CommitText(t *testing.T) {
	fx := newFixture(t)
	fx.store.AppendLinks(ordersStream, testutil.Dead, testutil.Dead, testutil.Live)

	res := fx.run(t, "find", "--stream", ordersStream, "--commit")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Truncate before:  2 (committed)")
	assert.Contains(t, res.stdout, "Outcome:          safe_point")

	tb, ok := fx.store.TruncateBefore(ordersStream)
	require.True(t, ok)
	assert.Equal(t, int64(2), tb)
}

func TestFind_NothingToTruncate(t *testing.T) {
	fx := newFixture(t)
	fx.store.AppendLinks(ordersStream, testutil.Live, testutil.Dead)

	res := fx.run(t, "--format", "json", "find", "--stream", ordersStream)
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	resp := decodeFind(t, res.stdout)
	assert.Equal(t, "nothing_to_truncate", resp.Data.Outcome)
	assert.Nil(t, resp.Data.TruncateBefore)
}

func TestFind_BlockedExitsZero(t *testing.T) {
	fx := newFixture(t)
	fx.store.AppendLinks(ordersStream, testutil.Dead, testutil.Live)
	fx.store.AddSubscription(ordersStream, "billing")

	res := fx.run(t, "--format", "json", "find", "--stream", ordersStream, "--commit")
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	resp := decodeFind(t, res.stdout)
	assert.Equal(t, StatusBlocked, resp.Status)
	assert.Equal(t, "blocked", resp.Data.Outcome)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "UNKNOWN_CHECKPOINT", resp.Error.Code)

	_, ok := fx.store.TruncateBefore(ordersStream)
	assert.False(t, ok)
}

func TestFind_IneligibleStream(t *testing.T) {
	fx := newFixture(t)

	res := fx.run(t, "--format", "json", "find", "--stream", "orders-1")
	assert.Equal(t, ExitCommandError, res.code)
	resp := decodeFind(t, res.stdout)
	assert.Equal(t, StatusError, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INELIGIBLE_STREAM", resp.Error.Code)
	assert.NotContains(t, res.stderr, "Error:", "already reported on stdout")
}

func TestFind_NegativeStart(t *testing.T) {
	fx := newFixture(t)

	res := fx.run(t, "find", "--stream", ordersStream, "--start", "-1")
	assert.Equal(t, ExitCommandError, res.code)
	assert.Contains(t, res.stdout, "Error [INVALID_REQUEST]")
}

func TestFind_TransportFailure(t *testing.T) {
	fx := newFixture(t)
	fx.store.AppendLinks(ordersStream, testutil.Dead)
	fx.store.Fail(testutil.OpGetMetadata, "", errors.New("connection reset"))

	res := fx.run(t, "--format", "json", "find", "--stream", ordersStream)
	assert.Equal(t, ExitFailure, res.code)
	resp := decodeFind(t, res.stdout)
	assert.Equal(t, StatusError, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "TRANSPORT", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "connection reset")
}

func TestFind_MissingStreamFlag(t *testing.T) {
	fx := newFixture(t)

	res := fx.run(t, "find")
	assert.Equal(t, ExitCommandError, res.code)
	assert.Contains(t, res.stderr, "required flag")
}

func TestFind_InvalidFormat(t *testing.T) {
	fx := newFixture(t)

	res := fx.run(t, "--format", "yaml", "find", "--stream", ordersStream)
	assert.Equal(t, ExitCommandError, res.code)
	assert.Contains(t, res.stderr, "invalid format")
}

func TestFind_BadConfig(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, os.WriteFile(fx.configPath, []byte("scan:\n  page_size: 0\n"), 0o600))

	res := fx.run(t, "find", "--stream", ordersStream)
	assert.Equal(t, ExitCommandError, res.code)
	assert.Contains(t, res.stderr, "failed to load configuration")
}

func TestFind_WritesMetricsTextfile(t *testing.T) {
	fx := newFixture(t)
	fx.store.AppendLinks(ordersStream, testutil.Dead, testutil.Live)
	path := filepath.Join(t.TempDir(), "linktrunc.prom")

	res := fx.run(t, "find", "--stream", ordersStream, "--commit", "--metrics-textfile", path)
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `linktrunc_truncate_before{stream="$ce-orders"} 1`)
}

func TestFind_PageSizeFlag(t *testing.T) {
	fx := newFixture(t)
	fx.store.AppendLinks(ordersStream, testutil.Dead, testutil.Dead, testutil.Dead, testutil.Live)

	res := fx.run(t, "find", "--stream", ordersStream, "--page-size", "1")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Candidate:        2")
}

func TestShow(t *testing.T) {
	fx := newFixture(t)
	fx.store.AppendLinks(ordersStream, testutil.Dead, testutil.Live)

	res := fx.run(t, "show", "--stream", ordersStream)
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Truncate before:  not set")

	require.Equal(t, ExitSuccess, fx.run(t, "find", "--stream", ordersStream, "--commit").code)
	fx.now = fx.now.Add(2 * time.Hour)

	res = fx.run(t, "show", "--stream", ordersStream)
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Truncate before:  1")
	assert.Contains(t, res.stdout, "Last committed:   1 (2 hours ago)")

	res = fx.run(t, "--format", "json", "show", "--stream", ordersStream)
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	var resp struct {
		Data ShowOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp))
	require.NotNil(t, resp.Data.TruncateBefore)
	assert.Equal(t, int64(1), *resp.Data.TruncateBefore)
	require.NotNil(t, resp.Data.LastCommitted)
	assert.True(t, resp.Data.LastCommitted.Committed)
}

func TestShow_IneligibleStream(t *testing.T) {
	fx := newFixture(t)

	res := fx.run(t, "show", "--stream", "$all")
	assert.Equal(t, ExitCommandError, res.code)
	assert.Contains(t, res.stdout, "INELIGIBLE_STREAM")
}

func TestClear(t *testing.T) {
	fx := newFixture(t)
	fx.store.AppendLinks(ordersStream, testutil.Dead)
	fx.store.SetTruncateBefore(ordersStream, 1)

	res := fx.run(t, "clear", "--stream", ordersStream)
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, "Cleared truncate-before 1 on $ce-orders\n", res.stdout)

	_, ok := fx.store.TruncateBefore(ordersStream)
	assert.False(t, ok)

	res = fx.run(t, "clear", "--stream", ordersStream)
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, "$ce-orders has no truncate-before value\n", res.stdout)
}

func TestClear_Conflict(t *testing.T) {
	fx := newFixture(t)
	fx.store.SetTruncateBefore(ordersStream, 5)
	fx.store.Fail(testutil.OpSetMetadata, ordersStream, eventstore.ErrWrongExpectedVersion)

	res := fx.run(t, "--format", "json", "clear", "--stream", ordersStream)
	assert.Equal(t, ExitFailure, res.code)
	assert.Contains(t, res.stdout, "WRITE_CONFLICT")
}

func TestHistory(t *testing.T) {
	fx := newFixture(t)
	fx.store.AppendLinks(ordersStream, testutil.Dead, testutil.Live)
	fx.store.AppendLinks("$et-Paid", testutil.Live)

	require.Equal(t, ExitSuccess, fx.run(t, "find", "--stream", ordersStream, "--commit").code)
	require.Equal(t, ExitSuccess, fx.run(t, "find", "--stream", "$et-Paid").code)
	fx.now = fx.now.Add(time.Minute)

	res := fx.run(t, "history")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "safe_point")
	assert.Contains(t, res.stdout, "nothing_to_truncate")
	assert.Contains(t, res.stdout, "1 minute ago")
	assert.Contains(t, res.stdout, "Total: 2 runs")

	res = fx.run(t, "--format", "json", "history", "--stream", ordersStream)
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	var resp struct {
		Data HistoryOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp))
	require.Len(t, resp.Data.Runs, 1)
	assert.Equal(t, ordersStream, resp.Data.Runs[0].Stream)
	assert.True(t, resp.Data.Runs[0].Committed)
	assert.JSONEq(t, `[]`, string(resp.Data.Runs[0].Consumers))
}

func TestHistory_Empty(t *testing.T) {
	fx := newFixture(t)

	res := fx.run(t, "history")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, "No runs recorded.\n", res.stdout)
}

func TestHistory_JournalDisabled(t *testing.T) {
	fx := newFixture(t)
	fx.journalPath = ""

	res := fx.run(t, "history")
	assert.Equal(t, ExitCommandError, res.code)
	assert.Contains(t, res.stderr, "journal is disabled")
}

func TestHistory_InvalidLimit(t *testing.T) {
	fx := newFixture(t)

	res := fx.run(t, "history", "--limit", "-1")
	assert.Equal(t, ExitCommandError, res.code)
}
