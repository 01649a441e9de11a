package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type textPayload struct{ msg string }

func (p textPayload) String() string { return p.msg }

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(map[string]string{"stream": "$ce-orders"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, StatusOK, resp.Status)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_TextSuccessUsesStringer(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success(textPayload{"Cleared truncate-before 12 on $ce-orders"}))
	assert.Equal(t, "Cleared truncate-before 12 on $ce-orders\n", buf.String())
}

func TestOutputFormatter_Blocked(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Blocked(map[string]string{"outcome": "blocked"}, "UNKNOWN_CHECKPOINT", "persistent subscription checkpoint unknown"))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, StatusBlocked, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "UNKNOWN_CHECKPOINT", resp.Error.Code)

	buf.Reset()
	formatter.Format = "text"
	require.NoError(t, formatter.Blocked(textPayload{"Outcome: blocked"}, "SYSTEM_PROJECTION_BEHIND", "$by_category is behind"))
	assert.Equal(t, "Outcome: blocked\nBlocked [SYSTEM_PROJECTION_BEHIND]: $by_category is behind\n", buf.String())
}

func TestOutputFormatter_JSONErrorWithDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	details := map[string]string{"stream": "$ce-orders"}
	require.NoError(t, formatter.Error("WRITE_CONFLICT", "stream metadata changed concurrently", details))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, StatusError, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "WRITE_CONFLICT", resp.Error.Code)
	assert.Equal(t, "stream metadata changed concurrently", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Error("TRANSPORT", "read stream metadata", "hidden"))
	assert.Equal(t, "Error [TRANSPORT]: read stream metadata\n", buf.String())

	buf.Reset()
	formatter.Verbose = true
	require.NoError(t, formatter.Error("TRANSPORT", "read stream metadata", "shown"))
	assert.Contains(t, buf.String(), "Details:\nshown")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut}

	formatter.VerboseLog("quiet %d", 1)
	assert.Empty(t, errOut.String())

	formatter.Verbose = true
	formatter.VerboseLog("loud %d", 2)
	assert.Equal(t, "loud 2\n", errOut.String())
	assert.Empty(t, out.String(), "diagnostics must not corrupt JSON output")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "bad config", errors.New("inner")))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
}

func TestExitError(t *testing.T) {
	inner := errors.New("inner")
	err := WrapExitError(ExitFailure, "find failed", inner)
	assert.Equal(t, "find failed: inner", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.False(t, IsReported(err))
	assert.True(t, IsReported(reported(err)))
	assert.Equal(t, "bad", NewExitError(ExitCommandError, "bad").Error())
}
