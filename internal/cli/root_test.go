package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "linktrunc", cmd.Use)
	assert.Contains(t, cmd.Long, "link stream")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"find", "show", "clear", "history"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err, "command %s should exist", name)
			require.NotNil(t, sub)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	assert.Equal(t, "false", verbose.DefValue)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	for _, name := range []string{"config", "connection", "http-url", "http-user", "http-pass", "journal", "log-level", "log-format"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestFindCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	find, _, err := cmd.Find([]string{"find"})
	require.NoError(t, err)

	stream := find.Flags().Lookup("stream")
	require.NotNil(t, stream)
	assert.Equal(t, "", stream.DefValue)

	start := find.Flags().Lookup("start")
	require.NotNil(t, start)
	assert.Equal(t, "0", start.DefValue)

	commit := find.Flags().Lookup("commit")
	require.NotNil(t, commit)
	assert.Equal(t, "false", commit.DefValue)
}

func TestHistoryCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	history, _, err := cmd.Find([]string{"history"})
	require.NoError(t, err)

	limit := history.Flags().Lookup("limit")
	require.NotNil(t, limit)
	assert.Equal(t, "20", limit.DefValue)
}

func TestIsValidFormat(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))
	assert.False(t, isValidFormat("yaml"))
	assert.False(t, isValidFormat(""))
}

func TestExecute_CobraErrorsAreCommandErrors(t *testing.T) {
	cmd := &cobra.Command{
		Use:           "x",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          func(*cobra.Command, []string) error { return nil },
	}
	cmd.SetArgs([]string{"--nope"})
	var stderr bytes.Buffer

	code := Execute(context.Background(), cmd, &stderr)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr.String(), "unknown flag")
}

func TestExecute_SilentErrorsAreNotRepeated(t *testing.T) {
	cmd := &cobra.Command{
		Use:           "x",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			return reported(NewExitError(ExitFailure, "already shown"))
		},
	}
	cmd.SetArgs([]string{})
	var stderr bytes.Buffer

	assert.Equal(t, ExitFailure, Execute(context.Background(), cmd, &stderr))
	assert.Empty(t, stderr.String())
}
