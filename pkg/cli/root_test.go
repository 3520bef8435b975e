package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querydesk/internal/domain"
)

func TestErrorPayload(t *testing.T) {
	t.Parallel()

	plain := errorPayload(errors.New("boom"))
	assert.Equal(t, map[string]any{"error": "boom"}, plain)

	msg := "query is missing parameter values: n"
	apiErr := &APIError{HTTPStatus: 400, Message: msg, Job: &Job{State: domain.JobFailed, Error: &msg}}
	wrapped := errorPayload(fmt.Errorf("submit: %w", apiErr))
	assert.Equal(t, 400, wrapped["http_status"])
	assert.NotContains(t, wrapped, "code")
	assert.Same(t, apiErr.Job, wrapped["job"])
	assert.Equal(t, "submit: API error (HTTP 400): "+msg, wrapped["error"])
}

func TestVersionCmd_JSON(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	rootCmd := newRootCmd()
	rootCmd.SetArgs([]string{"--output", "json", "version"})
	done := captureStdout(t)
	require.NoError(t, rootCmd.Execute())

	var got versionInfo
	require.NoError(t, json.Unmarshal([]byte(done()), &got))
	assert.NotEmpty(t, got.Version)
	assert.NotEmpty(t, got.Commit)
	assert.Equal(t, runtime.Version(), got.GoVersion)
}

func TestCompletionCmd(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	rootCmd := newRootCmd()
	rootCmd.SetArgs([]string{"completion", "bash"})
	done := captureStdout(t)
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, done(), "querydesk")

	rootCmd = newRootCmd()
	rootCmd.SetArgs([]string{"completion", "tcsh"})
	require.EqualError(t, rootCmd.Execute(), "unsupported shell: tcsh")
}
