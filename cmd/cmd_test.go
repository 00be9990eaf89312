package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for the daemon's concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// executeCommand runs a cobra command with the given args and stdin and
// captures combined output.
func executeCommand(root *cobra.Command, stdin string, args ...string) (output string, err error) {
	resetFlags()
	buf := new(syncBuffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	_, err = root.ExecuteC()
	return buf.String(), err
}

// resetFlags clears flag variables left over from a previous execution.
func resetFlags() {
	flagLogLevel, flagBackend = "", ""
	runStdin, runWatch, runStatusFile = false, "", ""
	plainOutput, clearYes = false, false
}

// isolate points every pulse directory at a fresh temp dir and writes a
// global config with the given api_url.
func isolate(t *testing.T, apiURL string) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmp, "data"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("PULSE_API_KEY", "")

	if apiURL != "" {
		dir := filepath.Join(tmp, "config", "pulse")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		conf := fmt.Sprintf("api_url: %s\nlogging:\n  level: warn\nsync:\n  initial_backoff: 10ms\n", apiURL)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(conf), 0o644))
	}
	return tmp
}

// editorEvents returns NDJSON for n text-changed events on one file.
func editorEvents(t *testing.T, workspace string, n int) string {
	t.Helper()
	var sb strings.Builder
	for i := range n {
		line, err := json.Marshal(map[string]any{
			"kind": "text-changed",
			"snapshot": map[string]any{
				"file":      filepath.Join(workspace, "main.go"),
				"workspace": workspace,
				"content":   fmt.Sprintf("package main\n\n// rev %d\n", i),
			},
		})
		require.NoError(t, err)
		sb.Write(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// fakeBackend counts the entries it accepts.
func fakeBackend(t *testing.T, auth *atomic.Value) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var received atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		var env struct {
			Data []json.RawMessage `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		received.Add(int64(len(env.Data)))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"success":true,"message":"ok","syncedCount":%d}`, len(env.Data))
	}))
	t.Cleanup(srv.Close)
	return srv, &received
}

func TestLoginSavesCredential(t *testing.T) {
	isolate(t, "")

	out, err := executeCommand(rootCmd, "secret-key-1234\n", "login")
	require.NoError(t, err)
	assert.Contains(t, out, "1234 saved")
	assert.NotContains(t, out, "secret-key-1234 saved")

	out, err = executeCommand(rootCmd, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "API key")
	assert.Contains(t, out, "***********1234")
	assert.Contains(t, out, "not running")
	assert.Contains(t, out, "never")
}

func TestLoginRejectsEmptyKey(t *testing.T) {
	isolate(t, "")

	_, err := executeCommand(rootCmd, "\n", "login")
	require.Error(t, err)
}

func TestSyncNothingPending(t *testing.T) {
	isolate(t, "")

	out, err := executeCommand(rootCmd, "", "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to sync.")
}

func TestRunQueuesWithoutCredentialThenSyncs(t *testing.T) {
	var auth atomic.Value
	srv, received := fakeBackend(t, &auth)
	tmp := isolate(t, srv.URL)
	statusFile := filepath.Join(tmp, "status.json")

	// No credential: the final sync is skipped and the pulse stays queued.
	_, err := executeCommand(rootCmd, editorEvents(t, tmp, 3), "run", "--stdin", "--status-file", statusFile)
	require.NoError(t, err)
	assert.Zero(t, received.Load())
	assert.NoFileExists(t, statusFile, "status file should be removed on shutdown")

	_, err = executeCommand(rootCmd, "", "sync")
	require.ErrorContains(t, err, "pulse login")

	out, err := executeCommand(rootCmd, "", "summary", "--plain")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(tmp, "main.go"))

	_, err = executeCommand(rootCmd, "secret-key-1234\n", "login")
	require.NoError(t, err)

	out, err = executeCommand(rootCmd, "", "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "(0 pending)")
	assert.Positive(t, received.Load())
	assert.Equal(t, "Bearer secret-key-1234", auth.Load())

	out, err = executeCommand(rootCmd, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
	assert.NotContains(t, out, "never")
}

func TestRunSyncsOnShutdownWithEnvCredential(t *testing.T) {
	var auth atomic.Value
	srv, received := fakeBackend(t, &auth)
	tmp := isolate(t, srv.URL)
	t.Setenv("PULSE_API_KEY", "env-key")

	_, err := executeCommand(rootCmd, editorEvents(t, tmp, 1), "run", "--stdin", "--status-file", filepath.Join(tmp, "status.json"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, received.Load())
	assert.Equal(t, "Bearer env-key", auth.Load())

	out, err := executeCommand(rootCmd, "", "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to sync.")
}

func TestExportAndView(t *testing.T) {
	tmp := isolate(t, "http://127.0.0.1:1/unused")

	_, err := executeCommand(rootCmd, editorEvents(t, tmp, 1), "run", "--stdin", "--status-file", filepath.Join(tmp, "status.json"))
	require.NoError(t, err)

	for _, name := range []string{"today.md", "today.json"} {
		path := filepath.Join(tmp, name)
		out, err := executeCommand(rootCmd, "", "export", path)
		require.NoError(t, err, name)
		assert.Contains(t, out, "Exported 1 records", name)
		assert.FileExists(t, path)

		out, err = executeCommand(rootCmd, "", "view", "--plain", path)
		require.NoError(t, err, name)
		assert.Contains(t, out, "## Overview", name)
		assert.Contains(t, out, filepath.Join(tmp, "main.go"), name)
	}
}

func TestViewMissingFile(t *testing.T) {
	isolate(t, "")

	_, err := executeCommand(rootCmd, "", "view", "--plain", filepath.Join(t.TempDir(), "nope.json"))
	require.ErrorContains(t, err, "file not found")
}

func TestClearRequiresConfirmation(t *testing.T) {
	tmp := isolate(t, "http://127.0.0.1:1/unused")

	_, err := executeCommand(rootCmd, editorEvents(t, tmp, 1), "run", "--stdin", "--status-file", filepath.Join(tmp, "status.json"))
	require.NoError(t, err)

	out, err := executeCommand(rootCmd, "n\n", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Aborted.")

	out, err = executeCommand(rootCmd, "", "summary", "--plain")
	require.NoError(t, err)
	assert.Contains(t, out, "main.go")

	out, err = executeCommand(rootCmd, "", "clear", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "All pulse data cleared.")

	out, err = executeCommand(rootCmd, "", "summary", "--plain")
	require.NoError(t, err)
	assert.Contains(t, out, "no activity recorded today")
}

func TestInvalidConfigIsRejected(t *testing.T) {
	isolate(t, "")

	_, err := executeCommand(rootCmd, "", "status", "--backend", "postgres")
	require.ErrorContains(t, err, "invalid config")
}

func TestSyncedCountNeverNegative(t *testing.T) {
	cases := []struct{ before, after, want int }{
		{5, 0, 5},
		{5, 2, 3},
		{3, 7, 0},
		{0, 0, 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, syncedCount(c.before, c.after), "before=%d after=%d", c.before, c.after)
	}
}
