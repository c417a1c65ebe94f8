package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/easystate/internal/tracestore"
)

// counterYAML is a passing scenario: one observer, one write, one frame.
func counterYAML(name string, final int) string {
	return fmt.Sprintf(`name: %s
description: "one write, one deferred notification"
state:
  count: 0
steps:
  - observe: root
  - set: count
    value: %d
  - frame: 1
assertions:
  - type: notify_count
    observer: root
    count: 1
  - type: final_state
    path: count
    expect: %d
`, name, final, final)
}

// failingYAML expects a notification that never comes because no frame runs.
const failingYAML = `name: failing
description: "no frame, no notification"
state:
  count: 0
steps:
  - observe: root
  - set: count
    value: 1
assertions:
  - type: notify_count
    observer: root
    count: 1
`

func writeScenario(t *testing.T, dir, file, content string) string {
	t.Helper()
	path := filepath.Join(dir, file)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newTestCmd(t *testing.T, format string, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(testRootOptions(format))
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf, err
}

func TestTestCommand_TooManyArgs(t *testing.T) {
	_, err := newTestCmd(t, "text", "a", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts at most 1 arg")
}

func TestTestCommand_MissingDir(t *testing.T) {
	_, err := newTestCmd(t, "text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommand_EmptyDir(t *testing.T) {
	buf, err := newTestCmd(t, "text", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No scenarios found")
}

func TestTestCommand_EmptyDirJSON(t *testing.T) {
	buf, err := newTestCmd(t, "json", t.TempDir())
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 0, resp.Data.Total)
	assert.NotNil(t, resp.Data.Scenarios)
}

func TestTestCommand_Passing(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "counter.yaml", counterYAML("counter", 2))

	buf, err := newTestCmd(t, "text", dir)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ counter")
	assert.Contains(t, buf.String(), "Test Summary: 1 passed, 0 failed, 1 total")
	assert.Contains(t, buf.String(), "All scenarios passed")
}

func TestTestCommand_Failing(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "counter.yaml", counterYAML("counter", 2))
	writeScenario(t, dir, "failing.yaml", failingYAML)

	buf, err := newTestCmd(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "✗ failing")
	assert.Contains(t, buf.String(), "notify_count")
	assert.Contains(t, buf.String(), "1 passed, 1 failed, 2 total")
}

func TestTestCommand_FailingJSON(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "failing.yaml", failingYAML)

	buf, err := newTestCmd(t, "json", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeTestFailed, resp.Error.Code)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.False(t, resp.Data.Scenarios[0].Pass)
	assert.NotEmpty(t, resp.Data.Scenarios[0].Errors)
}

func TestTestCommand_InvalidScenarioFile(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "broken.yaml", "name: broken\nsteps: [\n")

	buf, err := newTestCmd(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "✗ broken.yaml")
	assert.Contains(t, buf.String(), "failed to load scenario")
}

func TestTestCommand_Filter(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "counter_a.yaml", counterYAML("counter_a", 1))
	writeScenario(t, dir, "counter_b.yaml", counterYAML("counter_b", 2))
	writeScenario(t, dir, "failing.yaml", failingYAML)

	buf, err := newTestCmd(t, "text", dir, "--filter", "counter_*")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "2 passed, 0 failed, 2 total")
	assert.NotContains(t, buf.String(), "failing")
}

func TestTestCommand_BadFilter(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "counter.yaml", counterYAML("counter", 1))

	_, err := newTestCmd(t, "text", dir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid filter pattern")
}

func TestTestCommand_GoldenUpdateThenCompare(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "counter.yaml", counterYAML("counter", 2))

	_, err := newTestCmd(t, "text", dir, "--update")
	require.NoError(t, err)

	golden, err := os.ReadFile(goldenFilePath(path))
	require.NoError(t, err)
	assert.Equal(t,
		`{"final_state":{"count":2},"scenario":"counter","trace":[{"mode":"deferred","observer":"root","seq":1,"state":{"count":2}}]}`+"\n",
		string(golden))

	buf, err := newTestCmd(t, "text", dir)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ counter")

	// Same assertions, different final value: the trace no longer matches.
	writeScenario(t, dir, "counter.yaml", counterYAML("counter", 3))
	buf, err = newTestCmd(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "trace does not match golden file")
}

func TestTestCommand_RecordsRuns(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "counter.yaml", counterYAML("counter", 2))
	writeScenario(t, dir, "failing.yaml", failingYAML)
	db := filepath.Join(t.TempDir(), "traces.db")

	buf, err := newTestCmd(t, "json", dir, "--db", db)
	require.Error(t, err)

	var resp struct {
		Data TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Len(t, resp.Data.Scenarios, 2)
	for _, sr := range resp.Data.Scenarios {
		assert.NotEmpty(t, sr.RunID, sr.Name)
	}

	store, err := tracestore.Open(db)
	require.NoError(t, err)
	defer store.Close()

	runs, err := store.ListRuns(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "counter", runs[0].Scenario)
	assert.True(t, runs[0].Pass)
	assert.Equal(t, "failing", runs[1].Scenario)
	assert.False(t, runs[1].Pass)
}

func TestTestCommand_DatabaseFromConfig(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "counter.yaml", counterYAML("counter", 1))
	db := filepath.Join(t.TempDir(), "traces.db")

	opts := testRootOptions("text")
	opts.Config.Database = db
	cmd := NewTestCommand(opts)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{dir})
	require.NoError(t, cmd.Execute())

	store, err := tracestore.Open(db)
	require.NoError(t, err)
	defer store.Close()

	runs, err := store.ListRuns(context.Background(), "counter")
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
