package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpunion/heirloom/pkg/simulation"
)

// execute runs the CLI offline with no pauses, against output.
func execute(t *testing.T, output string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HEIRLOOM_GOVERNOR_MIN_DELAY", "0s")
	t.Setenv("HEIRLOOM_EXPERIMENT_SCENARIO_PAUSE", "0s")
	t.Setenv("HEIRLOOM_EXPERIMENT_PERIOD_PAUSE", "0s")
	t.Setenv("HEIRLOOM_LOG_LEVEL", "error")

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--provider", "offline", "--output", output}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestPeriodThenStatus(t *testing.T) {
	t.Chdir(t.TempDir())
	output := filepath.Join(t.TempDir(), "out")

	out, err := execute(t, output, "period", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "2 events completed")

	_, err = os.Stat(simulation.CheckpointPath(output, 1))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(output, "events", "index.json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(output, "report.json"))
	require.NoError(t, err)

	out, err = execute(t, output, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Trust")
	assert.Contains(t, out, "C1")

	out, err = execute(t, output, "timeline")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 7)
	assert.True(t, strings.HasPrefix(lines[0], "[x] P1 W1"))
	assert.True(t, strings.HasPrefix(lines[2], "[ ] P2 W2"))
}

func TestResumeFinishesRun(t *testing.T) {
	t.Chdir(t.TempDir())
	output := filepath.Join(t.TempDir(), "out")

	_, err := execute(t, output, "period", "1")
	require.NoError(t, err)
	out, err := execute(t, output, "resume")
	require.NoError(t, err)
	assert.Contains(t, out, "7 events completed")

	out, err = execute(t, output, "report", "--json")
	require.NoError(t, err)
	var r map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Len(t, r["outcomes"], 7)
}

func TestResumeWithoutCheckpoint(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := execute(t, filepath.Join(t.TempDir(), "out"), "resume")
	assert.ErrorIs(t, err, simulation.ErrNoCheckpoint)
}

func TestAlteredVariantOutputDir(t *testing.T) {
	t.Chdir(t.TempDir())
	output := filepath.Join(t.TempDir(), "out")

	_, err := execute(t, output, "--variant", "altered", "--model", "m1", "period", "1")
	require.NoError(t, err)

	cp, err := simulation.LoadCheckpoint(simulation.CheckpointPath(filepath.Join(output, "m1_altered"), 1))
	require.NoError(t, err)
	assert.Equal(t, simulation.VariantAltered, cp.Variant)
}

func TestStatusWithoutCheckpoint(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := execute(t, filepath.Join(t.TempDir(), "out"), "status")
	assert.ErrorContains(t, err, "no checkpoints")
}

func TestInvalidConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := execute(t, t.TempDir(), "--variant", "sideways", "status")
	assert.ErrorContains(t, err, "experiment.variant")
}
