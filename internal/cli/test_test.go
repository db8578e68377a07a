package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingWorkload = `
name: simple
blocks:
  - addr: 0x20
    ops:
      - movi r1, 1
      - movi r2, 2
      - add r3, r1, r2
trace:
  - block: 0x20
    repeat: 3
assertions:
  - type: count
    block: 0x20
    value: 3
`

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := execute(t, "test")
	require.Error(t, err)
}

func TestTestCommandNonExistentDir(t *testing.T) {
	_, err := execute(t, "test", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "workloads directory not found")
}

func TestTestCommandEmptyDir(t *testing.T) {
	out, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No workloads found.")
}

func TestTestCommandEmptyDirJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "test", t.TempDir())
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Empty(t, resp.Data.Workloads)
	assert.Equal(t, 0, resp.Data.Total)
}

func TestTestCommandUpdateThenCompare(t *testing.T) {
	dir := t.TempDir()
	writeWorkload(t, dir, "simple.yaml", passingWorkload)

	out, err := execute(t, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ simple")

	golden := filepath.Join(dir, "golden", "simple.golden")
	_, err = os.Stat(golden)
	require.NoError(t, err)

	out, err = execute(t, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
	assert.Contains(t, out, "✓ All workloads passed")
}

func TestTestCommandGoldenMismatch(t *testing.T) {
	dir := t.TempDir()
	writeWorkload(t, dir, "simple.yaml", passingWorkload)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "simple.golden"), []byte(`{}`), 0644))

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ simple")
	assert.Contains(t, out, "does not match golden file")
}

func TestTestCommandFailingWorkloadJSON(t *testing.T) {
	dir := t.TempDir()
	writeWorkload(t, dir, "simple.yaml", passingWorkload)
	writeWorkload(t, dir, "wrong.yaml", failingWorkload)

	out, err := execute(t, "--format", "json", "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, 1, resp.Data.Failed)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
}

func TestTestCommandRunsBundledWorkloads(t *testing.T) {
	out, err := execute(t, "test", "../harness/testdata/workloads", "--filter", "tierup")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ tierup")
}

func TestFindWorkloadFiles(t *testing.T) {
	dir := t.TempDir()
	writeWorkload(t, dir, "b.yaml", passingWorkload)
	writeWorkload(t, dir, "a.yml", passingWorkload)
	writeWorkload(t, dir, "notes.txt", "not a workload")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0755))

	files, err := findWorkloadFiles(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yml"), filepath.Join(dir, "b.yaml")}, files)
}

func TestFindWorkloadFilesWithFilter(t *testing.T) {
	dir := t.TempDir()
	writeWorkload(t, dir, "tierup.yaml", passingWorkload)
	writeWorkload(t, dir, "tiers.yaml", passingWorkload)
	writeWorkload(t, dir, "promotion.yaml", passingWorkload)

	files, err := findWorkloadFiles(dir, "tier*")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	_, err = findWorkloadFiles(dir, "[")
	require.Error(t, err)
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t,
		filepath.Join("workloads", "golden", "tierup.golden"),
		goldenFilePath(filepath.Join("workloads", "tierup.yaml"), "tierup"),
	)
}
