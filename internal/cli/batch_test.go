package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quantflow/internal/bundle"
	"github.com/roach88/quantflow/internal/testutil"
)

func writeJobs(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "jobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadBatchFile_ResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	path := writeJobs(t, dir, `
jobs:
  - name: drq
    bundle: ./bundle
    mode: dynamic-range
    config: opts.cue
    output: out/drq
    datasets:
      serving_default: samples.yaml
  - name: abs
    bundle: /models/bundle
    mode: qat
`)

	bf, err := LoadBatchFile(path)
	require.NoError(t, err)
	require.Len(t, bf.Jobs, 2)

	assert.Equal(t, BatchJob{
		Name:     "drq",
		Bundle:   filepath.Join(dir, "bundle"),
		Mode:     "dynamic-range",
		Config:   filepath.Join(dir, "opts.cue"),
		Output:   filepath.Join(dir, "out", "drq"),
		Datasets: map[string]string{"serving_default": filepath.Join(dir, "samples.yaml")},
	}, bf.Jobs[0])
	assert.Equal(t, "/models/bundle", bf.Jobs[1].Bundle)
	assert.Empty(t, bf.Jobs[1].Output)
}

func TestLoadBatchFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"empty", ``, "lists no jobs"},
		{"no jobs", "jobs: []\n", "lists no jobs"},
		{"unknown field", "jobs:\n  - name: a\n    bundle: b\n    mode: qat\n    quality: high\n", "failed to parse"},
		{"missing name", "jobs:\n  - bundle: b\n    mode: qat\n", "jobs[0]: name is required"},
		{"missing bundle", "jobs:\n  - name: a\n    mode: qat\n", "jobs[0]: bundle is required"},
		{"missing mode", "jobs:\n  - name: a\n    bundle: b\n", "jobs[0]: mode is required"},
		{"duplicate name", "jobs:\n  - {name: a, bundle: b, mode: qat}\n  - {name: a, bundle: c, mode: qat}\n", `duplicate job name "a"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBatchFile(writeJobs(t, t.TempDir(), tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBatch_AllJobsSucceed(t *testing.T) {
	dir := t.TempDir()
	// One source bundle per job; each job opens its checkpoint.
	jobs := writeJobs(t, dir, `
jobs:
  - {name: qat, bundle: `+testutil.WriteMatMulBundle(t)+`, mode: qat, output: out/qat}
  - {name: drq, bundle: `+testutil.WriteMatMulBundle(t)+`, mode: dynamic-range, output: out/drq}
  - {name: wo, bundle: `+testutil.WriteMatMulBundle(t)+`, mode: weight-only, output: out/wo}
`)

	stdout, err := execute(t, "batch", jobs, "--jobs", "2", "--scratch-dir", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, stdout, "3 passed, 0 failed, 3 total")

	for _, name := range []string{"qat", "drq", "wo"} {
		_, err := os.Stat(filepath.Join(dir, "out", name, bundle.MetadataFile))
		assert.NoError(t, err, "job %s output", name)
	}
}

func TestBatch_FailedJobDoesNotStopOthers(t *testing.T) {
	src := testutil.WriteMatMulBundle(t)
	dir := t.TempDir()
	jobs := writeJobs(t, dir, `
jobs:
  - {name: good, bundle: `+src+`, mode: qat}
  - {name: missing-bundle, bundle: ./nowhere, mode: qat}
  - {name: bad-mode, bundle: `+src+`, mode: int4}
`)

	stdout, err := execute(t, "--format", "json", "batch", jobs, "--scratch-dir", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeBatchFailed)

	var resp struct {
		Status string      `json:"status"`
		Data   BatchResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, 3, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, 2, resp.Data.Failed)

	// Results keep jobs file order.
	require.Len(t, resp.Data.Jobs, 3)
	assert.Equal(t, "ok", resp.Data.Jobs[0].Status)
	assert.NotEmpty(t, resp.Data.Jobs[0].RunID)
	assert.Equal(t, "failed", resp.Data.Jobs[1].Status)
	assert.Equal(t, "E_IMPORT", resp.Data.Jobs[1].ErrorKind)
	assert.Equal(t, "failed", resp.Data.Jobs[2].Status)
	assert.Equal(t, ErrCodeInvalidArgs, resp.Data.Jobs[2].ErrorKind)
}

func TestBatch_CommandErrors(t *testing.T) {
	_, err := execute(t, "batch", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	jobs := writeJobs(t, t.TempDir(), "jobs:\n  - {name: a, bundle: b, mode: qat}\n")
	_, err = execute(t, "batch", jobs, "--jobs", "0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--jobs must be positive")
}
