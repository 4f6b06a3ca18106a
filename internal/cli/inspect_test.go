package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quantflow/internal/testutil"
)

func TestInspect_Text(t *testing.T) {
	src := testutil.WriteMatMulBundle(t)

	stdout, err := execute(t, "inspect", src)
	require.NoError(t, err)
	assert.Contains(t, stdout, "SIGNATURE")
	assert.Contains(t, stdout, "serving_default")
	assert.Contains(t, stdout, testutil.HelperAlias)
	assert.Contains(t, stdout, "VARIABLE")
	assert.Contains(t, stdout, "[2x2]")
}

func TestInspect_JSON(t *testing.T) {
	src := testutil.WriteMatMulBundle(t)

	stdout, err := execute(t, "--format", "json", "inspect", src)
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   InspectResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []SignatureInfo{{
		Key: "serving_default", Function: "main", Inputs: []string{"x"}, Outputs: []string{"y"},
	}}, resp.Data.Signatures)
	assert.Equal(t, map[string]string{testutil.HelperFunction: testutil.HelperAlias}, resp.Data.FunctionAliases)
	assert.Equal(t, []VariableInfo{{Name: "w", DType: "f32", Shape: []int64{2, 2}}}, resp.Data.Variables)
	assert.Empty(t, resp.Data.Statistics)
}

func TestInspect_FrozenBundleHasNoVariables(t *testing.T) {
	src := testutil.WriteMatMulBundle(t)
	out := filepath.Join(t.TempDir(), "out")
	_, err := execute(t, "quantize", "--mode", "qat", "--scratch-dir", t.TempDir(), "-o", out, src)
	require.NoError(t, err)

	stdout, err := execute(t, "inspect", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "No checkpoint variables")
}

func TestInspect_Errors(t *testing.T) {
	src := testutil.WriteMatMulBundle(t)

	tests := []struct {
		name string
		args []string
	}{
		{"not a bundle", []string{"inspect", t.TempDir()}},
		{"unknown tags", []string{"inspect", src, "--tags", "train"}},
		{"missing statistics", []string{"inspect", src, "--statistics", t.TempDir()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), ErrCodeReadFailed)
		})
	}
}
