package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runScenario(t *testing.T, name string) *Result {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func TestRun_Scenarios(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		name := strings.TrimSuffix(filepath.Base(f), ".yaml")
		t.Run(name, func(t *testing.T) {
			result := runScenario(t, name)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
		})
	}
}

func TestRun_ResultFields(t *testing.T) {
	result := runScenario(t, "static_range_stub")

	assert.Equal(t, "test-run", result.RunID)
	assert.Empty(t, result.ErrorKind)
	require.NotNil(t, result.Graph)
	assert.Contains(t, result.EntryOps, "serving_default")
	assert.Contains(t, result.Statistics, "0")
	assert.Contains(t, result.Statistics, "1")
	assert.NotEmpty(t, result.FunctionAliases)
}

func TestRun_ExpectedErrorKind(t *testing.T) {
	result := runScenario(t, "missing_signature")
	assert.True(t, result.Pass)
	assert.Equal(t, "IMPORT", result.ErrorKind)
	assert.Nil(t, result.Graph)
}

func TestRun_WrongErrorKindFails(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/missing_signature.yaml")
	require.NoError(t, err)
	s.ExpectError = "CALIBRATION"

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected CALIBRATION error")
}

func TestRun_UnexpectedSuccessFails(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/qat_matmul.yaml")
	require.NoError(t, err)
	s.ExpectError = "PASS_PIPELINE"

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "pipeline succeeded")
}

func TestRun_UnexpectedFailureFails(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/calibration_failure.yaml")
	require.NoError(t, err)
	s.ExpectError = ""

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, "CALIBRATION", result.ErrorKind)
	assert.Contains(t, result.Errors[0], "runner crashed")
}

func TestRun_FailingAssertion(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/dynamic_range_matmul.yaml")
	require.NoError(t, err)
	s.Assertions = append(s.Assertions, Assertion{Type: AssertOpPresent, Kind: "tf_quant.QuantizedMatMul"})

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "assertions[2]")
	assert.Contains(t, result.Errors[0], "tf_quant.QuantizedMatMul in graph")
}

func TestRun_SetupErrors(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/qat_matmul.yaml")
	require.NoError(t, err)

	bad := *s
	bad.Model = filepath.Join(t.TempDir(), "missing.cue")
	_, err = Run(context.Background(), &bad)
	assert.ErrorContains(t, err, "failed to compile model")

	bad = *s
	bad.Options = filepath.Join(t.TempDir(), "missing.cue")
	_, err = Run(context.Background(), &bad)
	assert.ErrorContains(t, err, "failed to load options")
}

func TestRun_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/static_range_stub.yaml")
	require.NoError(t, err)

	first, err := Run(context.Background(), s)
	require.NoError(t, err)
	second, err := Run(context.Background(), s)
	require.NoError(t, err)

	a, err := MarshalSnapshot(s, first)
	require.NoError(t, err)
	b, err := MarshalSnapshot(s, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}
