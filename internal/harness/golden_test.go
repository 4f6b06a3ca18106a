package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Golden files live in testdata/golden. Regenerate with:
//
//	go test ./internal/harness -run Golden -update
func TestRunWithGolden(t *testing.T) {
	for _, name := range []string{"qat_matmul", "static_range_stub", "calibration_failure"} {
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
			require.NoError(t, err)

			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestMarshalSnapshot(t *testing.T) {
	s := &Scenario{Name: "snap", Mode: "static-range"}
	result := NewResult()
	result.RunID = "r1"
	result.EntryOps["serving_default"] = []string{"tf.Const", "tf.MatMul"}
	result.MissingStatistics = []string{"3", "1"}

	data, err := MarshalSnapshot(s, result)
	require.NoError(t, err)
	assert.Equal(t,
		`{"entry_ops":{"serving_default":["tf.Const","tf.MatMul"]},"missing_statistics":["1","3"],"mode":"static-range","run_id":"r1","scenario_name":"snap"}`,
		string(data))
}

func TestMarshalSnapshot_Error(t *testing.T) {
	s := &Scenario{Name: "broken", Mode: "qat"}
	result := NewResult()
	result.ErrorKind = "IMPORT"

	data, err := MarshalSnapshot(s, result)
	require.NoError(t, err)
	assert.Equal(t,
		`{"entry_ops":{},"error_kind":"IMPORT","missing_statistics":[],"mode":"qat","scenario_name":"broken"}`,
		string(data))
}
