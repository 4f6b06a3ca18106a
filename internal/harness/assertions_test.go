package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quantflow/internal/ir"
	"github.com/roach88/quantflow/internal/store"
)

// testResult has one entry function calling an aliased helper and a
// composite, plus a stray call to an unknown function in "other".
func testResult() *Result {
	graph := &ir.Module{
		Name: "t",
		Functions: []*ir.Function{
			{
				Name:          "main",
				ExportedNames: []string{"serving_default"},
				Ops: []*ir.Op{
					{Result: "c", Kind: ir.KindConst},
					{Result: "q", Kind: ir.KindQuantizedMatMul},
					{Result: "y", Kind: ir.KindCall, Attrs: ir.IRObject{ir.AttrCallee: ir.IRString("__inference_helper_1")}},
					{Result: "z", Kind: ir.KindCall, Attrs: ir.IRObject{ir.AttrCallee: ir.IRString("composite_matmul_fn_1")}},
				},
			},
			{Name: "__inference_helper_1", Ops: []*ir.Op{{Result: "r", Kind: ir.KindRelu}}},
			{
				Name:  "composite_matmul_fn_1",
				Attrs: ir.IRObject{ir.AttrCompositeFunction: ir.IRBool(true)},
				Ops:   []*ir.Op{{Result: "m", Kind: ir.KindMatMul}},
			},
		},
	}
	r := NewResult()
	r.Graph = graph
	r.EntryOps["serving_default"] = []string{ir.KindConst, ir.KindQuantizedMatMul, ir.KindCall, ir.KindCall}
	r.FunctionAliases = map[string]string{"__inference_helper_1": "helper_alias"}
	r.MissingStatistics = []string{"3", "2"}
	r.Statistics = map[string]store.Statistic{"0": {ID: "0", Min: -1, Max: 2}}
	return r
}

func TestEvaluateAssertions_Passing(t *testing.T) {
	errs := EvaluateAssertions(testResult(), []Assertion{
		{Type: AssertOpPresent, Signature: "serving_default", Kind: ir.KindQuantizedMatMul},
		{Type: AssertOpPresent, Kind: ir.KindMatMul},
		{Type: AssertOpAbsent, Signature: "serving_default", Kind: ir.KindMatMul},
		{Type: AssertOpAbsent, Kind: ir.KindCustomAgg},
		{Type: AssertOpCount, Signature: "serving_default", Kind: ir.KindCall, Count: 2},
		{Type: AssertOpCount, Kind: ir.KindDequantize, Count: 0},
		{Type: AssertOpSequence, Signature: "serving_default", Kinds: []string{ir.KindConst, ir.KindQuantizedMatMul, ir.KindCall, ir.KindCall}},
		{Type: AssertCallsResolved},
		{Type: AssertMissingStatistics, IDs: []string{"2", "3"}},
		{Type: AssertAliasPreserved, Alias: "helper_alias"},
		{Type: AssertStatistic, ID: "0", Min: -1, Max: 2},
	})
	assert.Empty(t, errs)
}

func TestEvaluateAssertions_Failing(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		want      string
	}{
		{"op_present", Assertion{Type: AssertOpPresent, Kind: ir.KindDequantize}, "found 0"},
		{"op_absent", Assertion{Type: AssertOpAbsent, Signature: "serving_default", Kind: ir.KindConst}, "no tf.Const in serving_default"},
		{"op_count", Assertion{Type: AssertOpCount, Kind: ir.KindCall, Count: 1}, "found 2"},
		{"unknown signature", Assertion{Type: AssertOpPresent, Signature: "nope", Kind: ir.KindConst}, `no entry function for signature "nope"`},
		{"op_sequence", Assertion{Type: AssertOpSequence, Signature: "serving_default", Kinds: []string{ir.KindConst}}, "serving_default: [tf.Const]"},
		{"missing_statistics", Assertion{Type: AssertMissingStatistics, IDs: []string{"2"}}, "[2 3]"},
		{"alias_preserved", Assertion{Type: AssertAliasPreserved, Alias: "act_alias"}, `alias "act_alias"`},
		{"statistic missing", Assertion{Type: AssertStatistic, ID: "9"}, "not calibrated"},
		{"statistic range", Assertion{Type: AssertStatistic, ID: "0", Min: 0, Max: 1}, "[-1, 2]"},
		{"unknown type", Assertion{Type: "final_state"}, "unknown assertion type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions(testResult(), []Assertion{tt.assertion})
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], "assertions[0]")
			assert.Contains(t, errs[0], tt.want)
		})
	}
}

func TestAssertCallsResolved_Unresolved(t *testing.T) {
	r := testResult()
	r.Graph.Functions[0].Ops = append(r.Graph.Functions[0].Ops,
		&ir.Op{Result: "u", Kind: ir.KindCall, Attrs: ir.IRObject{ir.AttrCallee: ir.IRString("act")}})

	err := assertCallsResolved(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "main -> act")
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertOpPresent,
		Expected: "tf.MatMul in graph",
		Actual:   "found 0",
		EntryOps: map[string][]string{"b": {"tf.Const"}, "a": {"tf.Relu", "tf.Identity"}},
	}
	assert.Equal(t,
		"Assertion failed: op_present\n"+
			"  Expected: tf.MatMul in graph\n"+
			"  Actual: found 0\n"+
			"\nEntry functions:\n"+
			"  a: tf.Relu, tf.Identity\n"+
			"  b: tf.Const\n",
		err.Error())
}
