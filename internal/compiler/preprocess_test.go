package compiler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quantflow/internal/ir"
)

// newTestModule builds:
//
//	main(x) { w = read(w); h = matmul(x, w); y = call helper(h) }
//	helper(a) { r = relu(a) }
func newTestModule() *ir.Module {
	return &ir.Module{
		Name:    "test",
		Dialect: ir.DialectTF,
		Functions: []*ir.Function{
			{
				Name:          "main",
				ExportedNames: []string{"serving_default"},
				Args:          []ir.Arg{{Name: "x", Shape: []int64{1, 2}}},
				Results:       []string{"y"},
				Ops: []*ir.Op{
					{Result: "w", Kind: ir.KindReadVariable, Operands: []string{}, Attrs: ir.IRObject{ir.AttrSharedName: ir.IRString("w")}},
					{Result: "h", Kind: ir.KindMatMul, Operands: []string{"x", "w"}},
					callOp("y", "helper", "h"),
				},
			},
			{
				Name:    "helper",
				Args:    []ir.Arg{{Name: "a"}},
				Results: []string{"r"},
				Ops:     []*ir.Op{{Result: "r", Kind: ir.KindRelu, Operands: []string{"a"}}},
			},
		},
		Variables: []*ir.Variable{{
			Name:    "w",
			DType:   ir.DTypeF32,
			Shape:   []int64{2, 2},
			Initial: ir.NewF32([]int64{2, 2}, []float32{1, 2, 3, 4}),
		}},
	}
}

type mapSession map[string]*ir.Tensor

func (s mapSession) ReadVariable(name string) (*ir.Tensor, error) {
	t, ok := s[name]
	if !ok {
		return nil, errors.New("not in session")
	}
	return t, nil
}

func runPass(t *testing.T, p Pass, m *ir.Module) error {
	t.Helper()
	return p.Run(NewContext(nil), m)
}

func TestFreezeVariables_ReplacesReadsWithConstants(t *testing.T) {
	m := newTestModule()
	require.NoError(t, runPass(t, FreezeVariablesPass(nil), m))

	op := m.Functions[0].Ops[0]
	assert.Equal(t, ir.KindConst, op.Kind)
	assert.Equal(t, []float32{1, 2, 3, 4}, op.Value.Floats)
	from, _ := op.Attrs.GetString(ir.AttrFrozenFrom)
	assert.Equal(t, "w", from)
	assert.Empty(t, m.Variables, "frozen variable is dropped")

	// The constant owns its data.
	op.Value.Floats[0] = 9
	assert.Equal(t, float32(1), newTestModule().Variables[0].Initial.Floats[0])
}

func TestFreezeVariables_SkipsAssignedVariables(t *testing.T) {
	m := newTestModule()
	main := m.Functions[0]
	main.Ops = append(main.Ops, &ir.Op{
		Kind:     ir.KindAssignVariable,
		Operands: []string{"h"},
		Attrs:    ir.IRObject{ir.AttrSharedName: ir.IRString("w")},
	})

	require.NoError(t, runPass(t, FreezeVariablesPass(nil), m))
	assert.Equal(t, ir.KindReadVariable, main.Ops[0].Kind)
	require.Len(t, m.Variables, 1)
}

func TestFreezeVariables_UsesSession(t *testing.T) {
	m := newTestModule()
	session := mapSession{"w": ir.NewF32([]int64{2, 2}, []float32{5, 6, 7, 8})}

	require.NoError(t, runPass(t, FreezeVariablesPass(session), m))
	assert.Equal(t, []float32{5, 6, 7, 8}, m.Functions[0].Ops[0].Value.Floats)
}

func TestFreezeVariables_FailsWithoutValue(t *testing.T) {
	m := newTestModule()
	m.Variables[0].Initial = nil

	err := runPass(t, FreezeVariablesPass(nil), m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `cannot freeze variable "w"`)
}

func TestInline_InlinesUnaliasedCalls(t *testing.T) {
	m := newTestModule()
	require.NoError(t, runPass(t, InlinePass(nil), m))

	main := m.Functions[0]
	require.Len(t, main.Ops, 3)
	assert.Equal(t, ir.KindRelu, main.Ops[2].Kind)
	assert.Equal(t, "y", main.Ops[2].Result, "inlined op takes over the call result")
	assert.Equal(t, []string{"h"}, main.Ops[2].Operands)
}

func TestInline_RespectsNoInline(t *testing.T) {
	m := newTestModule()
	require.NoError(t, runPass(t, InlinePass(map[string]bool{"helper": true}), m))
	assert.Equal(t, "helper", m.Functions[0].Ops[2].Callee())
}

func TestInline_SkipsCompositeFunctions(t *testing.T) {
	m := newTestModule()
	m.Functions[1].SetAttr(ir.AttrCompositeFunction, ir.IRBool(true))
	require.NoError(t, runPass(t, InlinePass(nil), m))
	assert.Equal(t, "helper", m.Functions[0].Ops[2].Callee())
}

func TestInline_NestedCallsAndRenaming(t *testing.T) {
	m := newTestModule()
	helper := m.Functions[1]
	helper.Ops = []*ir.Op{
		{Result: "t", Kind: ir.KindIdentity, Operands: []string{"a"}},
		callOp("r", "leaf", "t"),
	}
	m.Functions = append(m.Functions, &ir.Function{
		Name:    "leaf",
		Args:    []ir.Arg{{Name: "b"}},
		Results: []string{"out"},
		Ops:     []*ir.Op{{Result: "out", Kind: ir.KindRelu, Operands: []string{"b"}}},
	})

	require.NoError(t, runPass(t, InlinePass(nil), m))

	main := m.Functions[0]
	kinds := make([]string, len(main.Ops))
	for i, op := range main.Ops {
		kinds[i] = op.Kind
	}
	assert.Equal(t, []string{ir.KindReadVariable, ir.KindMatMul, ir.KindIdentity, ir.KindRelu}, kinds)
	assert.Equal(t, "y/t", main.Ops[2].Result)
	assert.Equal(t, []string{"y/t"}, main.Ops[3].Operands)
	assert.Empty(t, Validate(m))
}

func TestInline_ForwardsArgumentResult(t *testing.T) {
	m := newTestModule()
	m.Functions[1].Ops = nil
	m.Functions[1].Results = []string{"a"}

	require.NoError(t, runPass(t, InlinePass(nil), m))
	assert.Equal(t, []string{"h"}, m.Functions[0].Results)
}

func TestInline_RejectsRecursion(t *testing.T) {
	m := newTestModule()
	m.Functions[1].Ops = append(m.Functions[1].Ops, callOp("again", "helper", "r"))

	err := runPass(t, InlinePass(nil), m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "calls itself")
}

func TestSymbolDCE(t *testing.T) {
	m := newTestModule()
	m.Functions = append(m.Functions,
		&ir.Function{Name: "orphan"},
		&ir.Function{Name: "aliased"},
	)

	require.NoError(t, runPass(t, SymbolDCEPass(map[string]bool{"aliased": true}), m))

	var names []string
	for _, f := range m.Functions {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"main", "helper", "aliased"}, names)
}

func TestDeadCodeElimination_KeepsSideEffects(t *testing.T) {
	m := newTestModule()
	main := m.Functions[0]
	main.Ops = append(main.Ops,
		&ir.Op{Result: "unused", Kind: ir.KindRelu, Operands: []string{"h"}},
		&ir.Op{Result: "unused2", Kind: ir.KindIdentity, Operands: []string{"unused"}},
		&ir.Op{Kind: ir.KindDumpTensor, Operands: []string{"h"}},
	)

	require.NoError(t, runPass(t, DeadCodeEliminationPass(), m))
	require.Len(t, main.Ops, 4)
	assert.Equal(t, ir.KindDumpTensor, main.Ops[3].Kind)
}

func TestLowerToStableHLO(t *testing.T) {
	m := newTestModule()
	helper := m.Functions[1]
	helper.Ops = []*ir.Op{
		{Result: "i", Kind: ir.KindIdentity, Operands: []string{"a"}},
		{Result: "r", Kind: ir.KindRelu, Operands: []string{"i"}},
	}

	require.NoError(t, runPass(t, LowerToStableHLOPass(), m))

	assert.Equal(t, ir.DialectStableHLO, m.Dialect)
	main := m.Functions[0]
	assert.Equal(t, ir.KindReadVariable, main.Ops[0].Kind, "variable ops keep tf kinds")
	assert.Equal(t, ir.KindHLODotGeneral, main.Ops[1].Kind)
	assert.Equal(t, ir.KindFuncCall, main.Ops[2].Kind)
	assert.Equal(t, "helper", main.Ops[2].Callee())

	require.Len(t, helper.Ops, 2)
	assert.Equal(t, ir.KindHLOConstant, helper.Ops[0].Kind)
	assert.Equal(t, "r/zero", helper.Ops[0].Result)
	assert.Equal(t, ir.KindHLOMaximum, helper.Ops[1].Kind)
	assert.Equal(t, []string{"a", "r/zero"}, helper.Ops[1].Operands)
}

func TestDeserializeXlaCallModule(t *testing.T) {
	sub := &ir.Module{
		Dialect: ir.DialectStableHLO,
		Functions: []*ir.Function{
			{
				Name: "main", Args: []ir.Arg{{Name: "p"}}, Results: []string{"q"},
				Ops: []*ir.Op{{Result: "q", Kind: ir.KindFuncCall, Operands: []string{"p"}, Attrs: ir.IRObject{ir.AttrCallee: ir.IRString("helper")}}},
			},
			{
				Name: "helper", Args: []ir.Arg{{Name: "z"}}, Results: []string{"z"}, Ops: []*ir.Op{},
			},
		},
	}
	data, err := sub.GraphDef()
	require.NoError(t, err)

	m := newTestModule()
	m.Functions[0].Ops[1] = &ir.Op{
		Result:   "h",
		Kind:     ir.KindXlaCallModule,
		Operands: []string{"x"},
		Attrs:    ir.IRObject{ir.AttrSerializedModule: ir.IRString(string(data))},
	}

	require.NoError(t, runPass(t, DeserializeXlaCallModulePass(), m))

	op := m.Functions[0].Ops[1]
	assert.Equal(t, ir.KindCall, op.Kind)
	assert.Equal(t, "main_0", op.Callee())

	entry := m.Function("main_0")
	require.NotNil(t, entry)
	assert.True(t, entry.IsPrivate())
	assert.Equal(t, "helper_0", entry.Ops[0].Callee(), "inner calls follow renames")
	assert.Empty(t, Validate(m))
}

func TestDeserializeXlaCallModule_MissingModule(t *testing.T) {
	m := newTestModule()
	m.Functions[0].Ops[1].Kind = ir.KindXlaCallModule

	err := runPass(t, DeserializeXlaCallModulePass(), m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no serialized module")
}

func TestPreprocessAndFreezeGraph(t *testing.T) {
	tests := []struct {
		name      string
		opts      PreprocessOptions
		wantFuncs []string
		wantKind  string
		dialect   string
	}{
		{
			name:      "inliner run",
			opts:      PreprocessOptions{InlinerRun: true},
			wantFuncs: []string{"main"},
			wantKind:  ir.KindRelu,
			dialect:   ir.DialectTF,
		},
		{
			name:      "aliased function survives",
			opts:      PreprocessOptions{InlinerRun: true, NoInline: map[string]bool{"helper": true}},
			wantFuncs: []string{"main", "helper"},
			wantKind:  ir.KindCall,
			dialect:   ir.DialectTF,
		},
		{
			name:      "no inliner",
			opts:      PreprocessOptions{},
			wantFuncs: []string{"main", "helper"},
			wantKind:  ir.KindCall,
			dialect:   ir.DialectTF,
		},
		{
			name:      "lowered",
			opts:      PreprocessOptions{InlinerRun: true, LowerToStableHLO: true},
			wantFuncs: []string{"main"},
			wantKind:  ir.KindHLOMaximum,
			dialect:   ir.DialectStableHLO,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestModule()
			require.NoError(t, PreprocessAndFreezeGraph(NewContext(nil), m, tt.opts))

			var names []string
			for _, f := range m.Functions {
				names = append(names, f.Name)
			}
			assert.Equal(t, tt.wantFuncs, names)
			main := m.Functions[0]
			assert.Equal(t, tt.wantKind, main.Ops[len(main.Ops)-1].Kind)
			assert.Equal(t, tt.dialect, m.Dialect)
			assert.Empty(t, m.Variables)
		})
	}
}

func TestPreprocessAndFreezeGraph_FailureIsPassError(t *testing.T) {
	m := newTestModule()
	m.Variables[0].Initial = nil

	err := PreprocessAndFreezeGraph(NewContext(nil), m, PreprocessOptions{InlinerRun: true})
	require.Error(t, err)

	var pe *PassError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "tf_quant_preprocess", pe.Pipeline)
	assert.Equal(t, "freeze-variables", pe.Pass)
}
