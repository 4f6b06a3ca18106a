package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/roach88/quantflow/internal/bundle"
	"github.com/roach88/quantflow/internal/calibration"
	"github.com/roach88/quantflow/internal/ir"
)

// Function and alias names of MatMulModule.
const (
	HelperFunction = "helper"
	HelperAlias    = "helper_alias"
	SecondKey      = "other"
)

// MatMulModule builds the smallest quantizable model:
//
//	main(x)   { w = read(w); h = matmul(x, w); a = call act(h); y = call helper(a) }
//	act(q)    { s = identity(q) }
//	helper(p) { r = relu(p) }
//
// main serves serving_default. helper is aliased by MatMulMetaGraph, act
// is not, so act is inlined and helper is kept.
func MatMulModule() *ir.Module {
	return &ir.Module{
		Name:    "matmul",
		Dialect: ir.DialectTF,
		Functions: []*ir.Function{
			{
				Name:    "main",
				Args:    []ir.Arg{{Name: "x", Shape: []int64{1, 2}}},
				Results: []string{"y"},
				Ops: []*ir.Op{
					readVariable("w", "w"),
					{Result: "h", Kind: ir.KindMatMul, Operands: []string{"x", "w"}},
					call("a", "act", "h"),
					call("y", HelperFunction, "a"),
				},
			},
			{
				Name:    "act",
				Args:    []ir.Arg{{Name: "q"}},
				Results: []string{"s"},
				Ops:     []*ir.Op{{Result: "s", Kind: ir.KindIdentity, Operands: []string{"q"}}},
			},
			{
				Name:    HelperFunction,
				Args:    []ir.Arg{{Name: "p"}},
				Results: []string{"r"},
				Ops:     []*ir.Op{{Result: "r", Kind: ir.KindRelu, Operands: []string{"p"}}},
			},
		},
		Variables: []*ir.Variable{{
			Name:    "w",
			DType:   ir.DTypeF32,
			Shape:   []int64{2, 2},
			Initial: ir.NewF32([]int64{2, 2}, []float32{0.5, -1, 2, 1}),
		}},
	}
}

// TwoSignatureModule is MatMulModule plus a second entry point:
//
//	second(x) { v = read(w); o = matmul(x, v) }
func TwoSignatureModule() *ir.Module {
	m := MatMulModule()
	m.Functions = append(m.Functions, &ir.Function{
		Name:    "second",
		Args:    []ir.Arg{{Name: "x", Shape: []int64{1, 2}}},
		Results: []string{"o"},
		Ops: []*ir.Op{
			readVariable("v", "w"),
			{Result: "o", Kind: ir.KindMatMul, Operands: []string{"x", "v"}},
		},
	})
	return m
}

// MatMulMetaGraph is the meta graph of MatMulModule and TwoSignatureModule.
func MatMulMetaGraph() bundle.MetaGraph {
	return bundle.MetaGraph{
		Tags: []string{bundle.DefaultTag},
		SignatureDefs: map[string]bundle.SignatureDef{
			"serving_default": {Function: "main", Inputs: []string{"x"}, Outputs: []string{"y"}},
			SecondKey:         {Function: "second", Inputs: []string{"x"}, Outputs: []string{"o"}},
		},
		FunctionAliases: map[string]string{HelperFunction: HelperAlias},
	}
}

// WriteBundle writes m as a bundle in a fresh temp dir and returns its path.
// Signature defs naming functions m does not have are dropped.
func WriteBundle(t testing.TB, m *ir.Module, mg bundle.MetaGraph) string {
	t.Helper()
	defs := make(map[string]bundle.SignatureDef, len(mg.SignatureDefs))
	for key, def := range mg.SignatureDefs {
		if m.Function(def.Function) != nil {
			defs[key] = def
		}
	}
	mg.SignatureDefs = defs

	dir := filepath.Join(t.TempDir(), "bundle")
	require.NoError(t, bundle.Write(context.Background(), dir, m, mg))
	return dir
}

// WriteMatMulBundle writes MatMulModule with MatMulMetaGraph.
func WriteMatMulBundle(t testing.TB) string {
	t.Helper()
	return WriteBundle(t, MatMulModule(), MatMulMetaGraph())
}

// WriteDataset writes a representative dataset file and returns its path.
func WriteDataset(t testing.TB, samples ...calibration.Sample) string {
	t.Helper()
	data, err := yaml.Marshal(calibration.Dataset{Samples: samples})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "dataset.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func readVariable(result, name string) *ir.Op {
	return &ir.Op{
		Result:   result,
		Kind:     ir.KindReadVariable,
		Operands: []string{},
		Attrs:    ir.IRObject{ir.AttrSharedName: ir.IRString(name)},
	}
}

func call(result, callee string, operands ...string) *ir.Op {
	return &ir.Op{
		Result:   result,
		Kind:     ir.KindCall,
		Operands: operands,
		Attrs:    ir.IRObject{ir.AttrCallee: ir.IRString(callee)},
	}
}
