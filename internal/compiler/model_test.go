package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quantflow/internal/ir"
)

const matmulModelCUE = `
model: {
	name: "matmul"
	tags: ["serve"]
	functions: {
		main: {
			exported_names: ["serving_default"]
			args: [{name: "x", shape: [1, 2]}]
			results: ["y"]
			ops: [
				{result: "w", kind: "tf.ReadVariableOp", attrs: {shared_name: "w"}},
				{result: "h", kind: "tf.MatMul", operands: ["x", "w"]},
				{result: "y", kind: "tf.PartitionedCall", operands: ["h"], attrs: {f: "helper"}},
			]
		}
		helper: {
			args: [{name: "a", shape: [1, 2]}]
			results: ["r"]
			ops: [{result: "r", kind: "tf.Relu", operands: ["a"]}]
		}
	}
	variables: {
		w: {shape: [2, 2], data: [1.0, 0.5, -0.5, 2]}
	}
	aliases: {helper: "helper_alias"}
}
`

func compileString(t *testing.T, src string) (*Model, error) {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	require.NoError(t, v.Err())
	return CompileModel(v.LookupPath(cue.ParsePath("model")))
}

func TestCompileModelBasic(t *testing.T) {
	model, err := compileString(t, matmulModelCUE)
	require.NoError(t, err)

	m := model.Module
	assert.Equal(t, "matmul", m.Name)
	assert.Equal(t, ir.DialectTF, m.Dialect)
	require.Len(t, m.Functions, 2)
	assert.Equal(t, "main", m.Functions[0].Name, "declaration order is preserved")
	assert.Equal(t, []string{"serving_default"}, m.Functions[0].ExportedNames)
	assert.Equal(t, "helper", m.Functions[0].Ops[2].Callee())

	require.Len(t, m.Variables, 1)
	assert.Equal(t, []float32{1, 0.5, -0.5, 2}, m.Variables[0].Initial.Floats)
	assert.Equal(t, []int64{2, 2}, m.Variables[0].Shape)

	assert.Equal(t, []string{"serve"}, model.Tags)
	assert.Equal(t, map[string]string{"helper": "helper_alias"}, model.Aliases)
	require.Len(t, model.Signatures, 1)
	assert.Equal(t, SignatureSpec{Key: "serving_default", Function: "main", Inputs: []string{"x"}, Outputs: []string{"y"}}, model.Signatures[0])

	assert.Empty(t, Validate(m))
}

func TestCompileModelMissingName(t *testing.T) {
	_, err := compileString(t, `model: { functions: { main: {} } }`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name")
	assert.Contains(t, err.Error(), "required")
}

func TestCompileModelFloatAttrsBecomeBitPatterns(t *testing.T) {
	model, err := compileString(t, `
		model: {
			name: "qat"
			functions: main: {
				exported_names: ["serving_default"]
				args: [{name: "x"}]
				results: ["q"]
				ops: [{result: "q", kind: "tf.FakeQuantWithMinMaxVars", operands: ["x"], attrs: {min: -1.5, max: 2.0}}]
			}
		}
	`)
	require.NoError(t, err)

	op := model.Module.Functions[0].Ops[0]
	lo, ok := op.Attrs.GetF32(ir.AttrMin)
	require.True(t, ok)
	assert.Equal(t, float32(-1.5), lo)

	data, err := model.Module.GraphDef()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "1.5")
}

func TestCompileModelConstRequiresValue(t *testing.T) {
	_, err := compileString(t, `
		model: {
			name: "bad"
			functions: main: {
				ops: [{result: "c", kind: "tf.Const"}]
			}
		}
	`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a value")
}

func TestCompileModelTensorShapeMismatch(t *testing.T) {
	_, err := compileString(t, `
		model: {
			name: "bad"
			functions: main: {}
			variables: w: {shape: [3], data: [1.0]}
		}
	`)
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "data", ce.Field)
}

func TestCompileModelUnknownSignatureFunction(t *testing.T) {
	_, err := compileString(t, `
		model: {
			name: "bad"
			functions: main: {}
			signatures: serving_default: {function: "missing"}
		}
	`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown function "missing"`)
}

func TestCompileModelExplicitSignatureMarksEntry(t *testing.T) {
	model, err := compileString(t, `
		model: {
			name: "sig"
			functions: main: {args: [{name: "x"}], results: ["x"]}
			signatures: predict: {function: "main"}
		}
	`)
	require.NoError(t, err)
	assert.Equal(t, []string{"predict"}, model.Module.Functions[0].ExportedNames)
	assert.Equal(t, []string{"x"}, model.Signatures[0].Inputs)
}

func TestLoadModelFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.cue")
	require.NoError(t, os.WriteFile(path, []byte(matmulModelCUE), 0o644))

	model, err := LoadModel(path)
	require.NoError(t, err)
	assert.Equal(t, "matmul", model.Module.Name)
}

func TestLoadModelReportsPosition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.cue")
	require.NoError(t, os.WriteFile(path, []byte("model: {\n\tname: 1 & 2\n}\n"), 0o644))

	_, err := LoadModel(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.cue")
}

func TestLoadModelMissingFile(t *testing.T) {
	_, err := LoadModel(filepath.Join(t.TempDir(), "nope.cue"))
	require.Error(t, err)
}
