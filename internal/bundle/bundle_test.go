package bundle

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quantflow/internal/export"
	"github.com/roach88/quantflow/internal/ir"
)

// testModule builds:
//
//	main(x)  { w = read(w); h = matmul(x, w); y = call helper(h) }
//	helper(a) { r = relu(a) }
//	unused(a) { }
func testModule() *ir.Module {
	return &ir.Module{
		Name:    "test",
		Dialect: ir.DialectTF,
		Functions: []*ir.Function{
			{
				Name:    "main",
				Args:    []ir.Arg{{Name: "x", Shape: []int64{1, 2}}},
				Results: []string{"y"},
				Ops: []*ir.Op{
					{Result: "w", Kind: ir.KindReadVariable, Operands: []string{}, Attrs: ir.IRObject{ir.AttrSharedName: ir.IRString("w")}},
					{Result: "h", Kind: ir.KindMatMul, Operands: []string{"x", "w"}},
					{Result: "y", Kind: ir.KindCall, Operands: []string{"h"}, Attrs: ir.IRObject{ir.AttrCallee: ir.IRString("helper")}},
				},
			},
			{
				Name:    "helper",
				Args:    []ir.Arg{{Name: "a"}},
				Results: []string{"r"},
				Ops:     []*ir.Op{{Result: "r", Kind: ir.KindRelu, Operands: []string{"a"}}},
			},
			{
				Name:    "unused",
				Args:    []ir.Arg{{Name: "a"}},
				Results: []string{"a"},
				Ops:     []*ir.Op{},
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

func testMetaGraph() MetaGraph {
	return MetaGraph{
		Tags: []string{"serve"},
		SignatureDefs: map[string]SignatureDef{
			"serving_default": {Function: "main", Inputs: []string{"x"}, Outputs: []string{"y"}},
		},
		FunctionAliases: map[string]string{"helper": "helper_alias"},
	}
}

func writeTestBundle(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "bundle")
	require.NoError(t, Write(context.Background(), dir, testModule(), testMetaGraph()))
	return dir
}

func TestWriteLayout(t *testing.T) {
	dir := writeTestBundle(t)
	assert.FileExists(t, filepath.Join(dir, MetadataFile))
	assert.FileExists(t, filepath.Join(dir, GraphFile))
	assert.FileExists(t, filepath.Join(dir, VariablesDir, "variables.db"))

	md, err := ReadMetadata(dir)
	require.NoError(t, err)
	assert.Equal(t, ir.IRVersion, md.Version)
	require.Len(t, md.MetaGraphs, 1)
	require.NotNil(t, md.MetaGraphs[0].SaverDef)
	assert.Equal(t, []string{"w"}, md.MetaGraphs[0].SaverDef.Variables)
}

func TestLoad(t *testing.T) {
	dir := writeTestBundle(t)
	m, session, err := Load(context.Background(), dir, []string{"serve"}, []string{"serving_default"}, DefaultImportOptions())
	require.NoError(t, err)

	require.Len(t, m.Functions, 2, "unreachable functions are dropped")
	main := m.Function("main")
	require.NotNil(t, main)
	assert.Equal(t, []string{"serving_default"}, main.ExportedNames)

	helper := m.Function("__inference_helper_0")
	require.NotNil(t, helper, "private functions get inference names")
	original, _ := helper.Attrs.GetString(ir.AttrOriginalFuncName)
	assert.Equal(t, "helper", original)
	assert.Equal(t, "__inference_helper_0", main.Ops[2].Callee())

	require.NotNil(t, m.Variable("w").Initial)
	assert.Equal(t, []float32{1, 2, 3, 4}, m.Variable("w").Initial.Floats)

	w, err := session.ReadVariable("w")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, w.Floats)
	_, err = session.ReadVariable("nope")
	assert.Error(t, err)
}

func TestLoad_WithoutVariables(t *testing.T) {
	dir := writeTestBundle(t)
	opts := DefaultImportOptions()
	opts.IncludeVariablesInInitializers = false

	m, session, err := Load(context.Background(), dir, nil, nil, opts)
	require.NoError(t, err)
	assert.Nil(t, m.Variable("w").Initial)
	assert.Zero(t, session.Len())
}

func TestLoad_Errors(t *testing.T) {
	dir := writeTestBundle(t)
	ctx := context.Background()

	_, _, err := Load(ctx, dir, []string{"train"}, nil, DefaultImportOptions())
	assert.ErrorIs(t, err, ErrNoMetaGraph)

	_, _, err = Load(ctx, dir, nil, []string{"missing_key"}, DefaultImportOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `signature key "missing_key" not found`)

	opts := DefaultImportOptions()
	opts.LiftVariables = true
	_, _, err = Load(ctx, dir, nil, nil, opts)
	assert.Error(t, err)

	_, _, err = Load(ctx, t.TempDir(), nil, nil, DefaultImportOptions())
	assert.Error(t, err)
}

func TestGetFunctionAliases(t *testing.T) {
	dir := writeTestBundle(t)
	aliases, err := GetFunctionAliases(dir, []string{"serve"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"helper": "helper_alias"}, aliases)
}

func TestGetFunctionAliases_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		aliases map[string]string
		want    string
	}{
		{"empty alias", map[string]string{"helper": ""}, "empty name"},
		{"duplicate alias", map[string]string{"helper": "a", "main": "a"}, `alias "a" names both`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mg := testMetaGraph()
			mg.FunctionAliases = tt.aliases
			dir := t.TempDir()
			require.NoError(t, Write(context.Background(), dir, testModule(), mg))

			_, err := GetFunctionAliases(dir, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestGetFunctionAliases_BadYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile), []byte("meta_graphs: [\n"), 0o644))
	_, err := GetFunctionAliases(dir, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse saved_model.yaml")
}

func TestUpdateFunctionAliases(t *testing.T) {
	dir := writeTestBundle(t)
	aliases, err := GetFunctionAliases(dir, nil)
	require.NoError(t, err)
	m, _, err := Load(context.Background(), dir, nil, nil, DefaultImportOptions())
	require.NoError(t, err)

	UpdateFunctionAliases(aliases, m)
	assert.Equal(t, map[string]string{"__inference_helper_0": "helper_alias"}, aliases)
}

func TestSaveExportedModel(t *testing.T) {
	src := writeTestBundle(t)
	require.NoError(t, os.MkdirAll(filepath.Join(src, AssetsDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, AssetsDir, "vocab.txt"), []byte("a\nb\n"), 0o644))

	m := testModule()
	ckpt := t.TempDir()
	require.NoError(t, Write(context.Background(), ckpt, m, testMetaGraph()))

	exported := &export.ExportedModel{
		Graph:           m,
		CheckpointDir:   filepath.Join(ckpt, VariablesDir),
		FunctionAliases: map[string]string{"helper": "helper_alias"},
		AssetFileDefs:   []export.AssetFileDef{{NodeName: "vocab", Filename: "vocab.txt"}},
		SaverDef:        &export.SaverDef{Filename: "variables.db", Variables: []string{"w"}},
	}
	sigs, err := ReadSignatureDefs(src, nil)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "out")
	require.NoError(t, SaveExportedModel(context.Background(), out, exported, src, nil, sigs))

	assert.FileExists(t, filepath.Join(out, AssetsDir, "vocab.txt"))
	loaded, session, err := Load(context.Background(), out, nil, nil, DefaultImportOptions())
	require.NoError(t, err)
	assert.NotNil(t, loaded.Function("main"))
	assert.Equal(t, 1, session.Len())

	aliases, err := GetFunctionAliases(out, nil)
	require.NoError(t, err)
	assert.Equal(t, exported.FunctionAliases, aliases)
}
