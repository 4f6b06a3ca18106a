// Package export converts a quantized module into an ExportedModel: the
// graph, a checkpoint of its remaining variables, and the metadata needed to
// write a bundle.
package export

import (
	"context"
	"fmt"
	"maps"
	"os"

	"github.com/roach88/quantflow/internal/compiler"
	"github.com/roach88/quantflow/internal/ir"
	"github.com/roach88/quantflow/internal/passes"
	"github.com/roach88/quantflow/internal/scratch"
	"github.com/roach88/quantflow/internal/store"
)

// InitializerKey is the signature key of a module's session initializer.
const InitializerKey = "__tf_saved_model_session_initializer"

// AssetFileDef binds an asset to the file it is read from.
type AssetFileDef struct {
	NodeName string `json:"node_name" yaml:"node_name"`
	Filename string `json:"filename" yaml:"filename"`
}

// SaverDef describes how variables are restored from the checkpoint.
type SaverDef struct {
	Filename  string   `json:"filename" yaml:"filename"`
	Variables []string `json:"variables" yaml:"variables"`
}

// ExportedModel is the serialized result of a pipeline step.
type ExportedModel struct {
	Graph           *ir.Module
	CheckpointDir   string
	FunctionAliases map[string]string
	AssetFileDefs   []AssetFileDef
	SaverDef        *SaverDef
	InitNodeName    string
}

// GraphDef returns the canonical bytes of the exported graph.
func (e *ExportedModel) GraphDef() ([]byte, error) {
	return e.Graph.GraphDef()
}

// Options controls the export passes.
type Options struct {
	DuplicateShapeDeterminingConstants bool

	// UnfreezeConstants turns constants frozen from variables back into
	// variables stored in the checkpoint.
	UnfreezeConstants bool

	// DebugName names the export pipeline in logs and dumps.
	DebugName string
}

// DebugName returns the export pipeline name for a pipeline step.
func DebugName(step string) string {
	return step + "_export"
}

// ModuleToExportedModel runs the export passes over m in place and
// snapshots the result. Variables left in the module are written to a
// fresh checkpoint directory allocated from tmp.
func ModuleToExportedModel(ctx context.Context, cctx *compiler.Context, m *ir.Module, opts Options, aliases map[string]string, tmp *scratch.Manager) (*ExportedModel, error) {
	checkpointDir, err := tmp.LocalTmpFileName()
	if err != nil {
		return nil, fmt.Errorf("allocate checkpoint dir: %w", err)
	}

	name := opts.DebugName
	if name == "" {
		name = "export"
	}
	err = compiler.RunPasses(name, func(pm *compiler.PassManager) {
		passes.AddExportPasses(pm, opts.DuplicateShapeDeterminingConstants, opts.UnfreezeConstants)
		pm.AddPass(compiler.VerifyPass())
	}, cctx, m)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(checkpointDir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	saver, err := writeCheckpoint(ctx, checkpointDir, m.Variables)
	if err != nil {
		return nil, err
	}

	exported := &ExportedModel{
		Graph:           m.Clone(),
		CheckpointDir:   checkpointDir,
		FunctionAliases: maps.Clone(aliases),
		AssetFileDefs:   assetFileDefs(m),
		SaverDef:        saver,
	}
	if init := m.EntryFor(InitializerKey); init != nil {
		exported.InitNodeName = init.Name
	}
	if exported.FunctionAliases == nil {
		exported.FunctionAliases = map[string]string{}
	}

	cctx.Log().Debug("exported model",
		"pipeline", name,
		"checkpoint", checkpointDir,
		"variables", len(m.Variables),
		"assets", len(exported.AssetFileDefs))
	return exported, nil
}

func writeCheckpoint(ctx context.Context, dir string, vars []*ir.Variable) (*SaverDef, error) {
	if len(vars) == 0 {
		return nil, nil
	}
	s, err := store.OpenCheckpoint(dir)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer s.Close()

	if err := s.WriteVariables(ctx, vars); err != nil {
		return nil, fmt.Errorf("write checkpoint: %w", err)
	}
	names := make([]string, len(vars))
	for i, v := range vars {
		names[i] = v.Name
	}
	return &SaverDef{Filename: store.CheckpointFile, Variables: names}, nil
}

func assetFileDefs(m *ir.Module) []AssetFileDef {
	defs := make([]AssetFileDef, 0, len(m.Assets))
	for _, a := range m.Assets {
		defs = append(defs, AssetFileDef{NodeName: a.Name, Filename: a.Filename})
	}
	return defs
}
