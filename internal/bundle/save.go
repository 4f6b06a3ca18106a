package bundle

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/roach88/quantflow/internal/compiler"
	"github.com/roach88/quantflow/internal/export"
	"github.com/roach88/quantflow/internal/ir"
	"github.com/roach88/quantflow/internal/store"
)

// Write creates a bundle at dir holding m under one meta graph. Variable
// Initial values go to the checkpoint.
func Write(ctx context.Context, dir string, m *ir.Module, mg MetaGraph) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create bundle dir: %w", err)
	}
	data, err := m.GraphDef()
	if err != nil {
		return fmt.Errorf("encode graph: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, GraphFile), data, 0o644); err != nil {
		return fmt.Errorf("write graph: %w", err)
	}

	if len(m.Variables) > 0 {
		if err := writeVariables(ctx, dir, m.Variables); err != nil {
			return err
		}
		names := make([]string, len(m.Variables))
		for i, v := range m.Variables {
			names[i] = v.Name
		}
		mg.SaverDef = &export.SaverDef{Filename: store.CheckpointFile, Variables: names}
	}

	if len(mg.Tags) == 0 {
		mg.Tags = []string{DefaultTag}
	}
	return WriteMetadata(dir, &Metadata{
		Version:    ir.IRVersion,
		Tool:       "quantflow " + ir.ToolVersion,
		MetaGraphs: []MetaGraph{mg},
	})
}

// WriteModel writes a compiled model source as a bundle at dir.
func WriteModel(ctx context.Context, dir string, model *compiler.Model) error {
	mg := MetaGraph{
		Tags:          model.Tags,
		SignatureDefs: make(map[string]SignatureDef, len(model.Signatures)),
	}
	for _, sig := range model.Signatures {
		mg.SignatureDefs[sig.Key] = SignatureDef{Function: sig.Function, Inputs: sig.Inputs, Outputs: sig.Outputs}
	}
	if len(model.Aliases) > 0 {
		mg.FunctionAliases = model.Aliases
	}
	return Write(ctx, dir, model.Module, mg)
}

// SaveExportedModel writes an exported model as a bundle at dir. Signature
// defs come from the source bundle; assets are copied from srcPath.
func SaveExportedModel(ctx context.Context, dir string, exported *export.ExportedModel, srcPath string, tags []string, sigDefs map[string]SignatureDef) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create bundle dir: %w", err)
	}
	data, err := exported.GraphDef()
	if err != nil {
		return fmt.Errorf("encode graph: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, GraphFile), data, 0o644); err != nil {
		return fmt.Errorf("write graph: %w", err)
	}

	if exported.SaverDef != nil {
		if err := copyCheckpoint(ctx, exported.CheckpointDir, dir); err != nil {
			return err
		}
	}
	for _, a := range exported.AssetFileDefs {
		if err := copyAsset(srcPath, dir, a.Filename); err != nil {
			return err
		}
	}

	if len(tags) == 0 {
		tags = []string{DefaultTag}
	}
	return WriteMetadata(dir, &Metadata{
		Version: ir.IRVersion,
		Tool:    "quantflow " + ir.ToolVersion,
		MetaGraphs: []MetaGraph{{
			Tags:            tags,
			SignatureDefs:   sigDefs,
			FunctionAliases: exported.FunctionAliases,
			AssetFileDefs:   exported.AssetFileDefs,
			SaverDef:        exported.SaverDef,
			InitNodeName:    exported.InitNodeName,
		}},
	})
}

func writeVariables(ctx context.Context, dir string, vars []*ir.Variable) error {
	vdir := filepath.Join(dir, VariablesDir)
	if err := os.MkdirAll(vdir, 0o755); err != nil {
		return fmt.Errorf("create variables dir: %w", err)
	}
	s, err := store.OpenCheckpoint(vdir)
	if err != nil {
		return fmt.Errorf("open checkpoint: %w", err)
	}
	defer s.Close()
	if err := s.WriteVariables(ctx, vars); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

func copyCheckpoint(ctx context.Context, from, dir string) error {
	src, err := store.OpenCheckpoint(from)
	if err != nil {
		return fmt.Errorf("open exported checkpoint: %w", err)
	}
	defer src.Close()
	vars, err := src.ReadVariables(ctx)
	if err != nil {
		return fmt.Errorf("read exported checkpoint: %w", err)
	}
	return writeVariables(ctx, dir, vars)
}

func copyAsset(srcPath, dir, name string) error {
	if srcPath == "" {
		return nil
	}
	in, err := os.Open(filepath.Join(srcPath, AssetsDir, name))
	if err != nil {
		return fmt.Errorf("open asset %s: %w", name, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Join(dir, AssetsDir), 0o755); err != nil {
		return fmt.Errorf("create assets dir: %w", err)
	}
	out, err := os.Create(filepath.Join(dir, AssetsDir, name))
	if err != nil {
		return fmt.Errorf("create asset %s: %w", name, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy asset %s: %w", name, err)
	}
	return out.Close()
}
