package bundle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/roach88/quantflow/internal/export"
	"github.com/roach88/quantflow/internal/ir"
	"github.com/roach88/quantflow/internal/store"
)

// ImportOptions is the import policy.
type ImportOptions struct {
	// UpgradeLegacy renames private functions to unique
	// __inference_<name>_<n> names, recording the original name under
	// ir.AttrOriginalFuncName.
	UpgradeLegacy bool

	// LiftVariables would turn variables into function arguments. It is
	// not supported; quantization always imports with it off.
	LiftVariables bool

	// IncludeVariablesInInitializers attaches checkpoint values to
	// Module.Variables.
	IncludeVariablesInInitializers bool
}

// DefaultImportOptions is the policy every quantization mode imports with.
func DefaultImportOptions() ImportOptions {
	return ImportOptions{
		UpgradeLegacy:                  true,
		LiftVariables:                  false,
		IncludeVariablesInInitializers: true,
	}
}

// Session serves checkpoint values of a loaded bundle.
type Session struct {
	values map[string]*ir.Tensor
}

// NewSession creates a session over preloaded values.
func NewSession(values map[string]*ir.Tensor) *Session {
	if values == nil {
		values = map[string]*ir.Tensor{}
	}
	return &Session{values: values}
}

// ReadVariable returns a copy of the stored value of name.
func (s *Session) ReadVariable(name string) (*ir.Tensor, error) {
	t, ok := s.values[name]
	if !ok {
		return nil, fmt.Errorf("variable %q is not in the checkpoint", name)
	}
	return t.Clone(), nil
}

// Len returns the number of variables the session can serve.
func (s *Session) Len() int {
	return len(s.values)
}

// Load imports the bundle at path for the meta graph matching tags.
//
// Only functions reachable from the signatures in exportedNames (all
// signatures when empty) are kept, and each entry function is marked with
// the keys it serves.
func Load(ctx context.Context, path string, tags, exportedNames []string, opts ImportOptions) (*ir.Module, *Session, error) {
	if opts.LiftVariables {
		return nil, nil, errors.New("lifting variables to arguments is not supported")
	}

	md, err := ReadMetadata(path)
	if err != nil {
		return nil, nil, err
	}
	mg, err := md.MetaGraph(tags)
	if err != nil {
		return nil, nil, err
	}
	if len(exportedNames) == 0 {
		exportedNames = mg.SignatureKeys()
	}

	data, err := os.ReadFile(filepath.Join(path, GraphFile))
	if err != nil {
		return nil, nil, fmt.Errorf("read graph: %w", err)
	}
	m, err := ir.DecodeModule(data)
	if err != nil {
		return nil, nil, fmt.Errorf("decode graph: %w", err)
	}

	for _, f := range m.Functions {
		f.ExportedNames = nil
	}
	for _, key := range exportedNames {
		def, ok := mg.SignatureDefs[key]
		if !ok {
			return nil, nil, fmt.Errorf("signature key %q not found in meta graph %v", key, mg.Tags)
		}
		f := m.Function(def.Function)
		if f == nil {
			return nil, nil, fmt.Errorf("signature %q names missing function %q", key, def.Function)
		}
		f.ExportedNames = append(f.ExportedNames, key)
	}
	if mg.InitNodeName != "" {
		if f := m.Function(mg.InitNodeName); f != nil && f.IsPrivate() {
			f.ExportedNames = []string{export.InitializerKey}
		}
	}

	keepReachable(m)
	if opts.UpgradeLegacy {
		upgradeLegacy(m)
	}

	session := NewSession(nil)
	if opts.IncludeVariablesInInitializers {
		if session, err = attachCheckpoint(ctx, path, m); err != nil {
			return nil, nil, err
		}
	}
	return m, session, nil
}

// keepReachable drops functions not reachable from an entry function.
func keepReachable(m *ir.Module) {
	reachable := make(map[string]bool)
	var queue []string
	for _, f := range m.EntryFunctions() {
		reachable[f.Name] = true
		queue = append(queue, f.Name)
	}
	for len(queue) > 0 {
		f := m.Function(queue[0])
		queue = queue[1:]
		for _, op := range f.Ops {
			if callee := op.Callee(); callee != "" && !reachable[callee] && m.Function(callee) != nil {
				reachable[callee] = true
				queue = append(queue, callee)
			}
		}
	}
	m.RemoveFunctions(func(f *ir.Function) bool { return !reachable[f.Name] })
}

// upgradeLegacy gives private functions unique inference names.
func upgradeLegacy(m *ir.Module) {
	renamed := make(map[string]string)
	n := 0
	for _, f := range m.Functions {
		if !f.IsPrivate() || f.Attrs.GetBool(ir.AttrCompositeFunction) || strings.HasPrefix(f.Name, "__inference_") {
			continue
		}
		if _, ok := f.Attrs.GetString(ir.AttrOriginalFuncName); ok {
			continue
		}
		name := m.UniqueFunctionName("__inference_" + f.Name + "_" + strconv.Itoa(n))
		n++
		f.SetAttr(ir.AttrOriginalFuncName, ir.IRString(f.Name))
		renamed[f.Name] = name
		f.Name = name
	}
	if len(renamed) == 0 {
		return
	}
	m.Walk(func(_ *ir.Function, op *ir.Op) {
		if to, ok := renamed[op.Callee()]; ok {
			op.SetAttr(ir.AttrCallee, ir.IRString(to))
		}
	})
}

func attachCheckpoint(ctx context.Context, path string, m *ir.Module) (*Session, error) {
	dir := filepath.Join(path, VariablesDir)
	if _, err := os.Stat(filepath.Join(dir, store.CheckpointFile)); errors.Is(err, os.ErrNotExist) {
		return NewSession(nil), nil
	}
	s, err := store.OpenCheckpoint(dir)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer s.Close()

	if _, err := s.AttachVariables(ctx, m); err != nil {
		return nil, fmt.Errorf("attach variables: %w", err)
	}
	vars, err := s.ReadVariables(ctx)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	values := make(map[string]*ir.Tensor, len(vars))
	for _, v := range vars {
		values[v.Name] = v.Initial
	}
	return NewSession(values), nil
}
