package compiler

import (
	"fmt"

	"github.com/roach88/quantflow/internal/ir"
)

// xlaEntryName is the entry function of a serialized sub-module.
const xlaEntryName = "main"

// DeserializeXlaCallModulePass expands tf.XlaCallModule ops whose
// serialized stablehlo module is attached under ir.AttrSerializedModule.
// The sub-module's functions are added as private functions with unique
// names and the op becomes a call to the sub-module's main.
func DeserializeXlaCallModulePass() Pass {
	return NewPass("deserialize-xla-call-module", func(ctx *Context, m *ir.Module) error {
		expanded := 0
		for _, f := range m.Functions {
			for _, op := range f.Ops {
				if op.Kind != ir.KindXlaCallModule {
					continue
				}
				src, ok := op.Attrs.GetString(ir.AttrSerializedModule)
				if !ok {
					return fmt.Errorf("%s: %s %q has no serialized module", f.Name, op.Kind, op.Result)
				}
				sub, err := ir.DecodeModule([]byte(src))
				if err != nil {
					return fmt.Errorf("%s: %s %q: %w", f.Name, op.Kind, op.Result, err)
				}
				entry, err := mergeSubModule(m, sub)
				if err != nil {
					return fmt.Errorf("%s: %s %q: %w", f.Name, op.Kind, op.Result, err)
				}
				op.Kind = ir.KindIn(ir.ClassCall, m.Dialect)
				op.Attrs = ir.IRObject{ir.AttrCallee: ir.IRString(entry)}
				expanded++
			}
		}
		ctx.Log().Debug("deserialized xla call modules", "count", expanded)
		return nil
	})
}

// mergeSubModule copies sub's functions into m under fresh names and
// returns the new name of sub's entry function.
func mergeSubModule(m, sub *ir.Module) (string, error) {
	if sub.Function(xlaEntryName) == nil {
		return "", fmt.Errorf("serialized module has no %q function", xlaEntryName)
	}

	renamed := make(map[string]string, len(sub.Functions))
	for _, f := range sub.Functions {
		name := m.UniqueFunctionName(f.Name)
		renamed[f.Name] = name
		m.Functions = append(m.Functions, &ir.Function{Name: name})
	}
	for _, f := range sub.Functions {
		dst := m.Function(renamed[f.Name])
		clone := f.Clone()
		clone.Name = dst.Name
		clone.ExportedNames = nil
		for _, op := range clone.Ops {
			if callee := op.Callee(); callee != "" {
				if to, ok := renamed[callee]; ok {
					op.SetAttr(ir.AttrCallee, ir.IRString(to))
				}
			}
		}
		*dst = *clone
	}
	return renamed[xlaEntryName], nil
}
