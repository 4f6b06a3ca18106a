package compiler

import (
	"fmt"

	"github.com/roach88/quantflow/internal/ir"
)

// VariableReader materializes variable values for freezing.
type VariableReader interface {
	ReadVariable(name string) (*ir.Tensor, error)
}

// FreezeVariablesPass replaces reads of read-only variables with constants.
//
// A variable written by any tf.AssignVariableOp is not legal to freeze and
// stays a variable. Values come from session when it is non-nil, otherwise
// from Variable.Initial. The constant records the variable name under
// ir.AttrFrozenFrom so export can unfreeze it. Variables left without any
// reader or writer are dropped from the module.
func FreezeVariablesPass(session VariableReader) Pass {
	return NewPass("freeze-variables", func(ctx *Context, m *ir.Module) error {
		assigned := make(map[string]bool)
		m.Walk(func(_ *ir.Function, op *ir.Op) {
			if op.Kind == ir.KindAssignVariable {
				name, _ := op.Attrs.GetString(ir.AttrSharedName)
				assigned[name] = true
			}
		})

		values := make(map[string]*ir.Tensor)
		frozen := 0
		for _, f := range m.Functions {
			for _, op := range f.Ops {
				if op.Kind != ir.KindReadVariable {
					continue
				}
				name, _ := op.Attrs.GetString(ir.AttrSharedName)
				if assigned[name] {
					continue
				}
				t, ok := values[name]
				if !ok {
					var err error
					if t, err = readVariable(m, session, name); err != nil {
						return fmt.Errorf("%s: %w", f.Name, err)
					}
					values[name] = t
				}
				op.Kind = ir.KindIn(ir.ClassConst, m.Dialect)
				op.Operands = []string{}
				op.Value = t.Clone()
				op.Attrs = ir.IRObject{ir.AttrFrozenFrom: ir.IRString(name)}
				frozen++
			}
		}

		pruneVariables(m)
		ctx.Log().Debug("froze variable reads", "reads", frozen, "variables", len(values))
		return nil
	})
}

func readVariable(m *ir.Module, session VariableReader, name string) (*ir.Tensor, error) {
	if session != nil {
		t, err := session.ReadVariable(name)
		if err != nil {
			return nil, fmt.Errorf("cannot freeze variable %q: %w", name, err)
		}
		return t, nil
	}
	v := m.Variable(name)
	if v == nil || v.Initial == nil {
		return nil, fmt.Errorf("cannot freeze variable %q: no value available", name)
	}
	return v.Initial, nil
}

// pruneVariables drops variables no op refers to.
func pruneVariables(m *ir.Module) {
	used := make(map[string]bool)
	m.Walk(func(_ *ir.Function, op *ir.Op) {
		if op.Kind == ir.KindReadVariable || op.Kind == ir.KindAssignVariable {
			name, _ := op.Attrs.GetString(ir.AttrSharedName)
			used[name] = true
		}
	})
	kept := m.Variables[:0]
	for _, v := range m.Variables {
		if used[v.Name] {
			kept = append(kept, v)
		}
	}
	m.Variables = kept
}
