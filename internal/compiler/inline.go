package compiler

import (
	"fmt"
	"strconv"

	"github.com/roach88/quantflow/internal/ir"
)

// InlinePass inlines every call whose callee is neither in noinline nor a
// composite function. Nested calls exposed by inlining are inlined too.
func InlinePass(noinline map[string]bool) Pass {
	return NewPass("inline", func(ctx *Context, m *ir.Module) error {
		return inlineCalls(ctx, m, func(callee *ir.Function) bool {
			return !noinline[callee.Name] && !callee.Attrs.GetBool(ir.AttrCompositeFunction)
		})
	})
}

// InlineCallsTo inlines calls whose callee satisfies inlinable.
func InlineCallsTo(name string, inlinable func(callee *ir.Function) bool) Pass {
	return NewPass(name, func(ctx *Context, m *ir.Module) error {
		return inlineCalls(ctx, m, inlinable)
	})
}

func inlineCalls(ctx *Context, m *ir.Module, inlinable func(*ir.Function) bool) error {
	for _, c := range AnalyzeCallCycles(m) {
		for _, name := range c.Path {
			if f := m.Function(name); f != nil && inlinable(f) {
				return fmt.Errorf("cannot inline: %s", c.Message)
			}
		}
	}

	inlined := 0
	for _, f := range m.Functions {
		for i := 0; i < len(f.Ops); {
			op := f.Ops[i]
			callee := m.Function(op.Callee())
			if callee == nil || callee == f || !inlinable(callee) {
				i++
				continue
			}
			body, err := inlineBody(f, op, callee)
			if err != nil {
				return fmt.Errorf("%s: inline %s: %w", f.Name, callee.Name, err)
			}
			f.Ops = append(f.Ops[:i], append(body, f.Ops[i+1:]...)...)
			inlined++
			// Do not advance: the inlined body may itself contain calls.
		}
	}
	ctx.Log().Debug("inlined calls", "count", inlined)
	return nil
}

// inlineBody clones callee's ops for the call site, renaming values so they
// do not collide with names already used in caller. The op defining the
// callee's result takes over the call's result name.
func inlineBody(caller *ir.Function, call *ir.Op, callee *ir.Function) ([]*ir.Op, error) {
	if len(call.Operands) != len(callee.Args) {
		return nil, fmt.Errorf("call passes %d operands, callee takes %d", len(call.Operands), len(callee.Args))
	}
	if call.Result != "" && len(callee.Results) != 1 {
		return nil, fmt.Errorf("call binds one result, callee returns %d", len(callee.Results))
	}

	used := make(map[string]bool)
	for _, a := range caller.Args {
		used[a.Name] = true
	}
	for _, op := range caller.Ops {
		if op.Result != "" {
			used[op.Result] = true
		}
	}

	rename := make(map[string]string, len(callee.Args)+len(callee.Ops))
	for i, a := range callee.Args {
		rename[a.Name] = call.Operands[i]
	}

	prefix := call.Result
	if prefix == "" {
		prefix = callee.Name
	}
	var resultName string
	if call.Result != "" {
		resultName = callee.Results[0]
	}

	body := make([]*ir.Op, 0, len(callee.Ops))
	for _, src := range callee.Ops {
		op := src.Clone()
		for j, operand := range op.Operands {
			if mapped, ok := rename[operand]; ok {
				op.Operands[j] = mapped
			}
		}
		if op.Result != "" {
			var name string
			if op.Result == resultName {
				name = call.Result
			} else {
				name = uniqueValueName(used, prefix+"/"+op.Result)
			}
			used[name] = true
			rename[op.Result] = name
			op.Result = name
		}
		body = append(body, op)
	}

	// The callee returned one of its arguments: forward the operand.
	if call.Result != "" {
		if mapped := rename[resultName]; mapped != call.Result {
			caller.ReplaceUses(call.Result, mapped, nil)
		}
	}
	return body, nil
}

func uniqueValueName(used map[string]bool, base string) string {
	if !used[base] {
		return base
	}
	for i := 1; ; i++ {
		name := base + "_" + strconv.Itoa(i)
		if !used[name] {
			return name
		}
	}
}
