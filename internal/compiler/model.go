package compiler

import (
	"fmt"
	"math"
	"slices"

	"cuelang.org/go/cue"

	"github.com/roach88/quantflow/internal/ir"
)

// Model is a compiled model source: the graph plus the bundle metadata
// authored next to it.
type Model struct {
	Module     *ir.Module
	Tags       []string
	Signatures []SignatureSpec
	Aliases    map[string]string
}

// SignatureSpec maps a signature key to its entry function.
type SignatureSpec struct {
	Key      string
	Function string
	Inputs   []string
	Outputs  []string
}

// CompileModel parses a CUE value into a Model.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the model struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`model: { name: "mm", functions: {...} }`)
//	model, err := CompileModel(v.LookupPath(cue.ParsePath("model")))
//
// Float literals are accepted for tensor data and attributes; attributes
// are stored as IEEE-754 bit patterns (see ir.F32).
func CompileModel(v cue.Value) (*Model, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	m := &ir.Module{Dialect: ir.DialectTF}
	model := &Model{Module: m, Aliases: map[string]string{}}

	nameVal := v.LookupPath(cue.ParsePath("name"))
	if !nameVal.Exists() {
		return nil, &CompileError{Field: "name", Message: "name is required", Pos: v.Pos()}
	}
	name, err := nameVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	m.Name = name

	if d := v.LookupPath(cue.ParsePath("dialect")); d.Exists() {
		if m.Dialect, err = d.String(); err != nil {
			return nil, formatCUEError(err)
		}
	}

	if m.Functions, err = parseFunctions(v); err != nil {
		return nil, err
	}
	if len(m.Functions) == 0 {
		return nil, &CompileError{Field: "functions", Message: "at least one function is required", Pos: v.Pos()}
	}

	if m.Variables, err = parseVariables(v); err != nil {
		return nil, err
	}

	if assets := v.LookupPath(cue.ParsePath("assets")); assets.Exists() {
		iter, err := assets.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			filename, err := iter.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			m.Assets = append(m.Assets, &ir.Asset{Name: iter.Label(), Filename: filename})
		}
	}

	if model.Tags, err = parseStrings(v.LookupPath(cue.ParsePath("tags"))); err != nil {
		return nil, err
	}
	if len(model.Tags) == 0 {
		model.Tags = []string{"serve"}
	}

	if model.Signatures, err = parseSignatures(v, m); err != nil {
		return nil, err
	}

	if aliases := v.LookupPath(cue.ParsePath("aliases")); aliases.Exists() {
		iter, err := aliases.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			alias, err := iter.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			if m.Function(iter.Label()) == nil {
				return nil, &CompileError{
					Field:   "aliases." + iter.Label(),
					Message: "alias names an unknown function",
					Pos:     iter.Value().Pos(),
				}
			}
			model.Aliases[iter.Label()] = alias
		}
	}

	return model, nil
}

// parseFunctions extracts functions in declaration order.
func parseFunctions(v cue.Value) ([]*ir.Function, error) {
	var funcs []*ir.Function

	funcsVal := v.LookupPath(cue.ParsePath("functions"))
	if !funcsVal.Exists() {
		return funcs, nil
	}

	iter, err := funcsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	for iter.Next() {
		fv := iter.Value()
		f := &ir.Function{Name: iter.Label(), Ops: []*ir.Op{}}

		if f.ExportedNames, err = parseStrings(fv.LookupPath(cue.ParsePath("exported_names"))); err != nil {
			return nil, err
		}
		if f.Results, err = parseStrings(fv.LookupPath(cue.ParsePath("results"))); err != nil {
			return nil, err
		}
		if attrs := fv.LookupPath(cue.ParsePath("attrs")); attrs.Exists() {
			if f.Attrs, err = parseAttrs(attrs); err != nil {
				return nil, err
			}
		}

		if argsVal := fv.LookupPath(cue.ParsePath("args")); argsVal.Exists() {
			argIter, err := argsVal.List()
			if err != nil {
				return nil, formatCUEError(err)
			}
			for argIter.Next() {
				av := argIter.Value()
				argName, err := av.LookupPath(cue.ParsePath("name")).String()
				if err != nil {
					return nil, formatCUEError(err)
				}
				shape, err := parseInts(av.LookupPath(cue.ParsePath("shape")))
				if err != nil {
					return nil, err
				}
				f.Args = append(f.Args, ir.Arg{Name: argName, Shape: shape})
			}
		}

		if opsVal := fv.LookupPath(cue.ParsePath("ops")); opsVal.Exists() {
			opIter, err := opsVal.List()
			if err != nil {
				return nil, formatCUEError(err)
			}
			for opIter.Next() {
				op, err := parseOp(opIter.Value())
				if err != nil {
					return nil, err
				}
				f.Ops = append(f.Ops, op)
			}
		}

		funcs = append(funcs, f)
	}

	return funcs, nil
}

func parseOp(v cue.Value) (*ir.Op, error) {
	kindVal := v.LookupPath(cue.ParsePath("kind"))
	if !kindVal.Exists() {
		return nil, &CompileError{Field: "kind", Message: "op kind is required", Pos: v.Pos()}
	}
	kind, err := kindVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}

	op := &ir.Op{Kind: kind}
	if r := v.LookupPath(cue.ParsePath("result")); r.Exists() {
		if op.Result, err = r.String(); err != nil {
			return nil, formatCUEError(err)
		}
	}
	if op.Operands, err = parseStrings(v.LookupPath(cue.ParsePath("operands"))); err != nil {
		return nil, err
	}
	if op.Operands == nil {
		op.Operands = []string{}
	}
	if attrs := v.LookupPath(cue.ParsePath("attrs")); attrs.Exists() {
		if op.Attrs, err = parseAttrs(attrs); err != nil {
			return nil, err
		}
	}
	if val := v.LookupPath(cue.ParsePath("value")); val.Exists() {
		if op.Value, err = parseTensor(val); err != nil {
			return nil, err
		}
	} else if ir.IsConst(kind) {
		return nil, &CompileError{Field: "value", Message: "constant op requires a value", Pos: v.Pos()}
	}
	return op, nil
}

// parseVariables extracts variable declarations with their initial values.
func parseVariables(v cue.Value) ([]*ir.Variable, error) {
	var vars []*ir.Variable

	varsVal := v.LookupPath(cue.ParsePath("variables"))
	if !varsVal.Exists() {
		return vars, nil
	}

	iter, err := varsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		t, err := parseTensor(iter.Value())
		if err != nil {
			return nil, err
		}
		vars = append(vars, &ir.Variable{
			Name:    iter.Label(),
			DType:   t.DType,
			Shape:   t.Shape,
			Initial: t,
		})
	}
	return vars, nil
}

// parseTensor reads {dtype, shape, data}. dtype defaults to f32.
func parseTensor(v cue.Value) (*ir.Tensor, error) {
	t := &ir.Tensor{DType: ir.DTypeF32}
	if d := v.LookupPath(cue.ParsePath("dtype")); d.Exists() {
		s, err := d.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		t.DType = ir.DType(s)
	}

	var err error
	if t.Shape, err = parseInts(v.LookupPath(cue.ParsePath("shape"))); err != nil {
		return nil, err
	}

	dataVal := v.LookupPath(cue.ParsePath("data"))
	iter, err := dataVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		ev := iter.Value()
		switch t.DType {
		case ir.DTypeF32:
			f, err := ev.Float64()
			if err != nil {
				return nil, formatCUEError(err)
			}
			t.Floats = append(t.Floats, float32(f))
		case ir.DTypeI8, ir.DTypeI32, ir.DTypeF16:
			n, err := ev.Int64()
			if err != nil {
				return nil, formatCUEError(err)
			}
			t.Ints = append(t.Ints, n)
		default:
			return nil, &CompileError{
				Field:   "dtype",
				Message: fmt.Sprintf("unsupported dtype %q", t.DType),
				Pos:     v.Pos(),
			}
		}
	}

	if got := max(len(t.Floats), len(t.Ints)); int64(got) != t.NumElements() {
		return nil, &CompileError{
			Field:   "data",
			Message: fmt.Sprintf("%d values for shape %v", got, t.Shape),
			Pos:     dataVal.Pos(),
		}
	}
	return t, nil
}

// parseAttrs converts a CUE struct into an attribute object.
func parseAttrs(v cue.Value) (ir.IRObject, error) {
	iv, err := toIRValue(v)
	if err != nil {
		return nil, err
	}
	obj, ok := iv.(ir.IRObject)
	if !ok {
		return nil, &CompileError{Field: "attrs", Message: "attrs must be a struct", Pos: v.Pos()}
	}
	return obj, nil
}

// toIRValue converts a concrete CUE value to an IRValue.
// Floats become ir.F32 bit patterns; null is rejected.
func toIRValue(v cue.Value) (ir.IRValue, error) {
	switch v.Kind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRString(s), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRInt(n), nil
	case cue.FloatKind:
		f, err := v.Float64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if f > math.MaxFloat32 || f < -math.MaxFloat32 {
			return nil, &CompileError{Field: "attr", Message: "float attribute out of float32 range", Pos: v.Pos()}
		}
		return ir.F32(float32(f)), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRBool(b), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.IRArray{}
		for iter.Next() {
			elem, err := toIRValue(iter.Value())
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := ir.IRObject{}
		for iter.Next() {
			elem, err := toIRValue(iter.Value())
			if err != nil {
				return nil, err
			}
			obj[iter.Label()] = elem
		}
		return obj, nil
	default:
		return nil, &CompileError{
			Field:   "attr",
			Message: fmt.Sprintf("unsupported value kind: %v", v.Kind()),
			Pos:     v.Pos(),
		}
	}
}

func parseSignatures(v cue.Value, m *ir.Module) ([]SignatureSpec, error) {
	var sigs []SignatureSpec

	sigVal := v.LookupPath(cue.ParsePath("signatures"))
	if !sigVal.Exists() {
		// Default: every function with exported names is its own signature.
		for _, f := range m.EntryFunctions() {
			for _, key := range f.ExportedNames {
				sigs = append(sigs, SignatureSpec{Key: key, Function: f.Name, Inputs: argNames(f), Outputs: f.Results})
			}
		}
		return sigs, nil
	}

	iter, err := sigVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		sv := iter.Value()
		fn, err := sv.LookupPath(cue.ParsePath("function")).String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		f := m.Function(fn)
		if f == nil {
			return nil, &CompileError{
				Field:   "signatures." + iter.Label(),
				Message: fmt.Sprintf("unknown function %q", fn),
				Pos:     sv.Pos(),
			}
		}
		sig := SignatureSpec{Key: iter.Label(), Function: fn}
		if sig.Inputs, err = parseStrings(sv.LookupPath(cue.ParsePath("inputs"))); err != nil {
			return nil, err
		}
		if sig.Outputs, err = parseStrings(sv.LookupPath(cue.ParsePath("outputs"))); err != nil {
			return nil, err
		}
		if sig.Inputs == nil {
			sig.Inputs = argNames(f)
		}
		if sig.Outputs == nil {
			sig.Outputs = f.Results
		}
		if !slices.Contains(f.ExportedNames, sig.Key) {
			f.ExportedNames = append(f.ExportedNames, sig.Key)
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

func argNames(f *ir.Function) []string {
	names := make([]string, len(f.Args))
	for i, a := range f.Args {
		names[i] = a.Name
	}
	return names
}

func parseStrings(v cue.Value) ([]string, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	out := []string{}
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

func parseInts(v cue.Value) ([]int64, error) {
	if !v.Exists() {
		return []int64{}, nil
	}
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	out := []int64{}
	for iter.Next() {
		n, err := iter.Value().Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, n)
	}
	return out, nil
}
