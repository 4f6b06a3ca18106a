package ir

import (
	"fmt"
	"slices"
)

// ToIR converts the module to its canonical attribute tree.
// Keys mirror the JSON layout of graph.json.
func (m *Module) ToIR() IRObject {
	funcs := make(IRArray, len(m.Functions))
	for i, f := range m.Functions {
		funcs[i] = f.toIR()
	}
	vars := make(IRArray, len(m.Variables))
	for i, v := range m.Variables {
		obj := IRObject{
			"name":  IRString(v.Name),
			"dtype": IRString(v.DType),
			"shape": Ints(v.Shape...),
		}
		vars[i] = obj
	}
	assets := make(IRArray, len(m.Assets))
	for i, a := range m.Assets {
		assets[i] = IRObject{"name": IRString(a.Name), "filename": IRString(a.Filename)}
	}

	obj := IRObject{
		"name":      IRString(m.Name),
		"dialect":   IRString(m.Dialect),
		"functions": funcs,
		"variables": vars,
		"assets":    assets,
	}
	if len(m.Attrs) > 0 {
		obj["attrs"] = m.Attrs.Clone()
	}
	return obj
}

func (f *Function) toIR() IRObject {
	args := make(IRArray, len(f.Args))
	for i, a := range f.Args {
		args[i] = IRObject{"name": IRString(a.Name), "shape": Ints(a.Shape...)}
	}
	ops := make(IRArray, len(f.Ops))
	for i, op := range f.Ops {
		o := IRObject{
			"kind":     IRString(op.Kind),
			"operands": Strings(op.Operands...),
		}
		if op.Result != "" {
			o["result"] = IRString(op.Result)
		}
		if len(op.Attrs) > 0 {
			o["attrs"] = op.Attrs.Clone()
		}
		if op.Value != nil {
			o["value"] = op.Value.ToIR()
		}
		ops[i] = o
	}
	obj := IRObject{
		"name":    IRString(f.Name),
		"args":    args,
		"results": Strings(f.Results...),
		"ops":     ops,
	}
	if len(f.ExportedNames) > 0 {
		obj["exported_names"] = Strings(f.ExportedNames...)
	}
	if len(f.Attrs) > 0 {
		obj["attrs"] = f.Attrs.Clone()
	}
	return obj
}

// GraphDef returns the canonical JSON encoding of the module.
// Variable initial values are checkpoint data and are not part of it.
func (m *Module) GraphDef() ([]byte, error) {
	data, err := MarshalCanonical(m.ToIR())
	if err != nil {
		return nil, fmt.Errorf("GraphDef: %w", err)
	}
	return data, nil
}

// DecodeModule parses GraphDef bytes back into a Module.
func DecodeModule(data []byte) (*Module, error) {
	obj, err := UnmarshalIRObject(data)
	if err != nil {
		return nil, fmt.Errorf("decode module: %w", err)
	}
	return ModuleFromIR(obj)
}

// ModuleFromIR is the inverse of Module.ToIR.
func ModuleFromIR(obj IRObject) (*Module, error) {
	m := &Module{}
	m.Name, _ = obj.GetString("name")
	m.Dialect, _ = obj.GetString("dialect")
	if m.Dialect == "" {
		m.Dialect = DialectTF
	}
	if attrs, ok := obj["attrs"].(IRObject); ok {
		m.Attrs = attrs
	}

	funcs, _ := obj["functions"].(IRArray)
	for i, fv := range funcs {
		fobj, ok := fv.(IRObject)
		if !ok {
			return nil, fmt.Errorf("functions[%d]: expected object", i)
		}
		f, err := functionFromIR(fobj)
		if err != nil {
			return nil, fmt.Errorf("functions[%d]: %w", i, err)
		}
		if m.Function(f.Name) != nil {
			return nil, fmt.Errorf("functions[%d]: duplicate function %q", i, f.Name)
		}
		m.Functions = append(m.Functions, f)
	}

	vars, _ := obj["variables"].(IRArray)
	for i, vv := range vars {
		vobj, ok := vv.(IRObject)
		if !ok {
			return nil, fmt.Errorf("variables[%d]: expected object", i)
		}
		name, _ := vobj.GetString("name")
		dtype, _ := vobj.GetString("dtype")
		shape, err := intsFromIR(vobj["shape"])
		if err != nil {
			return nil, fmt.Errorf("variables[%d].shape: %w", i, err)
		}
		m.Variables = append(m.Variables, &Variable{Name: name, DType: DType(dtype), Shape: shape})
	}

	assets, _ := obj["assets"].(IRArray)
	for i, av := range assets {
		aobj, ok := av.(IRObject)
		if !ok {
			return nil, fmt.Errorf("assets[%d]: expected object", i)
		}
		name, _ := aobj.GetString("name")
		filename, _ := aobj.GetString("filename")
		m.Assets = append(m.Assets, &Asset{Name: name, Filename: filename})
	}
	return m, nil
}

func functionFromIR(obj IRObject) (*Function, error) {
	f := &Function{}
	var ok bool
	if f.Name, ok = obj.GetString("name"); !ok || f.Name == "" {
		return nil, fmt.Errorf("function name is required")
	}
	var err error
	if f.ExportedNames, err = stringsFromIR(obj["exported_names"]); err != nil {
		return nil, fmt.Errorf("exported_names: %w", err)
	}
	if f.Results, err = stringsFromIR(obj["results"]); err != nil {
		return nil, fmt.Errorf("results: %w", err)
	}
	if attrs, ok := obj["attrs"].(IRObject); ok {
		f.Attrs = attrs
	}

	args, _ := obj["args"].(IRArray)
	for i, av := range args {
		aobj, ok := av.(IRObject)
		if !ok {
			return nil, fmt.Errorf("args[%d]: expected object", i)
		}
		name, _ := aobj.GetString("name")
		shape, err := intsFromIR(aobj["shape"])
		if err != nil {
			return nil, fmt.Errorf("args[%d].shape: %w", i, err)
		}
		f.Args = append(f.Args, Arg{Name: name, Shape: shape})
	}

	ops, _ := obj["ops"].(IRArray)
	for i, ov := range ops {
		oobj, ok := ov.(IRObject)
		if !ok {
			return nil, fmt.Errorf("ops[%d]: expected object", i)
		}
		op := &Op{}
		op.Kind, _ = oobj.GetString("kind")
		op.Result, _ = oobj.GetString("result")
		if op.Operands, err = stringsFromIR(oobj["operands"]); err != nil {
			return nil, fmt.Errorf("ops[%d].operands: %w", i, err)
		}
		if attrs, ok := oobj["attrs"].(IRObject); ok {
			op.Attrs = attrs
		}
		if v, ok := oobj["value"]; ok {
			if op.Value, err = TensorFromIR(v); err != nil {
				return nil, fmt.Errorf("ops[%d].value: %w", i, err)
			}
		}
		f.Ops = append(f.Ops, op)
	}
	return f, nil
}

// Clone returns a deep copy of the module. The copy shares no mutable
// state with the original.
func (m *Module) Clone() *Module {
	out := &Module{
		Name:    m.Name,
		Dialect: m.Dialect,
		Attrs:   m.Attrs.Clone(),
	}
	for _, f := range m.Functions {
		out.Functions = append(out.Functions, f.Clone())
	}
	for _, v := range m.Variables {
		out.Variables = append(out.Variables, &Variable{
			Name:    v.Name,
			DType:   v.DType,
			Shape:   slices.Clone(v.Shape),
			Initial: v.Initial.Clone(),
		})
	}
	for _, a := range m.Assets {
		cp := *a
		out.Assets = append(out.Assets, &cp)
	}
	return out
}

// Clone returns a deep copy of the function.
func (f *Function) Clone() *Function {
	out := &Function{
		Name:          f.Name,
		ExportedNames: slices.Clone(f.ExportedNames),
		Results:       slices.Clone(f.Results),
		Attrs:         f.Attrs.Clone(),
	}
	for _, a := range f.Args {
		out.Args = append(out.Args, Arg{Name: a.Name, Shape: slices.Clone(a.Shape)})
	}
	for _, op := range f.Ops {
		out.Ops = append(out.Ops, op.Clone())
	}
	return out
}

// Clone returns a deep copy of the op.
func (op *Op) Clone() *Op {
	return &Op{
		Result:   op.Result,
		Kind:     op.Kind,
		Operands: slices.Clone(op.Operands),
		Attrs:    op.Attrs.Clone(),
		Value:    op.Value.Clone(),
	}
}
