package ir

import (
	"fmt"
	"slices"
	"strconv"
)

// Dialect names for Module.Dialect.
const (
	DialectTF        = "tf"
	DialectStableHLO = "stablehlo"
)

// Module is the mutable graph representation of a model.
type Module struct {
	Name      string
	Dialect   string
	Attrs     IRObject
	Functions []*Function
	Variables []*Variable
	Assets    []*Asset
}

// Function is a named list of ops in SSA form.
// A function with ExportedNames is an entry point for those signature keys.
type Function struct {
	Name          string
	ExportedNames []string
	Args          []Arg
	Results       []string
	Ops           []*Op
	Attrs         IRObject
}

// Arg is a function parameter.
type Arg struct {
	Name  string
	Shape []int64
}

// Op is a single operation. Result is empty for side-effecting ops.
type Op struct {
	Result   string
	Kind     string
	Operands []string
	Attrs    IRObject
	Value    *Tensor // constants only
}

// Variable is a resource variable declared by the module.
// Initial carries the checkpoint value when the importer attached one.
type Variable struct {
	Name    string
	DType   DType
	Shape   []int64
	Initial *Tensor
}

// Asset is a file the module reads at initialization time.
type Asset struct {
	Name     string
	Filename string
}

// Function returns the function with the given name, or nil.
func (m *Module) Function(name string) *Function {
	for _, f := range m.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// EntryFunctions returns functions with at least one exported name,
// in module order.
func (m *Module) EntryFunctions() []*Function {
	var out []*Function
	for _, f := range m.Functions {
		if len(f.ExportedNames) > 0 {
			out = append(out, f)
		}
	}
	return out
}

// EntryFor returns the entry function exporting key, or nil.
func (m *Module) EntryFor(key string) *Function {
	for _, f := range m.Functions {
		if slices.Contains(f.ExportedNames, key) {
			return f
		}
	}
	return nil
}

// Variable returns the variable with the given name, or nil.
func (m *Module) Variable(name string) *Variable {
	for _, v := range m.Variables {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// RemoveFunctions drops every function for which drop returns true.
func (m *Module) RemoveFunctions(drop func(*Function) bool) {
	m.Functions = slices.DeleteFunc(m.Functions, drop)
}

// Walk calls fn for every op in every function, in order.
func (m *Module) Walk(fn func(f *Function, op *Op)) {
	for _, f := range m.Functions {
		for _, op := range f.Ops {
			fn(f, op)
		}
	}
}

// Callee returns the function name an op calls, or "" if it is not a call.
func (op *Op) Callee() string {
	if !IsCall(op.Kind) {
		return ""
	}
	name, _ := op.Attrs.GetString(AttrCallee)
	return name
}

// SetAttr sets an attribute, allocating the map on first use.
func (op *Op) SetAttr(key string, v IRValue) {
	if op.Attrs == nil {
		op.Attrs = IRObject{}
	}
	op.Attrs[key] = v
}

// SetAttr sets a function attribute, allocating the map on first use.
func (f *Function) SetAttr(key string, v IRValue) {
	if f.Attrs == nil {
		f.Attrs = IRObject{}
	}
	f.Attrs[key] = v
}

// IsPrivate reports whether the function is not an entry point.
func (f *Function) IsPrivate() bool {
	return len(f.ExportedNames) == 0
}

// Producer returns the op defining value name, or nil for arguments.
func (f *Function) Producer(name string) *Op {
	for _, op := range f.Ops {
		if op.Result == name {
			return op
		}
	}
	return nil
}

// Users returns ops that take name as an operand.
func (f *Function) Users(name string) []*Op {
	var out []*Op
	for _, op := range f.Ops {
		if slices.Contains(op.Operands, name) {
			out = append(out, op)
		}
	}
	return out
}

// ReplaceUses rewrites every operand and result reference of from to to,
// skipping the op skip (usually the new producer itself).
func (f *Function) ReplaceUses(from, to string, skip *Op) {
	for _, op := range f.Ops {
		if op == skip {
			continue
		}
		for i, operand := range op.Operands {
			if operand == from {
				op.Operands[i] = to
			}
		}
	}
	for i, r := range f.Results {
		if r == from {
			f.Results[i] = to
		}
	}
}

// FreshName returns a value name with the given prefix that is not yet
// defined in the function.
func (f *Function) FreshName(prefix string) string {
	used := make(map[string]bool, len(f.Ops)+len(f.Args))
	for _, a := range f.Args {
		used[a.Name] = true
	}
	for _, op := range f.Ops {
		if op.Result != "" {
			used[op.Result] = true
		}
	}
	for i := 0; ; i++ {
		name := prefix + strconv.Itoa(i)
		if !used[name] {
			return name
		}
	}
}

// InsertBefore inserts ops before the op at index i.
func (f *Function) InsertBefore(i int, ops ...*Op) {
	f.Ops = slices.Insert(f.Ops, i, ops...)
}

// IndexOf returns the position of op in the function, or -1.
func (f *Function) IndexOf(op *Op) int {
	return slices.Index(f.Ops, op)
}

// UniqueFunctionName returns base, or base with a numeric suffix, that is
// not used by any function in the module.
func (m *Module) UniqueFunctionName(base string) string {
	if m.Function(base) == nil {
		return base
	}
	for i := 0; ; i++ {
		name := fmt.Sprintf("%s_%d", base, i)
		if m.Function(name) == nil {
			return name
		}
	}
}
