package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quantflow/internal/ir"
)

func callOp(result, callee string, operands ...string) *ir.Op {
	return &ir.Op{
		Result:   result,
		Kind:     ir.KindCall,
		Operands: operands,
		Attrs:    ir.IRObject{ir.AttrCallee: ir.IRString(callee)},
	}
}

func moduleWithCalls(edges map[string][]string, order ...string) *ir.Module {
	m := &ir.Module{Dialect: ir.DialectTF}
	for _, name := range order {
		f := &ir.Function{Name: name, Args: []ir.Arg{{Name: "x"}}, Results: []string{"x"}}
		for _, callee := range edges[name] {
			f.Ops = append(f.Ops, callOp(f.FreshName("c"), callee, "x"))
		}
		m.Functions = append(m.Functions, f)
	}
	return m
}

func TestAnalyzeCallCycles_DAG(t *testing.T) {
	m := moduleWithCalls(map[string][]string{
		"main": {"a", "b"},
		"a":    {"b"},
	}, "main", "a", "b")

	assert.Empty(t, AnalyzeCallCycles(m))
}

func TestAnalyzeCallCycles_SelfLoop(t *testing.T) {
	m := moduleWithCalls(map[string][]string{"main": {"main"}}, "main")

	cycles := AnalyzeCallCycles(m)
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"main", "main"}, cycles[0].Path)
	assert.Contains(t, cycles[0].Message, "calls itself")
}

func TestAnalyzeCallCycles_ThreeNodeCycle(t *testing.T) {
	m := moduleWithCalls(map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
	}, "a", "b", "c")

	cycles := AnalyzeCallCycles(m)
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"a", "b", "c", "a"}, cycles[0].Path)
	assert.Equal(t, "recursive call chain: a -> b -> c -> a", cycles[0].Message)
}

func TestAnalyzeCallCycles_IgnoresUnknownCallee(t *testing.T) {
	m := moduleWithCalls(map[string][]string{"main": {"missing"}}, "main")
	assert.Empty(t, AnalyzeCallCycles(m))
}
