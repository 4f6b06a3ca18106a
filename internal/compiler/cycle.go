package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/quantflow/internal/ir"
)

// CallCycle is a set of functions that call each other recursively.
type CallCycle struct {
	Path    []string `json:"path"` // ["f", "g", "f"]
	Message string   `json:"message"`
}

// callGraph maps function name -> callees in op order.
type callGraph map[string][]string

// AnalyzeCallCycles finds recursive call chains in the module.
//
// The algorithm:
//  1. Build function -> callee edges from call ops
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or a self-call as a cycle
//
// Functions are visited in module order so the result is deterministic.
func AnalyzeCallCycles(m *ir.Module) []CallCycle {
	graph := buildCallGraph(m)
	order := make([]string, len(m.Functions))
	for i, f := range m.Functions {
		order[i] = f.Name
	}

	var cycles []CallCycle
	for _, scc := range tarjanSCC(graph, order) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			cycles = append(cycles, sccToCycle(scc, graph))
		}
	}
	return cycles
}

func buildCallGraph(m *ir.Module) callGraph {
	graph := make(callGraph, len(m.Functions))
	for _, f := range m.Functions {
		graph[f.Name] = []string{}
		for _, op := range f.Ops {
			if callee := op.Callee(); callee != "" {
				graph[f.Name] = append(graph[f.Name], callee)
			}
		}
	}
	return graph
}

func hasSelfLoop(node string, graph callGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
func tarjanSCC(graph callGraph, order []string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, ok := graph[w]; !ok {
				// Call to an unknown function; the verifier reports it.
				continue
			}
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Reverse(scc)
			sccs = append(sccs, scc)
		}
	}

	for _, node := range order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

func sccToCycle(scc []string, graph callGraph) CallCycle {
	if len(scc) == 1 {
		return CallCycle{
			Path:    []string{scc[0], scc[0]},
			Message: fmt.Sprintf("function %s calls itself", scc[0]),
		}
	}
	path := reconstructCyclePath(scc, graph)
	return CallCycle{
		Path:    path,
		Message: fmt.Sprintf("recursive call chain: %s", strings.Join(path, " -> ")),
	}
}

// reconstructCyclePath follows edges inside the SCC from its first node
// until it returns to the start.
func reconstructCyclePath(scc []string, graph callGraph) []string {
	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if members[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
