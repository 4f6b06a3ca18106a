package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/quantflow/internal/ir"
)

// Pass is a single in-place transformation of a module.
type Pass interface {
	Name() string
	Run(ctx *Context, m *ir.Module) error
}

type funcPass struct {
	name string
	fn   func(ctx *Context, m *ir.Module) error
}

func (p funcPass) Name() string                         { return p.name }
func (p funcPass) Run(ctx *Context, m *ir.Module) error { return p.fn(ctx, m) }

// NewPass wraps fn as a Pass.
func NewPass(name string, fn func(ctx *Context, m *ir.Module) error) Pass {
	return funcPass{name: name, fn: fn}
}

// PassError reports the pass that aborted a pipeline.
type PassError struct {
	Pipeline string
	Pass     string
	Err      error
}

func (e *PassError) Error() string {
	return fmt.Sprintf("%s: pass %s: %v", e.Pipeline, e.Pass, e.Err)
}

func (e *PassError) Unwrap() error {
	return e.Err
}

// PassManager runs an ordered list of passes over one module.
type PassManager struct {
	name   string
	passes []Pass
}

// NewPassManager creates an empty pipeline.
func NewPassManager(name string) *PassManager {
	return &PassManager{name: name}
}

// Name returns the pipeline name.
func (pm *PassManager) Name() string {
	return pm.name
}

// AddPass appends passes to the pipeline.
func (pm *PassManager) AddPass(passes ...Pass) {
	pm.passes = append(pm.passes, passes...)
}

// PassNames lists the pipeline in execution order.
func (pm *PassManager) PassNames() []string {
	names := make([]string, len(pm.passes))
	for i, p := range pm.passes {
		names[i] = p.Name()
	}
	return names
}

// Run executes every pass in order. The first error stops the pipeline.
func (pm *PassManager) Run(ctx *Context, m *ir.Module) error {
	log := ctx.Log().With("pipeline", pm.name)
	start := time.Now()
	for _, p := range pm.passes {
		log.Debug("running pass", "pass", p.Name())
		if err := p.Run(ctx, m); err != nil {
			return &PassError{Pipeline: pm.name, Pass: p.Name(), Err: err}
		}
	}
	log.Debug("pipeline complete", "passes", len(pm.passes), "elapsed", time.Since(start))

	if ctx != nil && ctx.DumpDir != "" {
		if err := dumpModule(ctx.DumpDir, pm.name, m); err != nil {
			return &PassError{Pipeline: pm.name, Pass: "dump", Err: err}
		}
	}
	return nil
}

// RunPasses builds a pipeline with addPasses and runs it over m.
func RunPasses(name string, addPasses func(pm *PassManager), ctx *Context, m *ir.Module) error {
	pm := NewPassManager(name)
	addPasses(pm)
	return pm.Run(ctx, m)
}

func dumpModule(dir, name string, m *ir.Module) error {
	data, err := m.GraphDef()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dump dir: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, name+".json"), data, 0o644)
}
