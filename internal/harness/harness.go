package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/quantflow/internal/bundle"
	"github.com/roach88/quantflow/internal/calibration"
	"github.com/roach88/quantflow/internal/compiler"
	"github.com/roach88/quantflow/internal/quantize"
	"github.com/roach88/quantflow/internal/scratch"
	"github.com/roach88/quantflow/internal/store"
	"github.com/roach88/quantflow/internal/testutil"
)

// Harness is the scenario execution environment. Everything a scenario
// writes lives under one work directory.
type Harness struct {
	workDir string
	logger  *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Execution flow:
// 1. Compile the model and write it as a bundle in a fresh work directory
// 2. Load options and apply dataset overrides
// 3. Run the quantization mode with a fixed run id
// 4. Match the outcome against expect_error or evaluate assertions
//
// An error is returned only when the scenario itself cannot be set up.
// Pipeline failures are reported through the result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	workDir, err := os.MkdirTemp("", "quantflow-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	h := &Harness{
		workDir: workDir,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	return h.run(ctx, scenario)
}

func (h *Harness) run(ctx context.Context, scenario *Scenario) (*Result, error) {
	model, err := compiler.LoadModel(scenario.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to compile model: %w", err)
	}
	bundlePath := filepath.Join(h.workDir, "bundle")
	if err := bundle.WriteModel(ctx, bundlePath, model); err != nil {
		return nil, fmt.Errorf("failed to write bundle: %w", err)
	}

	opts := quantize.DefaultOptions()
	if scenario.Options != "" {
		if opts, err = quantize.LoadOptions(scenario.Options); err != nil {
			return nil, fmt.Errorf("failed to load options: %w", err)
		}
	}
	if len(scenario.Datasets) > 0 {
		opts.RepresentativeDatasets = scenario.Datasets
	}

	mode, err := quantize.ParseMode(scenario.Mode)
	if err != nil {
		return nil, err
	}

	p := &quantize.Pipeline{
		Runner:  newRunner(scenario.Calibration),
		Scratch: scratch.New(filepath.Join(h.workDir, "scratch"), nil),
		Logger:  h.logger,
		RunIDs:  testutil.NewFixedRunID(scenario.RunID),
	}

	result := NewResult()
	res, runErr := p.Run(ctx, quantize.Request{BundlePath: bundlePath, Mode: mode, Options: opts})
	if runErr != nil {
		var perr *quantize.PipelineError
		if errors.As(runErr, &perr) {
			result.ErrorKind = string(perr.Kind)
		}
		switch {
		case scenario.ExpectError == "":
			result.AddError(fmt.Sprintf("pipeline failed: %v", runErr))
		case scenario.ExpectError != result.ErrorKind:
			result.AddError(fmt.Sprintf("expected %s error, got: %v", scenario.ExpectError, runErr))
		}
		h.logger.Info("scenario pipeline failed", "scenario", scenario.Name, "error", runErr)
		return result, nil
	}
	if scenario.ExpectError != "" {
		result.AddError(fmt.Sprintf("expected %s error, pipeline succeeded", scenario.ExpectError))
	}

	result.RunID = res.RunID
	result.Graph = res.Exported.Graph
	result.FunctionAliases = res.Exported.FunctionAliases
	result.MissingStatistics = res.MissingStatistics
	for _, sig := range model.Signatures {
		f := result.Graph.EntryFor(sig.Key)
		if f == nil {
			continue
		}
		kinds := make([]string, len(f.Ops))
		for i, op := range f.Ops {
			kinds[i] = op.Kind
		}
		result.EntryOps[sig.Key] = kinds
	}

	if res.CalibrationDir != "" {
		if result.Statistics, err = readStatistics(ctx, res.CalibrationDir); err != nil {
			return nil, err
		}
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// newRunner returns a stub runner for the calibration block, or nil so
// the pipeline falls back to its local runner.
func newRunner(stub *CalibrationStub) calibration.Runner {
	if stub == nil {
		return nil
	}
	r := testutil.NewStubRunner(stub.Min, stub.Max)
	if len(stub.Skip) > 0 {
		r.Skip = make(map[string]bool, len(stub.Skip))
		for _, id := range stub.Skip {
			r.Skip[id] = true
		}
	}
	if stub.Error != "" {
		r.Err = errors.New(stub.Error)
	}
	return r
}

func readStatistics(ctx context.Context, dir string) (map[string]store.Statistic, error) {
	s, err := store.OpenStatistics(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open statistics: %w", err)
	}
	defer s.Close()
	stats, err := s.ReadStatistics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read statistics: %w", err)
	}
	return stats, nil
}
