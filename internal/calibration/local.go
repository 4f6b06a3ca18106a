package calibration

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/quantflow/internal/bundle"
	"github.com/roach88/quantflow/internal/ir"
	"github.com/roach88/quantflow/internal/store"
)

// LocalRunner calibrates by interpreting the bundle in process.
type LocalRunner struct {
	Logger *slog.Logger
}

// NewLocalRunner creates a runner logging to logger, or slog.Default when
// logger is nil.
func NewLocalRunner(logger *slog.Logger) *LocalRunner {
	return &LocalRunner{Logger: logger}
}

func (r *LocalRunner) log() *slog.Logger {
	if r == nil || r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// RunCalibration runs every requested signature over its dataset and
// writes the collected statistics. Signatures without a dataset are
// skipped.
func (r *LocalRunner) RunCalibration(ctx context.Context, req Request) error {
	collector, err := NewCollector(req.Options)
	if err != nil {
		return err
	}

	m, _, err := bundle.Load(ctx, req.ModelDir, req.Tags, req.SignatureKeys, bundle.DefaultImportOptions())
	if err != nil {
		return fmt.Errorf("load calibration model: %w", err)
	}
	interp := NewInterpreter(m, collector.Observe)

	for _, key := range req.SignatureKeys {
		path, ok := req.Datasets[key]
		if !ok {
			r.log().Info("no representative dataset, skipping signature", "signature", key)
			continue
		}
		ds, err := ReadDataset(path)
		if err != nil {
			return err
		}
		f := m.EntryFor(key)
		if f == nil {
			return fmt.Errorf("signature %q has no entry function", key)
		}
		for i, sample := range ds.Samples {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("calibration interrupted: %w", err)
			}
			args, err := sampleArgs(f, sample)
			if err != nil {
				return fmt.Errorf("%s sample %d: %w", key, i, err)
			}
			if _, err := interp.Call(f.Name, args); err != nil {
				return fmt.Errorf("%s sample %d: %w", key, i, err)
			}
		}
		r.log().Debug("calibrated signature", "signature", key, "samples", len(ds.Samples))
	}

	stats := collector.Statistics()
	s, err := store.OpenStatistics(req.ModelDir)
	if err != nil {
		return fmt.Errorf("open statistics: %w", err)
	}
	defer s.Close()
	if err := s.WriteStatistics(ctx, stats); err != nil {
		return fmt.Errorf("write statistics: %w", err)
	}
	r.log().Info("calibration statistics written", "aggregators", len(stats), "method", req.Options.Method)
	return nil
}

// sampleArgs builds the entry arguments of f from a sample, shaping each
// input by the declared argument shape when it fits.
func sampleArgs(f *ir.Function, sample Sample) ([]*ir.Tensor, error) {
	args := make([]*ir.Tensor, len(f.Args))
	for i, a := range f.Args {
		data, ok := sample[a.Name]
		if !ok {
			return nil, fmt.Errorf("missing input %q", a.Name)
		}
		shape := a.Shape
		n := int64(1)
		for _, d := range shape {
			n *= d
		}
		if len(shape) == 0 || n != int64(len(data)) {
			shape = []int64{int64(len(data))}
		}
		args[i] = ir.NewF32(shape, data)
	}
	return args, nil
}
