package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/quantflow/internal/bundle"
	"github.com/roach88/quantflow/internal/calibration"
	"github.com/roach88/quantflow/internal/ir"
	"github.com/roach88/quantflow/internal/store"
)

// StubRunner is a deterministic calibration runner. It gives every
// aggregator of the calibration model the range [Min, Max], except the
// ids in Skip.
//
// Thread-safety: all methods are safe for concurrent use.
type StubRunner struct {
	Min, Max float32
	Skip     map[string]bool

	// Err, when set, is returned instead of writing statistics.
	Err error

	mu       sync.Mutex
	requests []calibration.Request
}

// NewStubRunner creates a runner writing the range [lo, hi].
func NewStubRunner(lo, hi float32) *StubRunner {
	return &StubRunner{Min: lo, Max: hi}
}

// RunCalibration implements calibration.Runner.
func (r *StubRunner) RunCalibration(ctx context.Context, req calibration.Request) error {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()

	if r.Err != nil {
		return r.Err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m, _, err := bundle.Load(ctx, req.ModelDir, req.Tags, req.SignatureKeys, bundle.DefaultImportOptions())
	if err != nil {
		return fmt.Errorf("stub runner: %w", err)
	}
	var stats []store.Statistic
	m.Walk(func(_ *ir.Function, op *ir.Op) {
		if op.Kind != ir.KindCustomAgg {
			return
		}
		id, _ := op.Attrs.GetString(ir.AttrAggregatorID)
		if r.Skip[id] {
			return
		}
		stats = append(stats, store.Statistic{
			ID:         id,
			Method:     req.Options.Method,
			Min:        r.Min,
			Max:        r.Max,
			NumSamples: 1,
		})
	})

	s, err := store.OpenStatistics(req.ModelDir)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.WriteStatistics(ctx, stats)
}

// Requests returns the requests received so far, in order.
func (r *StubRunner) Requests() []calibration.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]calibration.Request(nil), r.requests...)
}

// Calls returns the number of RunCalibration calls.
func (r *StubRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

// Reset forgets recorded requests so the runner can be reused.
func (r *StubRunner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = nil
}
