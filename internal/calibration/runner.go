package calibration

import (
	"context"
)

// Calibration methods.
const (
	MethodMinMax              = "min_max"
	MethodAverageMinMax       = "average_min_max"
	MethodHistogramPercentile = "histogram_percentile"
)

// Options selects how observed values become a range.
type Options struct {
	Method        string  `json:"calibration_method"`
	MinPercentile float64 `json:"min_percentile,omitempty"`
	MaxPercentile float64 `json:"max_percentile,omitempty"`
	NumBins       int     `json:"num_bins,omitempty"`
}

// Request describes one calibration run.
type Request struct {
	// ModelDir is the pre-calibration bundle. Statistics are written to
	// <ModelDir>/calibration.db.
	ModelDir      string            `json:"model_dir"`
	Tags          []string          `json:"tags"`
	SignatureKeys []string          `json:"signature_keys"`
	Datasets      map[string]string `json:"representative_datasets"`
	Options       Options           `json:"calibration_options"`

	// ForceGraphMode asks the runner not to run eagerly.
	ForceGraphMode bool `json:"force_graph_mode_calibration"`
}

// Runner runs calibration. RunCalibration blocks until statistics are
// written or ctx is done.
type Runner interface {
	RunCalibration(ctx context.Context, req Request) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, req Request) error

func (f RunnerFunc) RunCalibration(ctx context.Context, req Request) error {
	return f(ctx, req)
}
