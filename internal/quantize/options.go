package quantize

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/quantflow/internal/calibration"
	"github.com/roach88/quantflow/internal/component"
	"github.com/roach88/quantflow/internal/passes"
)

//go:embed options.cue
var optionsSchema string

// OpSet is the target op-set family.
type OpSet string

const (
	OpSetTF  OpSet = "tf"
	OpSetXLA OpSet = "xla"

	// OpSetStableHLO selects the StableHLO quantizer components for the
	// calibration stages.
	OpSetStableHLO OpSet = "stablehlo"
)

// Options configures one quantization invocation. It is never mutated by
// the pipeline.
type Options struct {
	OpSet                        OpSet
	FreezeAllVariables           bool
	EnablePerChannelQuantization bool
	ForceGraphModeCalibration    bool
	Debugger                     component.DebuggerConfig
	Calibration                  calibration.Options

	// SignatureKeys are the entry points to import. Empty means every
	// signature of the meta graph.
	SignatureKeys []string
	Tags          []string

	// RepresentativeDatasets maps a signature key to its dataset file.
	RepresentativeDatasets map[string]string

	MinNumElementsForWeights int64
	WeightOnlyDType          passes.WeightOnlyDType

	// CalibrationTimeout bounds the calibration runner. Zero means no
	// deadline beyond the caller's context.
	CalibrationTimeout time.Duration
}

// DefaultOptions returns the options an empty options file produces.
func DefaultOptions() Options {
	return Options{
		OpSet:              OpSetTF,
		FreezeAllVariables: true,
		Debugger:           component.DebuggerConfig{Type: component.DebuggerNone},
		Calibration: calibration.Options{
			Method:        calibration.MethodMinMax,
			MinPercentile: 0.001,
			MaxPercentile: 99.999,
			NumBins:       256,
		},
		SignatureKeys:            []string{"serving_default"},
		Tags:                     []string{"serve"},
		RepresentativeDatasets:   map[string]string{},
		MinNumElementsForWeights: 1024,
		WeightOnlyDType:          passes.WeightOnlyInt8,
	}
}

// Validate checks the invariants the schema enforces for options built in
// code.
func (o Options) Validate() error {
	switch o.OpSet {
	case OpSetTF, OpSetXLA, OpSetStableHLO:
	default:
		return fmt.Errorf("unknown op set %q", o.OpSet)
	}
	switch o.Debugger.Type {
	case "", component.DebuggerNone:
	case component.DebuggerWholeModel:
		if o.Debugger.UnquantizedDumpModelPath == "" {
			return fmt.Errorf("debugger %s requires an unquantized dump model path", o.Debugger.Type)
		}
	default:
		return fmt.Errorf("unknown debugger type %q", o.Debugger.Type)
	}
	switch o.WeightOnlyDType {
	case "", passes.WeightOnlyInt8, passes.WeightOnlyFloat16:
	default:
		return fmt.Errorf("unknown weight-only dtype %q", o.WeightOnlyDType)
	}
	switch o.Calibration.Method {
	case "", calibration.MethodMinMax, calibration.MethodAverageMinMax, calibration.MethodHistogramPercentile:
	default:
		return fmt.Errorf("unknown calibration method %q", o.Calibration.Method)
	}
	if o.MinNumElementsForWeights < 0 {
		return fmt.Errorf("min_num_elements_for_weights must not be negative")
	}
	if o.CalibrationTimeout < 0 {
		return fmt.Errorf("calibration timeout must not be negative")
	}
	return nil
}

func (o Options) wholeModelDebugging() bool {
	return o.Debugger.Type == component.DebuggerWholeModel
}

func (o Options) calibrationMethod() string {
	if o.Calibration.Method == "" {
		return calibration.MethodMinMax
	}
	return o.Calibration.Method
}

// componentConfig threads the flat options into the nested configuration
// of the StableHLO components.
func (o Options) componentConfig(unpack bool) component.Config {
	return component.Config{
		DebuggerConfig: o.Debugger,
		StaticRangePtqPreset: component.StaticRangePtqPreset{
			EnablePerChannelQuantizedWeight: o.EnablePerChannelQuantization,
		},
		PipelineConfig:     component.PipelineConfig{UnpackQuantizedTypes: unpack},
		CalibrationOptions: component.CalibrationOptions{Method: o.calibrationMethod()},
	}
}

// optionsFile mirrors #Options field for field.
type optionsFile struct {
	OpSet                        string `json:"op_set"`
	FreezeAllVariables           bool   `json:"freeze_all_variables"`
	EnablePerChannelQuantization bool   `json:"enable_per_channel_quantization"`
	ForceGraphModeCalibration    bool   `json:"force_graph_mode_calibration"`
	Debugger                     struct {
		Type                     string `json:"type"`
		UnquantizedDumpModelPath string `json:"unquantized_dump_model_path"`
		LogDirPath               string `json:"log_dir_path"`
	} `json:"debugger"`
	Calibration struct {
		Method        string  `json:"method"`
		MinPercentile float64 `json:"min_percentile"`
		MaxPercentile float64 `json:"max_percentile"`
		NumBins       int     `json:"num_bins"`
	} `json:"calibration"`
	SignatureKeys            []string          `json:"signature_keys"`
	Tags                     []string          `json:"tags"`
	RepresentativeDatasets   map[string]string `json:"representative_datasets"`
	MinNumElementsForWeights int64             `json:"min_num_elements_for_weights"`
	WeightOnlyDType          string            `json:"weight_only_dtype"`
	CalibrationTimeout       string            `json:"calibration_timeout"`
}

// LoadOptions reads the `options` value of a CUE file and validates it
// against the embedded #Options schema. Unset fields take the schema
// defaults.
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("load options %s: %w", path, err)
	}
	return ParseOptions(data, path)
}

// ParseOptions is LoadOptions over file contents; filename is used in
// error positions only.
func ParseOptions(data []byte, filename string) (Options, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(optionsSchema, cue.Filename("options.cue"))
	if err := schema.Err(); err != nil {
		return Options{}, fmt.Errorf("options schema: %w", err)
	}

	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return Options{}, optionsError(err)
	}
	user := v.LookupPath(cue.ParsePath("options"))
	if !user.Exists() {
		return Options{}, fmt.Errorf("%s: no options value found", filename)
	}

	unified := schema.LookupPath(cue.ParsePath("#Options")).Unify(user)
	if err := unified.Validate(cue.Final(), cue.Concrete(true)); err != nil {
		return Options{}, optionsError(err)
	}

	var f optionsFile
	if err := unified.Decode(&f); err != nil {
		return Options{}, optionsError(err)
	}
	return f.options()
}

func (f optionsFile) options() (Options, error) {
	timeout, err := time.ParseDuration(f.CalibrationTimeout)
	if err != nil {
		return Options{}, fmt.Errorf("calibration_timeout: %w", err)
	}
	datasets := f.RepresentativeDatasets
	if datasets == nil {
		datasets = map[string]string{}
	}
	opts := Options{
		OpSet:                        OpSet(f.OpSet),
		FreezeAllVariables:           f.FreezeAllVariables,
		EnablePerChannelQuantization: f.EnablePerChannelQuantization,
		ForceGraphModeCalibration:    f.ForceGraphModeCalibration,
		Debugger: component.DebuggerConfig{
			Type:                     component.DebuggerType(f.Debugger.Type),
			UnquantizedDumpModelPath: f.Debugger.UnquantizedDumpModelPath,
			LogDirPath:               f.Debugger.LogDirPath,
		},
		Calibration: calibration.Options{
			Method:        f.Calibration.Method,
			MinPercentile: f.Calibration.MinPercentile,
			MaxPercentile: f.Calibration.MaxPercentile,
			NumBins:       f.Calibration.NumBins,
		},
		SignatureKeys:            f.SignatureKeys,
		Tags:                     f.Tags,
		RepresentativeDatasets:   datasets,
		MinNumElementsForWeights: f.MinNumElementsForWeights,
		WeightOnlyDType:          passes.WeightOnlyDType(f.WeightOnlyDType),
		CalibrationTimeout:       timeout,
	}
	return opts, opts.Validate()
}

// optionsError reports the first CUE error with its position.
func optionsError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if pos := cueerrors.Positions(first); len(pos) > 0 && pos[0].IsValid() {
		return fmt.Errorf("%s:%d:%d: %s", pos[0].Filename(), pos[0].Line(), pos[0].Column(), first.Error())
	}
	return first
}
