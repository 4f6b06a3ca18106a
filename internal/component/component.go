// Package component implements the StableHLO quantizer components used by
// the stablehlo op set in place of the legacy pass lists.
package component

import (
	"github.com/roach88/quantflow/internal/compiler"
	"github.com/roach88/quantflow/internal/ir"
	"github.com/roach88/quantflow/internal/passes"
)

// Pipeline names used in logs and dumps.
const (
	PreCalibrationName  = "quant_ptq_pre_calibration"
	PostCalibrationName = "quant_ptq_post_calibration"
)

// DebuggerType selects how much of the model is instrumented.
type DebuggerType string

const (
	DebuggerNone       DebuggerType = "none"
	DebuggerWholeModel DebuggerType = "whole_model"
)

// DebuggerConfig describes the debugging instrumentation.
type DebuggerConfig struct {
	Type                     DebuggerType `json:"debugger_type"`
	UnquantizedDumpModelPath string       `json:"unquantized_dump_model_path,omitempty"`
	LogDirPath               string       `json:"log_dir_path,omitempty"`
}

// StaticRangePtqPreset configures static-range quantization.
type StaticRangePtqPreset struct {
	EnablePerChannelQuantizedWeight bool `json:"enable_per_channel_quantized_weight"`
}

// PipelineConfig configures the shape of the emitted program.
type PipelineConfig struct {
	// UnpackQuantizedTypes emits quantize, integer matmul and dequantize
	// as separate ops instead of one fused op.
	UnpackQuantizedTypes bool `json:"unpack_quantized_types"`
}

// CalibrationOptions names the statistics collected by aggregators.
type CalibrationOptions struct {
	Method string `json:"calibration_method"`
}

// Config is the quantization configuration shared by the components.
type Config struct {
	DebuggerConfig       DebuggerConfig       `json:"debugger_config"`
	StaticRangePtqPreset StaticRangePtqPreset `json:"static_range_ptq_preset"`
	PipelineConfig       PipelineConfig       `json:"pipeline_config"`
	CalibrationOptions   CalibrationOptions   `json:"calibration_options"`
}

// Component runs one quantization stage over a module in place.
type Component interface {
	Name() string
	Run(ctx *compiler.Context, m *ir.Module) error
}

// PreCalibrationComponent lifts quantizable ops and inserts calibration
// aggregators, plus dump ops when whole-model debugging is on.
type PreCalibrationComponent struct {
	config Config
}

// NewPreCalibrationComponent creates the pre-calibration component.
func NewPreCalibrationComponent(config Config) *PreCalibrationComponent {
	return &PreCalibrationComponent{config: config}
}

func (c *PreCalibrationComponent) Name() string { return PreCalibrationName }

// Run executes the component's passes.
func (c *PreCalibrationComponent) Run(ctx *compiler.Context, m *ir.Module) error {
	method := c.config.CalibrationOptions.Method
	if method == "" {
		method = "min_max"
	}
	debugger := passes.DebuggerConfig{
		WholeModel: c.config.DebuggerConfig.Type == DebuggerWholeModel,
		LogDirPath: c.config.DebuggerConfig.LogDirPath,
	}
	return compiler.RunPasses(PreCalibrationName, func(pm *compiler.PassManager) {
		passes.AddPreCalibrationPasses(pm, method, debugger)
	}, ctx, m)
}

// PostCalibrationComponent quantizes a calibrated module.
type PostCalibrationComponent struct {
	config Config
}

// NewPostCalibrationComponent creates the post-calibration component.
func NewPostCalibrationComponent(config Config) *PostCalibrationComponent {
	return &PostCalibrationComponent{config: config}
}

func (c *PostCalibrationComponent) Name() string { return PostCalibrationName }

// Run executes the component's passes.
func (c *PostCalibrationComponent) Run(ctx *compiler.Context, m *ir.Module) error {
	return compiler.RunPasses(PostCalibrationName, func(pm *compiler.PassManager) {
		passes.AddPostCalibrationPasses(pm,
			c.config.StaticRangePtqPreset.EnablePerChannelQuantizedWeight,
			c.config.PipelineConfig.UnpackQuantizedTypes)
		pm.AddPass(compiler.VerifyPass())
	}, ctx, m)
}
