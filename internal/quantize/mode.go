package quantize

import (
	"fmt"

	"github.com/roach88/quantflow/internal/compiler"
	"github.com/roach88/quantflow/internal/component"
	"github.com/roach88/quantflow/internal/ir"
	"github.com/roach88/quantflow/internal/passes"
)

// Mode selects the quantization entry point.
type Mode string

const (
	ModeQAT                Mode = "qat"
	ModePtqPreCalibration  Mode = "ptq-precalibration"
	ModePtqPostCalibration Mode = "ptq-postcalibration"
	ModeDynamicRange       Mode = "dynamic-range"
	ModeWeightOnly         Mode = "weight-only"

	// ModeStaticRange runs pre-calibration, calibration and
	// post-calibration in one invocation.
	ModeStaticRange Mode = "static-range"
)

// Modes lists every mode in a stable order.
var Modes = []Mode{
	ModeQAT,
	ModePtqPreCalibration,
	ModePtqPostCalibration,
	ModeDynamicRange,
	ModeWeightOnly,
	ModeStaticRange,
}

// ParseMode returns the mode named s.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown quantization mode %q", s)
}

// Stage is one pass stage of a quantization mode.
type Stage int

const (
	StageQAT Stage = iota
	StagePtqPreCalibration
	StagePtqPostCalibration
	StageDynamicRange
	StageWeightOnly
)

// PipelineName names the stage in logs, dumps and errors.
func (s Stage) PipelineName() string {
	switch s {
	case StageQAT:
		return "tf_quant_qat"
	case StagePtqPreCalibration:
		return "tf_quant_ptq_pre_calibration"
	case StagePtqPostCalibration:
		return "tf_quant_ptq_post_calibration"
	case StageDynamicRange:
		return "tf_quant_ptq_dynamic_range"
	case StageWeightOnly:
		return "tf_quant_weight_only"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

func (s Stage) String() string {
	return s.PipelineName()
}

// usesComponent reports whether the stage runs through a StableHLO
// quantizer component instead of the legacy pass list.
func (s Stage) usesComponent(opts Options) bool {
	if opts.OpSet != OpSetStableHLO {
		return false
	}
	return s == StagePtqPreCalibration || s == StagePtqPostCalibration
}

// runStage executes stage over m in place. It is the only place that maps
// a stage and op set to passes.
func runStage(ctx *compiler.Context, stage Stage, m *ir.Module, opts Options) error {
	var err error
	if stage.usesComponent(opts) {
		var c component.Component
		if stage == StagePtqPreCalibration {
			c = component.NewPreCalibrationComponent(opts.componentConfig(false))
		} else {
			c = component.NewPostCalibrationComponent(opts.componentConfig(true))
		}
		ctx.Log().Debug("running quantizer component", "stage", stage.PipelineName(), "component", c.Name())
		err = c.Run(ctx, m)
	} else {
		err = compiler.RunPasses(stage.PipelineName(), func(pm *compiler.PassManager) {
			addStagePasses(pm, stage, opts)
		}, ctx, m)
	}
	if err != nil {
		return newError(ErrKindPassPipeline, stage.PipelineName(), err)
	}
	return nil
}

func addStagePasses(pm *compiler.PassManager, stage Stage, opts Options) {
	switch stage {
	case StageQAT:
		passes.AddQATPasses(pm, opts.EnablePerChannelQuantization)
	case StagePtqPreCalibration:
		passes.AddPreCalibrationPasses(pm, opts.calibrationMethod(), passes.DebuggerConfig{
			WholeModel: opts.wholeModelDebugging(),
			LogDirPath: opts.Debugger.LogDirPath,
		})
	case StagePtqPostCalibration:
		passes.AddPostCalibrationPasses(pm, opts.EnablePerChannelQuantization, false)
		pm.AddPass(compiler.VerifyPass())
	case StageDynamicRange:
		passes.AddDynamicRangePasses(pm, opts.MinNumElementsForWeights)
		pm.AddPass(compiler.VerifyPass())
	case StageWeightOnly:
		dtype := opts.WeightOnlyDType
		if dtype == "" {
			dtype = passes.WeightOnlyInt8
		}
		passes.AddWeightOnlyPasses(pm, dtype, opts.MinNumElementsForWeights)
		pm.AddPass(compiler.VerifyPass())
	}
}
