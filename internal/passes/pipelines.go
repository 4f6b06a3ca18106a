package passes

import (
	"github.com/roach88/quantflow/internal/compiler"
)

// DebuggerConfig controls DumpTensor insertion during pre-calibration.
type DebuggerConfig struct {
	WholeModel bool
	LogDirPath string
}

// AddQATPasses appends the quantization-aware-training pipeline.
func AddQATPasses(pm *compiler.PassManager, perChannel bool) {
	pm.AddPass(
		LiftQuantizableSpotsAsFunctionsPass(),
		ConvertFakeQuantToQuantStatsPass(),
		QuantizeCompositeFunctionsPass(perChannel, false),
		InlineRemainingCompositesPass(),
	)
	AddCleanupPasses(pm)
	pm.AddPass(compiler.VerifyPass())
}

// AddPreCalibrationPasses appends the passes that prepare a module for
// calibration.
func AddPreCalibrationPasses(pm *compiler.PassManager, method string, debugger DebuggerConfig) {
	pm.AddPass(
		LiftQuantizableSpotsAsFunctionsPass(),
		InsertCustomAggregatorsPass(method),
	)
	if debugger.WholeModel {
		pm.AddPass(AddDumpTensorOpPass(debugger.LogDirPath))
	}
	pm.AddPass(compiler.VerifyPass())
}

// AddPostCalibrationPasses appends the passes that quantize a calibrated
// module.
func AddPostCalibrationPasses(pm *compiler.PassManager, perChannel, unpack bool) {
	pm.AddPass(
		ConvertCustomAggregationOpToQuantStatsPass(),
		QuantizeCompositeFunctionsPass(perChannel, unpack),
		InlineRemainingCompositesPass(),
	)
	AddCleanupPasses(pm)
}

// AddDynamicRangePasses appends the dynamic-range quantization pipeline.
func AddDynamicRangePasses(pm *compiler.PassManager, minElements int64) {
	pm.AddPass(
		LiftQuantizableSpotsAsFunctionsPass(),
		QuantizeWeightsDynamicPass(minElements),
		InlineRemainingCompositesPass(),
	)
	AddCleanupPasses(pm)
}

// AddWeightOnlyPasses appends the weight-only quantization pipeline.
func AddWeightOnlyPasses(pm *compiler.PassManager, dtype WeightOnlyDType, minElements int64) {
	pm.AddPass(QuantizeWeightOnlyPass(dtype, minElements))
	AddCleanupPasses(pm)
}

// AddExportPasses appends the passes run before a module is exported.
func AddExportPasses(pm *compiler.PassManager, duplicateShapeConstants, unfreeze bool) {
	if duplicateShapeConstants {
		pm.AddPass(DuplicateShapeDeterminingConstantsPass())
	}
	if unfreeze {
		pm.AddPass(UnfreezeConstantsPass())
	}
	pm.AddPass(compiler.DeadCodeEliminationPass())
}
