package ir

// Op kinds in the tf dialect.
const (
	KindConst          = "tf.Const"
	KindReadVariable   = "tf.ReadVariableOp"
	KindAssignVariable = "tf.AssignVariableOp"
	KindMatMul         = "tf.MatMul"
	KindAdd            = "tf.AddV2"
	KindBiasAdd        = "tf.BiasAdd"
	KindRelu           = "tf.Relu"
	KindIdentity       = "tf.Identity"
	KindReshape        = "tf.Reshape"
	KindCall           = "tf.PartitionedCall"
	KindStatefulCall   = "tf.StatefulPartitionedCall"
	KindXlaCallModule  = "tf.XlaCallModule"
	KindFakeQuant      = "tf.FakeQuantWithMinMaxVars"
	KindCustomAgg      = "tf.CustomAggregator"
	KindDumpTensor     = "tf.DumpTensor"
)

// Op kinds produced by quantization passes.
const (
	KindQuantStats          = "quantfork.stats"
	KindQuantizedMatMul     = "tf_quant.QuantizedMatMul"
	KindDynamicRangeMatMul  = "tf_quant.DynamicRangeMatMul"
	KindDequantize          = "tf_quant.Dequantize"
	KindUniformQuantize     = "stablehlo.uniform_quantize"
	KindUniformDequantize   = "stablehlo.uniform_dequantize"
	KindQuantizedDotGeneral = "stablehlo.quantized_dot_general"
)

// Op kinds in the stablehlo dialect.
const (
	KindHLOConstant   = "stablehlo.constant"
	KindHLODotGeneral = "stablehlo.dot_general"
	KindHLOAdd        = "stablehlo.add"
	KindHLOMaximum    = "stablehlo.maximum"
	KindHLOReshape    = "stablehlo.reshape"
	KindFuncCall      = "func.call"
)

// Attribute keys shared between packages.
const (
	AttrCallee            = "f"
	AttrOriginalFuncName  = "tf._original_func_name"
	AttrCompositeFunction = "tf_quant.composite_function"
	AttrQuantTrait        = "_tfl_quant_trait"
	AttrFrozenFrom        = "tf_quant.frozen_from"
	AttrSharedName        = "shared_name"
	AttrAggregatorID      = "id"
	AttrCalibrationMethod = "calibration_method"
	AttrMin               = "min"
	AttrMax               = "max"
	AttrScale             = "scale"
	AttrEnabled           = "enabled"
	AttrFileName          = "file_name"
	AttrLogDirPath        = "log_dir_path"
	AttrFuncName          = "func_name"
	AttrNodeName          = "node_name"
	AttrSerializedModule  = "module"
	AttrInputScale        = "input_scale"
	AttrWeightScales      = "weight_scales"
	AttrPerChannel        = "per_channel"
)

// DumpTensor file names. The unquantized name is written at insertion time;
// the quantized model's dumps are renamed to the quantized name.
const (
	DumpFileUnquantized = "unquantized_tensor_data.pb"
	DumpFileQuantized   = "quantized_tensor_data.pb"
)

// QuantTraitFullyQuantizable marks lifted calls eligible for quantization.
const QuantTraitFullyQuantizable = "fully_quantizable"

// OpClass groups op kinds by meaning across dialects.
type OpClass int

const (
	ClassOther OpClass = iota
	ClassConst
	ClassMatMul
	ClassAdd
	ClassRelu
	ClassIdentity
	ClassReshape
	ClassCall
)

var kindClasses = map[string]OpClass{
	KindConst:         ClassConst,
	KindHLOConstant:   ClassConst,
	KindMatMul:        ClassMatMul,
	KindHLODotGeneral: ClassMatMul,
	KindAdd:           ClassAdd,
	KindBiasAdd:       ClassAdd,
	KindHLOAdd:        ClassAdd,
	KindRelu:          ClassRelu,
	KindHLOMaximum:    ClassRelu,
	KindIdentity:      ClassIdentity,
	KindReshape:       ClassReshape,
	KindHLOReshape:    ClassReshape,
	KindCall:          ClassCall,
	KindStatefulCall:  ClassCall,
	KindFuncCall:      ClassCall,
}

// Classify returns the dialect-independent class of an op kind.
func Classify(kind string) OpClass {
	return kindClasses[kind]
}

// IsCall reports whether kind invokes another function.
func IsCall(kind string) bool {
	return Classify(kind) == ClassCall
}

// IsConst reports whether kind is a constant in either dialect.
func IsConst(kind string) bool {
	return Classify(kind) == ClassConst
}

// KindIn returns the op kind for class in the given dialect.
func KindIn(class OpClass, dialect string) string {
	if dialect == DialectStableHLO {
		switch class {
		case ClassConst:
			return KindHLOConstant
		case ClassMatMul:
			return KindHLODotGeneral
		case ClassAdd:
			return KindHLOAdd
		case ClassRelu:
			return KindHLOMaximum
		case ClassReshape:
			return KindHLOReshape
		case ClassCall:
			return KindFuncCall
		}
	}
	switch class {
	case ClassConst:
		return KindConst
	case ClassMatMul:
		return KindMatMul
	case ClassAdd:
		return KindAdd
	case ClassRelu:
		return KindRelu
	case ClassIdentity:
		return KindIdentity
	case ClassReshape:
		return KindReshape
	case ClassCall:
		return KindCall
	}
	return ""
}
