// Package debugger toggles the tf.DumpTensor instrumentation inserted for
// whole-model debugging.
package debugger

import (
	"github.com/roach88/quantflow/internal/export"
	"github.com/roach88/quantflow/internal/ir"
)

// DisableDebugging turns off every DumpTensor op in m. The calibration copy
// of a model is exported with dumping disabled so calibration runs do not
// write tensor files.
func DisableDebugging(m *ir.Module) int {
	return setEnabled(m, false)
}

// EnableDebugging turns every DumpTensor op of an exported model back on.
func EnableDebugging(e *export.ExportedModel) int {
	return setEnabled(e.Graph, true)
}

// ChangeToQuantizedFilename renames the dump file of every DumpTensor op so
// the quantized model writes next to, not over, the unquantized dumps.
func ChangeToQuantizedFilename(m *ir.Module) int {
	n := 0
	m.Walk(func(_ *ir.Function, op *ir.Op) {
		if op.Kind == ir.KindDumpTensor {
			op.SetAttr(ir.AttrFileName, ir.IRString(ir.DumpFileQuantized))
			n++
		}
	})
	return n
}

func setEnabled(m *ir.Module, enabled bool) int {
	n := 0
	m.Walk(func(_ *ir.Function, op *ir.Op) {
		if op.Kind == ir.KindDumpTensor {
			op.SetAttr(ir.AttrEnabled, ir.IRBool(enabled))
			n++
		}
	})
	return n
}
