// Package bundle reads and writes model bundles.
//
// A bundle is a directory:
//
//	saved_model.yaml        meta graphs: tags, signature defs, aliases
//	graph.json              canonical module JSON (ir.Module.GraphDef)
//	variables/variables.db  checkpoint of variable values (internal/store)
//	assets/                 files read at initialization time
//	calibration.db          calibration statistics, intermediate bundles only
//
// Load applies the import policy used by every quantization mode: legacy
// function names are upgraded, variables are not lifted to arguments, and
// checkpoint values are attached to Module.Variables.
package bundle
