package quantize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/quantflow/internal/bundle"
	"github.com/roach88/quantflow/internal/calibration"
	"github.com/roach88/quantflow/internal/compiler"
	"github.com/roach88/quantflow/internal/debugger"
	"github.com/roach88/quantflow/internal/export"
	"github.com/roach88/quantflow/internal/ir"
	"github.com/roach88/quantflow/internal/scratch"
)

// MissingStatisticsWarning is logged when some aggregators received no
// calibration statistics. The invocation still completes.
const MissingStatisticsWarning = "Some CustomAggregator ops do not have min or max values. Parts of the graph are not quantized."

// Pipeline runs quantization invocations. It holds no per-invocation
// state, so one Pipeline may serve concurrent invocations as long as
// DumpDir is unset or distinct per invocation.
type Pipeline struct {
	// Runner calibrates static-range invocations. Defaults to a
	// LocalRunner.
	Runner calibration.Runner

	// Scratch allocates checkpoint and intermediate artifact directories.
	// Defaults to the system temp dir. Directories are never removed.
	Scratch *scratch.Manager

	Logger *slog.Logger

	// DumpDir, when set, receives a module snapshot after every pipeline.
	DumpDir string

	// RunIDs names invocations in logs. Defaults to UUIDv7.
	RunIDs scratch.NameGenerator
}

// Request is one quantization invocation.
type Request struct {
	BundlePath string

	// OutputDir, when set, receives the final artifact as a bundle.
	OutputDir string

	Mode    Mode
	Options Options
}

// Result is the outcome of a successful invocation.
type Result struct {
	RunID    string
	Exported *export.ExportedModel

	// OutputDir is where the final artifact was saved, if anywhere.
	OutputDir string

	// CalibrationDir holds the intermediate artifact and its statistics
	// (static-range only).
	CalibrationDir string

	// UnquantizedDumpPath is the second artifact written under whole-model
	// debugging.
	UnquantizedDumpPath string

	// MissingStatistics lists aggregators that stayed unquantized because
	// calibration produced no range for them.
	MissingStatistics []string
}

// Run executes one invocation. Any error is a *PipelineError except for
// invalid options, and no artifact is returned with it.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.Options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	inv := p.begin(req.Mode)
	start := time.Now()
	inv.log.Info("quantizing", "bundle", req.BundlePath, "op_set", string(req.Options.OpSet))

	var (
		res *Result
		err error
	)
	switch req.Mode {
	case ModeQAT:
		res, err = inv.quantizeSingleStage(ctx, req.BundlePath, StageQAT, req.Options)
	case ModeDynamicRange:
		res, err = inv.quantizeSingleStage(ctx, req.BundlePath, StageDynamicRange, req.Options)
	case ModeWeightOnly:
		res, err = inv.quantizeSingleStage(ctx, req.BundlePath, StageWeightOnly, req.Options)
	case ModePtqPreCalibration:
		res, err = inv.quantizePreCalibration(ctx, req.BundlePath, req.Options)
	case ModePtqPostCalibration:
		res, err = inv.quantizePostCalibration(ctx, req.BundlePath, req.Options)
	case ModeStaticRange:
		res, err = inv.quantizeStaticRange(ctx, req.BundlePath, req.Options)
	default:
		return nil, fmt.Errorf("unknown quantization mode %q", req.Mode)
	}
	if err != nil {
		inv.log.Error("quantization failed", "step", FailedStep(err), "error", err)
		return nil, err
	}
	res.RunID = inv.id

	if req.OutputDir != "" {
		sigDefs, err := signatureDefs(req.BundlePath, req.Options)
		if err != nil {
			return nil, newError(ErrKindExport, StepSave, err)
		}
		if err := bundle.SaveExportedModel(ctx, req.OutputDir, res.Exported, req.BundlePath, req.Options.Tags, sigDefs); err != nil {
			return nil, newError(ErrKindExport, StepSave, err)
		}
		res.OutputDir = req.OutputDir
	}

	inv.log.Info("quantization complete",
		"elapsed", time.Since(start),
		"output", res.OutputDir,
		"missing_statistics", len(res.MissingStatistics))
	return res, nil
}

// invocation is the state owned by one Run call.
type invocation struct {
	id      string
	log     *slog.Logger
	cctx    *compiler.Context
	scratch *scratch.Manager
	runner  calibration.Runner
}

func (p *Pipeline) begin(mode Mode) *invocation {
	ids := p.RunIDs
	if ids == nil {
		ids = scratch.UUIDv7Generator{}
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	inv := &invocation{id: ids.Generate(), scratch: p.Scratch, runner: p.Runner}
	inv.log = logger.With("run_id", inv.id, "mode", string(mode))
	inv.cctx = compiler.NewContext(inv.log)
	inv.cctx.DumpDir = p.DumpDir
	if inv.scratch == nil {
		inv.scratch = scratch.New("", nil)
	}
	if inv.runner == nil {
		inv.runner = calibration.NewLocalRunner(inv.log)
	}
	return inv
}

// importAndPreprocess loads the bundle, resolves its function aliases and
// freezes the module. Aliased functions are never inlined.
func (inv *invocation) importAndPreprocess(ctx context.Context, path string, opts Options, inline, lower bool) (*ir.Module, map[string]string, error) {
	m, session, err := bundle.Load(ctx, path, opts.Tags, opts.SignatureKeys, bundle.DefaultImportOptions())
	if err != nil {
		return nil, nil, newError(ErrKindImport, StepImport, err)
	}

	aliases, err := bundle.GetFunctionAliases(path, opts.Tags)
	if err != nil {
		return nil, nil, newError(ErrKindAliasResolution, StepAliasResolution, err)
	}
	bundle.UpdateFunctionAliases(aliases, m)

	noInline := make(map[string]bool, len(aliases))
	for name := range aliases {
		noInline[name] = true
	}
	err = compiler.PreprocessAndFreezeGraph(inv.cctx, m, compiler.PreprocessOptions{
		InlinerRun:       inline,
		NoInline:         noInline,
		Session:          session,
		LowerToStableHLO: lower,
	})
	if err != nil {
		return nil, nil, newError(ErrKindPassPipeline, StepPreprocess, err)
	}

	inv.log.Debug("imported bundle",
		"functions", len(m.Functions),
		"aliases", len(aliases),
		"variables", session.Len(),
		"dialect", m.Dialect)
	return m, aliases, nil
}

// export converts m into an ExportedModel. Constants frozen from
// variables are restored as variables unless every variable is frozen.
func (inv *invocation) export(ctx context.Context, m *ir.Module, stage Stage, opts Options, aliases map[string]string, step string) (*export.ExportedModel, error) {
	exported, err := export.ModuleToExportedModel(ctx, inv.cctx, m, export.Options{
		DuplicateShapeDeterminingConstants: true,
		UnfreezeConstants:                  !opts.FreezeAllVariables,
		DebugName:                          export.DebugName(stage.PipelineName()),
	}, aliases, inv.scratch)
	if err != nil {
		return nil, newError(ErrKindExport, step, err)
	}
	return exported, nil
}

func (inv *invocation) quantizeSingleStage(ctx context.Context, path string, stage Stage, opts Options) (*Result, error) {
	m, aliases, err := inv.importAndPreprocess(ctx, path, opts, true, false)
	if err != nil {
		return nil, err
	}
	if err := runStage(inv.cctx, stage, m, opts); err != nil {
		return nil, err
	}
	exported, err := inv.export(ctx, m, stage, opts, aliases, StepExport)
	if err != nil {
		return nil, err
	}
	return &Result{Exported: exported}, nil
}

func (inv *invocation) quantizePreCalibration(ctx context.Context, path string, opts Options) (*Result, error) {
	m, aliases, err := inv.importAndPreprocess(ctx, path, opts, true, opts.OpSet == OpSetStableHLO)
	if err != nil {
		return nil, err
	}
	if err := runStage(inv.cctx, StagePtqPreCalibration, m, opts); err != nil {
		return nil, err
	}
	exported, err := inv.exportCalibrationModel(ctx, m, opts, aliases)
	if err != nil {
		return nil, err
	}
	return &Result{Exported: exported}, nil
}

// exportCalibrationModel exports a clone of the pre-calibrated module with
// its dump ops disabled. m keeps its debugging ops.
func (inv *invocation) exportCalibrationModel(ctx context.Context, m *ir.Module, opts Options, aliases map[string]string) (*export.ExportedModel, error) {
	calib := m.Clone()
	disabled := debugger.DisableDebugging(calib)
	exported, err := inv.export(ctx, calib, StagePtqPreCalibration, opts, aliases, StepExportCalibrationModel)
	if err != nil {
		return nil, err
	}
	inv.log.Debug("exported calibration model", "dump_ops_disabled", disabled)
	return exported, nil
}

// quantizePostCalibration quantizes a pre-calibration bundle whose
// statistics were collected separately into <bundle>/calibration.db.
func (inv *invocation) quantizePostCalibration(ctx context.Context, path string, opts Options) (*Result, error) {
	m, aliases, err := inv.importAndPreprocess(ctx, path, opts, false, false)
	if err != nil {
		return nil, err
	}
	missing, err := inv.addStatistics(ctx, m, path)
	if err != nil {
		return nil, err
	}
	if err := runStage(inv.cctx, StagePtqPostCalibration, m, opts); err != nil {
		return nil, err
	}
	exported, err := inv.export(ctx, m, StagePtqPostCalibration, opts, aliases, StepExport)
	if err != nil {
		return nil, err
	}
	return &Result{Exported: exported, MissingStatistics: missing}, nil
}

// quantizeStaticRange is the calibration round trip. The pre-calibration
// stage instruments the live module; a clone with dump ops disabled is
// exported and calibrated, and the statistics are folded back into the
// live module before post-calibration.
func (inv *invocation) quantizeStaticRange(ctx context.Context, path string, opts Options) (*Result, error) {
	m, aliases, err := inv.importAndPreprocess(ctx, path, opts, true, opts.OpSet == OpSetStableHLO)
	if err != nil {
		return nil, err
	}
	if err := runStage(inv.cctx, StagePtqPreCalibration, m, opts); err != nil {
		return nil, err
	}

	exportedPre, err := inv.exportCalibrationModel(ctx, m, opts, aliases)
	if err != nil {
		return nil, err
	}

	calibDir, err := inv.scratch.CreateTmpDir()
	if err != nil {
		return nil, newError(ErrKindExport, StepSaveCalibrationModel, err)
	}
	sigDefs, err := signatureDefs(path, opts)
	if err != nil {
		return nil, newError(ErrKindExport, StepSaveCalibrationModel, err)
	}
	if err := bundle.SaveExportedModel(ctx, calibDir, exportedPre, path, opts.Tags, sigDefs); err != nil {
		return nil, newError(ErrKindExport, StepSaveCalibrationModel, err)
	}
	inv.log.Debug("saved calibration model", "dir", calibDir)

	if err := inv.runCalibration(ctx, calibDir, opts, sigDefs); err != nil {
		return nil, newError(ErrKindCalibration, StepRunCalibration, err)
	}
	missing, err := inv.addStatistics(ctx, m, calibDir)
	if err != nil {
		return nil, err
	}

	res := &Result{CalibrationDir: calibDir, MissingStatistics: missing}
	if opts.wholeModelDebugging() {
		debugger.EnableDebugging(exportedPre)
		debugger.ChangeToQuantizedFilename(m)
		dump := opts.Debugger.UnquantizedDumpModelPath
		if err := bundle.SaveExportedModel(ctx, dump, exportedPre, path, opts.Tags, sigDefs); err != nil {
			return nil, newError(ErrKindExport, StepSaveUnquantizedDump, err)
		}
		res.UnquantizedDumpPath = dump
		inv.log.Info("saved unquantized dump model", "path", dump)
	}

	if err := runStage(inv.cctx, StagePtqPostCalibration, m, opts); err != nil {
		return nil, err
	}
	if res.Exported, err = inv.export(ctx, m, StagePtqPostCalibration, opts, aliases, StepExport); err != nil {
		return nil, err
	}
	return res, nil
}

func (inv *invocation) runCalibration(ctx context.Context, dir string, opts Options, sigDefs map[string]bundle.SignatureDef) error {
	keys := opts.SignatureKeys
	if len(keys) == 0 {
		keys = sortedSignatureKeys(sigDefs)
	}
	req := calibration.Request{
		ModelDir:       dir,
		Tags:           opts.Tags,
		SignatureKeys:  keys,
		Datasets:       opts.RepresentativeDatasets,
		Options:        opts.Calibration,
		ForceGraphMode: opts.ForceGraphModeCalibration,
	}
	if req.Options.Method == "" {
		req.Options.Method = calibration.MethodMinMax
	}

	if opts.CalibrationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.CalibrationTimeout)
		defer cancel()
	}
	start := time.Now()
	if err := inv.runner.RunCalibration(ctx, req); err != nil {
		return err
	}
	inv.log.Debug("calibration complete", "signatures", len(keys), "elapsed", time.Since(start))
	return nil
}

// addStatistics folds the statistics in dir into m. Missing statistics
// are logged and returned, never fatal.
func (inv *invocation) addStatistics(ctx context.Context, m *ir.Module, dir string) ([]string, error) {
	err := calibration.AddCalibrationStatistics(ctx, m, dir)
	var missing *calibration.MissingStatisticsError
	if errors.As(err, &missing) {
		inv.log.Warn(MissingStatisticsWarning, "aggregators", missing.IDs)
		return missing.IDs, nil
	}
	if err != nil {
		return nil, newError(ErrKindCalibration, StepAddStatistics, err)
	}
	return nil, nil
}

// signatureDefs returns the source signature defs restricted to the
// requested keys.
func signatureDefs(path string, opts Options) (map[string]bundle.SignatureDef, error) {
	all, err := bundle.ReadSignatureDefs(path, opts.Tags)
	if err != nil {
		return nil, err
	}
	if len(opts.SignatureKeys) == 0 {
		return all, nil
	}
	defs := make(map[string]bundle.SignatureDef, len(opts.SignatureKeys))
	for _, key := range opts.SignatureKeys {
		def, ok := all[key]
		if !ok {
			return nil, fmt.Errorf("signature key %q not found", key)
		}
		defs[key] = def
	}
	return defs, nil
}

func sortedSignatureKeys(defs map[string]bundle.SignatureDef) []string {
	keys := make([]string, 0, len(defs))
	for k := range defs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
