// Package compiler runs the whole pipeline: load and probe the inputs,
// parse them into one model, validate the fact tables against the CUE
// contract, apply the advisory policy and emit the disassembler tables.
//
// The CUE check is a contract between the model and its consumers. If it
// fails, fix the producer; never loosen the schema to get a run through.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/opspec/internal/catalog"
	"github.com/robert-at-pretension-io/opspec/internal/config"
	"github.com/robert-at-pretension-io/opspec/internal/diag"
	"github.com/robert-at-pretension-io/opspec/internal/emit"
	"github.com/robert-at-pretension-io/opspec/internal/facts"
	"github.com/robert-at-pretension-io/opspec/internal/lexer"
	"github.com/robert-at-pretension-io/opspec/internal/model"
	"github.com/robert-at-pretension-io/opspec/internal/opindex"
	"github.com/robert-at-pretension-io/opspec/internal/parser"
	"github.com/robert-at-pretension-io/opspec/internal/policy"
	"github.com/robert-at-pretension-io/opspec/internal/syntax"
	"github.com/robert-at-pretension-io/opspec/internal/validator"
	"github.com/robert-at-pretension-io/opspec/internal/xcheck"
)

// Options controls one run.
type Options struct {
	// Root resolves relative config paths and shortens file names in
	// diagnostics.
	Root   string
	Config *config.Config
	// Inputs replaces the configured inputs when non-empty.
	Inputs []config.ResolvedInput
	// Maps replaces emit.maps when non-empty.
	Maps []string

	NoCache  bool
	NoPolicy bool
	// XCheck cross-checks legacy opcodes with x86asm.
	XCheck bool
	// NeedModel forces a full parse so Result.Context is populated.
	NeedModel bool

	Log logrus.FieldLogger
	// Progress receives section output and the timing summary. Nil
	// discards it.
	Progress io.Writer
}

// Result is everything a run produced.
type Result struct {
	RunID string
	// Context is nil when the output came from the cache.
	Context *model.Context
	Diags   *diag.List
	// Output is nil when errors prevented emission.
	Output *emit.Output
	Tables facts.Tables
	Policy *policy.Result
	Report Report
	Cached bool
}

// Run executes the pipeline. A *diag.FatalError or a setup failure is
// returned with a nil Result. Failures of supporting stages come back as
// PipelineErrors alongside a complete Result.
func Run(ctx context.Context, opts Options) (*Result, error) {
	runStart := time.Now()
	runID := uuid.NewString()
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(opts.Root); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("run", runID)
	progress := opts.Progress
	if progress == nil {
		progress = io.Discard
	}

	var pipelineErrs PipelineErrors
	recordPipelineErr := func(err error) {
		pipelineErrs = append(pipelineErrs, err)
		log.WithError(err).Warn("pipeline stage failed")
	}
	timing := newTimingRecorder(runID, runStart, resolveTimingPath(opts.Root, cfg.Analysis.TimingJSONL))
	if err := timing.Err(); err != nil {
		recordPipelineErr(fmt.Errorf("timing output disabled: %w", err))
	}
	defer timing.Close()

	metrics := newRunMetrics()
	var durations []stageDuration
	stage := func(phase string, start time.Time, status string) {
		d := time.Since(start)
		timing.RecordStage(phase, start, d, status)
		metrics.observeStage(phase, d)
		durations = append(durations, stageDuration{phase, d, status})
	}

	// 1. Inputs and catalog
	stepStart := time.Now()
	inputs := opts.Inputs
	if len(inputs) == 0 {
		var err error
		if inputs, err = cfg.ResolveInputs(opts.Root); err != nil {
			return nil, fmt.Errorf("resolve inputs: %w", err)
		}
	}
	if len(inputs) == 0 {
		return nil, errors.New("no input files")
	}
	cat, catalogHash, err := loadCatalog(opts.Root, cfg.Catalog)
	if err != nil {
		return nil, err
	}
	maps := opts.Maps
	if len(maps) == 0 {
		maps = cfg.Emit.Maps
	}
	split := cfg.SplitPrefixes()
	stage("resolve", stepStart, "")

	// 2. Parallel load
	stepStart = time.Now()
	var probe *syntax.Probe
	if cfg.SyntaxProbeEnabled() {
		probe = syntax.New()
	}
	files, err := loadFiles(ctx, opts.Root, inputs, cfg.Analysis.MaxParallelFiles, probe, timing, log)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(progress, "Loaded %d input files\n", len(files))
	stage("load", stepStart, "")

	var cache *runCache
	if cfg.CacheEnabled() && !opts.NoCache {
		cache = newRunCache(resolvePath(opts.Root, cfg.Analysis.Cache.Dir))
		if err := cache.Load(); err != nil {
			recordPipelineErr(fmt.Errorf("cache disabled: %w", err))
			cache = nil
		}
	}
	settings := settingsHash(catalogHash, maps, split)

	res := &Result{RunID: runID, Diags: &diag.List{Log: log}}
	var fileReports []FileReport
	changed := map[string]bool{}

	useCached := false
	if cache != nil && !opts.XCheck && !opts.NeedModel {
		var hit bool
		changed, hit = cache.Changed(files, settings)
		if hit {
			stepStart = time.Now()
			run, okRun, errRun := cache.LoadRun()
			tables, okTables, errTables := cache.LoadTables()
			switch {
			case errRun != nil:
				recordPipelineErr(fmt.Errorf("cache read failed: %w", errRun))
			case errTables != nil:
				recordPipelineErr(fmt.Errorf("cache read failed: %w", errTables))
			case okRun && okTables:
				useCached = true
				res.Cached = true
				res.Output = run.Output
				res.Tables = tables
				fileReports = run.Files
				for i := range fileReports {
					fileReports[i].Cached = true
				}
				log.WithField("previous_run", run.RunID).Debug("reusing cached output")
			}
			stage("cache", stepStart, lo.Ternary(useCached, "hit", "miss"))
		}
	}

	if !useCached {
		// 3. Sequential parse in input order
		stepStart = time.Now()
		mctx := model.NewContext(cat)
		for _, f := range files {
			fileStart := time.Now()
			defMap, ok := mctx.Map(f.DefaultMap)
			if !ok {
				return nil, fmt.Errorf("%s: unknown default map %q%s", f.Display, f.DefaultMap, suggestion(f.DefaultMap, mctx.MapNames()))
			}
			p := parser.New(mctx, lexer.NewSource(f.Display, f.Data), defMap, res.Diags)
			p.Log = log
			if err := p.Parse(); err != nil {
				return nil, err
			}
			st := p.Stats()
			if f.Probe != nil && f.Probe.Tagged != st.Tagged {
				log.WithFields(logrus.Fields{"file": f.Display, "probe": f.Probe.Tagged, "parser": st.Tagged}).
					Debug("tagged comment counts differ")
			}
			fileReports = append(fileReports, FileReport{
				Path:         f.Display,
				DefaultMap:   f.DefaultMap,
				Instructions: st.Instructions,
				Stubs:        st.Stubs,
				Tagged:       st.Tagged,
			})
			timing.RecordFile("parse", f.Display, "parsed", fileCounts{
				Instructions: st.Instructions,
				Stubs:        st.Stubs,
			}, fileStart, time.Since(fileStart))
		}
		stage("parse", stepStart, "")

		// 4. Post-pass
		stepStart = time.Now()
		parser.CopyTests(mctx, res.Diags)
		parser.ApplyOnlyTest(mctx)
		parser.LogStubTotals(mctx, log)
		res.Context = mctx
		stage("postpass", stepStart, "")

		if opts.XCheck {
			stepStart = time.Now()
			for _, f := range xcheck.Check(mctx, log) {
				res.Diags.Warnf(f.Instr.File, f.Instr.LineCreated, "%s in %s decodes as %s (bytes % x)", f.Instr.Mnemonic, f.Map, f.Decoded, f.Bytes)
			}
			stage("xcheck", stepStart, "")
		}

		// 5. Emit, only from an error-free model
		stepStart = time.Now()
		if res.Diags.ErrorCount() == 0 {
			out, errs := emit.Tables(mctx, emit.Options{Maps: maps, SplitPrefixes: split, Log: log})
			for _, err := range errs {
				recordEmitError(res.Diags, err)
			}
			if out != nil && res.Diags.ErrorCount() == 0 {
				res.Output = out
			}
		}
		stage("emit", stepStart, lo.Ternary(res.Output == nil, "skipped", ""))

		fileRows := make([]facts.FileRow, len(files))
		for i, f := range files {
			fileRows[i] = facts.FileRow{Path: f.Display, DefaultMap: f.DefaultMap, Hash: f.Hash}
		}
		res.Tables = facts.BuildTables(mctx, fileRows)
	}
	res.Diags.Sort()

	// 6. Contract check
	stepStart = time.Now()
	v, err := validator.New()
	if err != nil {
		return nil, fmt.Errorf("CRITICAL: Failed to initialize CUE validator: %w", err)
	}
	if err := v.Validate(validator.DefFactTables, res.Tables); err != nil {
		return nil, fmt.Errorf("CRITICAL: Fact table contract violation: %w", err)
	}
	stage("validate", stepStart, "")

	// 7. Advisory policy
	stepStart = time.Now()
	if !opts.NoPolicy {
		engine, err := policy.New(ctx, resolvePath(opts.Root, cfg.Analysis.PolicyDir))
		if err != nil {
			return nil, fmt.Errorf("initialize policy engine: %w", err)
		}
		result, err := engine.Evaluate(ctx, policy.Input{Tables: res.Tables, Severities: cfg.Rules})
		if err != nil {
			return nil, fmt.Errorf("policy evaluation failed: %w", err)
		}
		result.Filter(func(v policy.Violation) bool { return cfg.ShouldIgnoreFile(v.File) })
		res.Policy = result
	}
	stage("policy", stepStart, lo.Ternary(opts.NoPolicy, "disabled", ""))

	// 8. Facts, cache, metrics
	stepStart = time.Now()
	if cfg.Analysis.FactsDir != "" {
		path := filepath.Join(resolvePath(opts.Root, cfg.Analysis.FactsDir), "facts.json")
		if err := writeJSONAtomic(path, res.Tables); err != nil {
			recordPipelineErr(fmt.Errorf("writing fact tables: %w", err))
		}
	}
	if cache != nil && !useCached {
		if prev, ok, err := cache.LoadTables(); err != nil {
			log.WithError(err).Debug("previous fact tables unavailable")
		} else if ok {
			delta := facts.ComputeDelta(prev, res.Tables)
			if len(changed) > 0 {
				delta = facts.FilterDeltaByFiles(delta, changed)
			}
			log.WithFields(logrus.Fields{
				"changed": len(changed),
				"added":   delta.Added.Len(),
				"removed": delta.Removed.Len(),
			}).Debug("fact delta against previous run")
		}
		if res.Output != nil && res.Diags.ErrorCount() == 0 {
			run := cachedRun{RunID: runID, Output: res.Output, Files: fileReports}
			if err := cache.Store(files, settings, run, res.Tables); err != nil {
				recordPipelineErr(fmt.Errorf("cache save failed: %w", err))
			}
		} else if err := cache.Invalidate(); err != nil {
			recordPipelineErr(fmt.Errorf("cache invalidate failed: %w", err))
		}
	}
	stage("store", stepStart, "")

	res.Report = buildReport(runID, fileReports, res)
	if err := v.Validate(validator.DefReport, res.Report); err != nil {
		return nil, fmt.Errorf("CRITICAL: Report contract violation: %w", err)
	}

	for _, f := range fileReports {
		metrics.instructions.WithLabelValues(f.Path).Set(float64(f.Instructions))
		metrics.stubs.WithLabelValues(f.Path).Set(float64(f.Stubs))
	}
	metrics.diagnostics.WithLabelValues("error").Add(float64(res.Diags.ErrorCount()))
	metrics.diagnostics.WithLabelValues("warning").Add(float64(res.Diags.WarningCount()))
	for _, vi := range res.Report.Violations {
		metrics.violations.WithLabelValues(vi.Rule, vi.Severity).Inc()
	}
	metrics.tables.Set(float64(len(res.Report.Tables)))
	metrics.cacheHit.Set(lo.Ternary(useCached, 1.0, 0.0))
	if path := cfg.Analysis.MetricsTextfile; path != "" {
		if err := metrics.WriteTextfile(resolvePath(opts.Root, path)); err != nil {
			recordPipelineErr(fmt.Errorf("writing metrics: %w", err))
		}
	}

	stage("total", runStart, "")
	printTimingSummary(progress, durations)

	if len(pipelineErrs) > 0 {
		res.Report.PipelineErrors = lo.Map(pipelineErrs, func(err error, _ int) string { return err.Error() })
		return res, pipelineErrs
	}
	return res, nil
}

func loadCatalog(root, path string) (*catalog.Catalog, string, error) {
	if path == "" {
		cat, err := catalog.Default()
		if err != nil {
			return nil, "", fmt.Errorf("loading embedded catalog: %w", err)
		}
		return cat, hashBytes(catalog.DefaultSource()), nil
	}
	path = resolvePath(root, path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading catalog %s: %w", path, err)
	}
	cat, err := catalog.LoadFile(path)
	if err != nil {
		return nil, "", err
	}
	return cat, hashBytes(data), nil
}

// recordEmitError attaches an emitter problem to the instruction it is
// about.
func recordEmitError(diags *diag.List, err error) {
	var entryErr *emit.EntryError
	var assertErr *opindex.AssertionError
	switch {
	case errors.As(err, &entryErr):
		diags.Errorf(entryErr.Instr.File, entryErr.Instr.LineCreated, "%s: %s", entryErr.Msg, entryErr.Instr)
	case errors.As(err, &assertErr):
		diags.Errorf(assertErr.Instr.File, assertErr.Instr.LineCreated, "map %s: %s: %s", assertErr.Map, assertErr.Msg, assertErr.Instr)
	default:
		diags.Errorf("", 0, "%v", err)
	}
}

func buildReport(runID string, files []FileReport, res *Result) Report {
	r := Report{
		RunID:       runID,
		Files:       append([]FileReport{}, files...),
		Diagnostics: append([]diag.Diagnostic{}, res.Diags.All()...),
		Violations:  []policy.Violation{},
		Tables:      []emit.Table{},
	}
	if res.Output != nil {
		r.Tables = append(r.Tables, res.Output.Tables...)
	}
	r.Summary.Errors = res.Diags.ErrorCount()
	r.Summary.Warnings = res.Diags.WarningCount()
	if res.Policy != nil {
		r.Violations = append(r.Violations, res.Policy.Violations...)
		r.Summary.Errors += res.Policy.Summary.Errors
		r.Summary.Warnings += res.Policy.Summary.Warnings
		r.Summary.Info += res.Policy.Summary.Info
	}
	for _, in := range res.Tables.Instructions {
		if in.Copy {
			continue
		}
		r.Summary.Instructions++
		if in.Stub {
			r.Summary.Stubs++
		}
		r.Summary.Tests += in.Tests
	}
	return r
}

type stageDuration struct {
	phase  string
	d      time.Duration
	status string
}

func printTimingSummary(w io.Writer, stages []stageDuration) {
	fmt.Fprintf(w, "\n=== Timing Summary ===\n")
	for _, s := range stages {
		label := formatDuration(s.d)
		if s.status != "" {
			label = fmt.Sprintf("%s (%s)", s.status, label)
		}
		fmt.Fprintf(w, "  %-10s %s\n", s.phase+":", label)
	}
}

func resolvePath(root, path string) string {
	if path == "" || filepath.IsAbs(path) || root == "" {
		return path
	}
	return filepath.Join(root, path)
}

func suggestion(name string, candidates []string) string {
	if s := catalog.Suggest(name, candidates, 2); s != "" {
		return fmt.Sprintf(" (did you mean %q?)", s)
	}
	return ""
}
