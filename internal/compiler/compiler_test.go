package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lithammer/dedent"
	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/opspec/internal/config"
)

var addSource = strings.TrimLeft(dedent.Dedent(`
	/**
	 * @opcode      0x00
	 * @opmnemonic  add
	 * @opbrief     Add.
	 * @op1         rm:Eb
	 * @op2         reg:Gb
	 * @opmaps      one
	 * @openc       ModR/M
	 * @opflmodify  cf,pf,af,zf,sf,of
	 * @ophints     harmless ignores_op_sizes
	 * @optest      op1=1 op2=1 -> op1=2
	 */
	FNIEMOP_DEF(iemOp_add_Eb_Gb)
	{
	    IEMOP_MNEMONIC2(MR, ADD, add, Eb, Gb, DISOPTYPE_HARMLESS, IEMOPHINT_IGNORES_OP_SIZES);
	    return 0;
	}
`), "\n")

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.Out = io.Discard
	return log
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func testOptions(t *testing.T, dir string, files ...string) Options {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Inputs = nil
	cfg.Emit.Maps = []string{"one"}
	cfg.Analysis.Cache.Dir = filepath.Join(dir, ".cache")
	var inputs []config.ResolvedInput
	for _, f := range files {
		inputs = append(inputs, config.ResolvedInput{Path: f, DefaultMap: "one"})
	}
	return Options{Root: dir, Config: cfg, Inputs: inputs, Log: quietLogger()}
}

func runForTest(t *testing.T, opts Options) *Result {
	t.Helper()
	res, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func TestRunEmitsTablesAndReport(t *testing.T) {
	dir := t.TempDir()
	file := writeSource(t, dir, "one.cpp.h", addSource)

	res := runForTest(t, testOptions(t, dir, file))
	if res.Diags.ErrorCount() != 0 {
		t.Fatalf("unexpected diagnostics: %v", res.Diags.All())
	}
	if res.Output == nil || !strings.Contains(res.Output.Body, `OP("add %Eb,%Gb"`) {
		t.Fatalf("missing add entry in output: %+v", res.Output)
	}
	if res.Context == nil || len(res.Context.Instructions) != 1 {
		t.Fatalf("expected a parsed model")
	}

	r := res.Report
	if r.RunID != res.RunID || len(r.Files) != 1 {
		t.Fatalf("unexpected report header: %+v", r)
	}
	if f := r.Files[0]; f.Path != "one.cpp.h" || f.Instructions != 1 || f.Cached {
		t.Fatalf("unexpected file report: %+v", f)
	}
	if r.Summary.Instructions != 1 || r.Summary.Tests != 1 || r.Summary.Errors != 0 {
		t.Fatalf("unexpected summary: %+v", r.Summary)
	}
	if len(r.Tables) != 1 || r.Tables[0].Name != "g_aDisasOne" {
		t.Fatalf("unexpected tables: %+v", r.Tables)
	}
}

func TestRunReusesCachedOutput(t *testing.T) {
	dir := t.TempDir()
	file := writeSource(t, dir, "one.cpp.h", addSource)
	opts := testOptions(t, dir, file)

	first := runForTest(t, opts)
	second := runForTest(t, opts)
	if !second.Cached || second.Context != nil {
		t.Fatalf("expected the second run to come from the cache")
	}
	if second.Output.Body != first.Output.Body {
		t.Fatalf("cached body differs")
	}
	if !second.Report.Files[0].Cached {
		t.Fatalf("file report not marked cached")
	}

	writeSource(t, dir, "one.cpp.h", strings.Replace(addSource, "op1=2", "op1=3", 1))
	third := runForTest(t, opts)
	if third.Cached {
		t.Fatalf("changed input must not be served from the cache")
	}

	opts.NeedModel = true
	if fourth := runForTest(t, opts); fourth.Cached || fourth.Context == nil {
		t.Fatalf("NeedModel must bypass the cache")
	}
}

func TestRunWithErrorsSkipsEmission(t *testing.T) {
	dir := t.TempDir()
	file := writeSource(t, dir, "one.cpp.h", "/** @opcdoe 0x00 */\n")
	opts := testOptions(t, dir, file)

	res := runForTest(t, opts)
	if res.Diags.ErrorCount() == 0 || res.Report.Summary.Errors == 0 {
		t.Fatalf("expected errors")
	}
	if res.Output != nil {
		t.Fatalf("output must not be produced from a model with errors")
	}
	if _, err := os.Stat(filepath.Join(dir, ".cache", "index.json")); !os.IsNotExist(err) {
		t.Fatalf("failed run must not leave a cache index (stat err %v)", err)
	}
}

func TestRunUnknownDefaultMap(t *testing.T) {
	dir := t.TempDir()
	file := writeSource(t, dir, "one.cpp.h", addSource)
	opts := testOptions(t, dir)
	opts.Inputs = []config.ResolvedInput{{Path: file, DefaultMap: "onee"}}
	_, err := Run(context.Background(), opts)
	if err == nil || !strings.Contains(err.Error(), `did you mean "one"`) {
		t.Fatalf("expected unknown map error with suggestion, got %v", err)
	}
}

func TestTimingJSONLWritten(t *testing.T) {
	dir := t.TempDir()
	file := writeSource(t, dir, "one.cpp.h", addSource)
	timingPath := filepath.Join(dir, "timing.jsonl")
	t.Setenv(TimingEnv, timingPath)

	res := runForTest(t, testOptions(t, dir, file))

	raw, err := os.ReadFile(timingPath)
	if err != nil {
		t.Fatalf("read timing file: %v", err)
	}
	lines := bytes.Split(bytes.TrimSpace(raw), []byte("\n"))
	var foundLoad, foundTotal bool
	var parsed, loaded *timingEvent
	for _, line := range lines {
		var ev timingEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			t.Fatalf("parse timing event: %v", err)
		}
		if ev.RunID != res.RunID {
			t.Fatalf("event run id %q, want %q", ev.RunID, res.RunID)
		}
		if ev.Kind == "stage" && ev.Phase == "load" {
			foundLoad = true
		}
		if ev.Kind == "stage" && ev.Phase == "total" {
			foundTotal = true
		}
		if ev.Kind == "file" {
			ev := ev
			switch ev.Phase {
			case "parse":
				parsed = &ev
			case "load":
				loaded = &ev
			}
		}
	}
	if !foundLoad || !foundTotal {
		t.Fatalf("expected load and total timing events")
	}
	if parsed == nil || parsed.File != "one.cpp.h" || parsed.Instructions != 1 || parsed.Stubs != 0 {
		t.Fatalf("parse file record = %+v", parsed)
	}
	if loaded == nil || loaded.Bytes != len(addSource) || loaded.Comments != 1 {
		t.Fatalf("load file record = %+v", loaded)
	}
}

func TestMetricsAndFactsWritten(t *testing.T) {
	dir := t.TempDir()
	file := writeSource(t, dir, "one.cpp.h", addSource)
	opts := testOptions(t, dir, file)
	opts.Config.Analysis.MetricsTextfile = "metrics.prom"
	opts.Config.Analysis.FactsDir = "facts"
	var progress bytes.Buffer
	opts.Progress = &progress

	runForTest(t, opts)

	metrics, err := os.ReadFile(filepath.Join(dir, "metrics.prom"))
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(metrics), `opspec_instructions{file="one.cpp.h"} 1`) {
		t.Fatalf("instruction gauge missing:\n%s", metrics)
	}
	if _, err := os.Stat(filepath.Join(dir, "facts", "facts.json")); err != nil {
		t.Fatalf("fact tables not written: %v", err)
	}
	if !strings.Contains(progress.String(), "=== Timing Summary ===") {
		t.Fatalf("timing summary missing from progress output")
	}
}

func TestPipelineErrorsKeepResult(t *testing.T) {
	dir := t.TempDir()
	file := writeSource(t, dir, "one.cpp.h", addSource)
	opts := testOptions(t, dir, file)
	opts.Config.Analysis.MetricsTextfile = filepath.Join(dir, "missing", "dir", "metrics.prom")

	res, err := Run(context.Background(), opts)
	var perrs PipelineErrors
	if !errors.As(err, &perrs) || len(perrs) != 1 {
		t.Fatalf("expected one pipeline error, got %v", err)
	}
	if res == nil || res.Output == nil || len(res.Report.PipelineErrors) != 1 {
		t.Fatalf("result must survive pipeline errors: %+v", res)
	}
}
