package compiler

import (
	"fmt"
	"io"
	"strings"

	"github.com/robert-at-pretension-io/opspec/internal/diag"
	"github.com/robert-at-pretension-io/opspec/internal/emit"
	"github.com/robert-at-pretension-io/opspec/internal/policy"
)

// Report is the structured result of a run. This can be serialized to
// JSON for programmatic consumption.
type Report struct {
	RunID          string             `json:"run_id"`
	Files          []FileReport       `json:"files"`
	Diagnostics    []diag.Diagnostic  `json:"diagnostics"`
	Violations     []policy.Violation `json:"violations"`
	Tables         []emit.Table       `json:"tables"`
	PipelineErrors []string           `json:"pipeline_errors,omitempty"`
	Summary        Summary            `json:"summary"`
}

// FileReport is the per-file breakdown.
type FileReport struct {
	Path         string `json:"path"`
	DefaultMap   string `json:"default_map"`
	Instructions int    `json:"instructions"`
	Stubs        int    `json:"stubs"`
	Tagged       int    `json:"tagged"`
	Cached       bool   `json:"cached"`
}

// Summary adds policy findings to the diagnostic counts. Only errors
// affect the exit status.
type Summary struct {
	Errors       int `json:"errors"`
	Warnings     int `json:"warnings"`
	Info         int `json:"info"`
	Instructions int `json:"instructions"`
	Stubs        int `json:"stubs"`
	Tests        int `json:"tests"`
}

// PipelineErrors are failures of supporting stages (cache, timing, metrics)
// that did not stop the run.
type PipelineErrors []error

func (e PipelineErrors) Error() string {
	return "pipeline errors:\n" + formatPipelineErrors(e)
}

func formatPipelineErrors(errs []error) string {
	var b strings.Builder
	for i, err := range errs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// PrintText writes the human readable summary.
func (r *Report) PrintText(w io.Writer) {
	if len(r.Violations) > 0 {
		fmt.Fprintf(w, "\n=== Policy Findings ===\n")
		for _, v := range r.Violations {
			icon := "ℹ"
			if v.Severity == "error" {
				icon = "✗"
			} else if v.Severity == "warning" {
				icon = "⚠"
			}
			fmt.Fprintf(w, "%s [%s] %s:%d - %s\n", icon, v.Rule, v.File, v.Line, v.Message)
		}
	}

	fmt.Fprintf(w, "\n=== Files ===\n")
	for _, f := range r.Files {
		cached := ""
		if f.Cached {
			cached = " (cached)"
		}
		fmt.Fprintf(w, "  %-40s %-10s %5d instructions, %4d stubs%s\n", f.Path, f.DefaultMap, f.Instructions, f.Stubs, cached)
	}

	fmt.Fprintf(w, "\n=== Summary ===\n")
	fmt.Fprintf(w, "  Errors:       %d\n", r.Summary.Errors)
	fmt.Fprintf(w, "  Warnings:     %d\n", r.Summary.Warnings)
	fmt.Fprintf(w, "  Info:         %d\n", r.Summary.Info)
	fmt.Fprintf(w, "  Instructions: %d\n", r.Summary.Instructions)
	fmt.Fprintf(w, "  Stubs:        %d\n", r.Summary.Stubs)
	fmt.Fprintf(w, "  Tests:        %d\n", r.Summary.Tests)
	fmt.Fprintf(w, "  Tables:       %d\n", len(r.Tables))

	if len(r.PipelineErrors) > 0 {
		fmt.Fprintf(w, "\n=== Pipeline Errors ===\n")
		for _, e := range r.PipelineErrors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
}
