// opspec-model exports the parsed instruction model as relational fact
// tables, optionally with the delta against an earlier export.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/robert-at-pretension-io/opspec/internal/compiler"
	"github.com/robert-at-pretension-io/opspec/internal/config"
	"github.com/robert-at-pretension-io/opspec/internal/diag"
	"github.com/robert-at-pretension-io/opspec/internal/facts"
	"github.com/robert-at-pretension-io/opspec/internal/validator"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("opspec-model", flag.ContinueOnError)
	fs.SetOutput(stderr)
	output := fs.String("output", "", "write the export to file (default: stdout)")
	fs.StringVar(output, "o", "", "write the export to file (shorthand)")
	deltaFrom := fs.String("delta", "", "previous export to compute the delta from")
	only := fs.String("files", "", "comma separated files to keep in the export")
	configPath := fs.String("config", "", "config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	root, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	var cfg *config.Config
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load(root)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 2
	}

	var inputs []config.ResolvedInput
	for _, arg := range fs.Args() {
		path := arg
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		inputs = append(inputs, config.ResolvedInput{Path: filepath.Clean(path), DefaultMap: config.DefaultMapFor(path)})
	}

	log := diag.NewLogger(0)
	log.SetOutput(stderr)
	res, err := compiler.Run(context.Background(), compiler.Options{
		Root:     root,
		Config:   cfg,
		Inputs:   inputs,
		NoPolicy: true,
		Log:      log,
	})
	var pipelineErrs compiler.PipelineErrors
	if err != nil && !(errors.As(err, &pipelineErrs) && res != nil) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	diag.Print(stderr, res.Diags.All())

	exp := facts.Export{
		Version:   facts.ExportVersion,
		RunID:     res.RunID,
		Generated: time.Now().UTC().Format(time.RFC3339),
		Tables:    res.Tables,
	}
	keep := lo.SliceToMap(splitList(*only), func(f string) (string, bool) { return f, true })
	if len(keep) > 0 {
		exp.Tables = facts.FilterTablesByFiles(exp.Tables, keep)
	}

	if *deltaFrom != "" {
		prev, err := facts.ReadExport(*deltaFrom)
		if err != nil {
			fmt.Fprintf(stderr, "Error reading delta base: %v\n", err)
			return 2
		}
		delta := facts.ComputeDelta(prev.Tables, res.Tables)
		if len(keep) > 0 {
			delta = facts.FilterDeltaByFiles(delta, keep)
		}
		exp.Delta = &delta
	}

	v, err := validator.New()
	if err != nil {
		fmt.Fprintf(stderr, "CRITICAL: Failed to initialize CUE validator: %v\n", err)
		return 2
	}
	if err := v.Validate(validator.DefModelExport, exp); err != nil {
		fmt.Fprintf(stderr, "CRITICAL: Model export contract violation: %v\n", err)
		return 2
	}

	if *output != "" {
		err = writeJSON(*output, exp)
	} else {
		err = encodeJSON(stdout, exp)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error writing export: %v\n", err)
		return 2
	}

	if res.Diags.ErrorCount() > 0 || len(pipelineErrs) > 0 {
		return 1
	}
	return 0
}

func splitList(s string) []string {
	return lo.Compact(lo.Map(strings.Split(s, ","), func(p string, _ int) string { return strings.TrimSpace(p) }))
}

func writeJSON(path string, data interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return encodeJSON(f, data)
}

func encodeJSON(w io.Writer, data interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
