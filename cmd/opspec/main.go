// =============================================================================
// opspec - Instruction Annotation Compiler
// =============================================================================
//
// Turns the @op annotations in the IEM decoder sources into disassembler
// opcode tables, and keeps the annotations honest while doing it.
//
// THE PIPELINE:
//   1. Inputs are loaded in parallel and probed with tree-sitter (C++)
//   2. The macro lexer and tag parser build one instruction model
//   3. Post-pass: @optestign copies, @opdone only-test filtering
//   4. The emitter places every instruction and renders the tables
//   5. CUE validates the fact tables and the report (crash on mismatch)
//   6. OPA evaluates the advisory rules against the fact tables
//
// WHEN A TABLE LOOKS WRONG:
//   Start with the diagnostics, then -dump the model, then -xcheck.
//   Annotation issues → Model issues → Emitter issues
// =============================================================================

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

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/robert-at-pretension-io/opspec/internal/compiler"
	"github.com/robert-at-pretension-io/opspec/internal/config"
	"github.com/robert-at-pretension-io/opspec/internal/diag"
	"github.com/robert-at-pretension-io/opspec/internal/emit"
)

// Exit statuses.
const (
	exitOK    = 0
	exitError = 1
	exitFatal = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	configPath string
	output     string
	maps       string
	jsonReport bool
	verbose    bool
	debug      bool
	check      string
	dump       bool
	xcheck     bool
	noCache    bool
	noPolicy   bool
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 {
		switch args[0] {
		case "init":
			return runInit(args[1:], stdout, stderr)
		case "help":
			printUsage(stderr)
			return exitOK
		}
	}

	var opts options
	fs := flag.NewFlagSet("opspec", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { printUsage(stderr) }
	fs.StringVar(&opts.configPath, "config", "", "config file (json, yaml or toml)")
	fs.StringVar(&opts.output, "o", "", "write the tables to this file instead of emit.output or stdout")
	fs.StringVar(&opts.maps, "maps", "", "comma separated maps to emit")
	fs.BoolVar(&opts.jsonReport, "json", false, "print the JSON report on stdout")
	fs.BoolVar(&opts.verbose, "v", false, "verbose output")
	fs.BoolVar(&opts.debug, "vv", false, "debug output")
	fs.StringVar(&opts.check, "check", "", "compare the generated tables with FILE instead of writing them")
	fs.BoolVar(&opts.dump, "dump", false, "dump the parsed model on stdout")
	fs.BoolVar(&opts.xcheck, "xcheck", false, "cross-check legacy opcodes with the x86 decoder")
	fs.BoolVar(&opts.noCache, "no-cache", false, "ignore the run cache")
	fs.BoolVar(&opts.noPolicy, "no-policy", false, "skip the advisory rules")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitFatal
	}

	root, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFatal
	}

	cfg, err := loadConfig(root, opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return exitFatal
	}

	inputs, err := parseInputArgs(root, fs.Args())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		printUsage(stderr)
		return exitFatal
	}

	verbosity := 0
	if opts.verbose {
		verbosity = 1
	}
	if opts.debug {
		verbosity = 2
	}
	log := diag.NewLogger(verbosity)
	log.SetOutput(stderr)

	copts := compiler.Options{
		Root:      root,
		Config:    cfg,
		Inputs:    inputs,
		Maps:      splitList(opts.maps),
		NoCache:   opts.noCache,
		NoPolicy:  opts.noPolicy,
		XCheck:    opts.xcheck,
		NeedModel: opts.dump,
		Log:       log,
	}
	if verbosity > 0 {
		copts.Progress = stderr
	}

	res, err := compiler.Run(context.Background(), copts)
	var pipelineErrs compiler.PipelineErrors
	switch {
	case err == nil:
	case errors.As(err, &pipelineErrs) && res != nil:
		// Reported below with the rest of the run.
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFatal
	}

	diag.Print(stderr, res.Diags.All())
	status := exitOK
	if res.Diags.ErrorCount() > 0 || res.Report.Summary.Errors > 0 || len(pipelineErrs) > 0 {
		status = exitError
	}

	if opts.dump && res.Context != nil {
		res.Context.Dump(stdout)
	}

	if res.Output != nil {
		switch {
		case opts.check != "":
			same, err := checkOutput(opts.check, res.Output.Body, stderr)
			if err != nil {
				fmt.Fprintf(stderr, "Error: %v\n", err)
				return exitFatal
			}
			if !same {
				status = exitError
			}
		default:
			// Tables share stdout with -json and -dump only when nothing
			// else claims it.
			out := opts.output
			if out == "" {
				out = cfg.Emit.Output
			}
			if out == "" && (opts.jsonReport || opts.dump) {
				break
			}
			if err := writeOutput(root, out, cfg.Emit.Header, res.Output, stdout); err != nil {
				fmt.Fprintf(stderr, "Error: %v\n", err)
				return exitFatal
			}
		}
	}

	if opts.jsonReport {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res.Report); err != nil {
			fmt.Fprintf(stderr, "Error writing report: %v\n", err)
			return exitFatal
		}
	}
	if verbosity > 0 || len(pipelineErrs) > 0 {
		res.Report.PrintText(stderr)
	}

	return status
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `Usage: opspec [options] [file[:map]...]
       opspec init [opspec.json|opspec.yaml|opspec.toml]

Compiles the @op annotations of the given decoder sources into
disassembler opcode tables. Without file arguments the configured inputs
are used. file:map overrides the default opcode map of a file.

Options:
  -config FILE   Use FILE instead of searching for opspec.{json,yaml,toml}
  -o FILE        Write the tables to FILE
  -maps a,b      Emit only these maps
  -json          Print the JSON report on stdout
  -check FILE    Compare the tables with FILE; exit 1 when they differ
  -dump          Dump the parsed model on stdout
  -xcheck        Cross-check legacy opcodes with the x86 decoder
  -no-cache      Ignore the run cache
  -no-policy     Skip the advisory rules
  -v, -vv        Verbose or debug output

Exit status is 0 on success, 1 when errors were reported or -check found
a difference, and 2 on fatal or usage errors.`)
}

func runInit(args []string, stdout, stderr io.Writer) int {
	configPath := "opspec.json"
	if len(args) > 0 {
		configPath = args[0]
	}

	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(stderr, "Config file %s already exists\n", configPath)
		return exitError
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(configPath); err != nil {
		fmt.Fprintf(stderr, "Error creating config: %v\n", err)
		return exitFatal
	}

	fmt.Fprintf(stdout, "Created %s\n", configPath)
	fmt.Fprintln(stdout, "\nEdit this file to configure:")
	fmt.Fprintln(stdout, "  - Input files and their default maps")
	fmt.Fprintln(stdout, "  - Maps to emit and the output path")
	fmt.Fprintln(stdout, "  - Advisory rule severities")
	return exitOK
}

func loadConfig(root, path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load(root)
}

// parseInputArgs turns file[:map] arguments into inputs. The map is split
// off at the last colon so Windows drive letters survive.
func parseInputArgs(root string, args []string) ([]config.ResolvedInput, error) {
	var inputs []config.ResolvedInput
	for _, arg := range args {
		path, defMap := arg, ""
		if i := strings.LastIndex(arg, ":"); i > 1 {
			path, defMap = arg[:i], arg[i+1:]
			if defMap == "" {
				return nil, fmt.Errorf("%s: empty map name", arg)
			}
		}
		if path == "" {
			return nil, fmt.Errorf("%q: empty file name", arg)
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		if defMap == "" {
			defMap = config.DefaultMapFor(path)
		}
		inputs = append(inputs, config.ResolvedInput{Path: filepath.Clean(path), DefaultMap: defMap})
	}
	return inputs, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func writeOutput(root, path, header string, out *emit.Output, stdout io.Writer) error {
	if path == "" {
		_, err := io.WriteString(stdout, out.Body)
		return err
	}
	if err := os.WriteFile(resolve(root, path), []byte(out.Body), 0644); err != nil {
		return fmt.Errorf("writing tables: %w", err)
	}
	if header != "" {
		data := strings.Join(out.Header, "\n") + "\n"
		if err := os.WriteFile(resolve(root, header), []byte(data), 0644); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}
	return nil
}

// checkOutput compares the generated body with the file at path and prints
// a patch when they differ.
func checkOutput(path, body string, stderr io.Writer) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	want := string(data)
	if want == body {
		return true, nil
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(want, body)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)
	fmt.Fprintf(stderr, "%s differs from the generated tables:\n", path)
	fmt.Fprint(stderr, dmp.PatchToText(dmp.PatchMake(want, diffs)))
	return false, nil
}

func resolve(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
