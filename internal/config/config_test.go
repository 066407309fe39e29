package config

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/lithammer/dedent"
)

func TestLoadFileFormats(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"opspec.json", `{
			"inputs": [{"file": "a.cpp.h", "defaultMap": "vexmap2"}],
			"emit": {"maps": ["vexmap2"], "splitPrefixes": false},
			"rules": {"missing-test": "off"}
		}`},
		{"opspec.yaml", dedent.Dedent(`
			inputs:
			  - file: a.cpp.h
			    defaultMap: vexmap2
			emit:
			  maps: [vexmap2]
			  splitPrefixes: false
			rules:
			  missing-test: "off"
		`)},
		{"opspec.toml", dedent.Dedent(`
			[[inputs]]
			file = "a.cpp.h"
			defaultMap = "vexmap2"

			[emit]
			maps = ["vexmap2"]
			splitPrefixes = false

			[rules]
			missing-test = "off"
		`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.name)
			writeFile(t, path, tt.content)

			cfg, err := LoadFile(path)
			if err != nil {
				t.Fatalf("LoadFile: %v", err)
			}
			if diff := cmp.Diff([]InputEntry{{File: "a.cpp.h", DefaultMap: "vexmap2"}}, cfg.Inputs); diff != "" {
				t.Errorf("inputs mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]string{"vexmap2"}, cfg.Emit.Maps); diff != "" {
				t.Errorf("emit maps mismatch (-want +got):\n%s", diff)
			}
			if cfg.SplitPrefixes() {
				t.Errorf("expected splitPrefixes false")
			}
			if cfg.IsRuleEnabled("missing-test") {
				t.Errorf("expected missing-test disabled")
			}
			if !cfg.IsRuleEnabled("stub") {
				t.Errorf("unconfigured rules are enabled")
			}
			if !cfg.CacheEnabled() || cfg.Analysis.Cache.Dir != ".opspec_cache" {
				t.Errorf("cache defaults not applied: %+v", cfg.Analysis.Cache)
			}
		})
	}
}

func TestLoadFileRejectsBadSeverity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opspec.json")
	writeFile(t, path, `{"rules": {"stub": "loud"}}`)
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected invalid severity error")
	}
}

func TestLoadFileUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opspec.ini")
	writeFile(t, path, "x=1")
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func TestLoadSearchesRoot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "opspec.yml"), "include: ['*.cpp.h']\n")

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Inputs) != 0 {
		t.Errorf("include-only config should not get the default inputs, got %v", cfg.Inputs)
	}
	if diff := cmp.Diff([]string{"*.cpp.h"}, cfg.Include); diff != "" {
		t.Errorf("include mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveRoundTripsThroughEachFormat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rules["no-brief"] = SeverityError
	for _, name := range []string{"out.json", "out.yaml", "out.toml"} {
		path := filepath.Join(t.TempDir(), name)
		if err := cfg.Save(path); err != nil {
			t.Fatalf("Save(%s): %v", name, err)
		}
		got, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile(%s): %v", name, err)
		}
		if got.GetRuleSeverity("no-brief", SeverityWarning) != SeverityError {
			t.Errorf("%s: rule severity lost", name)
		}
		if len(got.Inputs) != len(DefaultInputs()) {
			t.Errorf("%s: got %d inputs", name, len(got.Inputs))
		}
	}
}

func TestShouldIgnoreFile(t *testing.T) {
	cfg := Config{IgnorePatterns: []string{"**/3DNow*", "Vex*.h"}}
	tests := map[string]bool{
		"src/IEM/3DNow.cpp.h": true,
		"VexMap1.h":           true,
		"/abs/VexMap2.h":      true,
		"OneByte.cpp.h":       false,
	}
	for path, want := range tests {
		if got := cfg.ShouldIgnoreFile(path); got != want {
			t.Errorf("ShouldIgnoreFile(%q) = %v, want %v", path, got, want)
		}
	}
}
