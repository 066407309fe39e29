package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for opspec
type Config struct {
	// Inputs is an explicit list of annotated source files with their
	// default opcode map
	Inputs []InputEntry `json:"inputs,omitempty" yaml:"inputs,omitempty" toml:"inputs,omitempty"`

	// Include is a list of glob patterns (relative to the root, ** allowed)
	// for additional input files
	Include []string `json:"include,omitempty" yaml:"include,omitempty" toml:"include,omitempty"`

	// Exclude is a list of glob patterns removed from the inputs
	Exclude []string `json:"exclude,omitempty" yaml:"exclude,omitempty" toml:"exclude,omitempty"`

	// Catalog is an optional CUE catalog replacing the embedded one
	Catalog string `json:"catalog,omitempty" yaml:"catalog,omitempty" toml:"catalog,omitempty"`

	// Emit controls table generation
	Emit EmitConfig `json:"emit,omitempty" yaml:"emit,omitempty" toml:"emit,omitempty"`

	// Rules maps advisory rule names to severity: "off", "info", "warning", "error"
	Rules map[string]string `json:"rules,omitempty" yaml:"rules,omitempty" toml:"rules,omitempty"`

	// IgnorePatterns is a list of file patterns exempt from advisory rules
	IgnorePatterns []string `json:"ignorePatterns,omitempty" yaml:"ignorePatterns,omitempty" toml:"ignorePatterns,omitempty"`

	// Analysis contains pipeline options
	Analysis AnalysisConfig `json:"analysis,omitempty" yaml:"analysis,omitempty" toml:"analysis,omitempty"`
}

// InputEntry is one annotated source file
type InputEntry struct {
	File       string `json:"file" yaml:"file" toml:"file"`
	DefaultMap string `json:"defaultMap,omitempty" yaml:"defaultMap,omitempty" toml:"defaultMap,omitempty"`
}

// EmitConfig controls the disassembler table output
type EmitConfig struct {
	// Maps lists the maps to emit; empty means all
	Maps []string `json:"maps,omitempty" yaml:"maps,omitempty" toml:"maps,omitempty"`

	// SplitPrefixes emits one table per mandatory prefix for byte+pfx maps
	SplitPrefixes *bool `json:"splitPrefixes,omitempty" yaml:"splitPrefixes,omitempty" toml:"splitPrefixes,omitempty"`

	// Output is the table file; empty means stdout
	Output string `json:"output,omitempty" yaml:"output,omitempty" toml:"output,omitempty"`

	// Header receives the extern declarations when set
	Header string `json:"header,omitempty" yaml:"header,omitempty" toml:"header,omitempty"`
}

// CacheConfig controls the run cache
type CacheConfig struct {
	// Enabled turns on cache usage
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty" toml:"enabled,omitempty"`

	// Dir is the cache directory (relative to project root if not absolute)
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty" toml:"dir,omitempty"`
}

// AnalysisConfig contains pipeline options
type AnalysisConfig struct {
	// MaxParallelFiles limits concurrent file loading (0 = auto)
	MaxParallelFiles int `json:"maxParallelFiles,omitempty" yaml:"maxParallelFiles,omitempty" toml:"maxParallelFiles,omitempty"`

	// SyntaxProbe runs the tree-sitter probe on every input
	SyntaxProbe *bool `json:"syntaxProbe,omitempty" yaml:"syntaxProbe,omitempty" toml:"syntaxProbe,omitempty"`

	// FactsDir receives the fact tables as JSON when set
	FactsDir string `json:"factsDir,omitempty" yaml:"factsDir,omitempty" toml:"factsDir,omitempty"`

	// TimingJSONL receives per-stage timing records when set.
	// OPSPEC_TIMING_JSONL overrides it.
	TimingJSONL string `json:"timingJsonl,omitempty" yaml:"timingJsonl,omitempty" toml:"timingJsonl,omitempty"`

	// MetricsTextfile receives Prometheus metrics in text format when set
	MetricsTextfile string `json:"metricsTextfile,omitempty" yaml:"metricsTextfile,omitempty" toml:"metricsTextfile,omitempty"`

	// PolicyDir holds extra .rego files evaluated with the built-in rules
	PolicyDir string `json:"policyDir,omitempty" yaml:"policyDir,omitempty" toml:"policyDir,omitempty"`

	// Cache controls the run cache
	Cache CacheConfig `json:"cache,omitempty" yaml:"cache,omitempty" toml:"cache,omitempty"`
}

// Rule severities
const (
	SeverityOff     = "off"
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// defaultInputs are the decoder sources and the map their unqualified
// opcodes belong to.
var defaultInputs = []InputEntry{
	{File: "IEMAllInstructionsOneByte.cpp.h", DefaultMap: "one"},
	{File: "IEMAllInstructionsTwoByte0f.cpp.h", DefaultMap: "two0f"},
	{File: "IEMAllInstructionsThree0f38.cpp.h", DefaultMap: "three0f38"},
	{File: "IEMAllInstructionsThree0f3a.cpp.h", DefaultMap: "three0f3a"},
	{File: "IEMAllInstructionsVexMap1.cpp.h", DefaultMap: "vexmap1"},
	{File: "IEMAllInstructionsVexMap2.cpp.h", DefaultMap: "vexmap2"},
	{File: "IEMAllInstructionsVexMap3.cpp.h", DefaultMap: "vexmap3"},
	{File: "IEMAllInstructions3DNow.cpp.h", DefaultMap: "3dnow"},
}

// DefaultInputs returns a copy of the standard input list.
func DefaultInputs() []InputEntry {
	return append([]InputEntry(nil), defaultInputs...)
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Inputs: DefaultInputs(),
		Emit: EmitConfig{
			SplitPrefixes: boolPtr(true),
		},
		Rules:          map[string]string{},
		IgnorePatterns: []string{},
		Analysis: AnalysisConfig{
			MaxParallelFiles: 0, // auto
			SyntaxProbe:      boolPtr(true),
			Cache: CacheConfig{
				Enabled: boolPtr(true),
				Dir:     ".opspec_cache",
			},
		},
	}
}

func boolPtr(v bool) *bool {
	return &v
}

var configNames = []string{"opspec.json", "opspec.yaml", "opspec.yml", "opspec.toml"}

// Load finds and loads the configuration file
// Search order:
//  1. ./opspec.{json,yaml,yml,toml} and the dot-prefixed variants
//  2. <rootPath>/opspec.{json,yaml,yml,toml} (if different from cwd)
//  3. ~/.config/opspec/config.{json,yaml,yml,toml}
//
// Returns DefaultConfig if no config file is found
func Load(rootPath string) (*Config, error) {
	cwd, _ := os.Getwd()

	var searchPaths []string
	addDir := func(dir string) {
		for _, name := range configNames {
			searchPaths = append(searchPaths, filepath.Join(dir, name), filepath.Join(dir, "."+name))
		}
	}
	addDir(cwd)

	if info, err := os.Stat(rootPath); err == nil && info.IsDir() {
		absRoot, _ := filepath.Abs(rootPath)
		if absRoot != cwd {
			addDir(rootPath)
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		for _, name := range configNames {
			ext := filepath.Ext(name)
			searchPaths = append(searchPaths, filepath.Join(home, ".config", "opspec", "config"+ext))
		}
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}

	return DefaultConfig(), nil
}

// LoadFile loads configuration from a specific file. The format follows
// the extension: .json, .yaml/.yml or .toml.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(data, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		_, err = toml.Decode(string(data), &cfg)
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &cfg, nil
}

// applyDefaults fills in missing configuration with defaults
func (c *Config) applyDefaults() {
	if len(c.Inputs) == 0 && len(c.Include) == 0 {
		c.Inputs = DefaultInputs()
	}

	if c.Rules == nil {
		c.Rules = make(map[string]string)
	}

	if c.Emit.SplitPrefixes == nil {
		c.Emit.SplitPrefixes = boolPtr(true)
	}

	if c.Analysis.SyntaxProbe == nil {
		c.Analysis.SyntaxProbe = boolPtr(true)
	}
	if c.Analysis.Cache.Dir == "" {
		c.Analysis.Cache.Dir = ".opspec_cache"
	}
	if c.Analysis.Cache.Enabled == nil {
		c.Analysis.Cache.Enabled = boolPtr(true)
	}
}

// Validate checks rule severities and input entries.
func (c *Config) Validate() error {
	for rule, sev := range c.Rules {
		switch sev {
		case SeverityOff, SeverityInfo, SeverityWarning, SeverityError:
		default:
			return fmt.Errorf("rule %s: invalid severity %q", rule, sev)
		}
	}
	for i, in := range c.Inputs {
		if in.File == "" {
			return fmt.Errorf("inputs[%d]: missing file", i)
		}
	}
	return nil
}

// Save writes the configuration to a file in the format its extension names
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	case ".toml":
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(c)
		data = buf.Bytes()
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// SplitPrefixes reports whether byte+pfx maps are split per prefix.
func (c *Config) SplitPrefixes() bool {
	return c.Emit.SplitPrefixes == nil || *c.Emit.SplitPrefixes
}

// CacheEnabled reports whether the run cache is used.
func (c *Config) CacheEnabled() bool {
	return c.Analysis.Cache.Enabled == nil || *c.Analysis.Cache.Enabled
}

// SyntaxProbeEnabled reports whether inputs are probed with tree-sitter.
func (c *Config) SyntaxProbeEnabled() bool {
	return c.Analysis.SyntaxProbe == nil || *c.Analysis.SyntaxProbe
}

// GetRuleSeverity returns the severity for a rule, or the default if not configured
func (c *Config) GetRuleSeverity(rule string, defaultSeverity string) string {
	if severity, ok := c.Rules[rule]; ok {
		return severity
	}
	return defaultSeverity
}

// IsRuleEnabled returns true if the rule is not set to "off"
func (c *Config) IsRuleEnabled(rule string) bool {
	if severity, ok := c.Rules[rule]; ok {
		return severity != SeverityOff
	}
	return true // enabled by default
}

// ShouldIgnoreFile checks if a file is exempt from advisory rules
func (c *Config) ShouldIgnoreFile(filePath string) bool {
	for _, pattern := range c.IgnorePatterns {
		g, err := compileGlob(pattern)
		if err != nil {
			continue
		}
		if g.Match(filepath.ToSlash(filePath)) || g.Match(filepath.Base(filePath)) {
			return true
		}
	}
	return false
}
