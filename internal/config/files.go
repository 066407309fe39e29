package config

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// ResolvedInput is an input file with its absolute path and default map
type ResolvedInput struct {
	Path       string
	DefaultMap string
}

// ResolveInputs returns the explicit inputs followed by the files matched
// by Include, minus everything matched by Exclude. Relative paths are taken
// from rootPath. A file listed twice is kept once, at its first position.
func (c *Config) ResolveInputs(rootPath string) ([]ResolvedInput, error) {
	excludes, err := compileGlobs(c.Exclude)
	if err != nil {
		return nil, err
	}
	excluded := func(abs string) bool {
		rel, err := filepath.Rel(rootPath, abs)
		if err != nil {
			rel = abs
		}
		rel = filepath.ToSlash(rel)
		for _, g := range excludes {
			if g.Match(rel) {
				return true
			}
		}
		return false
	}

	var result []ResolvedInput
	seen := make(map[string]bool)
	add := func(path, defMap string) {
		if !filepath.IsAbs(path) {
			path = filepath.Join(rootPath, path)
		}
		path = filepath.Clean(path)
		if seen[path] || excluded(path) {
			return
		}
		seen[path] = true
		if defMap == "" {
			defMap = DefaultMapFor(path)
		}
		result = append(result, ResolvedInput{Path: path, DefaultMap: defMap})
	}

	for _, in := range c.Inputs {
		add(in.File, in.DefaultMap)
	}

	if len(c.Include) > 0 {
		matches, err := expandGlobs(rootPath, c.Include)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			add(m, "")
		}
	}

	return result, nil
}

// DefaultMapFor guesses the default map of a source file from its name.
// Files with no known name belong to the one-byte map.
func DefaultMapFor(path string) string {
	base := filepath.Base(path)
	for _, in := range defaultInputs {
		if strings.EqualFold(in.File, base) {
			return in.DefaultMap
		}
	}
	return "one"
}

func compileGlob(pattern string) (glob.Glob, error) {
	g, err := glob.Compile(filepath.ToSlash(pattern), '/')
	if err != nil {
		return nil, fmt.Errorf("invalid glob %q: %w", pattern, err)
	}
	return g, nil
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := compileGlob(p)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

// expandGlobs walks rootPath once and returns the files whose
// slash-separated relative path matches any pattern, in sorted order.
func expandGlobs(rootPath string, patterns []string) ([]string, error) {
	globs, err := compileGlobs(patterns)
	if err != nil {
		return nil, err
	}

	var results []string
	err = filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip errors, continue walking
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(rootPath, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		for _, g := range globs {
			if g.Match(rel) {
				results = append(results, path)
				break
			}
		}
		return nil
	})
	sort.Strings(results)
	return results, err
}
