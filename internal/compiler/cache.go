package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/robert-at-pretension-io/opspec/internal/emit"
	"github.com/robert-at-pretension-io/opspec/internal/facts"
)

const cacheIndexVersion = 1

type cacheEntry struct {
	ContentHash string `json:"content_hash"`
	DefaultMap  string `json:"default_map"`
}

// cacheIndex records the inputs and settings of the last clean run.
type cacheIndex struct {
	Version  int                   `json:"version"`
	Settings string                `json:"settings"`
	Entries  map[string]cacheEntry `json:"entries"`
}

// cachedRun is what a clean run leaves behind for the next one.
type cachedRun struct {
	RunID  string       `json:"run_id"`
	Output *emit.Output `json:"output"`
	Files  []FileReport `json:"files"`
}

// runCache keeps the previous run's output and fact tables keyed by input
// hashes. Only runs without errors are stored.
type runCache struct {
	dir   string
	mu    sync.Mutex
	index cacheIndex
}

func newRunCache(dir string) *runCache {
	return &runCache{
		dir:   dir,
		index: cacheIndex{Version: cacheIndexVersion, Entries: make(map[string]cacheEntry)},
	}
}

func (c *runCache) indexPath() string  { return filepath.Join(c.dir, "index.json") }
func (c *runCache) runPath() string    { return filepath.Join(c.dir, "run.json") }
func (c *runCache) tablesPath() string { return filepath.Join(c.dir, "fact_tables.json") }

func (c *runCache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("cache mkdir: %w", err)
	}
	data, err := os.ReadFile(c.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read cache index: %w", err)
	}
	var idx cacheIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("parse cache index: %w", err)
	}
	if idx.Version != cacheIndexVersion {
		// Reset on version mismatch
		c.index = cacheIndex{Version: cacheIndexVersion, Entries: make(map[string]cacheEntry)}
		return nil
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string]cacheEntry)
	}
	c.index = idx
	return nil
}

// Changed returns the inputs whose hash or default map differs from the
// cached index, plus files that disappeared. hit is true when nothing
// changed and the settings match.
func (c *runCache) Changed(files []*sourceFile, settings string) (changed map[string]bool, hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed = make(map[string]bool)
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		seen[f.Display] = true
		entry, ok := c.index.Entries[f.Display]
		if !ok || entry.ContentHash != f.Hash || entry.DefaultMap != f.DefaultMap {
			changed[f.Display] = true
		}
	}
	for path := range c.index.Entries {
		if !seen[path] {
			changed[path] = true
		}
	}
	return changed, len(changed) == 0 && c.index.Settings == settings && len(files) > 0
}

// Store replaces the index and writes the run artifacts.
func (c *runCache) Store(files []*sourceFile, settings string, run cachedRun, tables facts.Tables) error {
	if err := writeJSONAtomic(c.runPath(), run); err != nil {
		return err
	}
	if err := writeJSONAtomic(c.tablesPath(), tables); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = cacheIndex{Version: cacheIndexVersion, Settings: settings, Entries: make(map[string]cacheEntry, len(files))}
	for _, f := range files {
		c.index.Entries[f.Display] = cacheEntry{ContentHash: f.Hash, DefaultMap: f.DefaultMap}
	}
	return writeJSONAtomic(c.indexPath(), c.index)
}

// Invalidate drops the index so a failed run is never reused.
func (c *runCache) Invalidate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = cacheIndex{Version: cacheIndexVersion, Entries: make(map[string]cacheEntry)}
	if err := os.Remove(c.indexPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cache index: %w", err)
	}
	return nil
}

func (c *runCache) LoadRun() (cachedRun, bool, error) {
	var run cachedRun
	ok, err := readJSON(c.runPath(), &run)
	if ok && run.Output == nil {
		return run, false, nil
	}
	return run, ok, err
}

func (c *runCache) LoadTables() (facts.Tables, bool, error) {
	var tables facts.Tables
	ok, err := readJSON(c.tablesPath(), &tables)
	return tables, ok, err
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache json: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("temp cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// settingsHash covers everything besides the inputs that changes the
// emitted output.
func settingsHash(catalogHash string, maps []string, split bool) string {
	sorted := append([]string(nil), maps...)
	sort.Strings(sorted)
	data, _ := json.Marshal(struct {
		Version int      `json:"version"`
		Catalog string   `json:"catalog"`
		Maps    []string `json:"maps"`
		Split   bool     `json:"split"`
	}{cacheIndexVersion, catalogHash, sorted, split})
	return hashBytes(data)
}
