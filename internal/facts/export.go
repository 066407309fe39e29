package facts

import (
	"encoding/json"
	"fmt"
	"os"
)

// ExportVersion is the format version written by opspec-model.
const ExportVersion = 1

// Export is a self-describing snapshot of the fact tables.
type Export struct {
	Version   int    `json:"version"`
	RunID     string `json:"run_id"`
	Generated string `json:"generated"`
	Tables    Tables `json:"tables"`
	Delta     *Delta `json:"delta,omitempty"`
}

// ReadExport loads an export written earlier.
func ReadExport(path string) (*Export, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var exp Export
	if err := json.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if exp.Version != ExportVersion {
		return nil, fmt.Errorf("%s: unsupported export version %d", path, exp.Version)
	}
	return &exp, nil
}
