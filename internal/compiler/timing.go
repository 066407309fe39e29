package compiler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TimingEnv names a JSONL file receiving timing records. It overrides
// analysis.timingJsonl.
const TimingEnv = "OPSPEC_TIMING_JSONL"

// timingEvent is one JSONL record. Stage records carry the phase and
// status; file records add what the phase learned about the file.
type timingEvent struct {
	RunID      string  `json:"run_id"`
	Phase      string  `json:"phase"`
	Kind       string  `json:"kind"`
	File       string  `json:"file,omitempty"`
	Status     string  `json:"status,omitempty"`
	StartMS    float64 `json:"start_ms"`
	DurationMS float64 `json:"duration_ms"`

	Bytes        int `json:"bytes,omitempty"`
	Comments     int `json:"comments,omitempty"`
	ProbeIssues  int `json:"probe_issues,omitempty"`
	Instructions int `json:"instructions,omitempty"`
	Stubs        int `json:"stubs,omitempty"`
}

// fileCounts is the per-file payload of a file record.
type fileCounts struct {
	Bytes        int
	Comments     int
	ProbeIssues  int
	Instructions int
	Stubs        int
}

// timingRecorder appends records to a JSONL file. A recorder without a
// path, or a nil recorder, drops everything.
type timingRecorder struct {
	runID string
	start time.Time

	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
	err error
}

func newTimingRecorder(runID string, start time.Time, path string) *timingRecorder {
	tr := &timingRecorder{runID: runID, start: start}
	if path == "" {
		return tr
	}
	f, err := os.Create(path)
	if err != nil {
		tr.err = fmt.Errorf("creating %s: %w", path, err)
		return tr
	}
	tr.f = f
	tr.enc = json.NewEncoder(f)
	return tr
}

// Err reports why the timing file could not be opened.
func (tr *timingRecorder) Err() error {
	if tr == nil {
		return nil
	}
	return tr.err
}

func (tr *timingRecorder) Close() {
	if tr == nil || tr.f == nil {
		return
	}
	_ = tr.f.Close()
}

func (tr *timingRecorder) write(ev timingEvent, start time.Time, d time.Duration) {
	if tr == nil || tr.enc == nil {
		return
	}
	ev.RunID = tr.runID
	ev.StartMS = millis(start.Sub(tr.start))
	ev.DurationMS = millis(d)
	tr.mu.Lock()
	defer tr.mu.Unlock()
	_ = tr.enc.Encode(ev)
}

func (tr *timingRecorder) RecordStage(phase string, start time.Time, d time.Duration, status string) {
	tr.write(timingEvent{Phase: phase, Kind: "stage", Status: status}, start, d)
}

// RecordFile writes a per-file record for phase, load or parse.
func (tr *timingRecorder) RecordFile(phase, file, status string, c fileCounts, start time.Time, d time.Duration) {
	tr.write(timingEvent{
		Phase:        phase,
		Kind:         "file",
		File:         file,
		Status:       status,
		Bytes:        c.Bytes,
		Comments:     c.Comments,
		ProbeIssues:  c.ProbeIssues,
		Instructions: c.Instructions,
		Stubs:        c.Stubs,
	}, start, d)
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// resolveTimingPath picks the environment override, then the configured
// path relative to root.
func resolveTimingPath(root, configured string) string {
	path := os.Getenv(TimingEnv)
	if path == "" {
		path = configured
	}
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dus", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}
