package compiler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/robert-at-pretension-io/opspec/internal/config"
	"github.com/robert-at-pretension-io/opspec/internal/syntax"
)

// sourceFile is one input read into memory.
type sourceFile struct {
	Path       string
	Display    string
	DefaultMap string
	Data       []byte
	Hash       string
	Probe      *syntax.Result
}

// loadFiles reads, hashes and probes every input in parallel. The result
// keeps the input order.
func loadFiles(ctx context.Context, root string, inputs []config.ResolvedInput, limit int, probe *syntax.Probe, timing *timingRecorder, log logrus.FieldLogger) ([]*sourceFile, error) {
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	files := make([]*sourceFile, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, in := range inputs {
		g.Go(func() error {
			start := time.Now()
			data, err := os.ReadFile(in.Path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", in.Path, err)
			}
			f := &sourceFile{
				Path:       in.Path,
				Display:    displayPath(root, in.Path),
				DefaultMap: in.DefaultMap,
				Data:       data,
				Hash:       hashBytes(data),
			}
			status := "loaded"
			counts := fileCounts{Bytes: len(data)}
			if probe != nil {
				res, err := probe.Run(gctx, f.Display, data)
				if err != nil {
					return fmt.Errorf("probing %s: %w", f.Display, err)
				}
				f.Probe = &res
				status = "probed"
				counts.Comments = res.Comments
				counts.ProbeIssues = len(res.Errors)
				reportProbe(log, res)
			}
			files[i] = f
			timing.RecordFile("load", f.Display, status, counts, start, time.Since(start))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

func reportProbe(log logrus.FieldLogger, res syntax.Result) {
	entry := log.WithFields(logrus.Fields{
		"file":     res.File,
		"comments": res.Comments,
		"tagged":   res.Tagged,
	})
	if res.Fallback {
		entry.Debug("syntax probe fell back to comment scan")
	}
	if len(res.Errors) == 0 {
		entry.Debug("syntax probe clean")
		return
	}
	entry.WithField("line", res.Errors[0].Line).Warnf("syntax probe: %d parse issues, first %s", len(res.Errors), res.Errors[0])
}

// displayPath is path relative to root when it lies below root.
func displayPath(root, path string) string {
	if root == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
