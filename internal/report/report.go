// Package report writes the per-run report to every configured sink.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/job-applier/internal/types"
)

// Sink stores an encoded report under a file name
type Sink interface {
	Name() string
	Put(ctx context.Context, name string, data []byte) error
}

// FileName returns session_<start time>.json for the report.
func FileName(r *types.RunReport) string {
	return "session_" + r.StartedAt.Format("20060102_150405") + ".json"
}

// Encode renders the report as indented JSON.
func Encode(r *types.RunReport) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode run report: %w", err)
	}
	return data, nil
}

// Publish encodes the report once and writes it to all sinks concurrently. One failing
// sink does not stop the others; their errors are joined.
func Publish(ctx context.Context, r *types.RunReport, sinks ...Sink) error {
	data, err := Encode(r)
	if err != nil {
		return err
	}
	name := FileName(r)

	errs := make([]error, len(sinks))
	var g errgroup.Group
	for i, s := range sinks {
		g.Go(func() error {
			if err := s.Put(ctx, name, data); err != nil {
				errs[i] = fmt.Errorf("%s: %w", s.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// FileWriter writes reports into a local directory.
type FileWriter struct {
	Dir string
}

// NewFileWriter returns a writer for dir.
func NewFileWriter(dir string) *FileWriter {
	return &FileWriter{Dir: dir}
}

func (w *FileWriter) Name() string { return "file" }

// Put writes data to Dir/name, creating Dir when needed.
func (w *FileWriter) Put(_ context.Context, name string, data []byte) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	path := filepath.Join(w.Dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return nil
}

// Path returns where a report with the given name lands.
func (w *FileWriter) Path(name string) string {
	return filepath.Join(w.Dir, name)
}
