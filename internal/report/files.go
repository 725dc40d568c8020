package report

import (
	"fmt"
	"os"
	"path/filepath"
)

// File names written by WriteFiles.
const (
	MarkdownFile = "OPERATIONS_REPORT.md"
	CSVFile      = "PIPELINE_RUNS.csv"
)

// WriteFiles renders both artifacts into dir, creating it when needed.
// Each file is published with a rename so a reader never sees a
// partial report.
func WriteFiles(r *Report, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("report dir: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, MarkdownFile), []byte(RenderMarkdown(r))); err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, CSVFile), []byte(RenderCSV(r.Runs)))
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish %s: %w", filepath.Base(path), err)
	}
	return nil
}
