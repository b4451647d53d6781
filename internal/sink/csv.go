package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
)

// CSVHeader is the column layout of the errors table.
var CSVHeader = []string{"status", "category", "message", "context"}

// CSVWriter writes records to a CSV file, replacing it.
type CSVWriter struct {
	Path string
}

// NewCSVWriter returns a writer for path.
func NewCSVWriter(path string) *CSVWriter {
	return &CSVWriter{Path: path}
}

// Write creates the file with a header even when records is empty.
func (w *CSVWriter) Write(_ context.Context, records []ErrorRecord) (err error) {
	if dir := filepath.Dir(w.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create errors dir: %w", err)
		}
	}

	f, err := os.Create(w.Path)
	if err != nil {
		return fmt.Errorf("create errors file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	cw := csv.NewWriter(f)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, rec := range records {
		if err := cw.Write([]string{rec.Status, rec.Category, rec.Message, string(rec.Context)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
