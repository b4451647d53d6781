package ingest

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/ryabkov82/crm-writer/internal/exception"
)

const parseModule = "ingest"

// CSVOptions describes the physical layout of an input table.
type CSVOptions struct {
	// Encoding is "utf-8" (default) or "windows-1251".
	Encoding string `yaml:"encoding"`
	// Delimiter is a single character, "," by default.
	Delimiter string `yaml:"delimiter"`
}

// CSVSource streams rows of a CSV table with a header line.
type CSVSource struct {
	file   *os.File
	reader *csv.Reader
	header []string
	rowNo  int64
}

// OpenCSV opens path and reads its header.
func OpenCSV(path string, opts CSVOptions) (*CSVSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	src, err := NewCSVSource(file, opts)
	if err != nil {
		file.Close()
		return nil, err
	}
	src.file = file
	return src, nil
}

// NewCSVSource reads the header from r and returns a source over the remaining lines.
func NewCSVSource(r io.Reader, opts CSVOptions) (*CSVSource, error) {
	switch strings.ToLower(opts.Encoding) {
	case "", "utf-8", "utf8":
	case "windows-1251", "cp1251":
		r = charmap.Windows1251.NewDecoder().Reader(r)
	default:
		return nil, exception.Configuration(parseModule, fmt.Sprintf("unsupported encoding %q", opts.Encoding), nil)
	}

	reader := csv.NewReader(r)
	if opts.Delimiter != "" {
		reader.Comma = []rune(opts.Delimiter)[0]
	}
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, exception.Validation(parseModule, "input table has no header")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i, name := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
	}

	return &CSVSource{reader: reader, header: header}, nil
}

// Columns returns the header.
func (s *CSVSource) Columns() []string {
	return s.header
}

// Next reads the next record.
func (s *CSVSource) Next(ctx context.Context) (Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	record, err := s.reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, exception.New(exception.KindValidation, parseModule,
			fmt.Sprintf("csv read error after row %d", s.rowNo), err)
	}

	s.rowNo++
	if len(record) > len(s.header) {
		return nil, exception.Validation(parseModule,
			"row %d has %d cells but the header has %d columns", s.rowNo, len(record), len(s.header))
	}
	return NewRow(s.header, record), nil
}

// RowNo returns the number of data rows read so far.
func (s *CSVSource) RowNo() int64 {
	return s.rowNo
}

// Close releases the underlying file, if any.
func (s *CSVSource) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// Manifest is the sidecar description of an input table.
type Manifest struct {
	Columns []string `json:"columns"`
}

// ReadManifest loads "<table>.manifest" if it exists. A missing manifest returns nil, nil.
func ReadManifest(tablePath string) (*Manifest, error) {
	data, err := os.ReadFile(tablePath + ".manifest")
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", tablePath+".manifest", err)
	}
	return &m, nil
}
