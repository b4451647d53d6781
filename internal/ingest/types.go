package ingest

import (
	"context"
	"io"
)

// Field is one column value of an input record.
type Field struct {
	Column string
	Value  string
}

// Row is one input record with its columns in header order.
// Every value is a string; an empty cell is "".
type Row []Field

// NewRow zips a header with a record. Missing trailing cells become "".
func NewRow(header, record []string) Row {
	row := make(Row, len(header))
	for i, col := range header {
		value := ""
		if i < len(record) {
			value = record[i]
		}
		row[i] = Field{Column: col, Value: value}
	}
	return row
}

// RowFromMap builds a row from column/value pairs in the given column order.
func RowFromMap(columns []string, values map[string]string) Row {
	row := make(Row, 0, len(columns))
	for _, col := range columns {
		row = append(row, Field{Column: col, Value: values[col]})
	}
	return row
}

// Get returns the value of column and whether the column exists.
func (r Row) Get(column string) (string, bool) {
	for _, f := range r {
		if f.Column == column {
			return f.Value, true
		}
	}
	return "", false
}

// Value returns the value of column, or "" if the column is absent.
func (r Row) Value(column string) string {
	v, _ := r.Get(column)
	return v
}

// Columns returns the column names of the row in order.
func (r Row) Columns() []string {
	cols := make([]string, len(r))
	for i, f := range r {
		cols[i] = f.Column
	}
	return cols
}

// RowSource streams input rows. Next returns io.EOF once the input is exhausted.
type RowSource interface {
	// Columns returns the declared header, or nil when the source has none.
	Columns() []string
	Next(ctx context.Context) (Row, error)
}

// SliceSource serves rows from memory.
type SliceSource struct {
	columns []string
	rows    []Row
	pos     int
}

// NewSliceSource creates a source over rows. The header is taken from the first row.
func NewSliceSource(rows []Row) *SliceSource {
	var cols []string
	if len(rows) > 0 {
		cols = rows[0].Columns()
	}
	return &SliceSource{columns: cols, rows: rows}
}

// Columns returns the header of the first row.
func (s *SliceSource) Columns() []string {
	return s.columns
}

// Next returns the next row.
func (s *SliceSource) Next(ctx context.Context) (Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}

// Payload is one request worth of transformed rows.
type Payload struct {
	// Params fills the {placeholders} of the operation path.
	Params map[string]string
	// Body is JSON-encoded by the dispatcher; nil means no body.
	Body interface{}
	// Rows is the number of input rows the payload covers.
	Rows int
}

// Properties is the v3 property object.
type Properties map[string]string

// Input is one element of a batch "inputs" array.
type Input struct {
	ID           string        `json:"id,omitempty"`
	Properties   Properties    `json:"properties,omitempty"`
	Associations []Association `json:"associations,omitempty"`
}

// Association links a created object to an existing one.
type Association struct {
	To    AssociationTarget `json:"to"`
	Types []AssociationType `json:"types"`
}

// AssociationTarget identifies the associated object.
type AssociationTarget struct {
	ID string `json:"id"`
}

// AssociationType is the typed relationship of an association.
type AssociationType struct {
	Category string `json:"associationCategory"`
	TypeID   string `json:"associationTypeId"`
}

// BatchBody is the body of every batch endpoint.
type BatchBody struct {
	Inputs []Input `json:"inputs"`
}

// SingleBody is a v3 single-object body.
type SingleBody struct {
	Properties Properties `json:"properties"`
}

// PropertyValue is one entry of a legacy property list.
// Exactly one of Property (contacts v1) and Name (companies v2) is set.
type PropertyValue struct {
	Property string `json:"property,omitempty"`
	Name     string `json:"name,omitempty"`
	Value    string `json:"value"`
}

// PropertyListBody is the legacy contacts/companies body.
type PropertyListBody struct {
	Properties []PropertyValue `json:"properties"`
}

// ListCreateBody creates a static contact list.
type ListCreateBody struct {
	Name string `json:"name"`
}

// ListAddBody adds contacts to a list by vid or email.
type ListAddBody struct {
	Vids   []string `json:"vids"`
	Emails []string `json:"emails"`
}

// ListRemoveBody removes contacts from a list by vid.
type ListRemoveBody struct {
	Vids []string `json:"vids"`
}
