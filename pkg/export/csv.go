package export

import (
	"encoding/csv"
	"fmt"
	"io"
)

// Table is tabular export content. Every row has one value per header.
type Table struct {
	Headers []string
	Rows    [][]string
}

// NewTable starts a table with the given headers.
func NewTable(headers ...string) *Table {
	return &Table{Headers: headers}
}

// Append adds one row.
func (t *Table) Append(values ...string) error {
	if len(values) != len(t.Headers) {
		return fmt.Errorf("row has %d values, want %d", len(values), len(t.Headers))
	}
	t.Rows = append(t.Rows, values)
	return nil
}

// WriteCSV renders the table as CSV with a header line.
func WriteCSV(w io.Writer, t *Table) error {
	if t == nil || len(t.Headers) == 0 {
		return fmt.Errorf("csv requires at least one header")
	}
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Headers); err != nil {
		return fmt.Errorf("write csv headers: %w", err)
	}
	if err := writer.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	return nil
}
