// Package etl implements the columnar building blocks of the pipeline:
// the in-memory table model, per-domain flattening, join/enrichment and
// the incremental warehouse loader.
package etl

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"
)

// Row maps an output column name to a scalar value.
// Values are one of: nil, string, int64, float64 or time.Time.
type Row map[string]any

// Table is an ordered set of rows sharing one column set.
type Table struct {
	Cols []string
	Rows []Row
}

// NewTable creates an empty table with the given column order.
func NewTable(cols ...string) *Table {
	return &Table{Cols: cols}
}

// Append adds a row. Columns absent from the row read back as nil.
func (t *Table) Append(r Row) {
	t.Rows = append(t.Rows, r)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// HasCol reports whether the table declares the column.
func (t *Table) HasCol(name string) bool {
	for _, c := range t.Cols {
		if c == name {
			return true
		}
	}
	return false
}

// Select returns a copy of the table restricted to the given columns.
func (t *Table) Select(cols ...string) *Table {
	out := NewTable(cols...)
	for _, r := range t.Rows {
		nr := make(Row, len(cols))
		for _, c := range cols {
			nr[c] = r[c]
		}
		out.Append(nr)
	}
	return out
}

// DropNil returns a copy without rows holding a nil in any of the given
// columns. Used before loading tables whose keys must be fully resolved.
func (t *Table) DropNil(cols ...string) *Table {
	out := NewTable(t.Cols...)
rows:
	for _, r := range t.Rows {
		for _, c := range cols {
			if r[c] == nil {
				continue rows
			}
		}
		out.Append(r)
	}
	return out
}

// WriteCSV writes the table with a header row. Dates are rendered as
// RFC 3339 timestamps, everything else via fmt.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Cols); err != nil {
		return err
	}
	record := make([]string, len(t.Cols))
	for _, r := range t.Rows {
		for i, c := range t.Cols {
			record[i] = formatCSV(r[c])
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatCSV(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case float64:
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
