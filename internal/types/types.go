// =============================================================================
// Report Kapp - Shared Types
// =============================================================================
//
// This package contains the tabular types shared by the input readers, the
// transformation engine and the exporters. Keeping them here avoids import
// cycles between:
//   - xlsxparser / csvparser (producers)
//   - transform              (consumer)
//   - converter / server     (orchestration)
//
// =============================================================================

package types

import (
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// CELL TYPES
// =============================================================================

// CellKind describes what a reader was able to tell about a cell's value.
type CellKind int

const (
	// CellEmpty is a blank or missing cell.
	CellEmpty CellKind = iota

	// CellText is a string value.
	CellText

	// CellNumber is a numeric value (Number is set).
	CellNumber

	// CellDate is a date or date-time value (Time is set).
	CellDate

	// CellBool is a boolean value. Raw holds "TRUE" or "FALSE".
	CellBool
)

// String returns the kind name, used in error messages and logs.
func (k CellKind) String() string {
	switch k {
	case CellEmpty:
		return "empty"
	case CellText:
		return "text"
	case CellNumber:
		return "number"
	case CellDate:
		return "date"
	case CellBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Cell is a single typed value from an input sheet.
type Cell struct {
	// Kind is the detected type of the value.
	Kind CellKind

	// Raw is the value as read from the file, trimmed.
	Raw string

	// Number is the numeric value for CellNumber cells.
	Number float64

	// Time is the date value for CellDate cells.
	Time time.Time
}

// Text returns a text cell, or an empty cell when the value is blank.
func Text(s string) Cell {
	s = strings.TrimSpace(s)
	if s == "" {
		return Cell{Kind: CellEmpty}
	}
	return Cell{Kind: CellText, Raw: s}
}

// Number returns a numeric cell.
func Number(v float64) Cell {
	return Cell{Kind: CellNumber, Raw: strconv.FormatFloat(v, 'f', -1, 64), Number: v}
}

// Date returns a date cell.
func Date(t time.Time) Cell {
	return Cell{Kind: CellDate, Raw: t.Format(time.RFC3339), Time: t}
}

// IsEmpty reports whether the cell holds no value.
func (c Cell) IsEmpty() bool {
	return c.Kind == CellEmpty
}

// String renders the cell as text for pass-through fields such as producer
// names and receipt numbers. Numbers use the shortest exact representation so
// that a receipt number stored as 1234 renders as "1234", not "1234.0".
func (c Cell) String() string {
	switch c.Kind {
	case CellEmpty:
		return ""
	case CellNumber:
		return strconv.FormatFloat(c.Number, 'f', -1, 64)
	case CellDate:
		return c.Time.Format("2006-01-02")
	default:
		return c.Raw
	}
}

// =============================================================================
// TABLE
// =============================================================================

// Table is an in-memory tabular record set with a single header row.
type Table struct {
	// Source is the file (or upload name) the table was read from.
	Source string

	// Sheet is the worksheet name for spreadsheet sources.
	Sheet string

	// Headers are the column names in file order.
	Headers []string

	// Rows holds the data rows. Every row has len(Headers) cells.
	Rows [][]Cell

	// Lines holds the 1-based sheet row or file line each data row was read
	// from. Blank rows are dropped by the readers, so Lines[i] can run ahead
	// of i. Nil for tables built in memory.
	Lines []int
}

// Line returns the source line of data row i, or 0 when it is not known.
func (t *Table) Line(i int) int {
	if i < 0 || i >= len(t.Lines) {
		return 0
	}
	return t.Lines[i]
}

// ColumnIndex returns the position of the named column, or -1.
// Names are matched exactly.
func (t *Table) ColumnIndex(name string) int {
	for i, h := range t.Headers {
		if h == name {
			return i
		}
	}
	return -1
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}
