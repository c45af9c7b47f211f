// =============================================================================
// Report Kapp - Spreadsheet Reader
// =============================================================================
//
// This module reads a purchase-record worksheet into a types.Table.
//
// SHEET STRUCTURE (Expected Layout):
//   Row 1 holds the column names, data starts on row 2. Column order does not
//   matter; the transformation looks columns up by exact name.
//
//   | Nombre Productor | Código Productor | Cacao en Baba (qq) | Cacao Seco (qq) | Fecha de Entrega | Número de Recibo |
//   |------------------|------------------|--------------------|-----------------|------------------|------------------|
//   | Juan Pérez       | P-001            | 10                 | 20              | 2024-03-15       | R-100            |
//
// CELL TYPING:
//   Each cell is classified so the engine can tell real dates from text that
//   merely looks like one:
//   - Numbers with a date number format become date cells
//   - Other numbers become number cells
//   - Cells stored with t="d" (ISO 8601 text) become date cells
//   - Booleans become bool cells
//   - Everything else is text
//
// =============================================================================

package xlsxparser

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/report-kapp/internal/types"
)

// ErrLegacyWorkbook is returned for .xls files, which the OOXML reader cannot
// open.
var ErrLegacyWorkbook = errors.New("legacy .xls workbooks are not supported, save the file as .xlsx")

// =============================================================================
// PARSER FUNCTIONS
// =============================================================================

// Parse reads a worksheet from an .xlsx file.
//
// PARAMETERS:
//   - path: The path to the workbook.
//   - sheet: The worksheet to read. Empty selects the first sheet.
//
// RETURNS:
//   - The parsed table.
//   - An error if the file cannot be opened or the sheet does not exist.
func Parse(path, sheet string) (*types.Table, error) {
	if strings.EqualFold(filepath.Ext(path), ".xls") {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrLegacyWorkbook)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer file.Close()

	return ParseReader(file, path, sheet)
}

// ParseReader reads a worksheet from an .xlsx stream, such as an upload.
//
// PARAMETERS:
//   - r: The workbook contents.
//   - source: The file name recorded on the table.
//   - sheet: The worksheet to read. Empty selects the first sheet.
func ParseReader(r io.Reader, source, sheet string) (*types.Table, error) {
	if strings.EqualFold(filepath.Ext(source), ".xls") {
		return nil, fmt.Errorf("%s: %w", filepath.Base(source), ErrLegacyWorkbook)
	}

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
		if sheet == "" {
			return nil, fmt.Errorf("workbook has no sheets")
		}
	} else if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("sheet %q not found in workbook", sheet)
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	table := &types.Table{
		Source:  source,
		Sheet:   sheet,
		Headers: []string{},
		Rows:    [][]types.Cell{},
	}
	if len(rows) == 0 {
		return table, nil
	}

	for _, h := range rows[0] {
		table.Headers = append(table.Headers, strings.TrimSpace(h))
	}

	reader := &cellReader{
		file:   f,
		sheet:  sheet,
		styles: make(map[int]bool),
	}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		reader.date1904 = *props.Date1904
	}

	for i := 1; i < len(rows); i++ {
		row := rows[i]

		// Skip empty rows.
		if isRowEmpty(row) {
			continue
		}

		cells := make([]types.Cell, len(table.Headers))
		for col := range cells {
			if col >= len(row) {
				cells[col] = types.Cell{Kind: types.CellEmpty}
				continue
			}
			cell, err := reader.read(col, i, row[col])
			if err != nil {
				return nil, fmt.Errorf("error reading row %d: %w", i+1, err)
			}
			cells[col] = cell
		}
		table.Rows = append(table.Rows, cells)
		table.Lines = append(table.Lines, i+1)
	}

	return table, nil
}

// =============================================================================
// CELL TYPING
// =============================================================================

// cellReader types cell values using the sheet's cell types and styles.
type cellReader struct {
	file     *excelize.File
	sheet    string
	date1904 bool

	// styles caches whether a style ID carries a date number format.
	styles map[int]bool
}

// read classifies a single raw value. col and row are 0-based.
func (c *cellReader) read(col, row int, raw string) (types.Cell, error) {
	if strings.TrimSpace(raw) == "" {
		return types.Cell{Kind: types.CellEmpty}, nil
	}

	name, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err != nil {
		return types.Cell{}, err
	}

	cellType, err := c.file.GetCellType(c.sheet, name)
	if err != nil {
		return types.Cell{}, fmt.Errorf("cell %s: %w", name, err)
	}

	switch cellType {
	case excelize.CellTypeBool:
		return types.Cell{Kind: types.CellBool, Raw: raw}, nil
	case excelize.CellTypeDate:
		if t, ok := parseISODate(raw); ok {
			return types.Date(t), nil
		}
		return types.Text(raw), nil
	case excelize.CellTypeUnset, excelize.CellTypeNumber:
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return types.Text(raw), nil
		}
		isDate, err := c.hasDateFormat(name)
		if err != nil {
			return types.Cell{}, fmt.Errorf("cell %s: %w", name, err)
		}
		if isDate {
			t, err := excelize.ExcelDateToTime(v, c.date1904)
			if err != nil {
				return types.Text(raw), nil
			}
			return types.Date(t), nil
		}
		return types.Number(v), nil
	default:
		return types.Text(raw), nil
	}
}

// hasDateFormat reports whether the cell's number format renders a date.
func (c *cellReader) hasDateFormat(cell string) (bool, error) {
	styleID, err := c.file.GetCellStyle(c.sheet, cell)
	if err != nil {
		return false, err
	}
	if cached, ok := c.styles[styleID]; ok {
		return cached, nil
	}

	style, err := c.file.GetStyle(styleID)
	if err != nil {
		return false, err
	}

	isDate := isDateNumFmt(style.NumFmt)
	if !isDate && style.CustomNumFmt != nil {
		isDate = isDateFormatCode(*style.CustomNumFmt)
	}
	c.styles[styleID] = isDate
	return isDate, nil
}

// isDateNumFmt reports whether a built-in number format ID is a date or
// date-time format.
func isDateNumFmt(id int) bool {
	switch {
	case id >= 14 && id <= 22:
	case id >= 27 && id <= 36:
	case id >= 45 && id <= 47:
	case id >= 50 && id <= 58:
	default:
		return false
	}
	return true
}

// isDateFormatCode reports whether a custom format code contains day or year
// tokens outside quoted literals and bracketed sections.
func isDateFormatCode(code string) bool {
	var inQuote, inBracket bool
	for _, r := range strings.ToLower(code) {
		switch {
		case r == '"':
			inQuote = !inQuote
		case inQuote:
		case r == '[':
			inBracket = true
		case r == ']':
			inBracket = false
		case inBracket:
		case r == 'y' || r == 'd':
			return true
		}
	}
	return false
}

// parseISODate parses the ISO 8601 forms used by t="d" cells.
func parseISODate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// isRowEmpty checks if a row contains only empty cells.
func isRowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
