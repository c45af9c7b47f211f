// =============================================================================
// Report Kapp - CSV Parser Module
// =============================================================================
//
// This module parses delimited purchase-record exports into a types.Table.
// It handles:
//   - Different delimiters (comma, semicolon, pipe, tab)
//   - Multi-line headers
//   - Custom data start rows
//   - A UTF-8 byte order mark written by spreadsheet exports
//   - Quoted fields with lazy quote handling
//
// CELL TYPING:
//   Delimited text carries no types, so every value is read as text. The one
//   exception is the configured date column: values matching one of the
//   configured date layouts become date cells. Anything else in that column
//   stays text and is rejected by the transformation as an invalid date.
//
// =============================================================================

package csvparser

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ginjaninja78/report-kapp/internal/config"
	"github.com/ginjaninja78/report-kapp/internal/types"
)

// utf8BOM is stripped from the start of the input.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// =============================================================================
// PARSER FUNCTIONS
// =============================================================================

// Parse reads a CSV file and returns the parsed table.
//
// PARAMETERS:
//   - filePath: The path to the CSV file.
//   - settings: The CSV parsing settings from the station configuration.
//
// RETURNS:
//   - The parsed table.
//   - An error if the file cannot be read or parsed.
func Parse(filePath string, settings config.CSVSettings) (*types.Table, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return ParseReader(file, filePath, settings)
}

// ParseReader parses CSV content from a stream, such as an upload.
//
// PARSING PROCESS:
//   1. Strip a leading byte order mark
//   2. Read header_rows records and merge them column by column
//   3. Skip records up to data_start_row
//   4. Stream the remaining records into typed cells, dropping blank ones
//
// The date column is typed using the configured layouts.
func ParseReader(r io.Reader, source string, settings config.CSVSettings) (*types.Table, error) {
	settings = withDefaults(settings)

	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.Comma = delimiter(settings.Delimiter)
	// Exports from station spreadsheets are not always rectangular.
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	var headerRecords [][]string
	for len(headerRecords) < settings.HeaderRows {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			if len(headerRecords) == 0 {
				return nil, fmt.Errorf("CSV file is empty")
			}
			return nil, fmt.Errorf("failed to extract headers: file has %d of %d header rows",
				len(headerRecords), settings.HeaderRows)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}
		headerRecords = append(headerRecords, record)
	}

	table := &types.Table{
		Source:  source,
		Headers: mergeHeaders(headerRecords),
		Rows:    [][]types.Cell{},
	}
	dateCol := -1
	if settings.DateColumn != "" {
		dateCol = table.ColumnIndex(settings.DateColumn)
	}

	// Line numbers here are 1-based record positions.
	for line := settings.HeaderRows + 1; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}
		if line < settings.DataStartRow || blank(record) {
			continue
		}
		table.Rows = append(table.Rows, toCells(record, len(table.Headers), dateCol, settings.DateFormats))
		// FieldPos counts physical lines, so skipped blank lines and quoted
		// line breaks are accounted for.
		fileLine, _ := cr.FieldPos(0)
		table.Lines = append(table.Lines, fileLine)
	}

	return table, nil
}

// withDefaults fills settings that were not prepared by the station loader.
func withDefaults(settings config.CSVSettings) config.CSVSettings {
	if settings.HeaderRows <= 0 {
		settings.HeaderRows = 1
	}
	if settings.DataStartRow <= settings.HeaderRows {
		settings.DataStartRow = settings.HeaderRows + 1
	}
	return settings
}

// delimiterNames maps the spelled out delimiters accepted in station files.
var delimiterNames = map[string]rune{
	"tab":       '\t',
	"\\t":       '\t',
	"pipe":      '|',
	"semicolon": ';',
	"comma":     ',',
}

// delimiter resolves a configured delimiter to the rune the reader splits on.
// An empty value means comma.
func delimiter(value string) rune {
	if r, ok := delimiterNames[strings.ToLower(value)]; ok {
		return r
	}
	if value == "" {
		return ','
	}
	r, _ := utf8.DecodeRuneInString(value)
	return r
}

// mergeHeaders joins the non-empty values of each column across the header
// records with a space, so a two row header reads as one name.
//
//   Row 1: "Cacao en Baba", "Cacao Seco"
//   Row 2: "(qq)",          "(qq)"
//   Result: "Cacao en Baba (qq)", "Cacao Seco (qq)"
//
// Columns left without a name are called Column_<n>.
func mergeHeaders(records [][]string) []string {
	var headers []string
	for _, record := range records {
		for col, value := range record {
			if col == len(headers) {
				headers = append(headers, "")
			}
			value = strings.TrimSpace(value)
			switch {
			case value == "":
			case headers[col] == "":
				headers[col] = value
			default:
				headers[col] += " " + value
			}
		}
	}
	for col := range headers {
		if headers[col] == "" {
			headers[col] = fmt.Sprintf("Column_%d", col+1)
		}
	}
	return headers
}

// toCells converts one record to width typed cells. Short records are padded
// with empty cells and extra fields are dropped.
func toCells(record []string, width, dateCol int, layouts []string) []types.Cell {
	cells := make([]types.Cell, width)
	for col := range cells {
		var value string
		if col < len(record) {
			value = record[col]
		}
		if col == dateCol {
			cells[col] = parseDateCell(value, layouts)
		} else {
			cells[col] = types.Text(value)
		}
	}
	return cells
}

// parseDateCell returns a date cell when value matches one of the layouts,
// otherwise a text (or empty) cell.
func parseDateCell(value string, layouts []string) types.Cell {
	value = strings.TrimSpace(value)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return types.Date(t)
		}
	}
	return types.Text(value)
}

// blank reports whether every field of record is whitespace.
func blank(record []string) bool {
	return !slices.ContainsFunc(record, func(field string) bool {
		return strings.TrimSpace(field) != ""
	})
}
