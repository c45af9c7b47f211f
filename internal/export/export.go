// =============================================================================
// Report Kapp - Export Module
// =============================================================================
//
// This module turns a transformation result into the two output tables and
// writes them in the formats the logistics system imports:
//
//   xlsx - one workbook with a "Loading" sheet and a "Buying" sheet
//   csv  - one comma separated file per table
//   txt  - one tab separated file per table
//
// The column layouts below are imported by name downstream and must not
// change.
//
// =============================================================================

package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/report-kapp/internal/transform"
)

// Supported output formats.
const (
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"
	FormatTXT  = "txt"
)

// Sheet names in the exported workbook.
const (
	LoadingSheet = "Loading"
	BuyingSheet  = "Buying"
)

// LoadingHeaders is the column layout of the Loading table.
var LoadingHeaders = []string{
	"Loading Date",
	"Origin Warehouse",
	"Origin Warehouse Code",
	"Destination Warehouse",
	"Destination Warehouse Code",
	"Official Delivery Number",
	"Buying Station",
	"Product",
	"Project",
	"Truck Plate",
	"Driver",
	"Number of Sacks",
	"Gross Weight (kg)",
	"Net Weight (kg)",
}

// BuyingHeaders is the column layout of the Buying table.
var BuyingHeaders = []string{
	"Official Delivery Number",
	"Buying Station",
	"Producer Name",
	"Producer Code",
	"Delivery Date",
	"Net Weight (kg)",
	"Receipt Number",
}

// =============================================================================
// TABLES
// =============================================================================

// Sheet is one output table. Row values are strings, int64 or
// decimal.Decimal.
type Sheet struct {
	Name    string
	Headers []string
	Rows    [][]any
}

// LoadingTable builds the one-row Loading table. When rounded is true weights
// are whole kilograms, otherwise the exact values are used.
func LoadingTable(result *transform.Result, rounded bool) Sheet {
	s := result.Summary
	return Sheet{
		Name:    LoadingSheet,
		Headers: LoadingHeaders,
		Rows: [][]any{{
			s.LoadingDate,
			s.OriginWarehouse,
			s.OriginWarehouseCode,
			s.DestinationWarehouse,
			s.DestinationWarehouseCode,
			s.DeliveryNumber,
			s.BuyingStation,
			s.Product,
			s.Project,
			s.TruckPlate,
			s.Driver,
			s.Sacks,
			weight(s.GrossKg, rounded),
			weight(s.NetKg, rounded),
		}},
	}
}

// BuyingTable builds the Buying table, one row per input record.
func BuyingTable(result *transform.Result, rounded bool) Sheet {
	rows := make([][]any, 0, len(result.Details))
	for _, d := range result.Details {
		rows = append(rows, []any{
			d.DeliveryNumber,
			d.BuyingStation,
			d.ProducerName,
			d.ProducerCode,
			d.DeliveryDate,
			weight(d.NetKg, rounded),
			d.ReceiptNumber,
		})
	}
	return Sheet{Name: BuyingSheet, Headers: BuyingHeaders, Rows: rows}
}

// Tables returns the Loading and Buying tables.
func Tables(result *transform.Result, rounded bool) []Sheet {
	return []Sheet{LoadingTable(result, rounded), BuyingTable(result, rounded)}
}

func weight(v decimal.Decimal, rounded bool) any {
	if rounded {
		return transform.RoundDisplay(v)
	}
	return v
}

// =============================================================================
// WRITERS
// =============================================================================

// WriteWorkbook writes the sheets, in order, as one .xlsx workbook.
func WriteWorkbook(w io.Writer, sheets ...Sheet) error {
	if len(sheets) == 0 {
		return fmt.Errorf("no sheets to write")
	}

	f := excelize.NewFile()
	defer f.Close()

	// NewFile starts with "Sheet1"; rename it to the first table.
	if err := f.SetSheetName(f.GetSheetName(0), sheets[0].Name); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	for i, sheet := range sheets {
		if i > 0 {
			if _, err := f.NewSheet(sheet.Name); err != nil {
				return fmt.Errorf("failed to add sheet %s: %w", sheet.Name, err)
			}
		}
		if err := writeSheet(f, sheet); err != nil {
			return fmt.Errorf("failed to write sheet %s: %w", sheet.Name, err)
		}
	}
	f.SetActiveSheet(0)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet Sheet) error {
	sw, err := f.NewStreamWriter(sheet.Name)
	if err != nil {
		return err
	}

	header := make([]interface{}, len(sheet.Headers))
	for i, h := range sheet.Headers {
		header[i] = h
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	for r, row := range sheet.Rows {
		values := make([]interface{}, len(row))
		for i, v := range row {
			values[i] = cellValue(v)
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, values); err != nil {
			return err
		}
	}

	return sw.Flush()
}

// cellValue converts a row value into a type excelize stores natively.
func cellValue(v any) interface{} {
	if d, ok := v.(decimal.Decimal); ok {
		return d.InexactFloat64()
	}
	return v
}

// WriteDelimited writes one sheet as delimited text with a header row.
func WriteDelimited(w io.Writer, sheet Sheet, comma rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = comma

	if err := cw.Write(sheet.Headers); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	record := make([]string, len(sheet.Headers))
	for _, row := range sheet.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = formatValue(row[i])
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case decimal.Decimal:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// =============================================================================
// FORMATS AND FILES
// =============================================================================

// Delimiter returns the field separator of a text format.
func Delimiter(format string) (rune, error) {
	switch strings.ToLower(format) {
	case FormatCSV:
		return ',', nil
	case FormatTXT:
		return '\t', nil
	default:
		return 0, fmt.Errorf("format %q is not a delimited text format", format)
	}
}

// ValidFormat reports whether format is supported.
func ValidFormat(format string) bool {
	switch strings.ToLower(format) {
	case FormatXLSX, FormatCSV, FormatTXT:
		return true
	}
	return false
}

// FileNames returns the names WriteFiles creates for base in the given formats.
// Unknown formats are skipped.
func FileNames(base string, formats []string) []string {
	var names []string
	for _, format := range formats {
		format = strings.ToLower(format)
		switch format {
		case FormatXLSX:
			names = append(names, base+".xlsx")
		case FormatCSV, FormatTXT:
			for _, sheet := range []string{LoadingSheet, BuyingSheet} {
				names = append(names, fmt.Sprintf("%s_%s.%s", base, strings.ToLower(sheet), format))
			}
		}
	}
	return names
}

// WriteFiles writes the result to dir in each format and returns the created
// paths. base is the file name without extension. Text formats produce
// <base>_loading.<ext> and <base>_buying.<ext>.
//
// PARAMETERS:
//   - dir: The output directory.
//   - base: The output file name without extension.
//   - formats: The formats to write.
//   - result: The transformation result.
//   - rounded: Whether weights are written as whole kilograms.
//
// RETURNS:
//   - The paths of the files written.
//   - An error if any file cannot be written. Files already written are
//     removed.
func WriteFiles(dir, base string, formats []string, result *transform.Result, rounded bool) (written []string, err error) {
	defer func() {
		if err != nil {
			for _, path := range written {
				_ = os.Remove(path)
			}
			written = nil
		}
	}()

	sheets := Tables(result, rounded)

	for _, format := range formats {
		format = strings.ToLower(format)
		switch format {
		case FormatXLSX:
			path := filepath.Join(dir, base+".xlsx")
			if err := writeFile(path, func(w io.Writer) error { return WriteWorkbook(w, sheets...) }); err != nil {
				return written, err
			}
			written = append(written, path)
		case FormatCSV, FormatTXT:
			comma, _ := Delimiter(format)
			for _, sheet := range sheets {
				path := filepath.Join(dir, fmt.Sprintf("%s_%s.%s", base, strings.ToLower(sheet.Name), format))
				if err := writeFile(path, func(w io.Writer) error { return WriteDelimited(w, sheet, comma) }); err != nil {
					return written, err
				}
				written = append(written, path)
			}
		default:
			return written, fmt.Errorf("unknown output format %q", format)
		}
	}

	return written, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := write(file); err != nil {
		file.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", filepath.Base(path), err)
	}
	return nil
}
