// =============================================================================
// Report Kapp - Transformation Engine
// =============================================================================
//
// The engine turns raw per-producer delivery rows into the two tables the
// logistics system imports:
//
//   Loading  - one summary row per run (totals + shipment metadata)
//   Buying   - one detail row per input row, in input order
//
// FORMULAS:
//   gross_kg      = (wet_qq + dry_qq) * 45.36      per row, summed for Loading
//   net_kg        = gross_kg                       per row, summed for Loading
//   sacks         = round(total_gross_kg / 69)     half-to-even
//   detail_net_kg = wet_qq + dry_qq * 45.36        per row, Buying
//
// The Buying net weight only scales the dry term. It disagrees with the
// Loading formula and is kept as is until the product owner confirms which one
// the logistics system expects.
//
// All weight arithmetic uses decimal values so that results are exact and two
// runs over the same input produce identical output files.
//
// =============================================================================

package transform

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/report-kapp/internal/types"
	"github.com/ginjaninja78/report-kapp/internal/validation"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DestinationWarehouse is the fixed destination for every shipment.
	DestinationWarehouse = "ECUADOR DIRECT"

	// DestinationWarehouseCode is the code of DestinationWarehouse.
	DestinationWarehouseCode = "DIR"

	// PlaceholderTruckPlate fills the truck plate until dispatch assigns one.
	PlaceholderTruckPlate = "XX"

	// PlaceholderDriver fills the driver until dispatch assigns one.
	PlaceholderDriver = "XX"

	// Project is always blank in the Loading row.
	Project = ""

	// DateLayout is the calendar date format used in both output tables.
	DateLayout = "2006-01-02"
)

var (
	// KgPerQuintal converts quintals to kilograms.
	KgPerQuintal = decimal.RequireFromString("45.36")

	// KgPerSack is the nominal weight of one sack.
	KgPerSack = decimal.NewFromInt(69)
)

// ErrInvalidDateFormat is matched by errors.Is for any *InvalidDateFormatError.
var ErrInvalidDateFormat = errors.New("invalid delivery date")

// InvalidDateFormatError reports a delivery date that is not a date value.
type InvalidDateFormatError struct {
	// Row is the 0-based index of the data row in the input record set.
	Row int

	// Line is the 1-based sheet row or file line of the value, 0 when the
	// records carry no line numbers.
	Line int

	// Column is the delivery date column name.
	Column string

	// Value is the offending raw value.
	Value string

	// Kind is what the reader found instead of a date.
	Kind types.CellKind
}

// Error implements the error interface.
func (e *InvalidDateFormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: line %d column %q holds %s value %q",
			ErrInvalidDateFormat, e.Line, e.Column, e.Kind, e.Value)
	}
	return fmt.Sprintf("%s: row %d column %q holds %s value %q",
		ErrInvalidDateFormat, e.Row, e.Column, e.Kind, e.Value)
}

// Is lets errors.Is(err, ErrInvalidDateFormat) match.
func (e *InvalidDateFormatError) Is(target error) bool {
	return target == ErrInvalidDateFormat
}

// =============================================================================
// INPUT TYPES
// =============================================================================

// Columns names the six required input columns. Names are matched exactly.
type Columns struct {
	ProducerName  string `yaml:"producer_name"`
	ProducerCode  string `yaml:"producer_code"`
	WetQuintals   string `yaml:"wet_quintals"`
	DryQuintals   string `yaml:"dry_quintals"`
	DeliveryDate  string `yaml:"delivery_date"`
	ReceiptNumber string `yaml:"receipt_number"`
}

// DefaultColumns returns the column names used by the buying stations' sheets.
func DefaultColumns() Columns {
	return Columns{
		ProducerName:  "Nombre Productor",
		ProducerCode:  "Código Productor",
		WetQuintals:   "Cacao en Baba (qq)",
		DryQuintals:   "Cacao Seco (qq)",
		DeliveryDate:  "Fecha de Entrega",
		ReceiptNumber: "Número de Recibo",
	}
}

// Required returns the column names in canonical order.
func (c Columns) Required() []string {
	return []string{
		c.ProducerName,
		c.ProducerCode,
		c.WetQuintals,
		c.DryQuintals,
		c.DeliveryDate,
		c.ReceiptNumber,
	}
}

// WithDefaults fills any blank name from DefaultColumns.
func (c Columns) WithDefaults() Columns {
	d := DefaultColumns()
	if c.ProducerName == "" {
		c.ProducerName = d.ProducerName
	}
	if c.ProducerCode == "" {
		c.ProducerCode = d.ProducerCode
	}
	if c.WetQuintals == "" {
		c.WetQuintals = d.WetQuintals
	}
	if c.DryQuintals == "" {
		c.DryQuintals = d.DryQuintals
	}
	if c.DeliveryDate == "" {
		c.DeliveryDate = d.DeliveryDate
	}
	if c.ReceiptNumber == "" {
		c.ReceiptNumber = d.ReceiptNumber
	}
	return c
}

// Metadata holds the shipment values entered once per run.
type Metadata struct {
	LoadingDate         time.Time
	OriginWarehouse     string
	OriginWarehouseCode string
	DeliveryNumber      string
	BuyingStation       string
	Product             string
}

// =============================================================================
// OUTPUT TYPES
// =============================================================================

// Summary is the single Loading row.
type Summary struct {
	LoadingDate              string
	OriginWarehouse          string
	OriginWarehouseCode      string
	DestinationWarehouse     string
	DestinationWarehouseCode string
	DeliveryNumber           string
	BuyingStation            string
	Product                  string
	Project                  string
	TruckPlate               string
	Driver                   string

	// Sacks is round(GrossKg / 69), half-to-even.
	Sacks int64

	// GrossKg and NetKg are exact, unrounded totals.
	GrossKg decimal.Decimal
	NetKg   decimal.Decimal
}

// GrossKgDisplay is GrossKg rounded to the nearest kilogram.
func (s Summary) GrossKgDisplay() int64 { return RoundDisplay(s.GrossKg) }

// NetKgDisplay is NetKg rounded to the nearest kilogram.
func (s Summary) NetKgDisplay() int64 { return RoundDisplay(s.NetKg) }

// Detail is one Buying row.
type Detail struct {
	// Row is the 0-based index of the source row.
	Row int

	DeliveryNumber string
	BuyingStation  string
	ProducerName   string
	ProducerCode   string

	// DeliveryDate is YYYY-MM-DD, or empty when the source cell was blank.
	DeliveryDate string

	// NetKg is the exact wet + dry*45.36 value.
	NetKg decimal.Decimal

	ReceiptNumber string
}

// NetKgDisplay is NetKg rounded to the nearest kilogram.
func (d Detail) NetKgDisplay() int64 { return RoundDisplay(d.NetKg) }

// Result is the output of one transformation run.
type Result struct {
	Summary Summary
	Details []Detail
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine applies the transformation for a given input column layout.
// It holds no state between calls.
type Engine struct {
	columns Columns
}

// New returns an Engine reading the given columns. Blank names fall back to
// DefaultColumns.
func New(columns Columns) *Engine {
	return &Engine{columns: columns.WithDefaults()}
}

// Columns returns the input column layout the engine expects.
func (e *Engine) Columns() Columns {
	return e.columns
}

// Transform runs the engine with DefaultColumns.
func Transform(records *types.Table, meta Metadata) (*Result, error) {
	return New(DefaultColumns()).Transform(records, meta)
}

// Transform builds the Loading and Buying tables from records.
//
// PARAMETERS:
//   - records: The uploaded record set. A nil table is treated as having no
//     columns.
//   - meta: The shipment metadata for this run.
//
// RETURNS:
//   - The summary and detail records.
//   - A *validation.MissingColumnsError when required columns are absent, or an
//     *InvalidDateFormatError for the first row whose delivery date is not a
//     date. No partial result is returned on error.
func (e *Engine) Transform(records *types.Table, meta Metadata) (*Result, error) {
	var headers []string
	if records != nil {
		headers = records.Headers
	}
	if err := validation.RequireColumns(headers, e.columns.Required()); err != nil {
		return nil, err
	}

	idx := columnIndexes{
		name:    records.ColumnIndex(e.columns.ProducerName),
		code:    records.ColumnIndex(e.columns.ProducerCode),
		wet:     records.ColumnIndex(e.columns.WetQuintals),
		dry:     records.ColumnIndex(e.columns.DryQuintals),
		date:    records.ColumnIndex(e.columns.DeliveryDate),
		receipt: records.ColumnIndex(e.columns.ReceiptNumber),
	}

	totalGross := decimal.Zero
	totalNet := decimal.Zero
	details := make([]Detail, 0, len(records.Rows))

	for i, row := range records.Rows {
		wet := CoerceQuantity(cellAt(row, idx.wet))
		dry := CoerceQuantity(cellAt(row, idx.dry))

		gross := wet.Add(dry).Mul(KgPerQuintal)
		totalGross = totalGross.Add(gross)
		totalNet = totalNet.Add(gross)

		date, err := formatDeliveryDate(cellAt(row, idx.date))
		if err != nil {
			err.Row = i
			err.Line = records.Line(i)
			err.Column = e.columns.DeliveryDate
			return nil, err
		}

		details = append(details, Detail{
			Row:            i,
			DeliveryNumber: meta.DeliveryNumber,
			BuyingStation:  meta.BuyingStation,
			ProducerName:   cellAt(row, idx.name).String(),
			ProducerCode:   cellAt(row, idx.code).String(),
			DeliveryDate:   date,
			NetKg:          wet.Add(dry.Mul(KgPerQuintal)),
			ReceiptNumber:  cellAt(row, idx.receipt).String(),
		})
	}

	summary := Summary{
		LoadingDate:              formatLoadingDate(meta.LoadingDate),
		OriginWarehouse:          meta.OriginWarehouse,
		OriginWarehouseCode:      meta.OriginWarehouseCode,
		DestinationWarehouse:     DestinationWarehouse,
		DestinationWarehouseCode: DestinationWarehouseCode,
		DeliveryNumber:           meta.DeliveryNumber,
		BuyingStation:            meta.BuyingStation,
		Product:                  meta.Product,
		Project:                  Project,
		TruckPlate:               PlaceholderTruckPlate,
		Driver:                   PlaceholderDriver,
		Sacks:                    SackCount(totalGross),
		GrossKg:                  totalGross,
		NetKg:                    totalNet,
	}

	return &Result{Summary: summary, Details: details}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

type columnIndexes struct {
	name, code, wet, dry, date, receipt int
}

// cellAt returns the cell at index i, or an empty cell for short rows.
func cellAt(row []types.Cell, i int) types.Cell {
	if i < 0 || i >= len(row) {
		return types.Cell{Kind: types.CellEmpty}
	}
	return row[i]
}

// CoerceQuantity reads a quintal quantity. Anything that is not a number
// (blank, text, dates, booleans, NaN, infinities) counts as zero. Negative
// values are kept.
func CoerceQuantity(c types.Cell) decimal.Decimal {
	switch c.Kind {
	case types.CellNumber:
		d, err := decimal.NewFromString(c.Raw)
		if err != nil {
			// Raw always holds a formatted float for number cells, but a
			// NaN or Inf would not parse and is repaired like text.
			return decimal.Zero
		}
		return d
	case types.CellText:
		d, err := decimal.NewFromString(strings.TrimSpace(c.Raw))
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}

// SackCount returns round(grossKg / 69) using round-half-to-even. The
// rounding is decided on the exact remainder, not on a truncated quotient.
func SackCount(grossKg decimal.Decimal) int64 {
	q, r := grossKg.QuoRem(KgPerSack, 0)
	sacks := q.IntPart()

	switch r.Abs().Mul(decimal.NewFromInt(2)).Cmp(KgPerSack) {
	case 1:
		sacks += int64(r.Sign())
	case 0:
		if sacks%2 != 0 {
			sacks += int64(r.Sign())
		}
	}
	return sacks
}

// RoundDisplay rounds a weight to the nearest whole kilogram, half-to-even.
func RoundDisplay(v decimal.Decimal) int64 {
	return v.RoundBank(0).IntPart()
}

// formatDeliveryDate renders a date cell as YYYY-MM-DD. Blank cells render as
// an empty string; any other non-date value is an error.
func formatDeliveryDate(c types.Cell) (string, *InvalidDateFormatError) {
	switch c.Kind {
	case types.CellDate:
		return c.Time.Format(DateLayout), nil
	case types.CellEmpty:
		return "", nil
	default:
		return "", &InvalidDateFormatError{Value: c.Raw, Kind: c.Kind}
	}
}

func formatLoadingDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}
