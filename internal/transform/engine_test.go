package transform

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/report-kapp/internal/types"
	"github.com/ginjaninja78/report-kapp/internal/validation"
)

var day = time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

func testMetadata() Metadata {
	return Metadata{
		LoadingDate:         time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC),
		OriginWarehouse:     "BODEGA QUEVEDO",
		OriginWarehouseCode: "QVD",
		DeliveryNumber:      "GR-000123",
		BuyingStation:       "Centro de Acopio El Empalme",
		Product:             "CACAO CCN51",
	}
}

// table builds a record set with the default headers. Each row is
// name, code, wet, dry, date, receipt.
func table(rows ...[]types.Cell) *types.Table {
	return &types.Table{
		Source:  "test.xlsx",
		Headers: DefaultColumns().Required(),
		Rows:    rows,
	}
}

func row(name string, wet, dry types.Cell, date types.Cell, receipt string) []types.Cell {
	return []types.Cell{
		types.Text(name),
		types.Text("P-" + name),
		wet,
		dry,
		date,
		types.Text(receipt),
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestTransform_SingleRecordFormulas(t *testing.T) {
	res, err := Transform(table(row("Ana", types.Number(10), types.Number(20), types.Date(day), "R-1")), testMetadata())
	require.NoError(t, err)

	// (10+20)*45.36 for the Loading totals.
	assert.True(t, dec("1360.8").Equal(res.Summary.GrossKg), "gross %s", res.Summary.GrossKg)
	assert.True(t, dec("1360.8").Equal(res.Summary.NetKg), "net %s", res.Summary.NetKg)

	// 10 + 20*45.36 for the Buying net weight.
	require.Len(t, res.Details, 1)
	assert.True(t, dec("917.2").Equal(res.Details[0].NetKg), "detail net %s", res.Details[0].NetKg)
	assert.False(t, res.Summary.GrossKg.Equal(res.Details[0].NetKg))

	assert.Equal(t, int64(1361), res.Summary.GrossKgDisplay())
	assert.Equal(t, int64(1361), res.Summary.NetKgDisplay())
	assert.Equal(t, int64(917), res.Details[0].NetKgDisplay())
	assert.Equal(t, int64(20), res.Summary.Sacks) // 1360.8/69 = 19.72
}

func TestTransform_SummaryCarriesMetadataAndConstants(t *testing.T) {
	meta := testMetadata()
	res, err := Transform(table(), meta)
	require.NoError(t, err)

	s := res.Summary
	assert.Equal(t, "2025-03-20", s.LoadingDate)
	assert.Equal(t, meta.OriginWarehouse, s.OriginWarehouse)
	assert.Equal(t, meta.OriginWarehouseCode, s.OriginWarehouseCode)
	assert.Equal(t, "ECUADOR DIRECT", s.DestinationWarehouse)
	assert.Equal(t, "DIR", s.DestinationWarehouseCode)
	assert.Equal(t, meta.DeliveryNumber, s.DeliveryNumber)
	assert.Equal(t, meta.BuyingStation, s.BuyingStation)
	assert.Equal(t, meta.Product, s.Product)
	assert.Equal(t, "", s.Project)
	assert.Equal(t, "XX", s.TruckPlate)
	assert.Equal(t, "XX", s.Driver)
}

func TestTransform_EmptyRecordSet(t *testing.T) {
	res, err := Transform(table(), testMetadata())
	require.NoError(t, err)

	assert.True(t, res.Summary.GrossKg.IsZero())
	assert.True(t, res.Summary.NetKg.IsZero())
	assert.Equal(t, int64(0), res.Summary.Sacks)
	assert.Empty(t, res.Details)
}

func TestTransform_NonNumericQuantitiesAreZero(t *testing.T) {
	cases := []struct {
		name string
		cell types.Cell
	}{
		{"blank", types.Text("")},
		{"text", types.Text("n/a")},
		{"garbage", types.Text("12kg")},
		{"bool", types.Cell{Kind: types.CellBool, Raw: "TRUE"}},
		{"date", types.Date(day)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// Bad wet value, dry = 1.
			res, err := Transform(table(row("x", tc.cell, types.Number(1), types.Date(day), "1")), testMetadata())
			require.NoError(t, err)
			assert.True(t, dec("45.36").Equal(res.Summary.GrossKg))
			assert.True(t, dec("45.36").Equal(res.Details[0].NetKg))

			// Bad dry value, wet = 1.
			res, err = Transform(table(row("x", types.Number(1), tc.cell, types.Date(day), "1")), testMetadata())
			require.NoError(t, err)
			assert.True(t, dec("45.36").Equal(res.Summary.GrossKg))
			assert.True(t, dec("1").Equal(res.Details[0].NetKg))
		})
	}
}

func TestTransform_TextNumbersAndNegativesKept(t *testing.T) {
	res, err := Transform(table(
		row("a", types.Text(" 2.5 "), types.Text("-1"), types.Date(day), "1"),
	), testMetadata())
	require.NoError(t, err)

	// (2.5 - 1) * 45.36
	assert.True(t, dec("68.04").Equal(res.Summary.GrossKg), "gross %s", res.Summary.GrossKg)
	// 2.5 + -1*45.36
	assert.True(t, dec("-42.86").Equal(res.Details[0].NetKg), "net %s", res.Details[0].NetKg)
}

func TestTransform_ShortRowsReadAsBlank(t *testing.T) {
	res, err := Transform(table([]types.Cell{types.Text("solo")}), testMetadata())
	require.NoError(t, err)
	require.Len(t, res.Details, 1)
	assert.Equal(t, "solo", res.Details[0].ProducerName)
	assert.Equal(t, "", res.Details[0].DeliveryDate)
	assert.True(t, res.Details[0].NetKg.IsZero())
}

func TestTransform_PreservesRowOrder(t *testing.T) {
	var rows [][]types.Cell
	for i := 0; i < 25; i++ {
		rows = append(rows, row(fmt.Sprintf("p%02d", i), types.Number(float64(i)), types.Number(1), types.Date(day.AddDate(0, 0, i)), fmt.Sprint(i)))
	}

	res, err := Transform(table(rows...), testMetadata())
	require.NoError(t, err)
	require.Len(t, res.Details, 25)

	for i, d := range res.Details {
		assert.Equal(t, i, d.Row)
		assert.Equal(t, fmt.Sprintf("p%02d", i), d.ProducerName)
		assert.Equal(t, fmt.Sprintf("P-p%02d", i), d.ProducerCode)
		assert.Equal(t, day.AddDate(0, 0, i).Format("2006-01-02"), d.DeliveryDate)
		assert.Equal(t, "GR-000123", d.DeliveryNumber)
		assert.Equal(t, "Centro de Acopio El Empalme", d.BuyingStation)
	}
}

func TestTransform_ReceiptNumbersStoredAsNumbers(t *testing.T) {
	res, err := Transform(table([]types.Cell{
		types.Text("Ana"), types.Number(1001), types.Number(1), types.Number(0), types.Date(day), types.Number(55012),
	}), testMetadata())
	require.NoError(t, err)
	assert.Equal(t, "1001", res.Details[0].ProducerCode)
	assert.Equal(t, "55012", res.Details[0].ReceiptNumber)
}

func TestTransform_MissingColumns(t *testing.T) {
	cols := DefaultColumns()
	records := &types.Table{Headers: []string{cols.ProducerName, cols.WetQuintals, "Otra"}}

	res, err := Transform(records, testMetadata())
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, errors.Is(err, validation.ErrMissingColumns))
	assert.Equal(t, []string{cols.ProducerCode, cols.DryQuintals, cols.DeliveryDate, cols.ReceiptNumber}, validation.MissingColumns(err))
}

func TestTransform_NilTable(t *testing.T) {
	_, err := Transform(nil, testMetadata())
	require.Error(t, err)
	assert.Equal(t, DefaultColumns().Required(), validation.MissingColumns(err))
}

func TestTransform_InvalidDate(t *testing.T) {
	res, err := Transform(table(
		row("a", types.Number(1), types.Number(1), types.Date(day), "1"),
		row("b", types.Number(1), types.Number(1), types.Text("14/03/2025"), "2"),
		row("c", types.Number(1), types.Number(1), types.Text("also bad"), "3"),
	), testMetadata())
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidDateFormat))

	var ide *InvalidDateFormatError
	require.True(t, errors.As(err, &ide))
	assert.Equal(t, 1, ide.Row)
	assert.Equal(t, "14/03/2025", ide.Value)
	assert.Equal(t, DefaultColumns().DeliveryDate, ide.Column)
}

func TestTransform_InvalidDateReportsSourceLine(t *testing.T) {
	records := table(
		row("a", types.Number(1), types.Number(1), types.Date(day), "1"),
		row("b", types.Number(1), types.Number(1), types.Text("marzo"), "2"),
	)
	records.Lines = []int{2, 7}

	_, err := Transform(records, testMetadata())
	var ide *InvalidDateFormatError
	require.True(t, errors.As(err, &ide))
	assert.Equal(t, 1, ide.Row)
	assert.Equal(t, 7, ide.Line)
	assert.Contains(t, err.Error(), "line 7")
}

func TestTransform_NumericDateIsInvalid(t *testing.T) {
	_, err := Transform(table(row("a", types.Number(1), types.Number(1), types.Number(45730), "1")), testMetadata())
	var ide *InvalidDateFormatError
	require.True(t, errors.As(err, &ide))
	assert.Equal(t, types.CellNumber, ide.Kind)
}

func TestEngine_CustomColumns(t *testing.T) {
	e := New(Columns{ProducerName: "Name", WetQuintals: "Wet"})
	cols := e.Columns()
	assert.Equal(t, "Name", cols.ProducerName)
	assert.Equal(t, "Wet", cols.WetQuintals)
	assert.Equal(t, DefaultColumns().DryQuintals, cols.DryQuintals)

	records := &types.Table{
		Headers: cols.Required(),
		Rows:    [][]types.Cell{{types.Text("n"), types.Text("c"), types.Number(1), types.Number(0), types.Date(day), types.Text("r")}},
	}
	res, err := e.Transform(records, testMetadata())
	require.NoError(t, err)
	assert.True(t, dec("45.36").Equal(res.Summary.GrossKg))
}

func TestTransform_Deterministic(t *testing.T) {
	records := table(
		row("a", types.Number(3.3), types.Text("1.1"), types.Date(day), "1"),
		row("b", types.Text(""), types.Number(7), types.Date(day), "2"),
		row("c", types.Number(0.1), types.Number(0.2), types.Text(""), "3"),
	)

	first, err := Transform(records, testMetadata())
	require.NoError(t, err)
	second, err := Transform(records, testMetadata())
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("results differ (-first +second):\n%s", diff)
	}
}

func TestSackCount_HalfToEven(t *testing.T) {
	cases := []struct {
		gross string
		want  int64
	}{
		{"0", 0},
		{"34.5", 0},    // 0.5
		{"103.5", 2},   // 1.5
		{"172.5", 2},   // 2.5
		{"241.5", 4},   // 3.5
		{"1360.8", 20}, // 19.72
		{"1000", 14},   // 14.49
		{"-103.5", -2},
		{"-34.6", -1},
		// Just below and above a .5 boundary, past 16 decimal places.
		{"103.499999999999999999", 1},
		{"103.500000000000000001", 2},
		{"172.500000000000000001", 3},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SackCount(dec(tc.gross)), "gross %s", tc.gross)
	}
}

func TestRoundDisplay_HalfToEven(t *testing.T) {
	assert.Equal(t, int64(2), RoundDisplay(dec("2.5")))
	assert.Equal(t, int64(4), RoundDisplay(dec("3.5")))
	assert.Equal(t, int64(3), RoundDisplay(dec("2.51")))
	assert.Equal(t, int64(917), RoundDisplay(dec("917.2")))
}

func TestCoerceQuantity(t *testing.T) {
	assert.True(t, dec("1000").Equal(CoerceQuantity(types.Text("1e3"))))
	assert.True(t, CoerceQuantity(types.Text("NaN")).IsZero())
	assert.True(t, CoerceQuantity(types.Cell{Kind: types.CellNumber, Raw: "+Inf"}).IsZero())
	assert.True(t, CoerceQuantity(types.Cell{}).IsZero())
}
