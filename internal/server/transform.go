// =============================================================================
// Report Kapp - Transform Endpoint
// =============================================================================
//
// This file implements POST /api/v1/transform: it reads the uploaded purchase
// sheet, runs the transformation and answers in the requested format.
//
// RESPONSE FORMATS:
//   json - both tables plus the original row count and headers (default)
//   xlsx - one workbook with the Loading and Buying sheets
//   csv  - one table, selected with ?table=loading|buying
//
// Weights are JSON numbers whether or not they are rounded.
//
// =============================================================================

package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ginjaninja78/report-kapp/internal/config"
	"github.com/ginjaninja78/report-kapp/internal/converter"
	"github.com/ginjaninja78/report-kapp/internal/export"
	"github.com/ginjaninja78/report-kapp/internal/transform"
	"github.com/ginjaninja78/report-kapp/internal/validation"
)

// downloadName is the base name of downloaded files.
const downloadName = "reporte_transformado"

const mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// tableJSON is one output table in a JSON response.
type tableJSON struct {
	Headers []string `json:"headers"`
	Rows    [][]any  `json:"rows"`
}

// newTableJSON converts a sheet for a JSON response. Exact weights are
// written as number literals; decimal.Decimal would marshal them as strings.
func newTableJSON(sheet export.Sheet) tableJSON {
	rows := make([][]any, len(sheet.Rows))
	for i, row := range sheet.Rows {
		out := make([]any, len(row))
		for j, v := range row {
			if d, ok := v.(decimal.Decimal); ok {
				v = json.Number(d.String())
			}
			out[j] = v
		}
		rows[i] = out
	}
	return tableJSON{Headers: sheet.Headers, Rows: rows}
}

// transformResponse is the JSON body of a successful transform.
type transformResponse struct {
	OriginalRows    int       `json:"original_rows"`
	OriginalHeaders []string  `json:"original_headers"`
	Loading         tableJSON `json:"loading"`
	Buying          tableJSON `json:"buying"`
}

// handleTransform converts an uploaded purchase sheet.
//
// FORM FIELDS:
//   file                   - the .xlsx or .csv upload (required)
//   loading_date           - YYYY-MM-DD, default today
//   origin_warehouse       - origin warehouse name
//   origin_warehouse_code  - origin warehouse code
//   delivery_number        - official delivery number
//   buying_station         - buying station name
//   product                - product name
//   station                - station code whose configured defaults apply
//
// QUERY PARAMETERS:
//   format   - json (default), xlsx or csv
//   table    - loading (default) or buying, for csv
//   rounded  - true/false, default from configuration
func (s *Server) handleTransform(c echo.Context) error {
	format := strings.ToLower(c.QueryParam("format"))
	if format == "" {
		format = "json"
	}
	switch format {
	case "json", export.FormatXLSX, export.FormatCSV:
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "format must be json, xlsx or csv"})
	}

	tableName := strings.ToLower(c.QueryParam("table"))
	if tableName == "" {
		tableName = "loading"
	}
	if tableName != "loading" && tableName != "buying" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "table must be loading or buying"})
	}

	rounded := s.config.Rounded()
	if v := c.QueryParam("rounded"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "rounded must be true or false"})
		}
		rounded = b
	}

	var station *config.StationConfig
	if code := c.FormValue("station"); code != "" {
		station = s.stations[code]
		if station == nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown station " + strconv.Quote(code)})
		}
	}

	overrides := transform.Metadata{
		OriginWarehouse:     c.FormValue("origin_warehouse"),
		OriginWarehouseCode: c.FormValue("origin_warehouse_code"),
		DeliveryNumber:      c.FormValue("delivery_number"),
		BuyingStation:       c.FormValue("buying_station"),
		Product:             c.FormValue("product"),
	}
	if v := strings.TrimSpace(c.FormValue("loading_date")); v != "" {
		date, err := time.Parse(transform.DateLayout, v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "loading_date must be YYYY-MM-DD"})
		}
		overrides.LoadingDate = date
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "file is required"})
	}
	src, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "failed to open upload"})
	}
	defer src.Close()

	table, err := converter.ReadUpload(src, fileHeader.Filename, station, s.engine.Columns())
	if err != nil {
		if converter.ClassifyError(err) == converter.ErrorTypeUnsupported {
			return c.JSON(http.StatusUnsupportedMediaType, echo.Map{"error": err.Error()})
		}
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	meta := converter.BuildMetadata(station, fileHeader.Filename, overrides, s.now())

	result, err := s.engine.Transform(table, meta)
	if err != nil {
		return s.transformError(c, err)
	}

	s.logger.Debug("transformed upload",
		zap.String("file", fileHeader.Filename),
		zap.Int("rows", table.Len()),
		zap.Int64("sacks", result.Summary.Sacks))

	switch format {
	case export.FormatXLSX:
		var buf bytes.Buffer
		if err := export.WriteWorkbook(&buf, export.Tables(result, rounded)...); err != nil {
			return err
		}
		setAttachment(c, downloadName+".xlsx")
		return c.Blob(http.StatusOK, mimeXLSX, buf.Bytes())

	case export.FormatCSV:
		sheet := export.LoadingTable(result, rounded)
		if tableName == "buying" {
			sheet = export.BuyingTable(result, rounded)
		}
		var buf bytes.Buffer
		if err := export.WriteDelimited(&buf, sheet, ','); err != nil {
			return err
		}
		setAttachment(c, downloadName+".csv")
		return c.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())

	default:
		return c.JSON(http.StatusOK, transformResponse{
			OriginalRows:    table.Len(),
			OriginalHeaders: table.Headers,
			Loading:         newTableJSON(export.LoadingTable(result, rounded)),
			Buying:          newTableJSON(export.BuyingTable(result, rounded)),
		})
	}
}

// transformError maps engine errors to 422 responses.
func (s *Server) transformError(c echo.Context, err error) error {
	var missing *validation.MissingColumnsError
	if errors.As(err, &missing) {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{
			"error":           err.Error(),
			"missing_columns": missing.Missing,
		})
	}

	var dateErr *transform.InvalidDateFormatError
	if errors.As(err, &dateErr) {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{
			"error":  err.Error(),
			"row":    dateErr.Row,
			"line":   dateErr.Line,
			"column": dateErr.Column,
			"value":  dateErr.Value,
		})
	}

	return err
}

func setAttachment(c echo.Context, name string) {
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+name+`"`)
}
