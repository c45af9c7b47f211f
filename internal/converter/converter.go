// =============================================================================
// Report Kapp - Converter Module
// =============================================================================
//
// This module orchestrates the pipeline for a single station file, from
// reading the purchase records to writing the Loading and Buying outputs.
//
// CONVERSION PIPELINE:
//   1. Read the input (.xlsx or .csv) into a typed table
//   2. Build the shipment metadata (station defaults, file name, overrides)
//   3. Run the transformation
//   4. Export the tables in every configured format
//   5. Archive the input and copy the outputs
//
// CONCURRENCY:
//   A Converter processes one file and shares no mutable state, so the batch
//   command runs several of them at once.
//
// =============================================================================

package converter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ginjaninja78/report-kapp/internal/config"
	"github.com/ginjaninja78/report-kapp/internal/csvparser"
	"github.com/ginjaninja78/report-kapp/internal/export"
	"github.com/ginjaninja78/report-kapp/internal/transform"
	"github.com/ginjaninja78/report-kapp/internal/types"
	"github.com/ginjaninja78/report-kapp/internal/validation"
	"github.com/ginjaninja78/report-kapp/internal/xlsxparser"
	"github.com/ginjaninja78/report-kapp/pkg/utils"
)

// ErrUnsupportedInput is returned for files that are neither spreadsheets nor
// delimited text.
var ErrUnsupportedInput = errors.New("unsupported input file type")

// Error types recorded in logs and summaries.
const (
	ErrorTypeMissingColumns = "missing_columns"
	ErrorTypeInvalidDate    = "invalid_date"
	ErrorTypeUnsupported    = "unsupported_format"
	ErrorTypeCanceled       = "canceled"
	ErrorTypeGeneral        = "error"
)

// =============================================================================
// RESULT STRUCTURE
// =============================================================================

// Result represents the outcome of processing a single file.
type Result struct {
	// FilePath is the path to the input file that was processed.
	FilePath string

	// Station is the code of the station configuration used, if any.
	Station string

	// DeliveryNumber is the official delivery number written to the outputs.
	DeliveryNumber string

	// OutputFiles are the generated files. Empty on failure and on dry runs.
	OutputFiles []string

	// ArchivePath is where the input file was moved, if archived.
	ArchivePath string

	// Success indicates whether the processing was successful.
	Success bool

	// Error contains the error if processing failed.
	Error error

	// Transform holds the computed tables on success.
	Transform *transform.Result

	// Stats contains processing statistics.
	Stats ProcessingStats
}

// ProcessingStats contains statistics about the processing.
type ProcessingStats struct {
	// Rows is the number of purchase records read.
	Rows int

	// Sacks is the Loading sack count.
	Sacks int64

	// GrossKg is the exact total gross weight.
	GrossKg decimal.Decimal

	// Duration is the time taken to process the file.
	Duration time.Duration
}

// ErrorType classifies the result's error for logs and summaries.
func (r Result) ErrorType() string {
	return ClassifyError(r.Error)
}

// ErrorLogEntry converts a failed result into an error log entry.
func (r Result) ErrorLogEntry(at time.Time) utils.ErrorLogEntry {
	entry := utils.ErrorLogEntry{
		Timestamp: at,
		FileName:  filepath.Base(r.FilePath),
		ErrorType: r.ErrorType(),
	}
	if r.Error != nil {
		entry.ErrorMessage = r.Error.Error()
	}

	var dateErr *transform.InvalidDateFormatError
	if errors.As(r.Error, &dateErr) {
		entry.RowNumber = dateErr.Line
		if entry.RowNumber == 0 {
			entry.RowNumber = dateErr.Row + 1
		}
		entry.FieldName = dateErr.Column
		entry.FieldValue = dateErr.Value
	}
	entry.MissingColumns = validation.MissingColumns(r.Error)

	return entry
}

// ClassifyError maps an error to one of the ErrorType constants.
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, validation.ErrMissingColumns):
		return ErrorTypeMissingColumns
	case errors.Is(err, transform.ErrInvalidDateFormat):
		return ErrorTypeInvalidDate
	case errors.Is(err, xlsxparser.ErrLegacyWorkbook), errors.Is(err, ErrUnsupportedInput):
		return ErrorTypeUnsupported
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeCanceled
	default:
		return ErrorTypeGeneral
	}
}

// =============================================================================
// CONVERTER STRUCTURE
// =============================================================================

// Converter handles the conversion of a single station file.
type Converter struct {
	path       string
	station    *config.StationConfig
	mainConfig *config.MainConfig
	engine     *transform.Engine
	logger     *zap.Logger

	// Metadata overrides station defaults. Non-empty fields win; a zero
	// LoadingDate means today.
	Metadata transform.Metadata

	// DryRun computes the tables without writing or archiving anything.
	DryRun bool

	// Files claims unique output names and performs archival. Nil disables
	// both.
	Files *utils.FileManager

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// =============================================================================
// CONSTRUCTOR
// =============================================================================

// New creates a new Converter instance.
//
// PARAMETERS:
//   - path: The path to the input file.
//   - station: The station configuration, or nil when none matches.
//   - mainConfig: The main application configuration.
//   - logger: The logger. Nil disables logging.
func New(path string, station *config.StationConfig, mainConfig *config.MainConfig, logger *zap.Logger) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Converter{
		path:       path,
		station:    station,
		mainConfig: mainConfig,
		engine:     transform.New(mainConfig.Columns),
		logger:     logger.With(zap.String("file", filepath.Base(path))),
		Now:        time.Now,
	}
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

// Run executes the conversion pipeline for the file.
func (c *Converter) Run(ctx context.Context) Result {
	startTime := c.now()
	result := Result{FilePath: c.path}
	if c.station != nil {
		result.Station = c.station.StationCode
	}

	fail := func(err error) Result {
		result.Error = err
		result.Stats.Duration = c.now().Sub(startTime)
		c.logger.Error("processing failed",
			zap.String("error_type", ClassifyError(err)),
			zap.Error(err))
		return result
	}

	c.logger.Info("processing file", zap.String("station", result.Station))

	// =========================================================================
	// STEP 1: READ INPUT
	// =========================================================================

	table, err := ReadFile(c.path, c.station, c.mainConfig.Columns)
	if err != nil {
		return fail(fmt.Errorf("failed to read input: %w", err))
	}
	result.Stats.Rows = table.Len()
	c.logger.Debug("read input", zap.Int("rows", table.Len()), zap.Strings("headers", table.Headers))

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	// =========================================================================
	// STEP 2: BUILD METADATA
	// =========================================================================

	meta := BuildMetadata(c.station, c.path, c.Metadata, c.now())
	result.DeliveryNumber = meta.DeliveryNumber
	if meta.DeliveryNumber == "" {
		c.logger.Warn("no official delivery number for file")
	}

	// =========================================================================
	// STEP 3: TRANSFORM
	// =========================================================================

	res, err := c.engine.Transform(table, meta)
	if err != nil {
		return fail(fmt.Errorf("failed to transform: %w", err))
	}
	result.Transform = res
	result.Stats.Sacks = res.Summary.Sacks
	result.Stats.GrossKg = res.Summary.GrossKg

	c.logger.Debug("transformed records",
		zap.Int64("sacks", res.Summary.Sacks),
		zap.String("gross_kg", res.Summary.GrossKg.String()))

	if c.DryRun {
		result.Success = true
		result.Stats.Duration = c.now().Sub(startTime)
		c.logger.Info("dry run complete", zap.Int("rows", result.Stats.Rows))
		return result
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	// =========================================================================
	// STEP 4: WRITE OUTPUT FILES
	// =========================================================================

	base := c.outputBaseName(meta)
	if c.Files != nil {
		base = c.Files.ClaimOutputName(base, func(b string) []string {
			return export.FileNames(b, c.mainConfig.OutputFormats)
		})
	}
	files, err := export.WriteFiles(c.mainConfig.OutputDir, base, c.mainConfig.OutputFormats, res, c.mainConfig.Rounded())
	if err != nil {
		return fail(fmt.Errorf("failed to write output: %w", err))
	}
	result.OutputFiles = files
	c.logger.Info("wrote output", zap.Strings("outputs", files))

	// =========================================================================
	// STEP 5: ARCHIVE FILES
	// =========================================================================

	if c.Files != nil {
		for _, out := range files {
			if _, err := c.Files.ArchiveOutputFile(out); err != nil {
				c.logger.Warn("failed to archive output", zap.String("output", out), zap.Error(err))
			}
		}
		archived, err := c.Files.ArchiveInputFile(c.path)
		if err != nil {
			c.logger.Warn("failed to archive input", zap.Error(err))
		} else {
			result.ArchivePath = archived
		}
	}

	result.Success = true
	result.Stats.Duration = c.now().Sub(startTime)
	c.logger.Info("processing complete",
		zap.Int("rows", result.Stats.Rows),
		zap.Int64("sacks", result.Stats.Sacks),
		zap.Duration("duration", result.Stats.Duration))

	return result
}

func (c *Converter) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// outputBaseName expands the configured output name format.
func (c *Converter) outputBaseName(meta transform.Metadata) string {
	params := map[string]string{
		"delivery": meta.DeliveryNumber,
		"original": strings.TrimSuffix(filepath.Base(c.path), filepath.Ext(c.path)),
	}
	if c.station != nil {
		params["station"] = c.station.StationCode
	}
	return utils.GenerateOutputFileName(c.mainConfig.OutputNameFormat, params, c.now())
}

// =============================================================================
// INPUT AND METADATA HELPERS
// =============================================================================

// ReadFile reads an input file by extension. Spreadsheets use the station's
// sheet name; CSV files use the station's CSV settings.
func ReadFile(path string, station *config.StationConfig, columns transform.Columns) (*types.Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm", ".xls":
		sheet := ""
		if station != nil {
			sheet = station.SheetName
		}
		return xlsxparser.Parse(path, sheet)
	case ".csv", ".txt":
		return csvparser.Parse(path, csvSettings(station, columns))
	default:
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrUnsupportedInput)
	}
}

// ReadUpload reads an uploaded file by the extension of its name.
func ReadUpload(r io.Reader, name string, station *config.StationConfig, columns transform.Columns) (*types.Table, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm", ".xls":
		sheet := ""
		if station != nil {
			sheet = station.SheetName
		}
		return xlsxparser.ParseReader(r, name, sheet)
	case ".csv", ".txt":
		return csvparser.ParseReader(r, name, csvSettings(station, columns))
	default:
		return nil, fmt.Errorf("%s: %w", name, ErrUnsupportedInput)
	}
}

func csvSettings(station *config.StationConfig, columns transform.Columns) config.CSVSettings {
	if station != nil {
		return station.CSVSettings
	}
	return config.DefaultCSVSettings(columns)
}

// BuildMetadata combines station defaults, the delivery number found in the
// file name and explicit overrides. Non-empty overrides win. A zero loading
// date in the overrides becomes the date of now.
func BuildMetadata(station *config.StationConfig, path string, overrides transform.Metadata, now time.Time) transform.Metadata {
	var meta transform.Metadata
	if station != nil {
		meta.OriginWarehouse = station.Defaults.OriginWarehouse
		meta.OriginWarehouseCode = station.Defaults.OriginWarehouseCode
		meta.Product = station.Defaults.Product
		meta.BuyingStation = station.StationName
		meta.DeliveryNumber = station.DeliveryNumberFromFile(path)
	}

	override := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	override(&meta.OriginWarehouse, overrides.OriginWarehouse)
	override(&meta.OriginWarehouseCode, overrides.OriginWarehouseCode)
	override(&meta.DeliveryNumber, overrides.DeliveryNumber)
	override(&meta.BuyingStation, overrides.BuyingStation)
	override(&meta.Product, overrides.Product)

	meta.LoadingDate = overrides.LoadingDate
	if meta.LoadingDate.IsZero() {
		y, m, d := now.Date()
		meta.LoadingDate = time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	}

	return meta
}

// NewRunID returns an identifier for a batch run.
func NewRunID() string {
	return uuid.New().String()
}
