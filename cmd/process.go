// =============================================================================
// Report Kapp - Process Command
// =============================================================================
//
// This file defines the 'process' command, the batch mode of the tool. It
// runs the conversion pipeline for every station file in the input directory.
//
// COMMAND USAGE:
//   reportkapp process [flags]
//
// FLAGS:
//   --dry-run     : Compute the tables without writing or archiving anything
//   --file        : Process only this file
//   --station     : Use this station code instead of file name matching
//
// PROCESSING PIPELINE:
//   1. Load station configurations
//   2. Discover input files in the input directory
//   3. Match each file to a station configuration
//   4. For each file (concurrently, up to max_concurrency):
//      a. Read the purchase records
//      b. Build the shipment metadata
//      c. Transform into the Loading and Buying tables
//      d. Write the output files
//      e. Archive the input and the outputs
//   5. Write the error log and the summary report
//
// =============================================================================

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ginjaninja78/report-kapp/internal/config"
	"github.com/ginjaninja78/report-kapp/internal/converter"
	"github.com/ginjaninja78/report-kapp/pkg/utils"
)

// errNoStation is returned for files no station configuration matches.
var errNoStation = errors.New("no matching station configuration found")

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	processDryRun  bool
	processFile    string
	processStation string
)

// processCmd represents the 'process' command.
var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process every station file in the input directory",
	Long: `The process command scans the input directory for station purchase sheets
(.xlsx and .csv), matches them to a station configuration, and writes the
Loading and Buying tables for each one.

Files are processed concurrently. Each file is processed independently, and
unless continue_on_error is false an error in one file does not stop the
others.

On successful processing:
  - The outputs are written to the output directory and copied to the
    output archive
  - The input is moved to the input archive

On error:
  - An error log is created in the output directory
  - The input remains in the input directory`,

	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runProcess(ctx, cmd)
	},
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().BoolVar(
		&processDryRun,
		"dry-run",
		false,
		"Compute the tables without writing or archiving anything",
	)

	processCmd.Flags().StringVar(
		&processFile,
		"file",
		"",
		"Process only this file",
	)

	processCmd.Flags().StringVar(
		&processStation,
		"station",
		"",
		"Station code to use for every file instead of file name matching",
	)
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

// runProcess orchestrates the batch run.
func runProcess(ctx context.Context, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	runID := converter.NewRunID()
	log := logger.With(zap.String("run_id", runID))

	summary := utils.ProcessingSummary{
		RunID:        runID,
		StartTime:    time.Now(),
		TotalGrossKg: decimal.Zero,
	}

	// =========================================================================
	// STEP 1: LOAD STATION CONFIGURATIONS
	// =========================================================================

	stations, err := config.LoadStationConfigs(mainConfig.StationsDir, mainConfig.Columns)
	if err != nil {
		return fmt.Errorf("failed to load station configs: %w", err)
	}
	log.Info("loaded station configurations", zap.Int("stations", len(stations)))

	var forced *config.StationConfig
	if processStation != "" {
		forced = stations[processStation]
		if forced == nil {
			return fmt.Errorf("unknown station %q", processStation)
		}
	}

	fm := utils.NewFileManager(mainConfig.InputDir, mainConfig.OutputDir, mainConfig.InputArchiveDir, mainConfig.OutputArchiveDir)
	fm.UseTimestampSubdirs = true
	if err := fm.EnsureDirectories(); err != nil {
		return err
	}

	// =========================================================================
	// STEP 2: DISCOVER INPUT FILES
	// =========================================================================

	var inputFiles []string
	if processFile != "" {
		if !utils.FileExists(processFile) {
			return fmt.Errorf("file not found: %s", processFile)
		}
		inputFiles = []string{processFile}
	} else {
		inputFiles, err = fm.DiscoverInputFiles()
		if err != nil {
			return fmt.Errorf("failed to discover input files: %w", err)
		}
	}

	if len(inputFiles) == 0 {
		fmt.Fprintln(out, "No input files found in the input directory.")
		return nil
	}
	summary.TotalFiles = len(inputFiles)
	log.Info("discovered input files", zap.Int("files", len(inputFiles)))

	// =========================================================================
	// STEP 3: PROCESS FILES CONCURRENTLY
	// =========================================================================

	results := processFiles(ctx, inputFiles, stations, forced, fm, log)

	// =========================================================================
	// STEP 4: COLLECT RESULTS
	// =========================================================================

	var errorEntries []utils.ErrorLogEntry
	for _, result := range results {
		name := filepath.Base(result.FilePath)
		if result.Success {
			summary.SuccessfulFiles++
			summary.TotalRows += result.Stats.Rows
			summary.TotalSacks += result.Stats.Sacks
			summary.TotalGrossKg = summary.TotalGrossKg.Add(result.Stats.GrossKg)
			summary.ProcessedFiles = append(summary.ProcessedFiles, utils.ProcessedFileInfo{
				InputFile:      name,
				OutputFiles:    result.OutputFiles,
				ArchivePath:    result.ArchivePath,
				Station:        result.Station,
				DeliveryNumber: result.DeliveryNumber,
				Rows:           result.Stats.Rows,
				Sacks:          result.Stats.Sacks,
				GrossKg:        result.Stats.GrossKg,
				ProcessTime:    result.Stats.Duration,
			})
			fmt.Fprintf(out, "  ✓ %s: %d rows, %d sacks\n", name, result.Stats.Rows, result.Stats.Sacks)
			continue
		}

		summary.FailedFiles++
		summary.FailedFilesList = append(summary.FailedFilesList, utils.FailedFileInfo{
			InputFile:    name,
			ErrorMessage: result.Error.Error(),
			ErrorType:    result.ErrorType(),
		})
		errorEntries = append(errorEntries, result.ErrorLogEntry(time.Now()))
		fmt.Fprintf(out, "  ✗ %s: %v\n", name, result.Error)
	}
	summary.EndTime = time.Now()

	// =========================================================================
	// STEP 5: WRITE LOGS
	// =========================================================================

	if !processDryRun {
		if len(errorEntries) > 0 {
			path, err := fm.WriteErrorLog(errorEntries)
			if err != nil {
				log.Error("failed to write error log", zap.Error(err))
			} else {
				fmt.Fprintf(out, "\nErrors have been logged to %s\n", path)
			}
		}
		path, err := fm.WriteSummary(summary)
		if err != nil {
			log.Error("failed to write summary", zap.Error(err))
		} else {
			log.Info("wrote summary", zap.String("path", path))
		}
	}

	fmt.Fprintln(out, "\n=== Processing Complete ===")
	fmt.Fprintf(out, "Total files:     %d\n", summary.TotalFiles)
	fmt.Fprintf(out, "Successful:      %d\n", summary.SuccessfulFiles)
	fmt.Fprintf(out, "Errors:          %d\n", summary.FailedFiles)
	fmt.Fprintf(out, "Total sacks:     %d\n", summary.TotalSacks)
	fmt.Fprintf(out, "Time elapsed:    %s\n", summary.EndTime.Sub(summary.StartTime).Round(time.Millisecond))

	if summary.FailedFiles > 0 {
		return fmt.Errorf("%d of %d file(s) failed", summary.FailedFiles, summary.TotalFiles)
	}
	return nil
}

// processFiles runs one converter per file with at most MaxConcurrency in
// flight. Results keep the order of files. When continue_on_error is false the
// first failure cancels the files still pending.
func processFiles(
	ctx context.Context,
	files []string,
	stations map[string]*config.StationConfig,
	forced *config.StationConfig,
	fm *utils.FileManager,
	log *zap.Logger,
) []converter.Result {
	results := make([]converter.Result, len(files))
	continueOnError := mainConfig.ContinueAfterError()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(mainConfig.MaxConcurrency)

	for i, file := range files {
		if err := gctx.Err(); err != nil {
			results[i] = converter.Result{FilePath: file, Error: err}
			continue
		}

		g.Go(func() error {
			station := forced
			if station == nil {
				station = config.FindStation(file, stations)
			}
			if station == nil && len(stations) > 0 {
				results[i] = converter.Result{FilePath: file, Error: errNoStation}
				log.Warn("no station for file", zap.String("file", filepath.Base(file)))
				if !continueOnError {
					return errNoStation
				}
				return nil
			}

			conv := converter.New(file, station, mainConfig, log)
			conv.DryRun = processDryRun
			conv.Files = fm

			results[i] = conv.Run(gctx)
			if !results[i].Success && !continueOnError {
				return results[i].Error
			}
			return nil
		})
	}

	// Failures are reported per file through results.
	_ = g.Wait()

	return results
}
