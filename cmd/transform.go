// =============================================================================
// Report Kapp - Transform Command
// =============================================================================
//
// This file defines the 'transform' command, which runs the conversion for a
// single purchase sheet with shipment values given on the command line.
//
// COMMAND USAGE:
//   reportkapp transform --file compras.xlsx [flags]
//
// FLAGS:
//   --file                   : The purchase sheet (.xlsx or .csv), required
//   --station                : Station code whose defaults apply
//   --loading-date           : Loading date, YYYY-MM-DD (default today)
//   --origin-warehouse       : Origin warehouse name
//   --origin-warehouse-code  : Origin warehouse code
//   --delivery-number        : Official delivery number
//   --buying-station         : Buying station name
//   --product                : Product name
//   --format                 : Output formats, comma separated
//   --out                    : Output directory
//   --exact                  : Write unrounded weights
//   --dry-run                : Print the tables instead of writing files
//
// =============================================================================

package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/report-kapp/internal/config"
	"github.com/ginjaninja78/report-kapp/internal/converter"
	"github.com/ginjaninja78/report-kapp/internal/export"
	"github.com/ginjaninja78/report-kapp/internal/transform"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	transformFile                string
	transformStation             string
	transformLoadingDate         string
	transformOriginWarehouse     string
	transformOriginWarehouseCode string
	transformDeliveryNumber      string
	transformBuyingStation       string
	transformProduct             string
	transformFormats             []string
	transformOut                 string
	transformExact               bool
	transformDryRun              bool
)

// transformCmd represents the 'transform' command.
var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Build the Loading and Buying tables for one purchase sheet",
	Long: `The transform command reads one station purchase sheet and writes the
Loading summary and the Buying details.

Shipment values not given as flags come from the station configuration,
selected with --station or by matching the file name. The loading date
defaults to today.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransform(cmd)
	},
}

func init() {
	rootCmd.AddCommand(transformCmd)

	f := transformCmd.Flags()
	f.StringVarP(&transformFile, "file", "f", "", "Purchase sheet to transform (.xlsx or .csv)")
	f.StringVar(&transformStation, "station", "", "Station code whose defaults apply")
	f.StringVar(&transformLoadingDate, "loading-date", "", "Loading date, YYYY-MM-DD (default today)")
	f.StringVar(&transformOriginWarehouse, "origin-warehouse", "", "Origin warehouse name")
	f.StringVar(&transformOriginWarehouseCode, "origin-warehouse-code", "", "Origin warehouse code")
	f.StringVar(&transformDeliveryNumber, "delivery-number", "", "Official delivery number")
	f.StringVar(&transformBuyingStation, "buying-station", "", "Buying station name")
	f.StringVar(&transformProduct, "product", "", "Product name")
	f.StringSliceVar(&transformFormats, "format", nil, "Output formats: xlsx, csv, txt (default from config)")
	f.StringVarP(&transformOut, "out", "o", "", "Output directory (default from config)")
	f.BoolVar(&transformExact, "exact", false, "Write unrounded weights")
	f.BoolVar(&transformDryRun, "dry-run", false, "Print the tables instead of writing files")

	_ = transformCmd.MarkFlagRequired("file")
}

// runTransform converts a single file.
func runTransform(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	overrides := transform.Metadata{
		OriginWarehouse:     transformOriginWarehouse,
		OriginWarehouseCode: transformOriginWarehouseCode,
		DeliveryNumber:      transformDeliveryNumber,
		BuyingStation:       transformBuyingStation,
		Product:             transformProduct,
	}
	if transformLoadingDate != "" {
		date, err := time.ParseInLocation(transform.DateLayout, transformLoadingDate, time.Local)
		if err != nil {
			return fmt.Errorf("--loading-date must be YYYY-MM-DD: %w", err)
		}
		overrides.LoadingDate = date
	}

	// Work on a copy so flags do not leak into the loaded configuration.
	cfg := *mainConfig
	if len(transformFormats) > 0 {
		cfg.OutputFormats = nil
		for _, format := range transformFormats {
			format = strings.ToLower(strings.TrimSpace(format))
			if !export.ValidFormat(format) {
				return fmt.Errorf("unknown output format %q", format)
			}
			cfg.OutputFormats = append(cfg.OutputFormats, format)
		}
	}
	if transformOut != "" {
		cfg.OutputDir = transformOut
	}
	if transformExact {
		rounded := false
		cfg.RoundWeights = &rounded
	}

	station, err := selectStation(transformFile, transformStation)
	if err != nil {
		return err
	}

	if !transformDryRun {
		if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conv := converter.New(transformFile, station, &cfg, logger)
	conv.Metadata = overrides
	conv.DryRun = transformDryRun

	result := conv.Run(ctx)
	if !result.Success {
		return result.Error
	}

	if transformDryRun {
		return printTables(out, result.Transform, cfg.Rounded())
	}

	s := result.Transform.Summary
	fmt.Fprintf(out, "Rows:        %d\n", result.Stats.Rows)
	fmt.Fprintf(out, "Sacks:       %d\n", s.Sacks)
	fmt.Fprintf(out, "Gross (kg):  %d\n", s.GrossKgDisplay())
	fmt.Fprintf(out, "Net (kg):    %d\n", s.NetKgDisplay())
	for _, path := range result.OutputFiles {
		fmt.Fprintf(out, "Wrote %s\n", path)
	}
	return nil
}

// selectStation returns the station named by code, or the first station whose
// patterns match path. It returns nil when no stations are configured.
func selectStation(path, code string) (*config.StationConfig, error) {
	stations, err := config.LoadStationConfigs(mainConfig.StationsDir, mainConfig.Columns)
	if err != nil {
		return nil, fmt.Errorf("failed to load station configs: %w", err)
	}
	if code != "" {
		station := stations[code]
		if station == nil {
			return nil, fmt.Errorf("unknown station %q", code)
		}
		return station, nil
	}
	return config.FindStation(path, stations), nil
}

// printTables writes both tables as tab separated text.
func printTables(w io.Writer, result *transform.Result, rounded bool) error {
	for i, sheet := range export.Tables(result, rounded) {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "# %s\n", sheet.Name)
		if err := export.WriteDelimited(w, sheet, '\t'); err != nil {
			return err
		}
	}
	return nil
}
