// =============================================================================
// Report Kapp - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. Every other command
// is attached to it.
//
// COBRA CLI STRUCTURE:
//   rootCmd (reportkapp)
//   ├── transformCmd      (reportkapp transform)
//   ├── processCmd        (reportkapp process)
//   ├── serveCmd          (reportkapp serve)
//   ├── validateCmd       (reportkapp validate)
//   ├── hashPasswordCmd   (reportkapp hash-password)
//   └── versionCmd        (reportkapp version)
//
// CONFIGURATION:
//   The root command is responsible for:
//   1. Setting up global flags (--config, --verbose)
//   2. Loading config.yaml, .env and REPORTKAPP_* overrides
//   3. Building the logger
//
// =============================================================================

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ginjaninja78/report-kapp/internal/config"
	"github.com/ginjaninja78/report-kapp/internal/logging"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the main configuration file.
var cfgFile string

// verbose enables debug logging.
var verbose bool

// mainConfig and logger are set by the root PersistentPreRunE.
var (
	mainConfig *config.MainConfig
	logger     = zap.NewNop()
)

// skipSetup marks commands that run without configuration or logging.
const skipSetup = "skip-setup"

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "reportkapp",
	Short: "Report Kapp - Build Loading and Buying reports from cacao purchase sheets",
	Long: `Report Kapp turns the purchase sheet kept by a cacao buying station into
the two tables of a dispatch: a one-row Loading summary of the truck and a
Buying table with one row per producer delivery.

Key Features:
  - Reads station spreadsheets (.xlsx) and CSV exports
  - Per-station defaults and file matching rules
  - Excel, CSV and tab separated output
  - Concurrent batch processing with archival and summary logs
  - HTTP upload service

Example Usage:
  reportkapp transform --file compras.xlsx --delivery-number GR-1
  reportkapp process                    # Process all files in the input directory
  reportkapp serve --addr :8080         # Start the upload service
  reportkapp validate                   # Validate configuration without processing`,

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations[skipSetup] == "true" {
			return nil
		}
		return setup()
	},

	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		// Sync fails on stderr for some platforms; nothing to do about it.
		_ = logger.Sync()
	},

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the main configuration and builds the logger.
func setup() error {
	cfg, err := config.LoadMainConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load main config: %w", err)
	}

	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	l, err := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Verbose: verbose,
		File:    cfg.LogFile,
	})
	if err != nil {
		return err
	}

	mainConfig = cfg
	logger = l
	return nil
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"config.yaml",
		"Path to the main configuration file",
	)

	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Enable debug logging",
	)
}
