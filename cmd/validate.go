// =============================================================================
// Report Kapp - Validate Command
// =============================================================================
//
// This file defines the 'validate' command, which loads every configuration
// file and reports problems without processing anything.
//
// COMMAND USAGE:
//   reportkapp validate
//
// =============================================================================

package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/report-kapp/internal/auth"
	"github.com/ginjaninja78/report-kapp/internal/config"
	"github.com/ginjaninja78/report-kapp/pkg/utils"
)

// validateCmd represents the 'validate' command.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration without processing",
	Long: `The validate command loads config.yaml and every station file and reports
the first problem found. It also lists which station each file in the input
directory would be processed with.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "Main configuration: %s\n", cfgFile)
		fmt.Fprintf(out, "  Required columns: %s\n", strings.Join(mainConfig.Columns.Required(), ", "))
		fmt.Fprintf(out, "  Output formats:   %s\n", strings.Join(mainConfig.OutputFormats, ", "))

		if len(mainConfig.Server.Users) > 0 {
			if _, err := auth.NewBcryptVerifier(mainConfig.Server.Users); err != nil {
				return fmt.Errorf("invalid server users: %w", err)
			}
		}

		stations, err := config.LoadStationConfigs(mainConfig.StationsDir, mainConfig.Columns)
		if err != nil {
			return fmt.Errorf("failed to load station configs: %w", err)
		}

		codes := make([]string, 0, len(stations))
		for code := range stations {
			codes = append(codes, code)
		}
		slices.Sort(codes)

		fmt.Fprintf(out, "Stations (%d):\n", len(stations))
		for _, code := range codes {
			s := stations[code]
			fmt.Fprintf(out, "  %s: %s [%s]\n", code, s.StationName, strings.Join(s.FileMatchingPatterns, ", "))
		}

		fm := utils.NewFileManager(mainConfig.InputDir, "", "", "")
		files, err := fm.DiscoverInputFiles()
		if err != nil {
			// The input directory is created by the first process run.
			fmt.Fprintf(out, "Input directory: %v\n", err)
		} else {
			fmt.Fprintf(out, "Input files (%d):\n", len(files))
			for _, file := range files {
				station := "(no match)"
				if s := config.FindStation(file, stations); s != nil {
					station = s.StationCode
				}
				fmt.Fprintf(out, "  %s -> %s\n", file, station)
			}
		}

		fmt.Fprintln(out, "Configuration is valid.")
		return nil
	},
}

// hashPasswordCmd prints the bcrypt hash to store under server.users.
var hashPasswordCmd = &cobra.Command{
	Use:         "hash-password <password>",
	Short:       "Print the bcrypt hash of a password for server.users",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{skipSetup: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashPassword(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(hashPasswordCmd)
}
