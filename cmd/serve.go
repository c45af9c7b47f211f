// =============================================================================
// Report Kapp - Serve Command
// =============================================================================
//
// This file defines the 'serve' command, which starts the HTTP upload
// service. Basic authentication is enabled when server.users is configured.
//
// COMMAND USAGE:
//   reportkapp serve [--addr :8080]
//
// =============================================================================

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ginjaninja78/report-kapp/internal/auth"
	"github.com/ginjaninja78/report-kapp/internal/config"
	"github.com/ginjaninja78/report-kapp/internal/server"
)

var serveAddr string

// serveCmd represents the 'serve' command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP upload service",
	Long: `The serve command accepts purchase sheet uploads on POST /api/v1/transform
and returns the Loading and Buying tables as JSON, Excel or CSV.

The service stops gracefully on SIGINT or SIGTERM.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		stations, err := config.LoadStationConfigs(mainConfig.StationsDir, mainConfig.Columns)
		if err != nil {
			return fmt.Errorf("failed to load station configs: %w", err)
		}

		var verifier auth.Verifier
		if len(mainConfig.Server.Users) > 0 {
			v, err := auth.NewBcryptVerifier(mainConfig.Server.Users)
			if err != nil {
				return fmt.Errorf("invalid server users: %w", err)
			}
			verifier = v
		} else {
			logger.Warn("no server users configured, authentication is disabled")
		}

		addr := mainConfig.Server.Address
		if serveAddr != "" {
			addr = serveAddr
		}

		logger.Info("starting server",
			zap.String("addr", addr),
			zap.Int("stations", len(stations)),
			zap.Bool("auth", verifier != nil))

		return server.New(mainConfig, stations, verifier, logger).ListenAndServe(ctx, addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config, :8080)")
}
