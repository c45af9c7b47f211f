// =============================================================================
// Report Kapp - Main Entry Point
// =============================================================================
//
// USAGE:
//   reportkapp transform    - Transform one purchase sheet
//   reportkapp process      - Process every file in the input directory
//   reportkapp serve        - Start the HTTP upload service
//   reportkapp validate     - Validate configuration files without processing
//   reportkapp version      - Display the application version
//
// ARCHITECTURE:
//   - cmd/           : CLI command definitions (Cobra)
//   - internal/      : Core business logic (not for external import)
//   - pkg/           : Shared utilities
//   - stations/      : Station-specific YAML configurations
//
// =============================================================================

package main

import (
	"github.com/ginjaninja78/report-kapp/cmd"
)

func main() {
	cmd.Execute()
}
