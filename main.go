// =============================================================================
// SRI Receipts - Main Entry Point
// =============================================================================
//
// This is the main entry point for the SRI Receipts CLI application.
// It delegates command execution to the cmd package.
//
// USAGE:
//   sri-receipts issued    - Download issued receipts and build the report
//   sri-receipts received  - Download received receipts and build the report
//   sri-receipts report    - Rebuild the report of an existing run folder
//   sri-receipts version   - Display the application version
//
// ARCHITECTURE:
//   - cmd/       : CLI command definitions (Cobra)
//   - internal/  : Portal session, download, extraction and report logic
//   - pkg/       : Shared file utilities
//
// =============================================================================

package main

import (
	"github.com/ginjaninja78/sri-receipts/cmd"
)

func main() {
	cmd.Execute()
}
