// =============================================================================
// SRI Receipts - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. The root command is
// the base command that all other commands are attached to.
//
// COBRA CLI STRUCTURE:
//   rootCmd (sri-receipts)
//   ├── issuedCmd   (sri-receipts issued)
//   ├── receivedCmd (sri-receipts received)
//   ├── reportCmd   (sri-receipts report)
//   └── versionCmd  (sri-receipts version)
//
// CONFIGURATION:
//   The root command is responsible for:
//   1. Setting up global flags (--config, --verbose)
//   2. Loading the configuration (file, SRI_* environment, defaults)
//   3. Setting up logging
//
// =============================================================================

package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ginjaninja78/sri-receipts/internal/config"
	"github.com/ginjaninja78/sri-receipts/internal/logging"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the configuration file.
// This can be overridden using the --config flag.
var cfgFile string

// verbose enables debug logging when set to true.
var verbose bool

// appConfig is the loaded configuration, set by initConfig.
var appConfig *config.Config

// configErr is the configuration load error, reported by the first command
// that needs the configuration.
var configErr error

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "sri-receipts",
	Short: "SRI Receipts - Download electronic receipts and build a report",
	Long: `SRI Receipts downloads the electronic receipts (comprobantes electronicos)
of a taxpayer from the SRI online portal, stores one XML file per receipt,
and builds an Excel report with one row per receipt line item.

Key Features:
  - Issued and received receipts
  - Idempotent downloads: re-running a folder skips what is already there
  - One failed receipt never stops the run
  - Report rebuild without contacting the portal

Example Usage:
  sri-receipts issued 1790012345001 0912345678 secret 15/03/2024 AUT 1
  sri-receipts received 1790012345001 0912345678 secret 2024 3
  sri-receipts report ./downloads/issued/issued_1790012345001_20240315_093005`,

	// Harvest and report commands report their own errors through the
	// logger; usage is only useful for argument errors.
	SilenceUsage: true,

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"config.yaml",
		"Path to the configuration file (default is config.yaml)",
	)

	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Enable verbose output for debugging",
	)

	cobra.OnInitialize(initConfig)
}

// initConfig loads the configuration once flags are parsed. A missing file
// is not an error: defaults and SRI_* variables still apply.
func initConfig() {
	appConfig, configErr = config.Load(cfgFile)
}

// loadConfig returns the loaded configuration.
func loadConfig() (*config.Config, error) {
	if configErr != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", configErr)
	}
	if appConfig == nil {
		return config.Default(), nil
	}
	return appConfig, nil
}

// newLogger builds the application logger from the configuration.
func newLogger(cfg *config.Config) zerolog.Logger {
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	return logging.New(logging.Options{
		Level:  level,
		Format: cfg.Log.Format,
	})
}
