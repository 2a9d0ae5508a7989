// =============================================================================
// SRI Receipts - Harvest Commands (shared)
// =============================================================================
//
// The 'issued' and 'received' commands differ only in their filters. This
// file holds their shared flags and the run wiring:
//
//   config ─▶ logger ─▶ HTTP portal session ─▶ harvest pipeline ─▶ summary
//
// FLAGS:
//   --resume       : Reuse an existing run folder instead of creating one
//   --output       : Override the output root directory
//   --skip-report  : Download only; do not extract or build the report
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/sri-receipts/internal/harvester"
	"github.com/ginjaninja78/sri-receipts/internal/logging"
	"github.com/ginjaninja78/sri-receipts/internal/portal"
)

// harvestFlags are the flags shared by the harvest commands.
type harvestFlags struct {
	resume     string
	output     string
	skipReport bool
}

func (f *harvestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.resume, "resume", "", "Resume an existing run folder")
	cmd.Flags().StringVar(&f.output, "output", "", "Output root directory (overrides output.root_dir)")
	cmd.Flags().BoolVar(&f.skipReport, "skip-report", false, "Download only, do not build the report")
}

// runHarvest validates the request, then runs one harvest against the
// live portal.
func runHarvest(cmd *cobra.Command, flags *harvestFlags, req harvester.Request) error {
	// Invalid input fails before anything touches the network or disk.
	if err := req.Credentials.Validate(); err != nil {
		return err
	}
	if err := req.Criteria.Validate(); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flags.output != "" {
		cfg.Output.RootDir = flags.output
	}
	if flags.resume == "" {
		if err := cfg.EnsureOutputRoot(); err != nil {
			return err
		}
	}

	logger := newLogger(cfg)
	if cfg.Source != "" {
		logger.Debug().Str("config", cfg.Source).Msg("Using config file")
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithContext(ctx, logger)

	session, err := portal.NewHTTPSession(portal.HTTPOptions{
		Portal: cfg.Portal,
		Solver: &portal.ConsoleSolver{In: os.Stdin, Out: cmd.ErrOrStderr()},
		Logger: logger.With().Str("component", "portal").Logger(),
	})
	if err != nil {
		return err
	}

	pipeline := harvester.New(session, harvester.Options{
		Config:       cfg,
		Logger:       logging.FromContext(ctx),
		ResumeFolder: flags.resume,
		SkipReport:   flags.skipReport,
	})

	result, err := pipeline.Run(ctx, req)
	if result != nil {
		printResult(cmd.OutOrStdout(), result)
	}
	return err
}

// printResult writes a short run summary for the operator.
func printResult(out io.Writer, result *harvester.Result) {
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Folder:     %s\n", result.Folder)
	if result.Message != "" {
		fmt.Fprintf(out, "Portal:     %s\n", result.Message)
	}
	if result.Download.Rows > 0 {
		fmt.Fprintf(out, "Downloaded: %d (skipped %d, failed %d) over %d page(s)\n",
			result.Download.Downloaded, result.Download.Skipped, result.Download.Failed, result.Download.Pages)
	}
	if result.Extract.Documents > 0 {
		fmt.Fprintf(out, "Extracted:  %d record(s) from %d document(s), %d failed\n",
			result.Extract.Records, result.Extract.Documents, result.Extract.Failed)
	}
	if result.ReportFile != "" {
		fmt.Fprintf(out, "Report:     %s\n", result.ReportFile)
	}
	if result.ErrorFile != "" {
		fmt.Fprintf(out, "Errors:     %s\n", result.ErrorFile)
	}
	fmt.Fprintf(out, "Duration:   %s\n", result.Duration.Round(time.Millisecond))
}

// commandContext returns the command's context, or a background context.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
