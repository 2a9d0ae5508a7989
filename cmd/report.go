package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ginjaninja78/sri-receipts/internal/harvester"
	"github.com/ginjaninja78/sri-receipts/internal/logging"
)

// reportCmd rebuilds the report of an existing run folder.
var reportCmd = &cobra.Command{
	Use:   "report <run-folder>",
	Short: "Rebuild the report of a run folder",
	Long: `Re-extract every receipt in a run folder and rewrite its report.
The portal is not contacted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		ctx := logging.WithContext(commandContext(cmd), logger)

		result, err := harvester.Rebuild(ctx, args[0], harvester.Options{
			Config: cfg,
			Logger: logging.FromContext(ctx),
		})
		if result != nil {
			printResult(cmd.OutOrStdout(), result)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}
