package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ginjaninja78/sri-receipts/internal/harvester"
	"github.com/ginjaninja78/sri-receipts/internal/portal"
)

var receivedFlags harvestFlags

// receivedCmd downloads the receipts received by the taxpayer.
var receivedCmd = &cobra.Command{
	Use:   "received <ruc> <ci> <password> <year> <month>",
	Short: "Download received receipts",
	Long: `Download the receipts received by the taxpayer in the given month.

The portal may ask for a manual challenge before listing received receipts.
The command then prints the challenge page and waits (up to
portal.challenge_timeout) for the response token on standard input.`,
	Args: cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := harvester.Request{
			Credentials: portal.Credentials{RUC: args[0], AdditionalID: args[1], Password: args[2]},
			Criteria:    portal.ReceivedCriteria{Year: args[3], Month: args[4]},
		}
		return runHarvest(cmd, &receivedFlags, req)
	},
}

func init() {
	receivedFlags.register(receivedCmd)
	rootCmd.AddCommand(receivedCmd)
}
