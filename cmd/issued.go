package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ginjaninja78/sri-receipts/internal/harvester"
	"github.com/ginjaninja78/sri-receipts/internal/portal"
)

var issuedFlags harvestFlags

// issuedCmd downloads the receipts issued by the taxpayer.
var issuedCmd = &cobra.Command{
	Use:   "issued <ruc> <ci> <password> <dd/mm/yyyy> <AUT|NAT|PPR> <1-6> [establishment]",
	Short: "Download issued receipts",
	Long: `Download the receipts issued by the taxpayer on the given date.

Status codes:
  AUT  authorized
  NAT  not authorized
  PPR  in process

Document types:
  1  invoice            4  debit note
  2  purchase slip      5  remission guide
  3  credit note        6  withholding receipt

The establishment code is optional; without it every establishment is listed.`,
	Args: cobra.RangeArgs(6, 7),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := harvester.Request{
			Credentials: portal.Credentials{RUC: args[0], AdditionalID: args[1], Password: args[2]},
			Criteria: portal.IssuedCriteria{
				Date:         args[3],
				Status:       args[4],
				DocumentType: args[5],
			},
		}
		if len(args) == 7 {
			criteria := req.Criteria.(portal.IssuedCriteria)
			criteria.Establishment = args[6]
			req.Criteria = criteria
		}
		return runHarvest(cmd, &issuedFlags, req)
	},
}

func init() {
	issuedFlags.register(issuedCmd)
	rootCmd.AddCommand(issuedCmd)
}
