package main

import (
	"os"

	"github.com/spf13/cobra"
)

var crmCmd = &cobra.Command{
	Use:   "crm",
	Short: "Salesforce lead sync",
}

var crmSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Create Salesforce leads for connected records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx, modeCRM)
		if err != nil {
			return err
		}
		defer env.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		res, err := env.Pipeline.SyncConnected(ctx, limit)
		if err != nil {
			return err
		}
		return printBatchResult(os.Stdout, "crm sync", res)
	},
}

func init() {
	crmSyncCmd.Flags().Int("limit", 0, "maximum records to sync (0 = all)")
	crmCmd.AddCommand(crmSyncCmd)
	rootCmd.AddCommand(crmCmd)
}
