package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [campaign-id]",
	Short: "Mark submitted records whose connection was accepted",
	Long:  "Pages through the campaign's leads and moves every accepted lead's record to connected. Defaults to campaign.campaign_id.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		campaignID := cfg.Campaign.CampaignID
		if len(args) == 1 {
			campaignID = args[0]
		}
		if campaignID == "" {
			return eris.New("campaign id is required (argument or LEADFLOW_CAMPAIGN_CAMPAIGN_ID)")
		}

		env, err := initPipeline(ctx, modeReconcile)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.Reconcile(ctx, campaignID)
		if err != nil {
			return err
		}
		return printValue(os.Stdout, res, outputFormat(cmd))
	},
}

func init() {
	reconcileCmd.Flags().StringP("output", "o", "yaml", "output format: json or yaml")
	rootCmd.AddCommand(reconcileCmd)
}
