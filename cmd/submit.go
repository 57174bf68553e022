package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Inspect and retry campaign submissions",
}

var submitRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Retry failed campaign submissions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx, modeSubmit)
		if err != nil {
			return err
		}
		defer env.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		res, err := env.Pipeline.RetryFailed(ctx, limit)
		if err != nil {
			return err
		}
		return printBatchResult(os.Stdout, "submit retry", res)
	},
}

var submitFailedCmd = &cobra.Command{
	Use:   "failed",
	Short: "List qualified records whose submission failed",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		recs, err := st.ListFailedSubmissions(ctx, limit)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No failed submissions.")
			return nil
		}
		return printRecords(os.Stdout, recs, outputFormat(cmd))
	},
}

func init() {
	submitRetryCmd.Flags().Int("limit", 0, "maximum records to retry (0 = all)")
	submitFailedCmd.Flags().Int("limit", 0, "maximum records to list (0 = all)")
	submitFailedCmd.Flags().StringP("output", "o", "table", "output format: table, json or yaml")
	submitCmd.AddCommand(submitRetryCmd, submitFailedCmd)
	rootCmd.AddCommand(submitCmd)
}
