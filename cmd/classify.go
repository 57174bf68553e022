package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify new records against the criteria document",
}

var classifyNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Classify the oldest unclassified record",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx, modeClassify)
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.Pipeline.ClassifyNext(ctx)
		if err != nil {
			return err
		}
		if rec == nil {
			fmt.Fprintln(os.Stderr, "No records waiting for classification.")
			return nil
		}
		return printRecord(os.Stdout, rec, outputFormat(cmd))
	},
}

var classifyBatchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Classify up to --limit new records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if noBatch, _ := cmd.Flags().GetBool("no-batch"); noBatch {
			cfg.Anthropic.NoBatch = true
		}
		env, err := initPipeline(ctx, modeClassify)
		if err != nil {
			return err
		}
		defer env.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		res, err := env.Pipeline.ClassifyBatch(ctx, limit)
		if err != nil {
			return err
		}
		return printBatchResult(os.Stdout, "classify", res)
	},
}

func init() {
	classifyNextCmd.Flags().StringP("output", "o", "table", "output format: table, json or yaml")
	classifyBatchCmd.Flags().Int("limit", 100, "maximum records to classify")
	classifyBatchCmd.Flags().Bool("no-batch", false, "classify one request at a time instead of via the batch API")
	classifyCmd.AddCommand(classifyNextCmd, classifyBatchCmd)
	rootCmd.AddCommand(classifyCmd)
}
