package main

import (
	"os"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show record counts per stage and today's quota",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx, modeStats)
		if err != nil {
			return err
		}
		defer env.Close()

		s, err := env.Pipeline.Stats(ctx)
		if err != nil {
			return err
		}
		if f := outputFormat(cmd); f != "table" {
			return printValue(os.Stdout, s, f)
		}
		return printStats(os.Stdout, s)
	},
}

func init() {
	statsCmd.Flags().StringP("output", "o", "table", "output format: table, json or yaml")
	rootCmd.AddCommand(statsCmd)
}
