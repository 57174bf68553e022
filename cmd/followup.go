package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/pipeline"
)

var followupCmd = &cobra.Command{
	Use:   "followup",
	Short: "Draft, approve and send follow-up messages",
}

var followupNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Show the oldest connected record without a draft",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx, modeStats)
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.Pipeline.NextNeedingDraft(ctx)
		if err != nil {
			return err
		}
		if rec == nil {
			fmt.Fprintln(os.Stderr, "No records need a follow-up draft.")
			return nil
		}
		return printRecord(os.Stdout, rec, outputFormat(cmd))
	},
}

var followupDraftCmd = &cobra.Command{
	Use:   "draft [record-id]",
	Short: "Save a draft for a record, or generate one for the next record",
	Long: "With a record id and --text, stores the given text as the record's draft. " +
		"Without arguments, generates a draft for the oldest connected record using the model.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		text, _ := cmd.Flags().GetString("text")

		if len(args) == 0 {
			if text != "" {
				return eris.New("--text needs a record id")
			}
			env, err := initPipeline(ctx, modeFollowup)
			if err != nil {
				return err
			}
			defer env.Close()

			rec, err := env.Pipeline.DraftNext(ctx)
			if err != nil {
				return err
			}
			if rec == nil {
				fmt.Fprintln(os.Stderr, "No records need a follow-up draft.")
				return nil
			}
			return printRecord(os.Stdout, rec, outputFormat(cmd))
		}

		if text == "" {
			return eris.New("--text is required with a record id")
		}
		return withRecord(cmd, func(ctx context.Context, p *pipeline.Pipeline) (*model.Record, error) {
			return p.SaveDraft(ctx, args[0], text)
		})
	},
}

var followupApproveCmd = &cobra.Command{
	Use:   "approve <record-id>",
	Short: "Approve a record's draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRecord(cmd, func(ctx context.Context, p *pipeline.Pipeline) (*model.Record, error) {
			return p.Approve(ctx, args[0])
		})
	},
}

var followupReviseCmd = &cobra.Command{
	Use:   "revise <record-id>",
	Short: "Replace a record's draft; approval is withdrawn",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		if text == "" {
			return eris.New("--text is required")
		}
		return withRecord(cmd, func(ctx context.Context, p *pipeline.Pipeline) (*model.Record, error) {
			return p.Revise(ctx, args[0], text)
		})
	},
}

var followupSentCmd = &cobra.Command{
	Use:   "sent <record-id>",
	Short: "Record that an approved draft was sent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRecord(cmd, func(ctx context.Context, p *pipeline.Pipeline) (*model.Record, error) {
			return p.MarkSent(ctx, args[0])
		})
	},
}

// withRecord runs a single-record follow-up action and prints the result.
func withRecord(cmd *cobra.Command, fn func(ctx context.Context, p *pipeline.Pipeline) (*model.Record, error)) error {
	ctx := cmd.Context()
	env, err := initPipeline(ctx, modeStats)
	if err != nil {
		return err
	}
	defer env.Close()

	rec, err := fn(ctx, env.Pipeline)
	if err != nil {
		return err
	}
	return printRecord(os.Stdout, rec, outputFormat(cmd))
}

func init() {
	for _, c := range []*cobra.Command{followupNextCmd, followupDraftCmd, followupApproveCmd, followupReviseCmd, followupSentCmd} {
		c.Flags().StringP("output", "o", "table", "output format: table, json or yaml")
	}
	followupDraftCmd.Flags().String("text", "", "draft text")
	followupReviseCmd.Flags().String("text", "", "replacement draft text")
	followupCmd.AddCommand(followupNextCmd, followupDraftCmd, followupApproveCmd, followupReviseCmd, followupSentCmd)
	rootCmd.AddCommand(followupCmd)
}
