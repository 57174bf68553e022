package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/store"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect stored records",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List records, optionally filtered by stage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		filter, err := recordFilter(cmd)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		recs, err := st.ListAll(ctx, filter)
		if err != nil {
			return err
		}
		return printRecords(os.Stdout, recs, outputFormat(cmd))
	},
}

var recordsShowCmd = &cobra.Command{
	Use:   "show <record-id>",
	Short: "Show one record in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := st.Get(ctx, args[0])
		if err != nil {
			return err
		}
		return printRecord(os.Stdout, rec, outputFormat(cmd))
	},
}

// recordFilter builds a store filter from the --stage, --crm-pending,
// --limit and --offset flags.
func recordFilter(cmd *cobra.Command) (store.ListFilter, error) {
	stage, _ := cmd.Flags().GetString("stage")
	crmPending, _ := cmd.Flags().GetBool("crm-pending")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	f := store.ListFilter{
		Stage:        model.Stage(stage),
		NeedsCRMSync: crmPending,
		Limit:        limit,
		Offset:       offset,
	}
	if stage != "" && !f.Stage.Valid() {
		return f, eris.Errorf("unknown stage %q", stage)
	}
	if limit < 0 || offset < 0 {
		return f, eris.New("--limit and --offset must not be negative")
	}
	return f, nil
}

func addFilterFlags(c *cobra.Command, defaultLimit int) {
	c.Flags().String("stage", "", "only records in this stage")
	c.Flags().Bool("crm-pending", false, "only connected records not yet synced to the CRM")
	c.Flags().Int("limit", defaultLimit, "maximum records (0 = all)")
	c.Flags().Int("offset", 0, "records to skip")
}

func init() {
	addFilterFlags(recordsListCmd, 50)
	recordsListCmd.Flags().StringP("output", "o", "table", "output format: table, json or yaml")
	recordsShowCmd.Flags().StringP("output", "o", "yaml", "output format: table, json or yaml")
	recordsCmd.AddCommand(recordsListCmd, recordsShowCmd)
	rootCmd.AddCommand(recordsCmd)
}
