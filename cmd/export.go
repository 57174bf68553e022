package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/fetcher"
	"github.com/sells-group/leadflow/internal/model"
)

var exportHeader = []string{
	"id", "name", "title", "company", "location", "profile_url", "stage",
	"decision", "score", "qualified", "submitted", "accepted_at", "followup_sent", "crm_id", "created_at",
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export records as CSV, XLSX or YAML",
	Long:  "Writes the filtered records to --out. The format follows the file extension unless --format is set; without --out, CSV goes to stdout.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		filter, err := recordFilter(cmd)
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("out")
		format, _ := cmd.Flags().GetString("format")
		if format == "" {
			format = formatFromPath(out)
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

		if err := writeExport(out, format, recs); err != nil {
			return err
		}
		zap.L().Info("export complete", zap.Int("records", len(recs)), zap.String("format", format), zap.String("out", out))
		return nil
	},
}

func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return "xlsx"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "csv"
	}
}

func writeExport(path, format string, recs []model.Record) error {
	switch format {
	case "xlsx":
		if path == "" {
			return eris.New("--out is required for xlsx exports")
		}
		return fetcher.WriteXLSX(path, "Leads", exportHeader, exportRows(recs))
	case "csv", "yaml":
		w := os.Stdout
		if path != "" {
			f, err := os.Create(path)
			if err != nil {
				return eris.Wrapf(err, "create %s", path)
			}
			defer f.Close() //nolint:errcheck
			w = f
		}
		if format == "yaml" {
			return printValue(w, recs, "yaml")
		}
		return fetcher.WriteCSV(w, exportHeader, exportRows(recs))
	default:
		return eris.Errorf("unknown export format %q (want csv, xlsx or yaml)", format)
	}
}

// exportRows flattens records into exportHeader's column order.
func exportRows(recs []model.Record) [][]string {
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		var decision, score, qualified string
		if c := r.Classification; c != nil {
			decision = c.Decision
			qualified = strconv.FormatBool(c.Qualified)
			if c.Score != nil {
				score = strconv.FormatFloat(*c.Score, 'f', -1, 64)
			}
		}
		var acceptedAt string
		if r.Acceptance != nil {
			acceptedAt = r.Acceptance.AcceptedAt.Format("2006-01-02T15:04:05Z07:00")
		}
		sent := r.Followup != nil && r.Followup.Sent

		rows = append(rows, []string{
			r.ID, r.Name, r.Title, r.Company, r.Location, r.ExternalID, string(r.Stage),
			decision, score, qualified, strconv.FormatBool(r.IsSubmitted()), acceptedAt,
			strconv.FormatBool(sent), r.CRMID, r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return rows
}

func init() {
	addFilterFlags(exportCmd, 0)
	exportCmd.Flags().String("out", "", "output file (default stdout, CSV only)")
	exportCmd.Flags().String("format", "", "csv, xlsx or yaml (default from --out extension)")
	rootCmd.AddCommand(exportCmd)
}
