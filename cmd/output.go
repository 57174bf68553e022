package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/leadflow/internal/model"
)

// outputFormat returns the --output flag value, defaulting to table.
func outputFormat(cmd *cobra.Command) string {
	f, err := cmd.Flags().GetString("output")
	if err != nil || f == "" {
		return "table"
	}
	return f
}

// printValue writes v as JSON or YAML.
func printValue(out io.Writer, v any, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(v), "encode json")
	case "yaml", "table":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return eris.Wrap(enc.Close(), "encode yaml")
	default:
		return eris.Errorf("unknown output format %q", format)
	}
}

// printRecord writes a single record. The table format is a short summary.
func printRecord(out io.Writer, rec *model.Record, format string) error {
	if format != "table" {
		return printValue(out, rec, format)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "ID\t%s\n", rec.ID)
	_, _ = fmt.Fprintf(w, "NAME\t%s\n", rec.Name)
	_, _ = fmt.Fprintf(w, "TITLE\t%s\n", rec.Title)
	_, _ = fmt.Fprintf(w, "COMPANY\t%s\n", rec.Company)
	_, _ = fmt.Fprintf(w, "STAGE\t%s\n", rec.Stage)
	if c := rec.Classification; c != nil {
		_, _ = fmt.Fprintf(w, "DECISION\t%s\n", c.Decision)
		if c.Score != nil {
			_, _ = fmt.Fprintf(w, "SCORE\t%.1f\n", *c.Score)
		}
		if c.Reasoning != "" {
			_, _ = fmt.Fprintf(w, "REASONING\t%s\n", truncate(c.Reasoning, 120))
		}
	}
	if ref := rec.CampaignRef; ref != nil && ref.Error != "" {
		_, _ = fmt.Fprintf(w, "SUBMIT ERROR\t%s (attempts %d)\n", ref.Error, ref.Attempts)
	}
	if f := rec.Followup; f != nil {
		_, _ = fmt.Fprintf(w, "APPROVED\t%t\n", f.Approved)
		_, _ = fmt.Fprintf(w, "SENT\t%t\n", f.Sent)
	}
	if rec.CRMID != "" {
		_, _ = fmt.Fprintf(w, "CRM ID\t%s\n", rec.CRMID)
	}
	if err := w.Flush(); err != nil {
		return eris.Wrap(err, "flush table")
	}
	if f := rec.Followup; f != nil && f.Text != "" {
		_, _ = fmt.Fprintf(out, "\n%s\n", f.Text)
	}
	return nil
}

// printRecords writes a list of records.
func printRecords(out io.Writer, recs []model.Record, format string) error {
	if format != "table" {
		return printValue(out, recs, format)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tCOMPANY\tSTAGE\tDECISION\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t----\t-------\t-----\t--------\t-------")
	for _, r := range recs {
		decision := ""
		if r.Classification != nil {
			decision = r.Classification.Decision
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			truncate(r.Name, 30),
			truncate(r.Company, 30),
			r.Stage,
			decision,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	return eris.Wrap(w.Flush(), "flush table")
}

// printBatchResult writes a one-line summary of a batch stage run.
func printBatchResult(out io.Writer, stage string, res model.BatchResult) error {
	_, err := fmt.Fprintf(out, "%s: %d succeeded, %d failed, %d skipped\n",
		stage, res.Succeeded, res.Failed, res.Skipped)
	return err
}

// printStats writes per-stage counts followed by totals and quota usage.
func printStats(out io.Writer, s model.Stats) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STAGE\tCOUNT")
	_, _ = fmt.Fprintln(w, "-----\t-----")
	for _, st := range model.AllStages() {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", st, s.ByStage[st])
	}

	// Stages the store knows but this build does not.
	var extra []string
	for st := range s.ByStage {
		if !st.Valid() {
			extra = append(extra, string(st))
		}
	}
	sort.Strings(extra)
	for _, st := range extra {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", st, s.ByStage[model.Stage(st)])
	}

	_, _ = fmt.Fprintf(w, "total\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "failed submissions\t%d\n", s.FailedSubmissions)
	_, _ = fmt.Fprintf(w, "quota %s\t%d/%d (all time %d)\n", s.Quota.Day, s.Quota.Count, s.Quota.Ceiling, s.Quota.AllTime)
	return eris.Wrap(w.Flush(), "flush table")
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
