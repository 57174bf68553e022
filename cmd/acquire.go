package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/pipeline"
)

var acquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Acquire new profiles within today's quota",
	Long: "Reads profile targets from a CSV/XLSX file, the Notion lead queue or a site search, " +
		"fetches each profile and stores it as a new record. Stops when the source is exhausted, " +
		"the daily quota is spent or --max records were attempted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, modeAcquire)
		if err != nil {
			return err
		}
		defer env.Close()

		src, err := acquireSource(cmd, env)
		if err != nil {
			return err
		}
		maxCount, _ := cmd.Flags().GetInt("max")

		res, recs, err := env.Pipeline.AcquireBatch(ctx, src, maxCount)
		if err != nil {
			return eris.Wrap(err, "acquire")
		}

		w, err := env.Quota.Window(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("acquire complete",
			zap.Int("stored", len(recs)),
			zap.Int("succeeded", res.Succeeded),
			zap.Int("failed", res.Failed),
			zap.Int("skipped", res.Skipped),
			zap.Int("quota_remaining", w.Remaining()),
		)
		fmt.Fprintf(os.Stdout, "acquired %d, failed %d, skipped %d (quota %d/%d)\n",
			res.Succeeded, res.Failed, res.Skipped, w.Count, w.Ceiling)
		return nil
	},
}

func acquireSource(cmd *cobra.Command, env *pipelineEnv) (pipeline.Source, error) {
	source, _ := cmd.Flags().GetString("source")
	switch source {
	case "file":
		path, _ := cmd.Flags().GetString("file")
		if path == "" {
			return nil, eris.New("--file is required for the file source")
		}
		return pipeline.NewFileSource(path), nil
	case "notion":
		if env.Notion == nil || cfg.Notion.LeadDB == "" {
			return nil, eris.New("notion.token and notion.lead_db are required for the notion source")
		}
		return pipeline.NewNotionSource(env.Notion, cfg.Notion.LeadDB), nil
	case "search":
		queries, _ := cmd.Flags().GetStringArray("query")
		if len(queries) == 0 {
			return nil, eris.New("at least one --query is required for the search source")
		}
		site, _ := cmd.Flags().GetString("site")
		return pipeline.NewSearchSource(env.Jina, site, "/in/", queries...), nil
	default:
		return nil, eris.Errorf("unknown source %q (want file, notion or search)", source)
	}
}

func init() {
	acquireCmd.Flags().String("source", "file", "target source: file, notion or search")
	acquireCmd.Flags().String("file", "", "CSV or XLSX file of profile targets")
	acquireCmd.Flags().StringArray("query", nil, "search query (repeatable, search source only)")
	acquireCmd.Flags().String("site", "linkedin.com", "site filter for search queries")
	acquireCmd.Flags().Int("max", 0, "maximum records to attempt (0 = until quota or source runs out)")
	rootCmd.AddCommand(acquireCmd)
}
