package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "leadflow",
	Short: "Lead lifecycle orchestrator",
	Long: "Acquires profiles within a daily quota, classifies them against an ideal customer profile, " +
		"enrols qualified leads in an outreach campaign, reconciles accepted connections and " +
		"tracks follow-up messages through approval.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
