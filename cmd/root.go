package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gradient-research/etwfe/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "etwfe",
	Short: "Extended two-way fixed effects estimation for staggered rollouts",
	Long: `etwfe estimates heterogeneity-robust difference-in-differences models
on staggered-adoption panels. It builds the saturated cohort-by-period
specification, fits it by least squares or IRLS, aggregates the cell
effects into event-study, cohort, calendar, or pooled summaries, and
persists, exports, and publishes the results.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
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
