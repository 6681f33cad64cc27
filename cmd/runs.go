package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gradient-research/etwfe/internal/model"
	"github.com/gradient-research/etwfe/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored estimation runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		dataset, _ := cmd.Flags().GetString("dataset")
		family, _ := cmd.Flags().GetString("family")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{Dataset: dataset, Family: family, Limit: limit})
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No runs found.")
			return nil
		}

		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print one run with its coefficients and stored effects",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		kind, _ := cmd.Flags().GetString("kind")
		effects, err := st.ListEffects(ctx, run.ID, model.EffectKind(kind))
		if err != nil {
			return err
		}

		return writeJSON(cmd.OutOrStdout(), fitResult{Run: run, Effects: effects})
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a run and its effects",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.DeleteRun(ctx, args[0]); err != nil {
			return err
		}
		zap.L().Info("run deleted", zap.String("run_id", args[0]))
		return nil
	},
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize stored runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runs, err := st.ListRuns(ctx, store.RunFilter{})
		if err != nil {
			return err
		}

		formatRunStats(cmd.OutOrStdout(), computeRunStats(runs))
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("dataset", "", "only runs on this dataset label")
	runsListCmd.Flags().String("family", "", "only runs with this response family")
	runsListCmd.Flags().Int("limit", 50, "max runs to list")
	runsShowCmd.Flags().String("kind", "", "only effects of this kind (default all)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDeleteCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList renders runs as an aligned table.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATASET\tOUTCOME\tFAMILY\tPOLICY\tN\tCREATED")
	fmt.Fprintln(w, "--\t-------\t-------\t------\t------\t-\t-------")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			truncateID(r.ID),
			r.Dataset,
			r.Outcome,
			r.Family,
			r.Policy,
			r.NObs,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// runStats summarizes the stored runs for the stats subcommand.
type runStats struct {
	Total    int
	ByFamily map[string]int
	Datasets int
	AvgNObs  float64
}

func computeRunStats(runs []model.Run) runStats {
	stats := runStats{Total: len(runs), ByFamily: make(map[string]int)}

	datasets := make(map[string]bool)
	totalObs := 0
	for _, r := range runs {
		stats.ByFamily[r.Family]++
		datasets[r.Dataset] = true
		totalObs += r.NObs
	}
	stats.Datasets = len(datasets)
	if stats.Total > 0 {
		stats.AvgNObs = float64(totalObs) / float64(stats.Total)
	}
	return stats
}

func formatRunStats(out io.Writer, stats runStats) {
	fmt.Fprintf(out, "Total runs:       %d\n", stats.Total)
	fmt.Fprintf(out, "Distinct datasets: %d\n", stats.Datasets)
	fmt.Fprintf(out, "Avg observations: %.1f\n", stats.AvgNObs)

	families := make([]string, 0, len(stats.ByFamily))
	for f := range stats.ByFamily {
		families = append(families, f)
	}
	sort.Strings(families)
	for _, f := range families {
		fmt.Fprintf(out, "  %s: %d\n", f, stats.ByFamily[f])
	}
}
