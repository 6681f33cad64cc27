package main

import (
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gradient-research/etwfe/internal/engine"
	"github.com/gradient-research/etwfe/internal/etwfe"
	"github.com/gradient-research/etwfe/internal/model"
)

var (
	effectsKinds []string
	effectsData  string
	effectsSave  bool
)

var effectsCmd = &cobra.Command{
	Use:   "effects <run-id>",
	Short: "Aggregate a stored run into treatment effects",
	Long: `Effects re-estimates a stored run from its recorded specification
and aggregates the fitted cells into the requested summaries. The panel
is reloaded from the recorded dataset path unless --data overrides it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		runID := args[0]

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, runID)
		if err != nil {
			return err
		}

		dataPath := effectsData
		if dataPath == "" {
			dataPath = run.Dataset
		}
		data, err := loadPanel(dataPath, "", "", "")
		if err != nil {
			return err
		}

		opts, err := optionsFromRun(run)
		if err != nil {
			return err
		}
		fit, err := etwfe.BuildAndFit(ctx, data, modelFromRun(run), run.GroupVar, run.TimeVar, opts)
		if err != nil {
			return err
		}
		if fit.Formula() != run.Formula {
			zap.L().Warn("re-estimated specification differs from the stored run; the panel may have changed",
				zap.String("run_id", runID),
				zap.String("stored", run.Formula),
				zap.String("refit", fit.Formula()),
			)
		}

		effects, err := aggregateKinds(fit, runID, effectsKinds)
		if err != nil {
			return err
		}

		if effectsSave {
			if err := st.SaveEffects(ctx, runID, effects); err != nil {
				return err
			}
			zap.L().Info("effects saved",
				zap.String("run_id", runID),
				zap.Int("rows", len(effects)),
			)
		}

		return writeJSON(cmd.OutOrStdout(), effects)
	},
}

func init() {
	effectsCmd.Flags().StringSliceVar(&effectsKinds, "kind", []string{"event"}, "aggregations to compute: simple, event, group, calendar")
	effectsCmd.Flags().StringVar(&effectsData, "data", "", "panel file override (default the run's recorded dataset)")
	effectsCmd.Flags().BoolVar(&effectsSave, "save", true, "persist the aggregated effects")
	rootCmd.AddCommand(effectsCmd)
}

// modelFromRun reassembles the outcome/controls formula a stored run was
// fitted with. Control names are recovered from the demeaned coefficient
// segments; the suffix is reserved, so the mapping is exact.
func modelFromRun(run *model.Run) string {
	controls := controlsFromRun(run)
	if len(controls) == 0 {
		return run.Outcome + " ~ 1"
	}
	return run.Outcome + " ~ " + strings.Join(controls, " + ")
}

func controlsFromRun(run *model.Run) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range run.Coefficients {
		for _, seg := range strings.Split(c.Name, ":") {
			name, found := strings.CutSuffix(seg, etwfe.DemeanSuffix)
			if !found || name == "" || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// optionsFromRun rebuilds estimation options from a run's provenance
// columns so a re-fit reproduces the stored specification.
func optionsFromRun(run *model.Run) (etwfe.Options, error) {
	gref, err := strconv.ParseFloat(run.GroupRef, 64)
	if err != nil {
		return etwfe.Options{}, eris.Wrapf(err, "run %s: bad group reference %q", run.ID, run.GroupRef)
	}
	tref, err := strconv.ParseFloat(run.TimeRef, 64)
	if err != nil {
		return etwfe.Options{}, eris.Wrapf(err, "run %s: bad time reference %q", run.ID, run.TimeRef)
	}

	return etwfe.Options{
		GroupRef:     etwfe.Ref(gref),
		TimeRef:      etwfe.Ref(tref),
		ControlGroup: etwfe.ControlGroup(run.Policy),
		Mode:         etwfe.FEMode(run.Mode),
		Family:       engine.Family(run.Family),
		Fit:          engine.FitOptions{Vcov: engine.Vcov(run.Vcov)},
	}, nil
}
