package main

import (
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gradient-research/etwfe/internal/engine"
	"github.com/gradient-research/etwfe/internal/etwfe"
	"github.com/gradient-research/etwfe/internal/formula"
	"github.com/gradient-research/etwfe/internal/marginal"
	"github.com/gradient-research/etwfe/internal/model"
	"github.com/gradient-research/etwfe/internal/panel"
)

var (
	fitData      string
	fitModel     string
	fitGroupVar  string
	fitTimeVar   string
	fitGroupRef  float64
	fitTimeRef   float64
	fitPolicy    string
	fitMode      string
	fitFamily    string
	fitVcov      string
	fitLabel     string
	fitSheet     string
	fitDelimiter string
	fitEncoding  string
	fitEffects   []string
	fitSave      bool
)

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Estimate a staggered difference-in-differences model",
	Long: `Fit loads a panel from CSV or XLSX, builds the saturated
cohort-by-period specification, and estimates it. Pass --effects to
aggregate the fitted cells immediately and --save to persist the run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := loadPanel(fitData, fitSheet, fitDelimiter, fitEncoding)
		if err != nil {
			return err
		}

		opts := etwfe.Options{
			ControlGroup: etwfe.ControlGroup(fitPolicy),
			Mode:         etwfe.FEMode(fitMode),
			Family:       engine.Family(fitFamily),
			Fit:          engine.FitOptions{Vcov: engine.Vcov(fitVcov)},
		}
		if cmd.Flags().Changed("gref") {
			opts.GroupRef = etwfe.Ref(fitGroupRef)
		}
		if cmd.Flags().Changed("tref") {
			opts.TimeRef = etwfe.Ref(fitTimeRef)
		}

		fit, err := etwfe.BuildAndFit(ctx, data, fitModel, fitGroupVar, fitTimeVar, opts)
		if err != nil {
			return err
		}

		label := fitLabel
		if label == "" {
			label = filepath.Base(fitData)
		}
		run := runFromFit(label, fit)

		effects, err := aggregateKinds(fit, run.ID, fitEffects)
		if err != nil {
			return err
		}

		zap.L().Info("model fitted",
			zap.String("run_id", run.ID),
			zap.String("formula", run.Formula),
			zap.Int("n_obs", run.NObs),
			zap.Int("effects", len(effects)),
		)

		if fitSave {
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			if err := st.SaveRun(ctx, run); err != nil {
				return err
			}
			if len(effects) > 0 {
				if err := st.SaveEffects(ctx, run.ID, effects); err != nil {
					return err
				}
			}
			zap.L().Info("run saved", zap.String("run_id", run.ID))
		}

		return writeJSON(cmd.OutOrStdout(), fitResult{Run: run, Effects: effects})
	},
}

func init() {
	fitCmd.Flags().StringVar(&fitData, "data", "", "panel file, CSV or XLSX (required)")
	fitCmd.Flags().StringVarP(&fitModel, "model", "m", "", `outcome and controls, e.g. "lemp ~ lpop" (required)`)
	fitCmd.Flags().StringVarP(&fitGroupVar, "group", "g", "", "cohort column: first treatment period per unit (required)")
	fitCmd.Flags().StringVarP(&fitTimeVar, "time", "t", "", "calendar period column (required)")
	fitCmd.Flags().Float64Var(&fitGroupRef, "gref", 0, "reference cohort level (default auto-detect)")
	fitCmd.Flags().Float64Var(&fitTimeRef, "tref", 0, "reference period level (default earliest period)")
	fitCmd.Flags().StringVar(&fitPolicy, "policy", "not_yet_treated", "control group: not_yet_treated or never_treated")
	fitCmd.Flags().StringVar(&fitMode, "mode", "interacted", "fixed effects: interacted, fixed_effects_only, or none")
	fitCmd.Flags().StringVar(&fitFamily, "family", "gaussian", "response family: gaussian, poisson, or binomial")
	fitCmd.Flags().StringVar(&fitVcov, "vcov", "iid", "covariance estimator: iid or hc1")
	fitCmd.Flags().StringVar(&fitLabel, "label", "", "dataset label to record (default file basename)")
	fitCmd.Flags().StringVar(&fitSheet, "sheet", "", "XLSX sheet name (default first sheet)")
	fitCmd.Flags().StringVar(&fitDelimiter, "delimiter", "", "CSV field delimiter (default comma)")
	fitCmd.Flags().StringVar(&fitEncoding, "encoding", "", `CSV charset, e.g. "latin1" (default UTF-8)`)
	fitCmd.Flags().StringSliceVar(&fitEffects, "effects", nil, "aggregations to compute: simple, event, group, calendar")
	fitCmd.Flags().BoolVar(&fitSave, "save", false, "persist the run to the store")
	_ = fitCmd.MarkFlagRequired("data")
	_ = fitCmd.MarkFlagRequired("model")
	_ = fitCmd.MarkFlagRequired("group")
	_ = fitCmd.MarkFlagRequired("time")
	rootCmd.AddCommand(fitCmd)
}

// fitResult is the JSON document fit and batch print per estimation.
type fitResult struct {
	Run     *model.Run     `json:"run"`
	Effects []model.Effect `json:"effects,omitempty"`
}

// loadPanel reads a panel dataset, dispatching on the file extension.
func loadPanel(path, sheet, delimiter, encoding string) (*panel.Dataset, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		opts := panel.CSVOptions{Encoding: encoding}
		if delimiter != "" {
			opts.Delimiter = []rune(delimiter)[0]
		}
		return panel.ReadCSVFile(path, opts)
	case ".xlsx":
		return panel.ReadXLSX(path, panel.XLSXOptions{SheetName: sheet})
	default:
		return nil, eris.Errorf("unsupported panel format %q; use .csv or .xlsx", filepath.Ext(path))
	}
}

// runFromFit converts a fitted model into the persisted run record. The
// ID and timestamp are assigned here so unsaved runs print them too.
func runFromFit(dataset string, fit *etwfe.Fit) *model.Run {
	prov := fit.Provenance

	run := &model.Run{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Dataset:   dataset,
		Outcome:   prov.Outcome,
		GroupVar:  prov.GroupVar,
		TimeVar:   prov.TimeVar,
		GroupRef:  formula.FormatLevel(prov.GroupRef),
		TimeRef:   formula.FormatLevel(prov.TimeRef),
		Policy:    string(prov.Policy),
		Mode:      string(prov.Mode),
		Family:    string(prov.Family),
		Vcov:      string(fit.Model.VcovKind),
		Formula:   fit.Formula(),
		NObs:      fit.Model.NObs,
	}

	run.Coefficients = make([]model.Coefficient, len(fit.Model.Names))
	for i, name := range fit.Model.Names {
		run.Coefficients[i] = model.Coefficient{
			Name:     name,
			Estimate: fit.Model.Coef[i],
			StdErr:   fit.Model.SE[i],
			Reported: fit.Model.Reported[i],
		}
	}
	return run
}

// aggregateKinds computes one effect set per requested kind and stamps
// the rows with the run ID.
func aggregateKinds(fit *etwfe.Fit, runID string, kinds []string) ([]model.Effect, error) {
	var out []model.Effect
	for _, k := range kinds {
		rows, err := marginal.Aggregate(fit, model.EffectKind(k))
		if err != nil {
			return nil, err
		}
		for i := range rows {
			rows[i].RunID = runID
		}
		out = append(out, rows...)
	}
	return out, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode json")
}
