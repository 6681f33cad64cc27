// Package etwfe builds and fits extended two-way fixed effects
// difference-in-differences specifications for staggered treatment
// rollouts. Given an outcome, optional controls, a cohort variable, and a
// time variable, it resolves reference levels, derives the treatment
// indicator, demeans controls within (group, time) cells, assembles the
// saturated interaction specification, and fits it through the regression
// engine. The returned Fit carries provenance so the marginal package can
// aggregate the saturated coefficients into treatment effects.
package etwfe

import (
	"context"
	"math"

	"github.com/rotisserie/eris"

	"github.com/gradient-research/etwfe/internal/engine"
	"github.com/gradient-research/etwfe/internal/formula"
	"github.com/gradient-research/etwfe/internal/panel"
)

// BuildAndFit validates inputs, augments the dataset with derived
// columns, and fits the saturated specification. The input dataset is
// never modified; derived columns live on the returned Fit's copy. All
// validation runs before any derivation or fitting, and engine failures
// propagate unchanged.
func BuildAndFit(ctx context.Context, data *panel.Dataset, model string, groupVar, timeVar string, opts Options) (*Fit, error) {
	policy, err := ParseControlGroup(string(opts.ControlGroup))
	if err != nil {
		return nil, err
	}
	mode, err := ParseFEMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}
	if data == nil || data.NRows() == 0 {
		return nil, eris.New("etwfe: dataset has no rows")
	}

	parsed, err := formula.Parse(model)
	if err != nil {
		return nil, &InvalidFormulaError{Formula: model, Reason: err.Error()}
	}

	if err := requireNumeric(data, parsed.Response, "outcome"); err != nil {
		return nil, err
	}
	if err := requireNumeric(data, groupVar, "group"); err != nil {
		return nil, err
	}
	if err := requireNumeric(data, timeVar, "time"); err != nil {
		return nil, err
	}
	for _, c := range parsed.Controls {
		if err := requireNumeric(data, c, "control"); err != nil {
			return nil, err
		}
	}

	gref, err := resolveGroupRef(data, groupVar, timeVar, opts.GroupRef, policy)
	if err != nil {
		return nil, err
	}
	tref, err := resolveTimeRef(data, timeVar, opts.TimeRef)
	if err != nil {
		return nil, err
	}

	g := data.Float(groupVar)
	tv := data.Float(timeVar)

	dt := make([]float64, data.NRows())
	switch policy {
	case NeverTreated:
		// The never-treated cohort is excluded through the reference
		// category instead of the indicator, so every row is "on".
		for i := range dt {
			dt[i] = 1
		}
	default:
		for i := range dt {
			if tv[i] >= g[i] && g[i] != gref {
				dt[i] = 1
			}
		}
	}

	aug, err := data.WithColumn(panel.NewFloatColumn(TreatVar, dt))
	if err != nil {
		return nil, eris.Wrap(err, "etwfe: derive treatment indicator")
	}

	dmNames := make([]string, 0, len(parsed.Controls))
	for _, c := range parsed.Controls {
		dm := demeanByCell(data.Float(c), g, tv)
		aug, err = aug.WithColumn(panel.NewFloatColumn(c+DemeanSuffix, dm))
		if err != nil {
			return nil, eris.Wrapf(err, "etwfe: demean control %q", c)
		}
		dmNames = append(dmNames, c+DemeanSuffix)
	}

	spec := buildSpec(parsed.Response, groupVar, timeVar, gref, tref, dmNames, mode)

	eng := opts.Engine
	if eng == nil {
		eng = engine.NewLeastSquares()
	}
	res, err := eng.Fit(ctx, spec, aug, engine.Options{Family: opts.Family, FitOptions: opts.Fit})
	if err != nil {
		// Numerical failures cannot be remediated here.
		return nil, err
	}

	return &Fit{
		Model: res,
		Spec:  spec,
		Data:  aug,
		Provenance: Provenance{
			GroupVar:     groupVar,
			TimeVar:      timeVar,
			GroupRef:     gref,
			TimeRef:      tref,
			Policy:       policy,
			Mode:         mode,
			Family:       res.Family,
			Outcome:      parsed.Response,
			Controls:     parsed.Controls,
			TreatVar:     TreatVar,
			DemeanSuffix: DemeanSuffix,
		},
	}, nil
}

func requireNumeric(data *panel.Dataset, name, role string) error {
	c := data.Column(name)
	if c == nil {
		return &UnknownColumnError{Column: name, Role: role}
	}
	if c.Kind != panel.Numeric {
		return eris.Errorf("etwfe: %s column %q is not numeric", role, name)
	}
	return nil
}

// resolveGroupRef picks the reference cohort. Auto-detection selects the
// smallest group level strictly greater than the latest observed time,
// the deterministic tie-break for datasets encoding "never treated" as a
// beyond-horizon value.
func resolveGroupRef(data *panel.Dataset, groupVar, timeVar string, explicit *float64, policy ControlGroup) (float64, error) {
	if explicit != nil {
		if !data.Column(groupVar).Contains(*explicit) {
			return 0, &InvalidReferenceError{Column: groupVar, Value: *explicit}
		}
		return *explicit, nil
	}
	tmax, ok := data.Column(timeVar).Max()
	if !ok {
		return 0, &ReferenceNotFoundError{Column: groupVar, Policy: policy}
	}
	for _, lv := range data.Column(groupVar).Levels() {
		if lv > tmax {
			return lv, nil
		}
	}
	return 0, &ReferenceNotFoundError{Column: groupVar, Policy: policy}
}

func resolveTimeRef(data *panel.Dataset, timeVar string, explicit *float64) (float64, error) {
	if explicit != nil {
		if !data.Column(timeVar).Contains(*explicit) {
			return 0, &InvalidReferenceError{Column: timeVar, Value: *explicit}
		}
		return *explicit, nil
	}
	tmin, ok := data.Column(timeVar).Min()
	if !ok {
		return 0, eris.Errorf("etwfe: time column %q has no observed values", timeVar)
	}
	return tmin, nil
}

type cell struct{ g, t float64 }

// demeanByCell centers vals on its (group, time) cell means. Rows with a
// missing value in vals, g, or t stay missing and do not contribute to
// any cell mean.
func demeanByCell(vals, g, t []float64) []float64 {
	sum := make(map[cell]float64)
	cnt := make(map[cell]int)
	for i := range vals {
		if math.IsNaN(vals[i]) || math.IsNaN(g[i]) || math.IsNaN(t[i]) {
			continue
		}
		k := cell{g[i], t[i]}
		sum[k] += vals[i]
		cnt[k]++
	}
	out := make([]float64, len(vals))
	for i := range vals {
		if math.IsNaN(vals[i]) || math.IsNaN(g[i]) || math.IsNaN(t[i]) {
			out[i] = math.NaN()
			continue
		}
		k := cell{g[i], t[i]}
		out[i] = vals[i] - sum[k]/float64(cnt[k])
	}
	return out
}

// buildSpec assembles the model. The saturated block interacts the
// treatment indicator with every non-reference (group, time) pair and
// nests the demeaned controls inside each cell; the rest of the model
// depends on the fixed effects mode.
func buildSpec(outcome, groupVar, timeVar string, gref, tref float64, dmNames []string, mode FEMode) formula.Spec {
	treat := formula.Interact(
		formula.Ind(TreatVar),
		formula.Cat(groupVar, gref),
		formula.Cat(timeVar, tref),
	)
	if len(dmNames) > 0 {
		treat = treat.Nest(dmNames...)
	}
	spec := formula.Spec{Response: outcome, Terms: []formula.Term{treat}}

	switch mode {
	case FEOnly:
		spec.Terms = append(spec.Terms, controlTerms(groupVar, timeVar, gref, tref, dmNames)...)
		spec.FixedEffects = []formula.FixedEffect{
			formula.FE(groupVar),
			formula.FE(timeVar),
		}
	case FENone:
		spec.Terms = append(spec.Terms,
			formula.Interact(formula.Cat(groupVar, gref)),
			formula.Interact(formula.Cat(timeVar, tref)),
		)
		spec.Terms = append(spec.Terms, controlTerms(groupVar, timeVar, gref, tref, dmNames)...)
	default:
		spec.FixedEffects = []formula.FixedEffect{
			formula.FE(groupVar, dmNames...),
			formula.FE(timeVar, dmNames...),
		}
	}
	return spec
}

// controlTerms emits the explicit control block used by the simplified
// modes: each demeaned control additively, then interacted with the
// non-reference group and time dummies.
func controlTerms(groupVar, timeVar string, gref, tref float64, dmNames []string) []formula.Term {
	var out []formula.Term
	for _, dm := range dmNames {
		out = append(out,
			formula.Interact(formula.Cont(dm)),
			formula.Interact(formula.Cat(groupVar, gref), formula.Cont(dm)),
			formula.Interact(formula.Cat(timeVar, tref), formula.Cont(dm)),
		)
	}
	return out
}
