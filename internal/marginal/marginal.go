// Package marginal turns a fitted saturated specification into average
// treatment effects. It contrasts model predictions with the treatment
// indicator switched on and off over the treated subsample, averages the
// contrast by the requested dimension, and delta-methods the standard
// errors through the coefficient covariance.
package marginal

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"

	"github.com/gradient-research/etwfe/internal/engine"
	"github.com/gradient-research/etwfe/internal/etwfe"
	"github.com/gradient-research/etwfe/internal/model"
	"github.com/gradient-research/etwfe/internal/panel"
)

// Aggregate computes treatment effects of the requested kind from a fit.
// Rows are grouped by event time (period minus cohort), cohort, calendar
// period, or pooled into one overall effect; within each group the
// estimate is the mean predicted contrast over actually treated rows.
func Aggregate(fit *etwfe.Fit, kind model.EffectKind) ([]model.Effect, error) {
	if !model.ValidEffectKind(string(kind)) {
		return nil, eris.Errorf("marginal: unknown effect kind %q", kind)
	}
	if fit == nil || fit.Model == nil || fit.Model.Vcov == nil {
		return nil, eris.New("marginal: fit carries no model")
	}
	prov := fit.Provenance

	on, err := toggled(fit.Data, prov.TreatVar, 1)
	if err != nil {
		return nil, eris.Wrap(err, "marginal: toggle treatment on")
	}
	off, err := toggled(fit.Data, prov.TreatVar, 0)
	if err != nil {
		return nil, eris.Wrap(err, "marginal: toggle treatment off")
	}

	d1, err := engine.BuildDesign(fit.Spec, on)
	if err != nil {
		return nil, eris.Wrap(err, "marginal: counterfactual design")
	}
	d0, err := engine.BuildDesign(fit.Spec, off)
	if err != nil {
		return nil, eris.Wrap(err, "marginal: counterfactual design")
	}
	if !sameNames(d1.Names, fit.Model.Names) || !sameNames(d0.Names, fit.Model.Names) {
		return nil, eris.New("marginal: counterfactual design does not match the fitted model")
	}

	g := fit.Data.Float(prov.GroupVar)
	tv := fit.Data.Float(prov.TimeVar)
	fam := fit.Model.Family
	beta := fit.Model.Coef
	k := len(beta)

	type bucket struct {
		key  float64
		n    int
		sum  float64
		grad []float64
	}
	buckets := make(map[float64]*bucket)

	for i, ri := range d1.RowIndex {
		// The effect is defined over rows that are actually treated,
		// whatever the indicator says under the never-treated policy.
		if g[ri] == prov.GroupRef || tv[ri] < g[ri] {
			continue
		}

		eta1 := rowDot(d1.X, i, beta)
		eta0 := rowDot(d0.X, i, beta)
		delta := fam.LinkInv(eta1) - fam.LinkInv(eta0)
		w1 := fam.MuEta(eta1)
		w0 := fam.MuEta(eta0)

		var key float64
		switch kind {
		case model.EffectEvent:
			key = tv[ri] - g[ri]
		case model.EffectGroup:
			key = g[ri]
		case model.EffectCalendar:
			key = tv[ri]
		}

		b := buckets[key]
		if b == nil {
			b = &bucket{key: key, grad: make([]float64, k)}
			buckets[key] = b
		}
		b.n++
		b.sum += delta
		for j := 0; j < k; j++ {
			b.grad[j] += w1*d1.X.At(i, j) - w0*d0.X.At(i, j)
		}
	}
	if len(buckets) == 0 {
		return nil, eris.New("marginal: no treated rows to aggregate")
	}

	keys := make([]float64, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Float64s(keys)

	out := make([]model.Effect, 0, len(keys))
	for _, key := range keys {
		b := buckets[key]
		n := float64(b.n)
		for j := range b.grad {
			b.grad[j] /= n
		}
		out = append(out, model.Effect{
			Kind:     kind,
			Key:      b.key,
			Estimate: b.sum / n,
			StdErr:   deltaSE(b.grad, fit.Model.Vcov),
			N:        b.n,
		})
	}
	return out, nil
}

// deltaSE is sqrt(g' V g) for the averaged gradient.
func deltaSE(grad []float64, vcov *mat.SymDense) float64 {
	var v float64
	for i := range grad {
		for j := range grad {
			v += grad[i] * vcov.At(i, j) * grad[j]
		}
	}
	if v < 0 {
		v = 0
	}
	return math.Sqrt(v)
}

func toggled(data *panel.Dataset, name string, v float64) (*panel.Dataset, error) {
	vals := make([]float64, data.NRows())
	for i := range vals {
		vals[i] = v
	}
	return data.Replace(panel.NewFloatColumn(name, vals))
}

func rowDot(x *mat.Dense, i int, b []float64) float64 {
	s := 0.0
	for j := range b {
		s += x.At(i, j) * b[j]
	}
	return s
}

func sameNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
