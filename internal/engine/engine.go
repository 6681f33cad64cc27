package engine

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/gradient-research/etwfe/internal/formula"
	"github.com/gradient-research/etwfe/internal/panel"
)

// Vcov selects the coefficient covariance estimator.
type Vcov string

const (
	// VcovIID is the classical homoskedastic estimator, the default.
	VcovIID Vcov = "iid"
	// VcovHC1 is the heteroskedasticity-robust sandwich with the
	// n/(n-k) small-sample correction.
	VcovHC1 Vcov = "hc1"
)

// FitOptions is the opaque pass-through configuration a caller hands the
// engine without the specification layer interpreting it.
type FitOptions struct {
	Vcov    Vcov    // covariance estimator; default VcovIID
	MaxIter int     // IRLS iteration cap; default 25
	Tol     float64 // IRLS relative deviance tolerance; default 1e-8
}

// Options configures a single fit.
type Options struct {
	Family Family
	FitOptions
}

// Engine fits a model specification against a dataset.
type Engine interface {
	Fit(ctx context.Context, spec formula.Spec, data *panel.Dataset, opts Options) (*Result, error)
}

// Result is a fitted model: estimates, uncertainty, and diagnostics.
type Result struct {
	Names    []string  // coefficient names, design order
	Coef     []float64 // point estimates
	SE       []float64 // standard errors
	Reported []bool    // false for absorbed fixed-effect terms

	Vcov *mat.SymDense // full coefficient covariance

	Fitted    []float64 // response-scale fitted means
	Residuals []float64 // response residuals y - mu
	RowIndex  []int     // dataset rows used after listwise deletion

	NObs       int
	Rank       int
	DfResidual int
	Sigma2     float64 // gaussian dispersion estimate
	Deviance   float64
	LogLik     float64
	Iterations int // IRLS iterations; 0 for the gaussian path

	Family   Family
	VcovKind Vcov
}

// CoefByName returns the estimate for a named coefficient.
func (r *Result) CoefByName(name string) (float64, bool) {
	for i, n := range r.Names {
		if n == name {
			return r.Coef[i], true
		}
	}
	return 0, false
}

func (o Options) withDefaults() Options {
	if o.Family == "" {
		o.Family = Gaussian
	}
	if o.Vcov == "" {
		o.Vcov = VcovIID
	}
	if o.MaxIter == 0 {
		o.MaxIter = 25
	}
	if o.Tol == 0 {
		o.Tol = 1e-8
	}
	return o
}
