package engine

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"

	"github.com/gradient-research/etwfe/internal/formula"
	"github.com/gradient-research/etwfe/internal/panel"
)

// svdRankTol is the relative singular-value cutoff for the rank-deficient
// fallback path.
const svdRankTol = 1e-12

// LeastSquares is the default Engine: direct normal-equations solve for
// gaussian models, IRLS for the other families, with an SVD fallback when
// the cross-product matrix is not positive definite.
type LeastSquares struct{}

// NewLeastSquares returns the default engine.
func NewLeastSquares() *LeastSquares { return &LeastSquares{} }

// Fit materializes the design and estimates the model.
func (e *LeastSquares) Fit(ctx context.Context, spec formula.Spec, data *panel.Dataset, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	if _, err := ParseFamily(string(opts.Family)); err != nil {
		return nil, err
	}
	switch opts.Vcov {
	case VcovIID, VcovHC1:
	default:
		return nil, eris.Errorf("engine: unsupported vcov %q", opts.Vcov)
	}

	design, err := BuildDesign(spec, data)
	if err != nil {
		return nil, err
	}
	if err := validateResponse(opts.Family, design.Y); err != nil {
		return nil, err
	}

	if opts.Family == Gaussian {
		return fitGaussian(ctx, design, opts)
	}
	return fitIRLS(ctx, design, opts)
}

func validateResponse(fam Family, y []float64) error {
	switch fam {
	case Poisson:
		for _, v := range y {
			if v < 0 {
				return eris.New("engine: poisson response must be non-negative")
			}
		}
	case Binomial:
		for _, v := range y {
			if v != 0 && v != 1 {
				return eris.New("engine: binomial response must be 0/1")
			}
		}
	}
	return nil
}

func fitGaussian(ctx context.Context, d *Design, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "engine: fit cancelled")
	}

	n, k := d.NRows(), d.NCols()
	beta, xtxInv, rank, err := solveWLS(d.X, d.Y, nil)
	if err != nil {
		return nil, err
	}

	fitted := matVec(d.X, beta)
	resid := make([]float64, n)
	rss := 0.0
	for i := range resid {
		resid[i] = d.Y[i] - fitted[i]
		rss += resid[i] * resid[i]
	}

	df := n - rank
	if df <= 0 {
		return nil, eris.Errorf("engine: no residual degrees of freedom (n=%d, rank=%d)", n, rank)
	}
	sigma2 := rss / float64(df)

	vcov := covariance(opts.Vcov, d.X, xtxInv, resid, sigma2, n, k)
	se := diagSqrt(vcov)

	logLik := 0.0
	mlSigma2 := rss / float64(n)
	for i := range resid {
		logLik += Gaussian.logLikUnit(d.Y[i], fitted[i], mlSigma2)
	}

	return &Result{
		Names:      d.Names,
		Coef:       beta,
		SE:         se,
		Reported:   d.Reported,
		Vcov:       vcov,
		Fitted:     fitted,
		Residuals:  resid,
		RowIndex:   d.RowIndex,
		NObs:       n,
		Rank:       rank,
		DfResidual: df,
		Sigma2:     sigma2,
		Deviance:   rss,
		LogLik:     logLik,
		Family:     Gaussian,
		VcovKind:   opts.Vcov,
	}, nil
}

func fitIRLS(ctx context.Context, d *Design, opts Options) (*Result, error) {
	fam := opts.Family
	n, k := d.NRows(), d.NCols()
	y := d.Y

	eta := make([]float64, n)
	mu := make([]float64, n)
	for i := range y {
		mu[i] = fam.startMu(y[i])
		eta[i] = fam.link(mu[i])
	}
	dev := totalDeviance(fam, y, mu)

	var (
		beta   []float64
		xtxInv *mat.SymDense
		rank   int
		iter   int
	)
	w := make([]float64, n)
	z := make([]float64, n)
	converged := false

	for iter = 1; iter <= opts.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "engine: fit cancelled")
		}

		for i := range y {
			me := fam.MuEta(eta[i])
			v := fam.Variance(mu[i])
			if v < 1e-10 {
				v = 1e-10
			}
			if math.Abs(me) < 1e-10 {
				me = math.Copysign(1e-10, me)
			}
			w[i] = me * me / v
			z[i] = eta[i] + (y[i]-mu[i])/me
		}

		var err error
		beta, xtxInv, rank, err = solveWLS(d.X, z, w)
		if err != nil {
			return nil, eris.Wrapf(err, "engine: irls iteration %d", iter)
		}

		eta = matVec(d.X, beta)
		for i := range eta {
			mu[i] = fam.LinkInv(eta[i])
		}
		devNew := totalDeviance(fam, y, mu)
		if math.Abs(devNew-dev)/(math.Abs(devNew)+0.1) < opts.Tol {
			dev = devNew
			converged = true
			break
		}
		dev = devNew
	}
	if !converged {
		return nil, eris.Errorf("engine: irls did not converge after %d iterations", opts.MaxIter)
	}

	df := n - rank
	if df <= 0 {
		return nil, eris.Errorf("engine: no residual degrees of freedom (n=%d, rank=%d)", n, rank)
	}

	resid := make([]float64, n)
	for i := range resid {
		resid[i] = y[i] - mu[i]
	}

	// Dispersion is fixed at 1 for poisson and binomial, so the iid
	// covariance is the inverse weighted cross-product itself. The robust
	// meat uses the unweighted scores (y - mu) x_i of the canonical links
	// fitted here.
	var vcov *mat.SymDense
	if opts.Vcov == VcovHC1 {
		vcov = sandwich(d.X, xtxInv, resid, n, k)
	} else {
		vcov = covariance(VcovIID, d.X, xtxInv, resid, 1, n, k)
	}
	se := diagSqrt(vcov)

	logLik := 0.0
	for i := range y {
		logLik += fam.logLikUnit(y[i], mu[i], 1)
	}

	return &Result{
		Names:      d.Names,
		Coef:       beta,
		SE:         se,
		Reported:   d.Reported,
		Vcov:       vcov,
		Fitted:     mu,
		Residuals:  resid,
		RowIndex:   d.RowIndex,
		NObs:       n,
		Rank:       rank,
		DfResidual: df,
		Sigma2:     1,
		Deviance:   dev,
		LogLik:     logLik,
		Iterations: iter,
		Family:     fam,
		VcovKind:   opts.Vcov,
	}, nil
}

// solveWLS solves the (optionally weighted) least-squares problem and
// returns the estimates, the inverse cross-product, and the design rank.
// A Cholesky factorization is attempted first; singular designs fall back
// to a rank-revealing SVD with a minimum-norm solution.
func solveWLS(x *mat.Dense, y []float64, w []float64) ([]float64, *mat.SymDense, int, error) {
	n, k := x.Dims()
	if len(y) != n {
		return nil, nil, 0, eris.Errorf("engine: response length %d does not match design rows %d", len(y), n)
	}

	xw := x
	yw := y
	if w != nil {
		sw := make([]float64, n)
		for i, wi := range w {
			sw[i] = math.Sqrt(wi)
		}
		xw = rowScaled(x, sw)
		yw = make([]float64, n)
		for i := range y {
			yw[i] = y[i] * sw[i]
		}
	}

	var xtx mat.Dense
	xtx.Mul(xw.T(), xw)
	sym := denseToSym(&xtx)

	yVec := mat.NewVecDense(n, yw)
	var xty mat.VecDense
	xty.MulVec(xw.T(), yVec)

	// A well-conditioned design solves through Cholesky; any failure,
	// including a near-singular factor, drops to the SVD path below.
	var chol mat.Cholesky
	if chol.Factorize(sym) {
		var betaVec mat.VecDense
		var inv mat.SymDense
		if chol.SolveVecTo(&betaVec, &xty) == nil && chol.InverseTo(&inv) == nil {
			return vecSlice(&betaVec), &inv, k, nil
		}
	}

	// Rank-deficient design: rank-revealing SVD, minimum-norm solution,
	// and a pseudo-inverse for the covariance.
	var svd mat.SVD
	if !svd.Factorize(xw, mat.SVDThin) {
		return nil, nil, 0, eris.New("engine: svd factorization failed")
	}
	rank := svd.Rank(svdRankTol)
	if rank == 0 {
		return nil, nil, 0, eris.New("engine: design matrix has rank zero")
	}

	var sol mat.Dense
	svd.SolveTo(&sol, mat.NewDense(n, 1, yw), rank)
	beta := make([]float64, k)
	for j := 0; j < k; j++ {
		beta[j] = sol.At(j, 0)
	}

	inv := pseudoInverseXtX(&svd, k, rank)
	return beta, inv, rank, nil
}

// pseudoInverseXtX builds (X'X)^+ = V S^-2 V' from a factorized SVD of X.
func pseudoInverseXtX(svd *mat.SVD, k, rank int) *mat.SymDense {
	var v mat.Dense
	svd.VTo(&v)
	s := svd.Values(nil)

	inv := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			sum := 0.0
			for r := 0; r < rank; r++ {
				sum += v.At(i, r) * v.At(j, r) / (s[r] * s[r])
			}
			inv.SetSym(i, j, sum)
		}
	}
	return inv
}

// covariance selects the requested estimator. For the iid case vcov is
// sigma2 * (X'X)^-1; hc1 builds the heteroskedasticity-robust sandwich.
func covariance(kind Vcov, x *mat.Dense, xtxInv *mat.SymDense, resid []float64, sigma2 float64, n, k int) *mat.SymDense {
	if kind == VcovHC1 {
		return sandwich(x, xtxInv, resid, n, k)
	}
	out := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			out.SetSym(i, j, sigma2*xtxInv.At(i, j))
		}
	}
	return out
}

// sandwich computes bread * meat * bread with meat = sum e_i^2 x_i x_i'
// and the HC1 small-sample scale n/(n-k).
func sandwich(x *mat.Dense, bread *mat.SymDense, resid []float64, n, k int) *mat.SymDense {
	xe := rowScaled(x, resid)
	var meat mat.Dense
	meat.Mul(xe.T(), xe)

	var tmp, full mat.Dense
	tmp.Mul(bread, &meat)
	full.Mul(&tmp, bread)

	scale := float64(n) / float64(n-k)
	out := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			out.SetSym(i, j, scale*(full.At(i, j)+full.At(j, i))/2)
		}
	}
	return out
}

func rowScaled(x *mat.Dense, s []float64) *mat.Dense {
	n, k := x.Dims()
	out := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			out.Set(i, j, x.At(i, j)*s[i])
		}
	}
	return out
}

func matVec(x *mat.Dense, b []float64) []float64 {
	n, k := x.Dims()
	out := make([]float64, n)
	bv := mat.NewVecDense(k, b)
	var fv mat.VecDense
	fv.MulVec(x, bv)
	for i := 0; i < n; i++ {
		out[i] = fv.AtVec(i)
	}
	return out
}

func vecSlice(v *mat.VecDense) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}

func denseToSym(d *mat.Dense) *mat.SymDense {
	_, k := d.Dims()
	sym := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			sym.SetSym(i, j, (d.At(i, j)+d.At(j, i))/2)
		}
	}
	return sym
}

func diagSqrt(v *mat.SymDense) []float64 {
	k, _ := v.Dims()
	out := make([]float64, k)
	for i := 0; i < k; i++ {
		d := v.At(i, i)
		if d < 0 {
			d = 0
		}
		out[i] = math.Sqrt(d)
	}
	return out
}

func totalDeviance(fam Family, y, mu []float64) float64 {
	dev := 0.0
	for i := range y {
		dev += fam.devianceUnit(y[i], mu[i])
	}
	return dev
}
