// Package engine fits linear and generalized linear models on a design
// matrix materialized from a typed formula specification. Gaussian models
// solve the normal equations directly; other families go through IRLS.
package engine

import (
	"math"

	"github.com/rotisserie/eris"
)

// Family selects the response distribution and its canonical link.
type Family string

const (
	// Gaussian is the identity-link linear model, the default.
	Gaussian Family = "gaussian"
	// Poisson is the log-link count model.
	Poisson Family = "poisson"
	// Binomial is the logit-link binary model.
	Binomial Family = "binomial"
)

// ParseFamily validates a family name; empty selects Gaussian.
func ParseFamily(s string) (Family, error) {
	switch Family(s) {
	case "", Gaussian:
		return Gaussian, nil
	case Poisson:
		return Poisson, nil
	case Binomial:
		return Binomial, nil
	}
	return "", eris.Errorf("engine: unsupported family %q", s)
}

// LinkInv maps the linear predictor to the response mean.
func (f Family) LinkInv(eta float64) float64 {
	switch f {
	case Poisson:
		return math.Exp(eta)
	case Binomial:
		return 1 / (1 + math.Exp(-eta))
	default:
		return eta
	}
}

// MuEta is the derivative of the inverse link, dmu/deta.
func (f Family) MuEta(eta float64) float64 {
	switch f {
	case Poisson:
		return math.Exp(eta)
	case Binomial:
		p := 1 / (1 + math.Exp(-eta))
		return p * (1 - p)
	default:
		return 1
	}
}

// Variance is the GLM variance function evaluated at the mean.
func (f Family) Variance(mu float64) float64 {
	switch f {
	case Poisson:
		return mu
	case Binomial:
		return mu * (1 - mu)
	default:
		return 1
	}
}

// startMu gives a safe initial mean for IRLS.
func (f Family) startMu(y float64) float64 {
	switch f {
	case Poisson:
		return y + 0.5
	case Binomial:
		return (y + 0.5) / 2
	default:
		return y
	}
}

// link maps a mean to the linear predictor.
func (f Family) link(mu float64) float64 {
	switch f {
	case Poisson:
		return math.Log(mu)
	case Binomial:
		return math.Log(mu / (1 - mu))
	default:
		return mu
	}
}

// devianceUnit is one observation's contribution to the model deviance.
func (f Family) devianceUnit(y, mu float64) float64 {
	switch f {
	case Poisson:
		d := -(y - mu)
		if y > 0 {
			d += y * math.Log(y/mu)
		}
		return 2 * d
	case Binomial:
		var d float64
		if y > 0 {
			d += y * math.Log(y/mu)
		}
		if y < 1 {
			d += (1 - y) * math.Log((1-y)/(1-mu))
		}
		return 2 * d
	default:
		r := y - mu
		return r * r
	}
}

// logLikUnit is one observation's log-likelihood given the fitted mean.
// The gaussian case uses the supplied dispersion.
func (f Family) logLikUnit(y, mu, sigma2 float64) float64 {
	switch f {
	case Poisson:
		lg, _ := math.Lgamma(y + 1)
		return y*math.Log(mu) - mu - lg
	case Binomial:
		if y > 0.5 {
			return math.Log(mu)
		}
		return math.Log(1 - mu)
	default:
		r := y - mu
		return -0.5 * (math.Log(2*math.Pi*sigma2) + r*r/sigma2)
	}
}
