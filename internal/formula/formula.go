// Package formula models regression specifications as typed expressions:
// factors, interaction terms, nested slopes, and fixed-effects blocks.
// Construction and serialization are separate so that level-exclusion
// logic stays testable independent of text formatting.
package formula

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Kind classifies a factor within a term.
type Kind int

const (
	// Continuous factors contribute their numeric value.
	Continuous Kind = iota
	// Categorical factors expand into one indicator per observed level,
	// minus the omitted reference levels.
	Categorical
	// Indicator factors are boolean columns contributing 0/1.
	Indicator
)

// Factor is one component of an interaction term.
type Factor struct {
	Name string
	Kind Kind
	Omit []float64 // reference levels excluded from expansion (Categorical only)
}

// Cont builds a continuous factor.
func Cont(name string) Factor { return Factor{Name: name, Kind: Continuous} }

// Cat builds a categorical factor with the given omitted reference levels.
func Cat(name string, omit ...float64) Factor {
	return Factor{Name: name, Kind: Categorical, Omit: omit}
}

// Ind builds an indicator factor.
func Ind(name string) Factor { return Factor{Name: name, Kind: Indicator} }

// Omits reports whether the factor excludes the given level.
func (f Factor) Omits(level float64) bool {
	for _, o := range f.Omit {
		if o == level {
			return true
		}
	}
	return false
}

// Term is an interaction product of factors, optionally nested by slope
// covariates: each slope multiplies every expanded cell of the base
// interaction into an additional coefficient.
type Term struct {
	Factors []Factor
	Slopes  []string
}

// Interact builds a term from the product of the given factors.
func Interact(factors ...Factor) Term { return Term{Factors: factors} }

// Nest returns a copy of the term carrying the given slope covariates.
func (t Term) Nest(slopes ...string) Term {
	t.Slopes = append(append([]string(nil), t.Slopes...), slopes...)
	return t
}

// FixedEffect is an absorbed categorical effect, optionally with varying
// slopes on the listed covariates.
type FixedEffect struct {
	Name   string
	Slopes []string
}

// FE builds a fixed effect on the named variable.
func FE(name string, slopes ...string) FixedEffect {
	return FixedEffect{Name: name, Slopes: slopes}
}

// Spec is a complete model specification: response, reported terms, and
// an optional fixed-effects block.
type Spec struct {
	Response     string
	Terms        []Term
	FixedEffects []FixedEffect
}

// HasSlopes reports whether any term or fixed effect carries slope covariates.
func (s Spec) HasSlopes() bool {
	for _, t := range s.Terms {
		if len(t.Slopes) > 0 {
			return true
		}
	}
	for _, fe := range s.FixedEffects {
		if len(fe.Slopes) > 0 {
			return true
		}
	}
	return false
}

// FormatLevel renders a level value the way coefficient names and
// serialized formulas spell it.
func FormatLevel(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func (f Factor) String() string {
	if f.Kind != Categorical {
		return f.Name
	}
	switch len(f.Omit) {
	case 0:
		return "i(" + f.Name + ")"
	case 1:
		return "i(" + f.Name + ", ref = " + FormatLevel(f.Omit[0]) + ")"
	default:
		parts := make([]string, len(f.Omit))
		for i, o := range f.Omit {
			parts[i] = FormatLevel(o)
		}
		return "i(" + f.Name + ", ref = c(" + strings.Join(parts, ", ") + "))"
	}
}

func (t Term) String() string {
	parts := make([]string, len(t.Factors))
	for i, f := range t.Factors {
		parts[i] = f.String()
	}
	s := strings.Join(parts, ":")
	switch len(t.Slopes) {
	case 0:
	case 1:
		s += " / " + t.Slopes[0]
	default:
		s += " / (" + strings.Join(t.Slopes, " + ") + ")"
	}
	return s
}

func (fe FixedEffect) String() string {
	if len(fe.Slopes) == 0 {
		return fe.Name
	}
	return fe.Name + "[[" + strings.Join(fe.Slopes, ", ") + "]]"
}

// String serializes the specification in a fixest-style display form:
// response ~ term + term | fe + fe.
func (s Spec) String() string {
	terms := make([]string, len(s.Terms))
	for i, t := range s.Terms {
		terms[i] = t.String()
	}
	rhs := strings.Join(terms, " + ")
	if rhs == "" {
		rhs = "1"
	}
	out := s.Response + " ~ " + rhs
	if len(s.FixedEffects) > 0 {
		fes := make([]string, len(s.FixedEffects))
		for i, fe := range s.FixedEffects {
			fes[i] = fe.String()
		}
		out += " | " + strings.Join(fes, " + ")
	}
	return out
}

// Parsed is a user-supplied outcome/controls formula after parsing.
type Parsed struct {
	Response string
	Controls []string
}

// Parse splits a user formula of the form "y ~ x1 + x2" into response and
// control names. An empty, "0", or "1" right-hand side means no controls.
func Parse(s string) (Parsed, error) {
	lhs, rhs, found := strings.Cut(s, "~")
	if !found {
		return Parsed{}, eris.Errorf("formula: missing '~' in %q", s)
	}

	resp := strings.TrimSpace(lhs)
	if resp == "" {
		return Parsed{}, eris.Errorf("formula: missing outcome on the left-hand side of %q", s)
	}
	if strings.ContainsAny(resp, "+:|()") {
		return Parsed{}, eris.Errorf("formula: outcome must be a single column, got %q", resp)
	}

	var controls []string
	for _, tok := range strings.Split(rhs, "+") {
		tok = strings.TrimSpace(tok)
		if tok == "" || tok == "0" || tok == "1" {
			continue
		}
		if strings.ContainsAny(tok, "|:()*~") {
			return Parsed{}, eris.Errorf("formula: unsupported term %q; controls must be plain column names", tok)
		}
		controls = append(controls, tok)
	}

	return Parsed{Response: resp, Controls: controls}, nil
}
