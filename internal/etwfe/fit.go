package etwfe

import (
	"github.com/gradient-research/etwfe/internal/engine"
	"github.com/gradient-research/etwfe/internal/formula"
	"github.com/gradient-research/etwfe/internal/panel"
)

// Derived column names. TreatVar starts with a dot so it cannot collide
// with user data columns.
const (
	TreatVar     = ".Dtreat"
	DemeanSuffix = "_dm"
)

// Provenance records how a fit was constructed so the aggregation step
// can interpret coefficients without re-deriving anything.
type Provenance struct {
	GroupVar string
	TimeVar  string
	GroupRef float64
	TimeRef  float64

	Policy ControlGroup
	Mode   FEMode
	Family engine.Family

	Outcome  string
	Controls []string // raw control names, before demeaning

	TreatVar     string
	DemeanSuffix string
}

// Fit wraps the engine's fitted model with the specification that
// produced it, the augmented dataset it was fitted on, and provenance.
type Fit struct {
	Model *engine.Result
	Spec  formula.Spec

	// Data is the augmented copy used for fitting: the caller's columns
	// plus the treatment indicator and any demeaned controls.
	Data *panel.Dataset

	Provenance Provenance
}

// Formula renders the specification the model was fitted with.
func (f *Fit) Formula() string { return f.Spec.String() }

// DemeanedControls returns the derived control column names.
func (f *Fit) DemeanedControls() []string {
	out := make([]string, len(f.Provenance.Controls))
	for i, c := range f.Provenance.Controls {
		out[i] = c + f.Provenance.DemeanSuffix
	}
	return out
}
