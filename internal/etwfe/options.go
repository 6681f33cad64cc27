package etwfe

import (
	"github.com/rotisserie/eris"

	"github.com/gradient-research/etwfe/internal/engine"
)

// ControlGroup selects which units serve as the comparison group when the
// treatment indicator is derived.
type ControlGroup string

const (
	// NotYetTreated compares against units not yet treated at each
	// period, the default.
	NotYetTreated ControlGroup = "not_yet_treated"
	// NeverTreated compares against the never-treated cohort only; the
	// indicator is constant and the cohort is absorbed as the reference
	// category of the interaction.
	NeverTreated ControlGroup = "never_treated"
)

// ParseControlGroup validates a policy name; empty selects NotYetTreated.
func ParseControlGroup(s string) (ControlGroup, error) {
	switch ControlGroup(s) {
	case "", NotYetTreated:
		return NotYetTreated, nil
	case NeverTreated:
		return NeverTreated, nil
	}
	return "", eris.Errorf("etwfe: unsupported control group policy %q", s)
}

// FEMode selects how group and time enter the model outside the
// saturated treatment block.
type FEMode string

const (
	// FEInteracted absorbs group and time as fixed effects with the
	// demeaned controls as varying slopes, the default.
	FEInteracted FEMode = "interacted"
	// FEOnly absorbs plain group and time fixed effects; controls enter
	// additively with explicit group and time interactions.
	FEOnly FEMode = "fixed_effects_only"
	// FENone enters group and time as ordinary dummy regressors for
	// engines without fixed-effect absorption.
	FENone FEMode = "none"
)

// ParseFEMode validates a mode name; empty selects FEInteracted.
func ParseFEMode(s string) (FEMode, error) {
	switch FEMode(s) {
	case "", FEInteracted:
		return FEInteracted, nil
	case FEOnly:
		return FEOnly, nil
	case FENone:
		return FENone, nil
	}
	return "", eris.Errorf("etwfe: unsupported fixed effects mode %q", s)
}

// Options configures BuildAndFit. The zero value requests reference
// auto-detection, the not-yet-treated policy, interacted fixed effects,
// a gaussian fit, and the default engine.
type Options struct {
	GroupRef *float64 // explicit group reference; nil auto-detects
	TimeRef  *float64 // explicit time reference; nil uses the minimum time

	ControlGroup ControlGroup
	Mode         FEMode

	Family engine.Family
	Engine engine.Engine // nil uses engine.NewLeastSquares()

	// Fit is forwarded verbatim to the engine and never interpreted
	// here.
	Fit engine.FitOptions
}

// Ref is a convenience for building the optional reference fields.
func Ref(v float64) *float64 { return &v }
