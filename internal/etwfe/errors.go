package etwfe

import (
	"fmt"

	"github.com/gradient-research/etwfe/internal/formula"
)

// InvalidFormulaError reports a model formula that could not be parsed,
// most commonly a missing outcome on the left-hand side.
type InvalidFormulaError struct {
	Formula string
	Reason  string
}

func (e *InvalidFormulaError) Error() string {
	return fmt.Sprintf("etwfe: invalid formula %q: %s", e.Formula, e.Reason)
}

// UnknownColumnError reports a referenced column that is not in the
// dataset. Role says how the column was referenced (outcome, control,
// group, time).
type UnknownColumnError struct {
	Column string
	Role   string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("etwfe: %s column %q not found in dataset", e.Role, e.Column)
}

// InvalidReferenceError reports a caller-supplied reference level that
// does not occur in the named column.
type InvalidReferenceError struct {
	Column string
	Value  float64
}

func (e *InvalidReferenceError) Error() string {
	return fmt.Sprintf("etwfe: reference level %s not present in column %q",
		formula.FormatLevel(e.Value), e.Column)
}

// ReferenceNotFoundError reports that no group level could be
// auto-selected as the reference: no level exceeds the maximum observed
// time, so no comparison group exists under the requested policy. The
// caller should pass an explicit group reference.
type ReferenceNotFoundError struct {
	Column string
	Policy ControlGroup
}

func (e *ReferenceNotFoundError) Error() string {
	return fmt.Sprintf("etwfe: no reference level found for %q under control group policy %q: no value of %q exceeds the latest observed time; supply an explicit group reference",
		e.Column, e.Policy, e.Column)
}
