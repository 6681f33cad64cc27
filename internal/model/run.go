// Package model defines the persisted entities of an estimation run.
package model

import (
	"fmt"
	"time"
)

// Run is a single fitted estimation, persisted by the store.
type Run struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Dataset  string `json:"dataset"`   // label or path of the input panel
	Outcome  string `json:"outcome"`   // response variable name
	GroupVar string `json:"group_var"` // cohort column
	TimeVar  string `json:"time_var"`  // period column
	GroupRef string `json:"group_ref"` // chosen group reference level
	TimeRef  string `json:"time_ref"`  // chosen time reference level

	Policy  string `json:"policy"`  // control-group policy
	Mode    string `json:"mode"`    // fixed-effects mode
	Family  string `json:"family"`  // distribution family
	Vcov    string `json:"vcov"`    // covariance estimator
	Formula string `json:"formula"` // serialized model specification

	NObs         int           `json:"n_obs"`
	Coefficients []Coefficient `json:"coefficients,omitempty"`
}

// Coefficient is one estimated model parameter.
type Coefficient struct {
	Name     string  `json:"name"`
	Estimate float64 `json:"estimate"`
	StdErr   float64 `json:"std_err"`
	Reported bool    `json:"reported"` // false for absorbed fixed-effect terms
}

// EffectKind selects how saturated coefficients are aggregated.
type EffectKind string

const (
	EffectSimple   EffectKind = "simple"   // one overall ATT
	EffectEvent    EffectKind = "event"    // by periods since treatment
	EffectGroup    EffectKind = "group"    // by adoption cohort
	EffectCalendar EffectKind = "calendar" // by calendar period
)

// ValidEffectKind reports whether s names a known aggregation.
func ValidEffectKind(s string) bool {
	switch EffectKind(s) {
	case EffectSimple, EffectEvent, EffectGroup, EffectCalendar:
		return true
	}
	return false
}

// Effect is one aggregated treatment-effect row.
type Effect struct {
	RunID    string     `json:"run_id"`
	Kind     EffectKind `json:"kind"`
	Key      float64    `json:"key"` // event time, cohort, or period; 0 for simple
	Estimate float64    `json:"estimate"`
	StdErr   float64    `json:"std_err"`
	N        int        `json:"n"` // treated observations behind the row
}

// KeyLabel renders the aggregation key for display: signed event times for
// event-study rows, bare values otherwise, empty for the simple ATT.
func (e Effect) KeyLabel() string {
	switch e.Kind {
	case EffectSimple:
		return ""
	case EffectEvent:
		if e.Key >= 0 {
			return fmt.Sprintf("t+%g", e.Key)
		}
		return fmt.Sprintf("t-%g", -e.Key)
	default:
		return fmt.Sprintf("%g", e.Key)
	}
}

// ReportedCoefficients returns only the coefficients meant for display,
// excluding absorbed fixed-effect terms.
func (r *Run) ReportedCoefficients() []Coefficient {
	out := make([]Coefficient, 0, len(r.Coefficients))
	for _, c := range r.Coefficients {
		if c.Reported {
			out = append(out, c)
		}
	}
	return out
}

// Coefficient returns the named coefficient and whether it exists.
func (r *Run) Coefficient(name string) (Coefficient, bool) {
	for _, c := range r.Coefficients {
		if c.Name == name {
			return c, true
		}
	}
	return Coefficient{}, false
}
