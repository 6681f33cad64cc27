//go:build !integration

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradient-research/etwfe/internal/etwfe"
	"github.com/gradient-research/etwfe/internal/model"
)

func storedRun() *model.Run {
	return &model.Run{
		ID:       "run-1",
		Dataset:  "sim.csv",
		Outcome:  "y",
		GroupVar: "g",
		TimeVar:  "t",
		GroupRef: "0",
		TimeRef:  "2003",
		Policy:   "not_yet_treated",
		Mode:     "interacted",
		Family:   "gaussian",
		Vcov:     "hc1",
		Coefficients: []model.Coefficient{
			{Name: ".Dtreat:g::2004:t::2004", Reported: true},
			{Name: ".Dtreat:g::2004:t::2004:x_dm", Reported: true},
			{Name: ".Dtreat:g::2004:t::2005:x_dm", Reported: true},
			{Name: "g::2004", Reported: false},
			{Name: "g::2004:x_dm", Reported: false},
		},
	}
}

func TestControlsFromRun(t *testing.T) {
	controls := controlsFromRun(storedRun())
	assert.Equal(t, []string{"x"}, controls)
}

func TestControlsFromRun_MultipleControls(t *testing.T) {
	run := storedRun()
	run.Coefficients = append(run.Coefficients,
		model.Coefficient{Name: ".Dtreat:g::2004:t::2004:lpop_dm", Reported: true},
	)

	controls := controlsFromRun(run)
	assert.Equal(t, []string{"lpop", "x"}, controls, "controls are sorted")
}

func TestControlsFromRun_NoControls(t *testing.T) {
	run := storedRun()
	run.Coefficients = []model.Coefficient{
		{Name: ".Dtreat:g::2004:t::2004", Reported: true},
		{Name: "g::2004", Reported: false},
	}

	assert.Empty(t, controlsFromRun(run))
}

func TestModelFromRun(t *testing.T) {
	assert.Equal(t, "y ~ x", modelFromRun(storedRun()))
}

func TestModelFromRun_NoControls(t *testing.T) {
	run := storedRun()
	run.Coefficients = nil
	assert.Equal(t, "y ~ 1", modelFromRun(run))
}

func TestOptionsFromRun(t *testing.T) {
	opts, err := optionsFromRun(storedRun())
	require.NoError(t, err)

	require.NotNil(t, opts.GroupRef)
	assert.Equal(t, 0.0, *opts.GroupRef)
	require.NotNil(t, opts.TimeRef)
	assert.Equal(t, 2003.0, *opts.TimeRef)

	assert.Equal(t, etwfe.NotYetTreated, opts.ControlGroup)
	assert.Equal(t, etwfe.FEInteracted, opts.Mode)
	assert.Equal(t, "gaussian", string(opts.Family))
	assert.Equal(t, "hc1", string(opts.Fit.Vcov))
}

func TestOptionsFromRun_BadReference(t *testing.T) {
	run := storedRun()
	run.GroupRef = "oops"

	_, err := optionsFromRun(run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad group reference")
}
