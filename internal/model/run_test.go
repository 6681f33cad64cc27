package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEffectKeyLabel(t *testing.T) {
	tests := []struct {
		name     string
		effect   Effect
		expected string
	}{
		{"simple has no key", Effect{Kind: EffectSimple, Key: 0}, ""},
		{"event post-treatment", Effect{Kind: EffectEvent, Key: 2}, "t+2"},
		{"event at treatment", Effect{Kind: EffectEvent, Key: 0}, "t+0"},
		{"event pre-treatment", Effect{Kind: EffectEvent, Key: -1}, "t-1"},
		{"group is bare cohort", Effect{Kind: EffectGroup, Key: 2004}, "2004"},
		{"calendar is bare period", Effect{Kind: EffectCalendar, Key: 2006}, "2006"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.effect.KeyLabel())
		})
	}
}

func TestValidEffectKind(t *testing.T) {
	assert.True(t, ValidEffectKind("simple"))
	assert.True(t, ValidEffectKind("event"))
	assert.True(t, ValidEffectKind("group"))
	assert.True(t, ValidEffectKind("calendar"))
	assert.False(t, ValidEffectKind("cohort"))
	assert.False(t, ValidEffectKind(""))
}

func TestRunReportedCoefficients(t *testing.T) {
	r := &Run{
		Coefficients: []Coefficient{
			{Name: ".Dtreat:g::2004:t::2004", Estimate: 1.5, Reported: true},
			{Name: "g::2004", Estimate: 0.3, Reported: false},
			{Name: ".Dtreat:g::2004:t::2005", Estimate: 2.1, Reported: true},
		},
	}

	reported := r.ReportedCoefficients()
	assert.Len(t, reported, 2)
	for _, c := range reported {
		assert.True(t, c.Reported)
	}
}

func TestRunCoefficientLookup(t *testing.T) {
	r := &Run{
		Coefficients: []Coefficient{
			{Name: "(Intercept)", Estimate: 4.2},
			{Name: "x_dm", Estimate: 0.9},
		},
	}

	c, ok := r.Coefficient("x_dm")
	assert.True(t, ok)
	assert.Equal(t, 0.9, c.Estimate)

	_, ok = r.Coefficient("missing")
	assert.False(t, ok)
}
