package formula

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		response string
		controls []string
	}{
		{"two controls", "y ~ x1 + x2", "y", []string{"x1", "x2"}},
		{"no controls empty rhs", "y ~ ", "y", nil},
		{"no controls zero", "y ~ 0", "y", nil},
		{"no controls one", "y ~ 1", "y", nil},
		{"whitespace", "  emp   ~   lpop ", "emp", []string{"lpop"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.response, p.Response)
			assert.Equal(t, tt.controls, p.Controls)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"no tilde", "y"},
		{"missing outcome", "~ x1"},
		{"only whitespace lhs", "   ~ x1"},
		{"composite outcome", "y + z ~ x1"},
		{"interaction on rhs", "y ~ x1:x2"},
		{"fe block on rhs", "y ~ x1 | g"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.in)
			assert.Error(t, err)
		})
	}
}

func TestFactorOmits(t *testing.T) {
	f := Cat("g", 0, 2004)
	assert.True(t, f.Omits(0))
	assert.True(t, f.Omits(2004))
	assert.False(t, f.Omits(2006))

	assert.False(t, Cont("x").Omits(0))
}

func TestFactorString(t *testing.T) {
	assert.Equal(t, "x_dm", Cont("x_dm").String())
	assert.Equal(t, ".Dtreat", Ind(".Dtreat").String())
	assert.Equal(t, "i(g)", Cat("g").String())
	assert.Equal(t, "i(g, ref = 2004)", Cat("g", 2004).String())
	assert.Equal(t, "i(g, ref = c(0, 2004))", Cat("g", 0, 2004).String())
}

func TestTermString(t *testing.T) {
	base := Interact(Ind(".Dtreat"), Cat("g", 0), Cat("t", 2003))
	assert.Equal(t, ".Dtreat:i(g, ref = 0):i(t, ref = 2003)", base.String())

	one := base.Nest("x_dm")
	assert.Equal(t, ".Dtreat:i(g, ref = 0):i(t, ref = 2003) / x_dm", one.String())

	two := base.Nest("x_dm", "z_dm")
	assert.Equal(t, ".Dtreat:i(g, ref = 0):i(t, ref = 2003) / (x_dm + z_dm)", two.String())
}

func TestNestDoesNotMutateReceiver(t *testing.T) {
	base := Interact(Ind(".Dtreat"))
	_ = base.Nest("x_dm")
	assert.Empty(t, base.Slopes)
}

func TestFixedEffectString(t *testing.T) {
	assert.Equal(t, "g", FE("g").String())
	assert.Equal(t, "g[[x_dm]]", FE("g", "x_dm").String())
	assert.Equal(t, "t[[x_dm, z_dm]]", FE("t", "x_dm", "z_dm").String())
}

func TestSpecString(t *testing.T) {
	s := Spec{
		Response: "y",
		Terms: []Term{
			Interact(Ind(".Dtreat"), Cat("g", 0), Cat("t", 2003)).Nest("x_dm"),
		},
		FixedEffects: []FixedEffect{FE("g", "x_dm"), FE("t", "x_dm")},
	}
	assert.Equal(t,
		"y ~ .Dtreat:i(g, ref = 0):i(t, ref = 2003) / x_dm | g[[x_dm]] + t[[x_dm]]",
		s.String(),
	)
}

func TestSpecStringNoTermsNoFE(t *testing.T) {
	s := Spec{Response: "y"}
	assert.Equal(t, "y ~ 1", s.String())
}

func TestHasSlopes(t *testing.T) {
	plain := Spec{Response: "y", Terms: []Term{Interact(Ind(".Dtreat"))}}
	assert.False(t, plain.HasSlopes())

	nested := Spec{Response: "y", Terms: []Term{Interact(Ind(".Dtreat")).Nest("x_dm")}}
	assert.True(t, nested.HasSlopes())

	feSlopes := Spec{Response: "y", FixedEffects: []FixedEffect{FE("g", "x_dm")}}
	assert.True(t, feSlopes.HasSlopes())
}
