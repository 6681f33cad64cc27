package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradient-research/etwfe/internal/panel"
)

func unitPanel(t *testing.T) *panel.Dataset {
	t.Helper()
	ds, err := panel.NewDataset(
		panel.NewFloatColumn("unit", []float64{1, 2, 3, 4}),
		panel.NewFloatColumn("lng", []float64{2, 7, 30, 2.5}),
		panel.NewFloatColumn("lat", []float64{2, 7, 30, 1.5}),
		panel.NewFloatColumn("lemp", []float64{5.9, 6.1, 5.5, 6.0}),
	)
	require.NoError(t, err)
	return ds
}

func policyRegions() []Region {
	return []Region{
		newRegion(2004, flatRect(0, 0, 5, 5)),
		newRegion(2006, flatRect(5, 5, 10, 10)),
	}
}

func TestAssignGroups(t *testing.T) {
	ds := unitPanel(t)

	out, matched, err := AssignGroups(ds, policyRegions(), AssignOptions{GroupCol: "first.treat"})
	require.NoError(t, err)
	assert.Equal(t, 3, matched)

	require.True(t, out.Has("first.treat"))
	assert.Equal(t, []float64{2004, 2006, 0, 2004}, out.Float("first.treat"))

	// The input panel is not mutated.
	assert.False(t, ds.Has("first.treat"))
}

func TestAssignGroups_DefaultValue(t *testing.T) {
	ds := unitPanel(t)

	out, matched, err := AssignGroups(ds, policyRegions(), AssignOptions{
		GroupCol: "first.treat",
		Default:  9999,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, matched)
	assert.Equal(t, 9999.0, out.Float("first.treat")[2])
}

func TestAssignGroups_ReplacesExistingColumn(t *testing.T) {
	ds := unitPanel(t)
	ds, err := ds.WithColumn(panel.NewFloatColumn("group", []float64{1, 1, 1, 1}))
	require.NoError(t, err)

	out, _, err := AssignGroups(ds, policyRegions(), AssignOptions{})
	require.NoError(t, err)
	assert.Equal(t, []float64{2004, 2006, 0, 2004}, out.Float("group"))
}

func TestAssignGroups_MissingCoordinateColumn(t *testing.T) {
	ds, err := panel.NewDataset(
		panel.NewFloatColumn("unit", []float64{1}),
		panel.NewFloatColumn("lat", []float64{2}),
	)
	require.NoError(t, err)

	_, _, err = AssignGroups(ds, policyRegions(), AssignOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"lng" not found`)
}

func TestAssignGroups_NoRegions(t *testing.T) {
	_, _, err := AssignGroups(unitPanel(t), nil, AssignOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no regions")
}

func TestAssignGroups_CustomCoordinateColumns(t *testing.T) {
	ds, err := panel.NewDataset(
		panel.NewFloatColumn("unit", []float64{1, 2}),
		panel.NewFloatColumn("longitude", []float64{2, 30}),
		panel.NewFloatColumn("latitude", []float64{2, 30}),
	)
	require.NoError(t, err)

	out, matched, err := AssignGroups(ds, policyRegions(), AssignOptions{
		LngCol: "longitude",
		LatCol: "latitude",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, matched)
	assert.Equal(t, []float64{2004, 0}, out.Float("group"))
}
