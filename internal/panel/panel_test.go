package panel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDatasetLengthMismatch(t *testing.T) {
	_, err := NewDataset(
		NewFloatColumn("a", []float64{1, 2, 3}),
		NewFloatColumn("b", []float64{1, 2}),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b")
}

func TestNewDatasetDuplicateName(t *testing.T) {
	_, err := NewDataset(
		NewFloatColumn("a", []float64{1}),
		NewStringColumn("a", []string{"x"}),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestColumnLevels(t *testing.T) {
	c := NewFloatColumn("g", []float64{2006, 2004, math.NaN(), 2004, 2007, 2006})
	assert.Equal(t, []float64{2004, 2006, 2007}, c.Levels())
}

func TestColumnMinMaxSkipMissing(t *testing.T) {
	c := NewFloatColumn("t", []float64{math.NaN(), 2005, 2003, 2007, math.NaN()})

	min, ok := c.Min()
	require.True(t, ok)
	assert.Equal(t, 2003.0, min)

	max, ok := c.Max()
	require.True(t, ok)
	assert.Equal(t, 2007.0, max)
}

func TestColumnMinAllMissing(t *testing.T) {
	c := NewFloatColumn("t", []float64{math.NaN(), math.NaN()})
	_, ok := c.Min()
	assert.False(t, ok)
}

func TestColumnContains(t *testing.T) {
	c := NewFloatColumn("g", []float64{0, 2004, 2006})
	assert.True(t, c.Contains(0))
	assert.True(t, c.Contains(2006))
	assert.False(t, c.Contains(2005))
}

func TestWithColumnLeavesReceiverUntouched(t *testing.T) {
	d, err := NewDataset(NewFloatColumn("y", []float64{1, 2}))
	require.NoError(t, err)

	d2, err := d.WithColumn(NewFloatColumn("x_dm", []float64{-0.5, 0.5}))
	require.NoError(t, err)

	assert.Equal(t, 1, d.NCols())
	assert.False(t, d.Has("x_dm"))
	assert.Equal(t, 2, d2.NCols())
	assert.True(t, d2.Has("x_dm"))

	// Shared columns are the same backing objects.
	assert.Same(t, d.Column("y"), d2.Column("y"))
}

func TestWithColumnRejectsCollision(t *testing.T) {
	d, err := NewDataset(NewFloatColumn("y", []float64{1}))
	require.NoError(t, err)

	_, err = d.WithColumn(NewFloatColumn("y", []float64{9}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestReplaceSwapsOneColumn(t *testing.T) {
	d, err := NewDataset(
		NewFloatColumn("y", []float64{1, 2}),
		NewFloatColumn(".Dtreat", []float64{0, 1}),
	)
	require.NoError(t, err)

	d2, err := d.Replace(NewFloatColumn(".Dtreat", []float64{1, 1}))
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 1}, d.Float(".Dtreat"))
	assert.Equal(t, []float64{1, 1}, d2.Float(".Dtreat"))
	assert.Same(t, d.Column("y"), d2.Column("y"))
}

func TestReplaceRequiresExistingColumn(t *testing.T) {
	d, err := NewDataset(NewFloatColumn("y", []float64{1}))
	require.NoError(t, err)

	_, err = d.Replace(NewFloatColumn("x", []float64{1}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestSubset(t *testing.T) {
	d, err := NewDataset(
		NewFloatColumn("y", []float64{1, 2, 3, 4}),
		NewStringColumn("unit", []string{"a", "b", "c", "d"}),
	)
	require.NoError(t, err)

	sub, err := d.Subset([]bool{true, false, true, false})
	require.NoError(t, err)
	assert.Equal(t, 2, sub.NRows())
	assert.Equal(t, []float64{1, 3}, sub.Float("y"))
	assert.Equal(t, "c", sub.Column("unit").Str(1))
}

func TestSubsetMaskLength(t *testing.T) {
	d, err := NewDataset(NewFloatColumn("y", []float64{1, 2}))
	require.NoError(t, err)

	_, err = d.Subset([]bool{true})
	require.Error(t, err)
}

func TestFromRecordsTypeInference(t *testing.T) {
	header := []string{"unit", "year", "y", "x"}
	records := [][]string{
		{"a", "2003", "1.5", "NA"},
		{"b", "2004", "2.5", "0.7"},
		{"c", "2005", "", "-1.2"},
	}

	d, err := FromRecords(header, records)
	require.NoError(t, err)

	assert.Equal(t, String, d.Column("unit").Kind)
	assert.Equal(t, Numeric, d.Column("year").Kind)
	assert.Equal(t, Numeric, d.Column("y").Kind)
	assert.Equal(t, Numeric, d.Column("x").Kind)

	// Missing tokens become NaN in numeric columns.
	assert.True(t, math.IsNaN(d.Column("x").Float(0)))
	assert.True(t, math.IsNaN(d.Column("y").Float(2)))
	assert.Equal(t, 2004.0, d.Column("year").Float(1))
}

func TestFromRecordsAllMissingColumnStaysString(t *testing.T) {
	d, err := FromRecords([]string{"a"}, [][]string{{""}, {"NA"}})
	require.NoError(t, err)
	assert.Equal(t, String, d.Column("a").Kind)
}

func TestFromRecordsWidthMismatch(t *testing.T) {
	_, err := FromRecords([]string{"a", "b"}, [][]string{{"1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fields")
}

func TestColumnStrFormatsNumeric(t *testing.T) {
	c := NewFloatColumn("g", []float64{2004, math.NaN()})
	assert.Equal(t, "2004", c.Str(0))
	assert.Equal(t, "", c.Str(1))
}
