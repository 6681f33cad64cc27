package panel

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	in := "unit,year,y\nA,2003,1.0\nA,2004,1.4\nB,2003,0.9\n"

	d, err := ReadCSV(strings.NewReader(in), CSVOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, d.NRows())
	assert.Equal(t, []string{"unit", "year", "y"}, d.Names())
	assert.Equal(t, []float64{2003, 2004, 2003}, d.Float("year"))
}

func TestReadCSVDelimiterAndComment(t *testing.T) {
	in := "# gov extract 2024\nunit;year\nA;2003\nB;2004\n"

	d, err := ReadCSV(strings.NewReader(in), CSVOptions{Delimiter: ';', Comment: '#'})
	require.NoError(t, err)
	assert.Equal(t, 2, d.NRows())
	assert.Equal(t, []float64{2003, 2004}, d.Float("year"))
}

func TestReadCSVTrimSpace(t *testing.T) {
	in := "unit,y\n A , 1.5 \n"

	d, err := ReadCSV(strings.NewReader(in), CSVOptions{TrimSpace: true})
	require.NoError(t, err)
	assert.Equal(t, "A", d.Column("unit").Str(0))
	assert.Equal(t, 1.5, d.Column("y").Float(0))
}

func TestReadCSVLatin1(t *testing.T) {
	// "Zürich" with a Latin-1 encoded ü (0xFC).
	raw := []byte("city,pop\nZ\xfcrich,400000\n")

	d, err := ReadCSV(strings.NewReader(string(raw)), CSVOptions{Encoding: "latin1"})
	require.NoError(t, err)
	assert.Equal(t, "Zürich", d.Column("city").Str(0))
	assert.Equal(t, 400000.0, d.Column("pop").Float(0))
}

func TestReadCSVUnknownEncoding(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("a\n1\n"), CSVOptions{Encoding: "no-such-charset"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encoding")
}

func TestReadCSVEmpty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""), CSVOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestReadCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.csv")
	require.NoError(t, os.WriteFile(path, []byte("unit,y\nA,2\n"), 0o644))

	d, err := ReadCSVFile(path, CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, d.NRows())

	_, err = ReadCSVFile(filepath.Join(t.TempDir(), "missing.csv"), CSVOptions{})
	require.Error(t, err)
}
