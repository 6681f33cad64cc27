// Package panel provides the column-oriented dataset consumed by the
// estimation layers: typed columns, missing-value handling, and readers
// for CSV and XLSX panel files.
package panel

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Kind is the storage type of a column.
type Kind int

const (
	// Numeric columns hold float64 values; missing entries are NaN.
	Numeric Kind = iota
	// String columns hold raw text; missing entries are "".
	String
)

// Column is a single named, typed column of a dataset.
type Column struct {
	Name string
	Kind Kind

	floats  []float64
	strings []string
}

// NewFloatColumn builds a numeric column. NaN entries mark missing values.
func NewFloatColumn(name string, values []float64) *Column {
	return &Column{Name: name, Kind: Numeric, floats: values}
}

// NewStringColumn builds a string column. Empty entries mark missing values.
func NewStringColumn(name string, values []string) *Column {
	return &Column{Name: name, Kind: String, strings: values}
}

// Len returns the number of rows in the column.
func (c *Column) Len() int {
	if c.Kind == Numeric {
		return len(c.floats)
	}
	return len(c.strings)
}

// Float returns the numeric value at row i. For string columns it returns NaN.
func (c *Column) Float(i int) float64 {
	if c.Kind != Numeric {
		return math.NaN()
	}
	return c.floats[i]
}

// Str returns the text value at row i. For numeric columns it formats the value.
func (c *Column) Str(i int) string {
	if c.Kind == String {
		return c.strings[i]
	}
	v := c.floats[i]
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// IsMissing reports whether row i holds a missing value.
func (c *Column) IsMissing(i int) bool {
	if c.Kind == Numeric {
		return math.IsNaN(c.floats[i])
	}
	return c.strings[i] == ""
}

// Floats returns the backing numeric slice. Callers must not modify it.
func (c *Column) Floats() []float64 {
	return c.floats
}

// Levels returns the sorted distinct non-missing values of a numeric column.
func (c *Column) Levels() []float64 {
	if c.Kind != Numeric {
		return nil
	}
	seen := make(map[float64]bool, len(c.floats))
	var out []float64
	for _, v := range c.floats {
		if math.IsNaN(v) || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}

// Min returns the smallest non-missing value. ok is false when every
// entry is missing or the column is not numeric.
func (c *Column) Min() (v float64, ok bool) {
	return c.extreme(func(a, b float64) bool { return a < b })
}

// Max returns the largest non-missing value. ok is false when every
// entry is missing or the column is not numeric.
func (c *Column) Max() (v float64, ok bool) {
	return c.extreme(func(a, b float64) bool { return a > b })
}

func (c *Column) extreme(better func(a, b float64) bool) (float64, bool) {
	if c.Kind != Numeric {
		return 0, false
	}
	best := math.NaN()
	found := false
	for _, v := range c.floats {
		if math.IsNaN(v) {
			continue
		}
		if !found || better(v, best) {
			best = v
			found = true
		}
	}
	return best, found
}

// Contains reports whether the numeric column holds the value in any row.
func (c *Column) Contains(v float64) bool {
	if c.Kind != Numeric {
		return false
	}
	for _, x := range c.floats {
		if x == v {
			return true
		}
	}
	return false
}

// Dataset is an immutable collection of equal-length columns. Derivation
// steps add columns through WithColumn, which returns a new Dataset and
// leaves the receiver untouched.
type Dataset struct {
	cols   []*Column
	byName map[string]int
}

// NewDataset assembles columns into a dataset. All columns must share the
// same length and carry distinct names.
func NewDataset(cols ...*Column) (*Dataset, error) {
	d := &Dataset{byName: make(map[string]int, len(cols))}
	n := -1
	for _, c := range cols {
		if n >= 0 && c.Len() != n {
			return nil, eris.Errorf("panel: column %q has %d rows, want %d", c.Name, c.Len(), n)
		}
		n = c.Len()
		if _, dup := d.byName[c.Name]; dup {
			return nil, eris.Errorf("panel: duplicate column %q", c.Name)
		}
		d.byName[c.Name] = len(d.cols)
		d.cols = append(d.cols, c)
	}
	return d, nil
}

// NRows returns the number of observations.
func (d *Dataset) NRows() int {
	if len(d.cols) == 0 {
		return 0
	}
	return d.cols[0].Len()
}

// NCols returns the number of columns.
func (d *Dataset) NCols() int { return len(d.cols) }

// Names returns column names in order.
func (d *Dataset) Names() []string {
	out := make([]string, len(d.cols))
	for i, c := range d.cols {
		out[i] = c.Name
	}
	return out
}

// Has reports whether a column with the given name exists.
func (d *Dataset) Has(name string) bool {
	_, ok := d.byName[name]
	return ok
}

// Column returns the named column, or nil when absent.
func (d *Dataset) Column(name string) *Column {
	i, ok := d.byName[name]
	if !ok {
		return nil
	}
	return d.cols[i]
}

// Float returns the backing numeric slice of the named column, or nil when
// the column is absent or not numeric.
func (d *Dataset) Float(name string) []float64 {
	c := d.Column(name)
	if c == nil || c.Kind != Numeric {
		return nil
	}
	return c.floats
}

// WithColumn returns a new dataset with col appended. The receiver keeps
// its column set; existing columns are shared, never copied. Adding a name
// that already exists is an error.
func (d *Dataset) WithColumn(col *Column) (*Dataset, error) {
	if d.Has(col.Name) {
		return nil, eris.Errorf("panel: column %q already exists", col.Name)
	}
	if len(d.cols) > 0 && col.Len() != d.NRows() {
		return nil, eris.Errorf("panel: column %q has %d rows, want %d", col.Name, col.Len(), d.NRows())
	}
	out := &Dataset{
		cols:   make([]*Column, len(d.cols), len(d.cols)+1),
		byName: make(map[string]int, len(d.byName)+1),
	}
	copy(out.cols, d.cols)
	for k, v := range d.byName {
		out.byName[k] = v
	}
	out.byName[col.Name] = len(out.cols)
	out.cols = append(out.cols, col)
	return out, nil
}

// Replace returns a new dataset with the named column swapped for col.
// All other columns are shared with the receiver. The column must already
// exist and row counts must match.
func (d *Dataset) Replace(col *Column) (*Dataset, error) {
	idx, ok := d.byName[col.Name]
	if !ok {
		return nil, eris.Errorf("panel: column %q does not exist", col.Name)
	}
	if col.Len() != d.NRows() {
		return nil, eris.Errorf("panel: column %q has %d rows, want %d", col.Name, col.Len(), d.NRows())
	}
	out := &Dataset{
		cols:   make([]*Column, len(d.cols)),
		byName: make(map[string]int, len(d.byName)),
	}
	copy(out.cols, d.cols)
	for k, v := range d.byName {
		out.byName[k] = v
	}
	out.cols[idx] = col
	return out, nil
}

// Subset returns a new dataset holding only rows where keep is true.
// Column data is copied.
func (d *Dataset) Subset(keep []bool) (*Dataset, error) {
	if len(keep) != d.NRows() {
		return nil, eris.Errorf("panel: mask has %d entries, want %d", len(keep), d.NRows())
	}
	n := 0
	for _, k := range keep {
		if k {
			n++
		}
	}
	cols := make([]*Column, len(d.cols))
	for ci, c := range d.cols {
		if c.Kind == Numeric {
			vals := make([]float64, 0, n)
			for i, k := range keep {
				if k {
					vals = append(vals, c.floats[i])
				}
			}
			cols[ci] = NewFloatColumn(c.Name, vals)
		} else {
			vals := make([]string, 0, n)
			for i, k := range keep {
				if k {
					vals = append(vals, c.strings[i])
				}
			}
			cols[ci] = NewStringColumn(c.Name, vals)
		}
	}
	return NewDataset(cols...)
}

// missingTokens are cell values treated as missing during type inference.
var missingTokens = map[string]bool{
	"":     true,
	".":    true,
	"na":   true,
	"n/a":  true,
	"nan":  true,
	"null": true,
}

func isMissingToken(s string) bool {
	return missingTokens[strings.ToLower(strings.TrimSpace(s))]
}

// FromRecords builds a dataset from a header row and string records,
// inferring each column's type: a column where every non-missing cell
// parses as a number becomes Numeric, anything else stays String.
func FromRecords(header []string, records [][]string) (*Dataset, error) {
	if len(header) == 0 {
		return nil, eris.New("panel: empty header")
	}
	for ri, rec := range records {
		if len(rec) != len(header) {
			return nil, eris.Errorf("panel: record %d has %d fields, want %d", ri+1, len(rec), len(header))
		}
	}

	cols := make([]*Column, len(header))
	for ci, name := range header {
		numeric := true
		nonMissing := 0
		for _, rec := range records {
			cell := strings.TrimSpace(rec[ci])
			if isMissingToken(cell) {
				continue
			}
			nonMissing++
			if _, err := strconv.ParseFloat(cell, 64); err != nil {
				numeric = false
				break
			}
		}
		if numeric && nonMissing > 0 {
			vals := make([]float64, len(records))
			for ri, rec := range records {
				cell := strings.TrimSpace(rec[ci])
				if isMissingToken(cell) {
					vals[ri] = math.NaN()
					continue
				}
				v, _ := strconv.ParseFloat(cell, 64)
				vals[ri] = v
			}
			cols[ci] = NewFloatColumn(strings.TrimSpace(name), vals)
		} else {
			vals := make([]string, len(records))
			for ri, rec := range records {
				cell := rec[ci]
				if isMissingToken(cell) {
					cell = ""
				}
				vals[ri] = cell
			}
			cols[ci] = NewStringColumn(strings.TrimSpace(name), vals)
		}
	}

	return NewDataset(cols...)
}
