package engine

import (
	"sort"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"

	"github.com/gradient-research/etwfe/internal/formula"
	"github.com/gradient-research/etwfe/internal/panel"
)

// InterceptName is the label of the constant column.
const InterceptName = "(Intercept)"

// Design is a materialized model matrix: one column per expanded
// coefficient, listwise-complete rows only.
type Design struct {
	X        *mat.Dense
	Y        []float64
	Names    []string
	Reported []bool
	RowIndex []int // design row -> dataset row
}

// NCols returns the number of design columns.
func (d *Design) NCols() int { return len(d.Names) }

// NRows returns the number of complete-case rows.
func (d *Design) NRows() int { return len(d.RowIndex) }

type designCol struct {
	name     string
	vals     []float64
	reported bool
}

// BuildDesign expands spec against data: categorical factors become level
// indicators (omitted references excluded), interactions multiply
// elementwise, nested slopes multiply each expanded cell by the covariate,
// and fixed-effect blocks become absorbed dummy columns with drop-first
// coding. Rows with a missing value in any referenced column are dropped.
func BuildDesign(spec formula.Spec, data *panel.Dataset) (*Design, error) {
	referenced := []string{spec.Response}
	for _, t := range spec.Terms {
		for _, f := range t.Factors {
			referenced = append(referenced, f.Name)
		}
		referenced = append(referenced, t.Slopes...)
	}
	for _, fe := range spec.FixedEffects {
		referenced = append(referenced, fe.Name)
		referenced = append(referenced, fe.Slopes...)
	}

	cols := make(map[string]*panel.Column, len(referenced))
	for _, name := range referenced {
		if _, ok := cols[name]; ok {
			continue
		}
		c := data.Column(name)
		if c == nil {
			return nil, eris.Errorf("engine: column %q not in dataset", name)
		}
		if c.Kind != panel.Numeric {
			return nil, eris.Errorf("engine: column %q is not numeric", name)
		}
		cols[name] = c
	}

	// Listwise deletion over every referenced column.
	n := data.NRows()
	var rowIndex []int
	for i := 0; i < n; i++ {
		complete := true
		for _, c := range cols {
			if c.IsMissing(i) {
				complete = false
				break
			}
		}
		if complete {
			rowIndex = append(rowIndex, i)
		}
	}
	if len(rowIndex) == 0 {
		return nil, eris.New("engine: no complete rows after dropping missing values")
	}

	take := func(name string) []float64 {
		src := cols[name].Floats()
		out := make([]float64, len(rowIndex))
		for i, ri := range rowIndex {
			out[i] = src[ri]
		}
		return out
	}

	levelCache := make(map[string][]float64)
	levelsOf := func(name string) []float64 {
		if lv, ok := levelCache[name]; ok {
			return lv
		}
		vals := take(name)
		seen := make(map[float64]bool, len(vals))
		var lv []float64
		for _, v := range vals {
			if !seen[v] {
				seen[v] = true
				lv = append(lv, v)
			}
		}
		sort.Float64s(lv)
		levelCache[name] = lv
		return lv
	}

	nr := len(rowIndex)
	ones := make([]float64, nr)
	for i := range ones {
		ones[i] = 1
	}

	out := []designCol{{
		name:     InterceptName,
		vals:     ones,
		reported: len(spec.FixedEffects) == 0,
	}}

	for _, term := range spec.Terms {
		base := []designCol{{name: "", vals: ones, reported: true}}
		for _, f := range term.Factors {
			var next []designCol
			switch f.Kind {
			case formula.Categorical:
				for _, lv := range levelsOf(f.Name) {
					if f.Omits(lv) {
						continue
					}
					ind := indicator(take(f.Name), lv)
					for _, b := range base {
						next = append(next, designCol{
							name:     joinName(b.name, f.Name+"::"+formula.FormatLevel(lv)),
							vals:     hadamard(b.vals, ind),
							reported: true,
						})
					}
				}
			default:
				vals := take(f.Name)
				for _, b := range base {
					next = append(next, designCol{
						name:     joinName(b.name, f.Name),
						vals:     hadamard(b.vals, vals),
						reported: true,
					})
				}
			}
			base = next
		}
		out = append(out, base...)
		for _, slope := range term.Slopes {
			sv := take(slope)
			for _, b := range base {
				out = append(out, designCol{
					name:     joinName(b.name, slope),
					vals:     hadamard(b.vals, sv),
					reported: true,
				})
			}
		}
	}

	// Fixed effects use drop-first coding against the intercept. A slope
	// covariate shared by several effects keeps its full level set only
	// in the first block that carries it.
	slopeSeen := make(map[string]bool)
	for _, fe := range spec.FixedEffects {
		lv := levelsOf(fe.Name)
		feVals := take(fe.Name)
		for _, l := range lv[1:] {
			out = append(out, designCol{
				name:     fe.Name + "::" + formula.FormatLevel(l),
				vals:     indicator(feVals, l),
				reported: false,
			})
		}
		for _, slope := range fe.Slopes {
			sv := take(slope)
			levels := lv
			if slopeSeen[slope] {
				levels = lv[1:]
			}
			slopeSeen[slope] = true
			for _, l := range levels {
				out = append(out, designCol{
					name:     fe.Name + "::" + formula.FormatLevel(l) + ":" + slope,
					vals:     hadamard(indicator(feVals, l), sv),
					reported: false,
				})
			}
		}
	}

	seen := make(map[string]bool, len(out))
	for _, c := range out {
		if seen[c.name] {
			return nil, eris.Errorf("engine: duplicate design column %q", c.name)
		}
		seen[c.name] = true
	}

	x := mat.NewDense(nr, len(out), nil)
	names := make([]string, len(out))
	reported := make([]bool, len(out))
	for j, c := range out {
		names[j] = c.name
		reported[j] = c.reported
		x.SetCol(j, c.vals)
	}

	return &Design{
		X:        x,
		Y:        take(spec.Response),
		Names:    names,
		Reported: reported,
		RowIndex: rowIndex,
	}, nil
}

func joinName(base, part string) string {
	if base == "" {
		return part
	}
	return base + ":" + part
}

func indicator(vals []float64, level float64) []float64 {
	out := make([]float64, len(vals))
	for i, v := range vals {
		if v == level {
			out[i] = 1
		}
	}
	return out
}

func hadamard(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] * b[i]
	}
	return out
}
