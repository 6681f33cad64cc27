package geo

import (
	"github.com/rotisserie/eris"

	"github.com/gradient-research/etwfe/internal/panel"
)

// AssignOptions configures the panel join.
type AssignOptions struct {
	LngCol   string  // longitude column; default "lng"
	LatCol   string  // latitude column; default "lat"
	GroupCol string  // cohort column to write; default "group"
	Default  float64 // value for units outside every region, 0 = never treated
}

func (o AssignOptions) withDefaults() AssignOptions {
	if o.LngCol == "" {
		o.LngCol = "lng"
	}
	if o.LatCol == "" {
		o.LatCol = "lat"
	}
	if o.GroupCol == "" {
		o.GroupCol = "group"
	}
	return o
}

// AssignGroups locates every row's coordinates in the policy regions and
// returns a copy of the panel with the cohort column set to the containing
// region's value, or to the default when no region contains the point or a
// coordinate is missing. The second return is the number of matched rows.
func AssignGroups(data *panel.Dataset, regions []Region, opts AssignOptions) (*panel.Dataset, int, error) {
	opts = opts.withDefaults()

	if len(regions) == 0 {
		return nil, 0, eris.New("geo: no regions to assign from")
	}
	if !data.Has(opts.LngCol) {
		return nil, 0, eris.Errorf("geo: column %q not found", opts.LngCol)
	}
	if !data.Has(opts.LatCol) {
		return nil, 0, eris.Errorf("geo: column %q not found", opts.LatCol)
	}

	lngs := data.Float(opts.LngCol)
	lats := data.Float(opts.LatCol)

	vals := make([]float64, data.NRows())
	matched := 0
	for i := range vals {
		if r, ok := FindRegion(regions, lngs[i], lats[i]); ok {
			vals[i] = r.Value
			matched++
		} else {
			vals[i] = opts.Default
		}
	}

	col := panel.NewFloatColumn(opts.GroupCol, vals)
	var out *panel.Dataset
	var err error
	if data.Has(opts.GroupCol) {
		out, err = data.Replace(col)
	} else {
		out, err = data.WithColumn(col)
	}
	if err != nil {
		return nil, 0, eris.Wrap(err, "geo: write cohort column")
	}
	return out, matched, nil
}
