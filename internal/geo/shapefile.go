// Package geo assigns treatment cohorts to panel units by locating their
// coordinates inside policy-region polygons read from a shapefile.
package geo

import (
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
)

// Region is one policy region: a label, the cohort value its units adopt
// (an adoption period, or 0 for never treated), and its polygons.
type Region struct {
	Name  string
	Value float64
	Geom  *geom.MultiPolygon
}

// RegionOptions names the attribute fields to read per shapefile record.
type RegionOptions struct {
	NameField  string // region label attribute
	ValueField string // numeric cohort value attribute
}

// LoadRegions reads polygon records with their name and cohort value from a
// shapefile. Records without usable geometry are skipped and counted.
func LoadRegions(shpPath string, opts RegionOptions) ([]Region, error) {
	if opts.NameField == "" || opts.ValueField == "" {
		return nil, eris.New("geo: name and value fields are required")
	}

	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	// DBF field names are fixed-width and NUL padded.
	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}

	nameIdx, ok := fieldIdx[strings.ToLower(opts.NameField)]
	if !ok {
		return nil, eris.Errorf("geo: field %q not found in %s", opts.NameField, shpPath)
	}
	valueIdx, ok := fieldIdx[strings.ToLower(opts.ValueField)]
	if !ok {
		return nil, eris.Errorf("geo: field %q not found in %s", opts.ValueField, shpPath)
	}

	var regions []Region
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()

		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}
		mp := polygonToMultiPolygon(poly)
		if mp == nil {
			skipped++
			continue
		}

		name := attribute(reader, nameIdx)
		rawValue := attribute(reader, valueIdx)
		value, err := strconv.ParseFloat(rawValue, 64)
		if err != nil {
			return nil, eris.Errorf("geo: region %q has non-numeric %s value %q", name, opts.ValueField, rawValue)
		}

		regions = append(regions, Region{Name: name, Value: value, Geom: mp})
	}

	if skipped > 0 {
		zap.L().Debug("geo: skipped shapefile records",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}

	if len(regions) == 0 {
		return nil, eris.Errorf("geo: no polygon records in %s", shpPath)
	}
	return regions, nil
}

func attribute(reader *shp.Reader, idx int) string {
	val := strings.TrimRight(reader.Attribute(idx), "\x00")
	return strings.TrimSpace(val)
}

// polygonToMultiPolygon converts a shapefile Polygon record to a
// geom.MultiPolygon with one single-ring polygon per part. Shells and
// holes are distinguished later, at containment time.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		var end int32
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		} else {
			end = int32(len(p.Points))
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		ring := geom.NewLinearRingFlat(geom.XY, flat)
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			zap.L().Debug("geo: skipping malformed polygon ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("geo: skipping malformed polygon part", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// Contains reports whether the point lies inside the region. Rings are
// tested even-odd, so holes punch out of their shells whatever the winding
// order of the source shapefile.
func (r Region) Contains(lng, lat float64) bool {
	pt := geom.Coord{lng, lat}
	inside := false
	for i := 0; i < r.Geom.NumPolygons(); i++ {
		poly := r.Geom.Polygon(i)
		for j := 0; j < poly.NumLinearRings(); j++ {
			if xy.IsPointInRing(geom.XY, pt, poly.LinearRing(j).FlatCoords()) {
				inside = !inside
			}
		}
	}
	return inside
}

// FindRegion returns the first region containing the point.
func FindRegion(regions []Region, lng, lat float64) (Region, bool) {
	for _, r := range regions {
		if r.Contains(lng, lat) {
			return r, true
		}
	}
	return Region{}, false
}
