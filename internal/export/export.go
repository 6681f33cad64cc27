// Package export renders stored runs and their aggregated effects as CSV
// and XLSX tables.
package export

import (
	"math"
	"strconv"

	"gonum.org/v1/gonum/stat/distuv"
)

// z95 is the standard normal 97.5% quantile, for two-sided 95% intervals.
const z95 = 1.959964

// zAndP returns the z statistic and two-sided normal p-value for an
// estimate. ok is false when the standard error is not positive.
func zAndP(est, se float64) (z, p float64, ok bool) {
	if se <= 0 {
		return 0, 0, false
	}
	z = est / se
	p = 2 * distuv.UnitNormal.CDF(-math.Abs(z))
	return z, p, true
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
