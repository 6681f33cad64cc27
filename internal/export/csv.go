package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/gradient-research/etwfe/internal/model"
	"github.com/gradient-research/etwfe/internal/panel"
)

// effectColumns defines the ordered effects CSV output columns.
var effectColumns = []string{
	"run_id",
	"kind",
	"key",
	"label",
	"estimate",
	"std_err",
	"conf_low",
	"conf_high",
	"n",
}

// coefficientColumns defines the ordered coefficient CSV output columns.
var coefficientColumns = []string{
	"name",
	"estimate",
	"std_err",
	"z",
	"p_value",
}

// WriteEffectsCSV writes aggregated effect rows as CSV with 95% intervals.
func WriteEffectsCSV(w io.Writer, effects []model.Effect) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(effectColumns); err != nil {
		return eris.Wrap(err, "export: write effects header")
	}

	for _, e := range effects {
		if err := cw.Write(buildEffectRow(e)); err != nil {
			return eris.Wrap(err, "export: write effect row")
		}
	}

	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "export: flush effects csv")
	}
	return nil
}

func buildEffectRow(e model.Effect) []string {
	return []string{
		e.RunID,
		string(e.Kind),
		formatFloat(e.Key),
		e.KeyLabel(),
		formatFloat(e.Estimate),
		formatFloat(e.StdErr),
		formatFloat(e.Estimate - z95*e.StdErr),
		formatFloat(e.Estimate + z95*e.StdErr),
		strconv.Itoa(e.N),
	}
}

// WriteCoefficientsCSV writes the run's reported coefficients as CSV.
// Absorbed fixed-effect terms are omitted.
func WriteCoefficientsCSV(w io.Writer, run *model.Run) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(coefficientColumns); err != nil {
		return eris.Wrap(err, "export: write coefficients header")
	}

	for _, c := range run.ReportedCoefficients() {
		row := []string{c.Name, formatFloat(c.Estimate), formatFloat(c.StdErr), "", ""}
		if z, p, ok := zAndP(c.Estimate, c.StdErr); ok {
			row[3] = formatFloat(z)
			row[4] = formatFloat(p)
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "export: write coefficient row")
		}
	}

	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "export: flush coefficients csv")
	}
	return nil
}

// WritePanelCSV writes a dataset as CSV, one header row followed by one
// row per observation. Missing values become empty fields.
func WritePanelCSV(w io.Writer, data *panel.Dataset) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	names := data.Names()
	if err := cw.Write(names); err != nil {
		return eris.Wrap(err, "export: write panel header")
	}

	cols := make([]*panel.Column, len(names))
	for j, name := range names {
		cols[j] = data.Column(name)
	}

	row := make([]string, len(names))
	for i := 0; i < data.NRows(); i++ {
		for j, col := range cols {
			row[j] = col.Str(i)
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "export: write panel row")
		}
	}

	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "export: flush panel csv")
	}
	return nil
}
