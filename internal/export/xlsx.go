package export

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/gradient-research/etwfe/internal/model"
)

// WriteRunXLSX writes one workbook for a stored run: a Summary sheet with
// the run's metadata, a Coefficients sheet with the reported coefficients,
// and, when effect rows are given, an Effects sheet.
func WriteRunXLSX(path string, run *model.Run, effects []model.Effect) error {
	f := xlsx.NewFile()

	if err := addSummarySheet(f, run); err != nil {
		return err
	}
	if err := addCoefficientsSheet(f, run); err != nil {
		return err
	}
	if len(effects) > 0 {
		if err := addEffectsSheet(f, effects); err != nil {
			return err
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save workbook %s", path)
	}
	return nil
}

func addSummarySheet(f *xlsx.File, run *model.Run) error {
	sheet, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "export: add summary sheet")
	}

	addKV := func(k, v string) {
		row := sheet.AddRow()
		row.AddCell().SetString(k)
		row.AddCell().SetString(v)
	}

	addKV("run_id", run.ID)
	addKV("created_at", run.CreatedAt.Format(time.RFC3339))
	addKV("dataset", run.Dataset)
	addKV("outcome", run.Outcome)
	addKV("group_var", run.GroupVar)
	addKV("time_var", run.TimeVar)
	addKV("group_ref", run.GroupRef)
	addKV("time_ref", run.TimeRef)
	addKV("policy", run.Policy)
	addKV("mode", run.Mode)
	addKV("family", run.Family)
	addKV("vcov", run.Vcov)

	row := sheet.AddRow()
	row.AddCell().SetString("n_obs")
	row.AddCell().SetInt(run.NObs)

	addKV("formula", run.Formula)
	return nil
}

func addCoefficientsSheet(f *xlsx.File, run *model.Run) error {
	sheet, err := f.AddSheet("Coefficients")
	if err != nil {
		return eris.Wrap(err, "export: add coefficients sheet")
	}

	header := sheet.AddRow()
	for _, col := range coefficientColumns {
		header.AddCell().SetString(col)
	}

	for _, c := range run.ReportedCoefficients() {
		row := sheet.AddRow()
		row.AddCell().SetString(c.Name)
		row.AddCell().SetFloat(c.Estimate)
		row.AddCell().SetFloat(c.StdErr)
		if z, p, ok := zAndP(c.Estimate, c.StdErr); ok {
			row.AddCell().SetFloat(z)
			row.AddCell().SetFloat(p)
		} else {
			row.AddCell().SetString("")
			row.AddCell().SetString("")
		}
	}
	return nil
}

func addEffectsSheet(f *xlsx.File, effects []model.Effect) error {
	sheet, err := f.AddSheet("Effects")
	if err != nil {
		return eris.Wrap(err, "export: add effects sheet")
	}

	header := sheet.AddRow()
	for _, col := range []string{"kind", "key", "label", "estimate", "std_err", "conf_low", "conf_high", "n"} {
		header.AddCell().SetString(col)
	}

	for _, e := range effects {
		row := sheet.AddRow()
		row.AddCell().SetString(string(e.Kind))
		row.AddCell().SetFloat(e.Key)
		row.AddCell().SetString(e.KeyLabel())
		row.AddCell().SetFloat(e.Estimate)
		row.AddCell().SetFloat(e.StdErr)
		row.AddCell().SetFloat(e.Estimate - z95*e.StdErr)
		row.AddCell().SetFloat(e.Estimate + z95*e.StdErr)
		row.AddCell().SetInt(e.N)
	}
	return nil
}
