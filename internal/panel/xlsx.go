package panel

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions configures the XLSX panel reader.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
	SkipRows   int    // rows discarded before the header row
}

// ReadXLSX reads an XLSX panel file. After skipping SkipRows rows, the next
// row is the header and the remainder are records; column types are
// inferred per FromRecords.
func ReadXLSX(path string, opts XLSXOptions) (*Dataset, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "panel: open xlsx %s", path)
	}

	sheet, err := pickSheet(f, opts)
	if err != nil {
		return nil, err
	}

	var header []string
	var records [][]string
	for i, row := range sheet.Rows {
		if i < opts.SkipRows {
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		if header == nil {
			header = cells
			continue
		}
		// Ragged sheets are common; pad short rows to the header width.
		for len(cells) < len(header) {
			cells = append(cells, "")
		}
		records = append(records, cells[:len(header)])
	}
	if header == nil {
		return nil, eris.Errorf("panel: xlsx %s has no header row", path)
	}

	return FromRecords(header, records)
}

func pickSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("panel: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("panel: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}
