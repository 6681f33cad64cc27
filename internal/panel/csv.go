package panel

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// CSVOptions configures the CSV panel reader.
type CSVOptions struct {
	Delimiter  rune   // default ','
	Comment    rune   // comment character (0 = none)
	Encoding   string // IANA charset name, e.g. "latin1"; default UTF-8
	LazyQuotes bool
	TrimSpace  bool
}

// ReadCSV parses a CSV panel from r. The first row is the header; column
// types are inferred per FromRecords. Non-UTF8 files are decoded through
// the named charset.
func ReadCSV(r io.Reader, opts CSVOptions) (*Dataset, error) {
	if opts.Encoding != "" {
		enc, err := htmlindex.Get(opts.Encoding)
		if err != nil {
			return nil, eris.Wrapf(err, "panel: unsupported encoding %q", opts.Encoding)
		}
		r = enc.NewDecoder().Reader(r)
	}

	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}
	reader.LazyQuotes = opts.LazyQuotes

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("panel: empty csv")
	}
	if err != nil {
		return nil, eris.Wrap(err, "panel: read csv header")
	}

	var records [][]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "panel: read csv row")
		}
		if opts.TrimSpace {
			for i, f := range rec {
				rec[i] = strings.TrimSpace(f)
			}
		}
		records = append(records, rec)
	}

	return FromRecords(header, records)
}

// ReadCSVFile opens path and parses it with ReadCSV.
func ReadCSVFile(path string, opts CSVOptions) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "panel: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	d, err := ReadCSV(f, opts)
	if err != nil {
		return nil, eris.Wrapf(err, "panel: parse %s", path)
	}
	return d, nil
}
