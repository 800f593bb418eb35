package tabular

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

const sheetName = "Leads"

// WriteXLSX writes rows to an XLSX file with the canonical header on a
// single "Leads" sheet.
func WriteXLSX(path string, rows []Row) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	hr := sheet.AddRow()
	for _, name := range Header {
		hr.AddCell().Value = name
	}
	for _, row := range rows {
		xr := sheet.AddRow()
		for _, v := range row.record() {
			xr.AddCell().Value = v
		}
	}

	return eris.Wrap(f.Save(path), "xlsx: save file")
}

// ReadXLSX reads a header-mapped XLSX file. The first sheet is used
// regardless of its name, since vendors rename sheets freely.
func ReadXLSX(path string) ([]Row, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("xlsx: file has no sheets")
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, eris.New("xlsx: empty sheet")
	}

	idx := columnIndex(cells(sheet.Rows[0]))
	if _, ok := idx["company"]; !ok {
		return nil, eris.New("xlsx: missing required column \"company\"")
	}

	var rows []Row
	for _, xr := range sheet.Rows[1:] {
		row := rowFromRecord(cells(xr), idx)
		if row == (Row{}) {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func cells(row *xlsx.Row) []string {
	out := make([]string, len(row.Cells))
	for i, c := range row.Cells {
		out[i] = c.String()
	}
	return out
}
