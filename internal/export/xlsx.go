package export

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/profile-collector/internal/model"
)

// maxSheetName is the Excel limit on sheet name length.
const maxSheetName = 31

func writeXLSX(w io.Writer, name string, columns []string, records []model.Record) error {
	f := xlsx.NewFile()
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}
	sheet, err := f.AddSheet(name)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	addRow(sheet, columns)
	for _, r := range records {
		addRow(sheet, r.Row())
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write xlsx")
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	for _, v := range cells {
		row.AddCell().SetString(v)
	}
}
