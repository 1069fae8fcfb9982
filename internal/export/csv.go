package export

import (
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/profile-collector/internal/model"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func writeCSV(w io.Writer, columns []string, records []model.Record, bom bool) error {
	if bom {
		if _, err := w.Write(utf8BOM); err != nil {
			return eris.Wrap(err, "export: write bom")
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return eris.Wrap(err, "export: write header")
	}
	for _, r := range records {
		if err := cw.Write(r.Row()); err != nil {
			return eris.Wrapf(err, "export: write row %s", r.Key())
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}
