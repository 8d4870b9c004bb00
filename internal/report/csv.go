package report

import (
	"encoding/csv"
	"io"

	"github.com/CZERTAINLY/csop/internal/model"
)

// WriteCSV writes the header and one row per finding. Rows end with "\n".
func WriteCSV(w io.Writer, findings []model.Finding) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(model.Columns); err != nil {
		return err
	}
	for _, f := range findings {
		if err := cw.Write(f.Row()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
