package api

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cast"
	"github.com/xuri/excelize/v2"

	"querydesk/internal/domain"
)

type resultFormat string

const (
	formatJSON resultFormat = "json"
	formatCSV  resultFormat = "csv"
	formatXLSX resultFormat = "xlsx"
)

const sheetName = "Sheet1"

// splitFormat separates an optional .json, .csv or .xlsx suffix from a
// result id.
func splitFormat(raw string) (string, resultFormat, error) {
	id, ext, found := strings.Cut(raw, ".")
	if !found {
		return raw, formatJSON, nil
	}
	switch f := resultFormat(ext); f {
	case formatJSON, formatCSV, formatXLSX:
		return id, f, nil
	default:
		return "", "", domain.ErrValidation("unsupported result format %q", ext)
	}
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, format resultFormat, res *domain.Result) {
	var err error
	switch format {
	case formatCSV:
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", attachment(res, "csv"))
		err = writeCSV(w, res.Data)
	case formatXLSX:
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", attachment(res, "xlsx"))
		err = writeXLSX(w, res.Data)
	default:
		writeJSON(w, http.StatusOK, map[string]resultJSON{"query_result": resultToAPI(res)})
	}
	if err != nil {
		// Headers are already out; the client sees a truncated body.
		h.logger.ErrorContext(r.Context(), "render result", "result_id", res.ID, "format", format, "error", err)
	}
}

func attachment(res *domain.Result, ext string) string {
	return fmt.Sprintf(`attachment; filename="query_result_%s.%s"`, res.ID, ext)
}

// cellValues returns one row's values in column order. Missing keys are
// empty.
func cellValues(columns []string, row domain.Row) []any {
	out := make([]any, len(columns))
	for i, c := range columns {
		if v, ok := row[c]; ok && v != nil {
			out[i] = v
		} else {
			out[i] = ""
		}
	}
	return out
}

func writeCSV(w io.Writer, data domain.ResultData) error {
	cw := csv.NewWriter(w)
	columns := data.ColumnNames()
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	record := make([]string, len(columns))
	for _, row := range data.Rows {
		for i, v := range cellValues(columns, row) {
			record[i] = cast.ToString(v)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeXLSX(w io.Writer, data domain.ResultData) error {
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	columns := data.ColumnNames()
	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range data.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := cellValues(columns, row)
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
