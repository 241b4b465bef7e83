// Package export writes batch outcomes to spreadsheet-friendly formats.
package export

import (
	"encoding/csv"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fleetexec/fleetexec/internal/models"

	"github.com/xuri/excelize/v2"
)

var header = []string{"host", "vehicle_id", "status", "exit_status", "stdout", "stderr", "error", "timestamp"}

// ToFile picks the format from the file extension: .csv, .html/.htm, .xlsx.
func ToFile(path string, outcomes []models.BatchOutcome) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return WriteHTML(f, outcomes)
	case ".xlsx":
		return WriteXLSX(f, outcomes)
	default:
		return WriteCSV(f, outcomes)
	}
}

// WriteCSV writes one row per outcome.
func WriteCSV(w io.Writer, outcomes []models.BatchOutcome) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for i := range outcomes {
		if err := cw.Write(row(&outcomes[i])); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteHTML writes a minimal standalone table.
func WriteHTML(w io.Writer, outcomes []models.BatchOutcome) error {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>Batch results</title></head><body><table border=\"1\">\n<tr>")
	for _, h := range header {
		b.WriteString("<th>" + html.EscapeString(h) + "</th>")
	}
	b.WriteString("</tr>\n")
	for i := range outcomes {
		b.WriteString("<tr>")
		for _, cell := range row(&outcomes[i]) {
			b.WriteString("<td>" + html.EscapeString(cell) + "</td>")
		}
		b.WriteString("</tr>\n")
	}
	b.WriteString("</table></body></html>\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteXLSX writes a single-sheet workbook.
func WriteXLSX(w io.Writer, outcomes []models.BatchOutcome) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	cells := make([]any, len(header))
	for i, h := range header {
		cells[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &cells); err != nil {
		return err
	}
	for i := range outcomes {
		r := row(&outcomes[i])
		cells := make([]any, len(r))
		for j, c := range r {
			cells[j] = c
		}
		addr, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, addr, &cells); err != nil {
			return err
		}
	}
	return f.Write(w)
}

func row(o *models.BatchOutcome) []string {
	ts := o.Timestamp
	status := "ok"
	var vehicleID, stdout, stderr, errMsg, exit string

	switch {
	case o.Result != nil:
		vehicleID = o.Result.VehicleID
		stdout = o.Result.Stdout
		stderr = o.Result.Stderr
		exit = strconv.Itoa(o.Result.ExitStatus)
		if o.Result.ExitStatus != 0 {
			status = "remote-error"
		}
	case o.Err != nil:
		status = string(o.Err.Kind)
		errMsg = o.Err.Message
	}

	return []string{
		o.Host, vehicleID, status, exit, stdout, stderr, errMsg,
		ts.Format(time.RFC3339),
	}
}
