package issuance

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

// Format is a ledger export format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

const sheetName = "Issued Keys"

// fingerprintPrefix is how much of a fingerprint exports reveal.
const fingerprintPrefix = 16

var exportHeader = []string{"ID", "Client", "Issued", "Expires", "Status", "Fingerprint"}

// exportRow renders e for tabular output.
func exportRow(e Entry, now time.Time) []string {
	expires := "never"
	if e.ExpiresAt != nil {
		expires = e.ExpiresAt.UTC().Format("2006-01-02")
	}
	fp := e.Fingerprint
	if len(fp) > fingerprintPrefix {
		fp = fp[:fingerprintPrefix]
	}
	return []string{
		e.ID,
		e.Client,
		e.IssuedAt.UTC().Format("2006-01-02 15:04:05"),
		expires,
		string(e.DisplayStatus(now)),
		fp,
	}
}

// Export writes entries to w in format.
func Export(w io.Writer, format Format, entries []Entry, now time.Time) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, entries, now)
	case FormatXLSX:
		return WriteXLSX(w, entries, now)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// WriteCSV writes a header row and one row per entry.
func WriteCSV(w io.Writer, entries []Entry, now time.Time) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cw.Write(exportRow(e, now)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes a single-sheet workbook with a frozen header row.
func WriteXLSX(w io.Writer, entries []Entry, now time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	if err := f.SetSheetRow(sheetName, "A1", toCells(exportHeader)); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(exportHeader), 1)
	if err := f.SetCellStyle(sheetName, "A1", last, bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, e := range entries {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheetName, cell, toCells(exportRow(e, now))); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}
	if err := f.SetColWidth(sheetName, "A", "F", 20); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func toCells(row []string) *[]interface{} {
	cells := make([]interface{}, len(row))
	for i, v := range row {
		cells[i] = v
	}
	return &cells
}
