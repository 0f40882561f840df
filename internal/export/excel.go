package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"rsvp/internal/models"

	"github.com/xuri/excelize/v2"
)

// Exporter writes reservation listings to xlsx workbooks under dir.
type Exporter struct {
	dir string
}

func New(dir string) *Exporter {
	return &Exporter{dir: dir}
}

// Write creates reservations_<timestamp>.xlsx with one row per
// reservation and returns the file path.
func (e *Exporter) Write(reservations []*models.Reservation, now time.Time) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheetName = "Reservations"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return "", fmt.Errorf("error removing default sheet: %w", err)
	}

	headers := []string{"ID", "User", "Resource", "Start", "End", "Status", "Note", "Created"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
	}

	for row, r := range reservations {
		values := []interface{}{
			r.ID,
			r.UserID,
			r.ResourceID,
			r.Start.UTC().Format(time.RFC3339),
			r.End.UTC().Format(time.RFC3339),
			r.Status,
			r.Note,
			r.CreatedAt.UTC().Format(time.RFC3339),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			_ = f.SetCellValue(sheetName, cell, v)
		}
	}

	_ = f.SetColWidth(sheetName, "B", "C", 20)
	_ = f.SetColWidth(sheetName, "D", "E", 22)
	_ = f.SetColWidth(sheetName, "G", "G", 32)

	path := filepath.Join(e.dir, fmt.Sprintf("reservations_%s.xlsx", now.Format("20060102_150405")))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving export file: %w", err)
	}

	return path, nil
}
