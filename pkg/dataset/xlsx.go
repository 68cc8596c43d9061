package dataset

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
)

const sheetName = "focus"

var xlsxHeader = []interface{}{"ref_date", "indicator", "year", "value"}

// WriteXLSX writes the dataset to a single-sheet workbook with the same
// columns as the CSV. Values are stored as numbers.
func (d *Dataset) WriteXLSX(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}

	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return err
	}
	if err := sw.SetRow("A1", xlsxHeader); err != nil {
		return err
	}

	for i, r := range d.Records() {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		value, _ := r.Value.Float64()
		row := []interface{}{r.ReferenceDate.Format(DateLayout), r.Indicator, r.Year, value}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	return f.SaveAs(path)
}
