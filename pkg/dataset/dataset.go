// Package dataset accumulates the records of a batch run and writes them out
// as a flat CSV file.
package dataset

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/jmmb07/pdf-data-extraction-pipeline/internal/models"
	"github.com/shopspring/decimal"
)

const DateLayout = "2006-01-02"

// Dataset is an append-only, non-deduplicated sequence of records. It is safe
// for concurrent use.
type Dataset struct {
	mu      sync.Mutex
	records []models.IndicatorRecord
}

func New() *Dataset {
	return &Dataset{}
}

// Append adds the records of one document as a single unit.
func (d *Dataset) Append(records []models.IndicatorRecord) {
	if len(records) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, records...)
}

// Records returns a copy of the accumulated records.
func (d *Dataset) Records() []models.IndicatorRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.IndicatorRecord, len(d.records))
	copy(out, d.records)
	return out
}

func (d *Dataset) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.records)
}

type row struct {
	RefDate   string `csv:"ref_date"`
	Indicator string `csv:"indicator"`
	Year      int    `csv:"year"`
	Value     string `csv:"value"`
}

// Encode writes the dataset as CSV with a header row.
func (d *Dataset) Encode(w io.Writer) error {
	records := d.Records()
	rows := make([]row, 0, len(records))
	for _, r := range records {
		rows = append(rows, row{
			RefDate:   r.ReferenceDate.Format(DateLayout),
			Indicator: r.Indicator,
			Year:      r.Year,
			Value:     r.Value.String(),
		})
	}
	return gocsv.Marshal(rows, w)
}

// WriteCSV writes the dataset to path, creating parent directories. The file
// is replaced atomically.
func (d *Dataset) WriteCSV(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".focus-*.csv")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := d.Encode(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("encode csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadCSV loads a file written by WriteCSV.
func ReadCSV(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []row
	if err := gocsv.Unmarshal(f, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}

	d := New()
	records := make([]models.IndicatorRecord, 0, len(rows))
	for i, r := range rows {
		ref, err := time.Parse(DateLayout, r.RefDate)
		if err != nil {
			return nil, fmt.Errorf("row %d: ref_date: %w", i+2, err)
		}
		value, err := decimal.NewFromString(r.Value)
		if err != nil {
			return nil, fmt.Errorf("row %d: value: %w", i+2, err)
		}
		records = append(records, models.IndicatorRecord{
			ReferenceDate: ref,
			Indicator:     r.Indicator,
			Year:          r.Year,
			Value:         value,
		})
	}
	d.Append(records)
	return d, nil
}

// MergeCSV appends the records of d after those already stored at path and
// rewrites the file. A missing file is treated as an empty dataset.
func MergeCSV(path string, d *Dataset) error {
	merged, err := ReadCSV(path)
	if errors.Is(err, fs.ErrNotExist) {
		merged = New()
	} else if err != nil {
		return err
	}
	for _, records := range GroupByDocument(d.Records()) {
		merged.Append(records)
	}
	return merged.WriteCSV(path)
}

// GroupByDocument splits records by reference date, keeping first-seen order.
func GroupByDocument(records []models.IndicatorRecord) [][]models.IndicatorRecord {
	index := map[time.Time]int{}
	var groups [][]models.IndicatorRecord
	for _, r := range records {
		i, ok := index[r.ReferenceDate]
		if !ok {
			i = len(groups)
			index[r.ReferenceDate] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], r)
	}
	return groups
}
