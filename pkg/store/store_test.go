package store_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jmmb07/pdf-data-extraction-pipeline/internal/models"
	"github.com/jmmb07/pdf-data-extraction-pipeline/pkg/store"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/pgvector/pgvector-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var refDate = time.Date(2025, 9, 26, 0, 0, 0, 0, time.UTC)

func curveRecords(indicator string, firstYear int, values ...string) []models.IndicatorRecord {
	var records []models.IndicatorRecord
	for i, v := range values {
		records = append(records, models.IndicatorRecord{
			ReferenceDate: refDate,
			Indicator:     indicator,
			Year:          firstYear + i,
			Value:         decimal.RequireFromString(v),
		})
	}
	return records
}

func newMockStore(t *testing.T) (*store.ForecastStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	s := store.NewWithDB(mock, store.ForecastStoreConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return s, mock
}

func TestSaveDocument(t *testing.T) {
	s, mock := newMockStore(t)
	defer mock.Close()

	records := curveRecords("IPCA", 2025, "5.0", "4.5", "4.0", "3.75")

	mock.ExpectBegin()
	for _, r := range records {
		mock.ExpectExec("INSERT INTO focus_records").
			WithArgs("run-1", refDate, "IPCA", r.Year, r.Value.String(), "structured").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectExec("INSERT INTO focus_curves").
		WithArgs(refDate, "IPCA", 2025, pgvector.NewVector([]float32{5, 4.5, 4, 3.75})).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.SaveDocument(context.Background(), "run-1", models.Structured, records)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveDocumentSkipsShortCurves(t *testing.T) {
	s, mock := newMockStore(t)
	defer mock.Close()

	records := curveRecords("Selic", 2025, "15.0", "12.25", "10.5")

	mock.ExpectBegin()
	for range records {
		mock.ExpectExec("INSERT INTO focus_records").
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "ocr").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	err := s.SaveDocument(context.Background(), "run-2", models.OCR, records)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveDocumentRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	defer mock.Close()

	records := curveRecords("PIB", 2025, "2.2", "1.8", "1.9", "2.0")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO focus_records").
		WillReturnError(errors.New("relation does not exist"))
	mock.ExpectRollback()

	err := s.SaveDocument(context.Background(), "run-3", models.Structured, records)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert record")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveDocumentEmpty(t *testing.T) {
	s, mock := newMockStore(t)
	defer mock.Close()

	require.NoError(t, s.SaveDocument(context.Background(), "run-4", models.Structured, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSimilar(t *testing.T) {
	s, mock := newMockStore(t)
	defer mock.Close()

	older := refDate.AddDate(0, 0, -7)
	rows := pgxmock.NewRows([]string{"ref_date", "first_year", "distance"}).
		AddRow(older, 2025, 0.05).
		AddRow(older.AddDate(0, 0, -7), 2025, 0.31)

	mock.ExpectQuery("SELECT c.ref_date").
		WithArgs("IPCA", refDate, 5).
		WillReturnRows(rows)

	neighbors, err := s.Similar(context.Background(), "IPCA", refDate, 0)
	require.NoError(t, err)
	require.Len(t, neighbors, 2)
	assert.Equal(t, older, neighbors[0].ReferenceDate)
	assert.InDelta(t, 0.05, neighbors[0].Distance, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteRun(t *testing.T) {
	s, mock := newMockStore(t)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM focus_records").
		WithArgs("run-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 8))

	n, err := s.DeleteRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCurves(t *testing.T) {
	records := append(curveRecords("IPCA", 2025, "5", "4.5"), curveRecords("Selic", 2025, "15")...)
	records = append(records, curveRecords("IPCA", 2027, "4")...)

	curves := store.Curves(records)
	require.Len(t, curves, 2)
	assert.Equal(t, "IPCA", curves[0].Indicator)
	assert.Equal(t, 2025, curves[0].FirstYear)
	assert.Equal(t, []float32{5, 4.5, 4}, curves[0].Values)
	assert.Equal(t, []float32{15}, curves[1].Values)
}
