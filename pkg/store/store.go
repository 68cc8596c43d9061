// Package store persists indicator records and per-report forecast curves in
// Postgres. Curves are pgvector columns so reports can be compared by how
// close their forecasts are.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmmb07/pdf-data-extraction-pipeline/internal/models"
	"github.com/pgvector/pgvector-go"
)

// CurveDim is the length of a stored forecast curve, one value per year
// column.
const CurveDim = 4

var ErrCurveDimension = errors.New("curve length does not match vector dimension")

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

type ForecastStoreConfig struct {
	ConnString  string
	MaxConns    int32
	SearchLimit int
	Logger      *slog.Logger
}

type ForecastStore struct {
	config ForecastStoreConfig
	db     DB
}

func NewWithConfig(ctx context.Context, config ForecastStoreConfig) (*ForecastStore, error) {
	poolConfig, err := pgxpool.ParseConfig(config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return NewWithDB(pool, config), nil
}

// NewWithDB wraps an existing connection pool.
func NewWithDB(db DB, config ForecastStoreConfig) *ForecastStore {
	if config.SearchLimit == 0 {
		config.SearchLimit = 5
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &ForecastStore{config: config, db: db}
}

const insertRecord = `
	INSERT INTO focus_records (run_id, ref_date, indicator, year, value, provenance)
	VALUES ($1, $2, $3, $4, $5::numeric, $6)`

const upsertCurve = `
	INSERT INTO focus_curves (ref_date, indicator, first_year, curve)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (ref_date, indicator) DO UPDATE SET
		first_year = EXCLUDED.first_year,
		curve = EXCLUDED.curve,
		updated_at = now()`

// SaveDocument stores the records of one document and refreshes its curves in
// a single transaction. Curves whose length is not CurveDim are skipped.
func (s *ForecastStore) SaveDocument(ctx context.Context, runID string, provenance models.Provenance, records []models.IndicatorRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range records {
		_, err := tx.Exec(ctx, insertRecord,
			runID,
			r.ReferenceDate,
			r.Indicator,
			r.Year,
			r.Value.String(),
			provenance.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert record: %w", err)
		}
	}

	for _, c := range Curves(records) {
		if len(c.Values) != CurveDim {
			s.config.Logger.Warn("skipping forecast curve",
				slog.String("indicator", c.Indicator),
				slog.Time("ref_date", c.ReferenceDate),
				slog.Int("length", len(c.Values)),
				slog.Any("error", ErrCurveDimension))
			continue
		}
		_, err := tx.Exec(ctx, upsertCurve,
			c.ReferenceDate,
			c.Indicator,
			c.FirstYear,
			pgvector.NewVector(c.Values),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert curve: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Curve is the forecast of one indicator in one report, in year order.
type Curve struct {
	ReferenceDate time.Time
	Indicator     string
	FirstYear     int
	Values        []float32
}

// Curves groups records by report and indicator, keeping first-seen order.
// A report row appears once per year column, so records of one curve are
// already in year order.
func Curves(records []models.IndicatorRecord) []Curve {
	type key struct {
		date      time.Time
		indicator string
	}
	index := map[key]int{}
	var curves []Curve
	for _, r := range records {
		k := key{r.ReferenceDate, r.Indicator}
		i, ok := index[k]
		if !ok {
			i = len(curves)
			index[k] = i
			curves = append(curves, Curve{ReferenceDate: r.ReferenceDate, Indicator: r.Indicator, FirstYear: r.Year})
		}
		v, _ := r.Value.Float64()
		curves[i].Values = append(curves[i].Values, float32(v))
	}
	return curves
}

// Neighbor is a report whose curve is close to the queried one.
type Neighbor struct {
	ReferenceDate time.Time
	FirstYear     int
	Distance      float64
}

const similarCurves = `
	SELECT c.ref_date, c.first_year, c.curve <-> t.curve AS distance
	FROM focus_curves c
	JOIN focus_curves t ON t.indicator = c.indicator AND t.ref_date = $2
	WHERE c.indicator = $1 AND c.ref_date <> $2
	ORDER BY distance
	LIMIT $3`

// Similar returns the reports whose curve for indicator is nearest, by L2
// distance, to the curve published on date.
func (s *ForecastStore) Similar(ctx context.Context, indicator string, date time.Time, limit int) ([]Neighbor, error) {
	if limit <= 0 {
		limit = s.config.SearchLimit
	}

	rows, err := s.db.Query(ctx, similarCurves, indicator, date, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query curves: %w", err)
	}
	defer rows.Close()

	var neighbors []Neighbor
	for rows.Next() {
		var n Neighbor
		if err := rows.Scan(&n.ReferenceDate, &n.FirstYear, &n.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		neighbors = append(neighbors, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read curves: %w", err)
	}
	return neighbors, nil
}

// DeleteRun removes the records written by one run. Curves are left in place
// since a later run may have refreshed them.
func (s *ForecastStore) DeleteRun(ctx context.Context, runID string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM focus_records WHERE run_id = $1`, runID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete run: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *ForecastStore) Close() {
	if s.db != nil {
		s.db.Close()
	}
}
