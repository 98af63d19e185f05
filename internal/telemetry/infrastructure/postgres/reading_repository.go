package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	telemetry "pumpwatch/internal/telemetry/domain"
)

const defaultReadingsTable = "readings"

// ReadingRepository is a Postgres implementation for pump readings.
type ReadingRepository struct {
	db    *sql.DB
	table string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*ReadingRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *ReadingRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewReadingRepository constructs a repository with the default table name.
func NewReadingRepository(db *sql.DB, opts ...RepositoryOption) *ReadingRepository {
	repo := &ReadingRepository{db: db, table: defaultReadingsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// InsertReadings upserts pump readings.
func (r *ReadingRepository) InsertReadings(ctx context.Context, readings []telemetry.Reading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if len(readings) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	device,
	metric,
	ts,
	value,
	quality
) VALUES (
	$1, $2, $3, $4, $5
)
ON CONFLICT (device, metric, ts)
DO UPDATE SET
	value = EXCLUDED.value,
	quality = EXCLUDED.quality`, r.table)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, reading := range readings {
		if err := reading.Validate(); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(
			ctx,
			reading.Device,
			reading.Metric,
			reading.TS,
			reading.Value,
			reading.Quality,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// LatestByDevice returns the most recent reading per device.
func (r *ReadingRepository) LatestByDevice(ctx context.Context) ([]telemetry.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT DISTINCT ON (device)
	device, metric, ts, value, quality
FROM %s
ORDER BY device, ts DESC`, r.table)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []telemetry.Reading
	for rows.Next() {
		var reading telemetry.Reading
		var quality sql.NullString
		if err := rows.Scan(&reading.Device, &reading.Metric, &reading.TS, &reading.Value, &quality); err != nil {
			return nil, err
		}
		reading.Quality = quality.String
		reading.TS = reading.TS.UTC()
		readings = append(readings, reading)
	}
	return readings, rows.Err()
}

// LastSeen returns the most recent reading timestamp per device.
func (r *ReadingRepository) LastSeen(ctx context.Context) (map[string]time.Time, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT device, MAX(ts)
FROM %s
GROUP BY device`, r.table)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[string]time.Time)
	for rows.Next() {
		var device string
		var ts time.Time
		if err := rows.Scan(&device, &ts); err != nil {
			return nil, err
		}
		seen[device] = ts.UTC()
	}
	return seen, rows.Err()
}
