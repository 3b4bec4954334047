package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	readings "sensorgrid-cloud/internal/readings/domain"
)

const defaultReadingsTable = "readings"

// ReadingRepository is a Postgres implementation for readings.
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

// Insert appends one reading. Readings are never updated or deleted here;
// retention is an external concern.
func (r *ReadingRepository) Insert(ctx context.Context, reading *readings.Reading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if reading == nil {
		return errors.New("reading repo: nil reading")
	}
	if reading.SensorID == "" || reading.OwnerID == "" || reading.TS.IsZero() {
		return errors.New("reading repo: invalid reading")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	sensor_id, owner_id, value, status, ts
) VALUES (
	$1, $2, $3, $4, $5
)`, r.table)

	_, err := r.db.ExecContext(ctx, query,
		reading.SensorID,
		reading.OwnerID,
		reading.Value,
		reading.Status,
		reading.TS,
	)
	return err
}

// ListRange loads readings for a sensor within [from, to), newest first.
func (r *ReadingRepository) ListRange(ctx context.Context, sensorID, ownerID string, from, to time.Time) ([]readings.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	if sensorID == "" || ownerID == "" {
		return nil, errors.New("reading repo: invalid query")
	}

	query := fmt.Sprintf(`
SELECT sensor_id, owner_id, value, status, ts
FROM %s
WHERE sensor_id = $1 AND owner_id = $2 AND ts >= $3 AND ts < $4
ORDER BY ts DESC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, sensorID, ownerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []readings.Reading
	for rows.Next() {
		var reading readings.Reading
		if err := rows.Scan(
			&reading.SensorID,
			&reading.OwnerID,
			&reading.Value,
			&reading.Status,
			&reading.TS,
		); err != nil {
			return nil, err
		}
		reading.TS = reading.TS.UTC()
		result = append(result, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// RecentValues loads the most recent raw values for a sensor, oldest first.
// Used to rebuild rolling statistics after a restart; best-effort.
func (r *ReadingRepository) RecentValues(ctx context.Context, sensorID, ownerID string, limit int) ([]float64, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	if sensorID == "" || ownerID == "" || limit <= 0 {
		return nil, errors.New("reading repo: invalid query")
	}

	query := fmt.Sprintf(`
SELECT value
FROM %s
WHERE sensor_id = $1 AND owner_id = $2
ORDER BY ts DESC
LIMIT $3`, r.table)

	rows, err := r.db.QueryContext(ctx, query, sensorID, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var value float64
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(values)-1; i < j; i, j = i+1, j-1 {
		values[i], values[j] = values[j], values[i]
	}
	return values, nil
}
