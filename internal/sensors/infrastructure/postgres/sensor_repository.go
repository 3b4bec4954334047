package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sensors "sensorgrid-cloud/internal/sensors/domain"
)

const defaultSensorsTable = "sensors"

// DBTX is the subset of *sql.DB used by repositories.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SensorRepository is a Postgres implementation for sensors.
type SensorRepository struct {
	db    DBTX
	table string
}

// SensorOption configures the repository.
type SensorOption func(*SensorRepository)

// WithSensorTable overrides the default table name.
func WithSensorTable(table string) SensorOption {
	return func(repo *SensorRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewSensorRepository constructs a repository.
func NewSensorRepository(db DBTX, opts ...SensorOption) *SensorRepository {
	repo := &SensorRepository{db: db, table: defaultSensorsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Get loads a sensor scoped to its owning tenant.
func (r *SensorRepository) Get(ctx context.Context, id, ownerID string) (*sensors.Sensor, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("sensor repo: nil db")
	}
	if id == "" || ownerID == "" {
		return nil, errors.New("sensor repo: empty id or owner")
	}

	query := fmt.Sprintf(`
SELECT id, owner_id, name, type, unit, threshold, min, max, enabled, created_at, updated_at
FROM %s
WHERE id = $1 AND owner_id = $2
LIMIT 1`, r.table)

	return scanSensor(r.db.QueryRowContext(ctx, query, id, ownerID))
}

// ListByOwner returns all enabled sensors for a tenant.
func (r *SensorRepository) ListByOwner(ctx context.Context, ownerID string) ([]sensors.Sensor, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("sensor repo: nil db")
	}
	if ownerID == "" {
		return nil, errors.New("sensor repo: empty owner")
	}

	query := fmt.Sprintf(`
SELECT id, owner_id, name, type, unit, threshold, min, max, enabled, created_at, updated_at
FROM %s
WHERE owner_id = $1 AND enabled
ORDER BY id`, r.table)

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []sensors.Sensor
	for rows.Next() {
		sensor, err := scanSensor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *sensor)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Save upserts a sensor keyed by (id, owner_id).
func (r *SensorRepository) Save(ctx context.Context, sensor *sensors.Sensor) error {
	if r == nil || r.db == nil {
		return errors.New("sensor repo: nil db")
	}
	if sensor == nil {
		return errors.New("sensor repo: nil sensor")
	}
	if err := sensor.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if sensor.CreatedAt.IsZero() {
		sensor.CreatedAt = now
	}
	sensor.UpdatedAt = now

	query := fmt.Sprintf(`
INSERT INTO %s (
	id, owner_id, name, type, unit, threshold, min, max, enabled, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
)
ON CONFLICT (id, owner_id)
DO UPDATE SET
	name = EXCLUDED.name,
	type = EXCLUDED.type,
	unit = EXCLUDED.unit,
	threshold = EXCLUDED.threshold,
	min = EXCLUDED.min,
	max = EXCLUDED.max,
	enabled = EXCLUDED.enabled,
	updated_at = EXCLUDED.updated_at`, r.table)

	_, err := r.db.ExecContext(ctx, query,
		sensor.ID,
		sensor.OwnerID,
		sensor.Name,
		sensor.Type,
		sensor.Unit,
		sensor.Threshold,
		nullableFloat(sensor.Min),
		nullableFloat(sensor.Max),
		sensor.Enabled,
		sensor.CreatedAt,
		sensor.UpdatedAt,
	)
	return err
}

// Disable soft-disables a sensor; readings keep referencing the row.
func (r *SensorRepository) Disable(ctx context.Context, id, ownerID string) error {
	if r == nil || r.db == nil {
		return errors.New("sensor repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET enabled = FALSE, updated_at = $1
WHERE id = $2 AND owner_id = $3`, r.table)

	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id, ownerID)
	if err != nil {
		return err
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sensors.ErrNotFound
	}
	return nil
}

type sensorScanner interface {
	Scan(dest ...any) error
}

func scanSensor(row sensorScanner) (*sensors.Sensor, error) {
	var sensor sensors.Sensor
	var min sql.NullFloat64
	var max sql.NullFloat64
	if err := row.Scan(
		&sensor.ID,
		&sensor.OwnerID,
		&sensor.Name,
		&sensor.Type,
		&sensor.Unit,
		&sensor.Threshold,
		&min,
		&max,
		&sensor.Enabled,
		&sensor.CreatedAt,
		&sensor.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if min.Valid {
		value := min.Float64
		sensor.Min = &value
	}
	if max.Valid {
		value := max.Float64
		sensor.Max = &value
	}
	sensor.CreatedAt = sensor.CreatedAt.UTC()
	sensor.UpdatedAt = sensor.UpdatedAt.UTC()
	return &sensor, nil
}

func nullableFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}
