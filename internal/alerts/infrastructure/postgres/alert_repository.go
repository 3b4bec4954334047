package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	alerts "sensorgrid-cloud/internal/alerts/domain"
)

// AlertRepository is a Postgres repository for alerts.
//
// The alerts table carries a partial unique index on
// (sensor_id, type, owner_id) WHERE status = 'active'; Create relies on it as
// the source of truth for dedup even if the in-process check races.
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create inserts a new alert, ignoring the insert when an active row already
// exists for the same (sensor_id, type, owner_id).
func (r *AlertRepository) Create(ctx context.Context, alert *alerts.Alert) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("alert repo: nil db")
	}
	if alert == nil {
		return false, errors.New("alert repo: nil alert")
	}
	if alert.ID == "" || alert.SensorID == "" || alert.OwnerID == "" || alert.Type == "" {
		return false, errors.New("alert repo: missing fields")
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, `
INSERT INTO alerts (
	id, sensor_id, sensor_name, owner_id, type, message, status, created_at, acked_at, resolved_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
)
ON CONFLICT (sensor_id, type, owner_id) WHERE status = 'active'
DO NOTHING`,
		alert.ID,
		alert.SensorID,
		alert.SensorName,
		alert.OwnerID,
		alert.Type,
		alert.Message,
		alert.Status,
		alert.CreatedAt,
		nullableTime(alert.AckedAt),
		nullableTime(alert.ResolvedAt),
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// GetByID fetches an alert by id.
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, sensor_id, sensor_name, owner_id, type, message, status, created_at, acked_at, resolved_at
FROM alerts
WHERE id = $1`, id)
	return scanAlert(row)
}

// FindActive returns the active alert for the dedup key, if any.
func (r *AlertRepository) FindActive(ctx context.Context, ownerID, sensorID, alertType string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if ownerID == "" || sensorID == "" || alertType == "" {
		return nil, errors.New("alert repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, sensor_id, sensor_name, owner_id, type, message, status, created_at, acked_at, resolved_at
FROM alerts
WHERE owner_id = $1 AND sensor_id = $2 AND type = $3 AND status = $4
LIMIT 1`, ownerID, sensorID, alertType, alerts.StatusActive)
	return scanAlert(row)
}

// MarkAcknowledged marks an alert as acknowledged.
func (r *AlertRepository) MarkAcknowledged(ctx context.Context, id string, ackedAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE alerts
SET status = $1, acked_at = $2
WHERE id = $3`, alerts.StatusAcknowledged, ackedAt, id)
	return err
}

// MarkResolved marks an alert as resolved. Terminal.
func (r *AlertRepository) MarkResolved(ctx context.Context, id string, resolvedAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE alerts
SET status = $1, resolved_at = $2
WHERE id = $3`, alerts.StatusResolved, resolvedAt, id)
	return err
}

// ResolveAllOpenBySensor resolves every open alert for the sensor.
func (r *AlertRepository) ResolveAllOpenBySensor(ctx context.Context, ownerID, sensorID string, resolvedAt time.Time) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if ownerID == "" || sensorID == "" {
		return nil, errors.New("alert repo: invalid query")
	}

	rows, err := r.db.QueryContext(ctx, `
UPDATE alerts
SET status = $1, resolved_at = $2
WHERE owner_id = $3 AND sensor_id = $4 AND status IN ($5, $6)
RETURNING id, sensor_id, sensor_name, owner_id, type, message, status, created_at, acked_at, resolved_at`,
		alerts.StatusResolved, resolvedAt, ownerID, sensorID, alerts.StatusActive, alerts.StatusAcknowledged)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListByOwner lists alerts for a tenant within [from, to), newest first.
func (r *AlertRepository) ListByOwner(ctx context.Context, ownerID, status string, from, to time.Time) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if ownerID == "" {
		return nil, errors.New("alert repo: invalid query")
	}

	query := `
SELECT id, sensor_id, sensor_name, owner_id, type, message, status, created_at, acked_at, resolved_at
FROM alerts
WHERE owner_id = $1 AND created_at >= $2 AND created_at < $3`
	args := []any{ownerID, from, to}
	if status != "" {
		query += " AND status = $4"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type alertScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row alertScanner) (*alerts.Alert, error) {
	var alert alerts.Alert
	var ackedAt sql.NullTime
	var resolvedAt sql.NullTime
	if err := row.Scan(
		&alert.ID,
		&alert.SensorID,
		&alert.SensorName,
		&alert.OwnerID,
		&alert.Type,
		&alert.Message,
		&alert.Status,
		&alert.CreatedAt,
		&ackedAt,
		&resolvedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	alert.CreatedAt = alert.CreatedAt.UTC()
	if ackedAt.Valid {
		alert.AckedAt = ackedAt.Time.UTC()
	}
	if resolvedAt.Valid {
		alert.ResolvedAt = resolvedAt.Time.UTC()
	}
	return &alert, nil
}

func nullableTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value, Valid: true}
}
