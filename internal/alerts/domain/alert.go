package alerts

import (
	"context"
	"time"
)

// Alert statuses. Resolved is terminal; a re-breach creates a new row.
const (
	StatusActive       = "active"
	StatusAcknowledged = "acknowledged"
	StatusResolved     = "resolved"
)

// Alert types mirror the non-normal reading statuses.
const (
	TypeWarning  = "warning"
	TypeCritical = "critical"
)

// Alert is one raised threshold breach for a sensor.
//
// Invariant: at most one row with status=active exists per
// (sensor_id, type, owner_id) at any time.
type Alert struct {
	ID         string    `json:"id"`
	SensorID   string    `json:"sensor_id"`
	SensorName string    `json:"sensor_name"`
	OwnerID    string    `json:"owner_id"`
	Type       string    `json:"type"`
	Message    string    `json:"message"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	AckedAt    time.Time `json:"acked_at,omitempty"`
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
}

// AlertRepository persists alerts and enforces the active-row uniqueness.
type AlertRepository interface {
	// Create inserts the alert unless an active row already exists for the
	// same (sensor_id, type, owner_id). Returns false when suppressed.
	Create(ctx context.Context, alert *Alert) (bool, error)
	GetByID(ctx context.Context, id string) (*Alert, error)
	FindActive(ctx context.Context, ownerID, sensorID, alertType string) (*Alert, error)
	MarkAcknowledged(ctx context.Context, id string, ackedAt time.Time) error
	MarkResolved(ctx context.Context, id string, resolvedAt time.Time) error
	// ResolveAllOpenBySensor resolves every active or acknowledged alert for
	// the sensor and returns the rows it transitioned.
	ResolveAllOpenBySensor(ctx context.Context, ownerID, sensorID string, resolvedAt time.Time) ([]Alert, error)
	ListByOwner(ctx context.Context, ownerID, status string, from, to time.Time) ([]Alert, error)
}
