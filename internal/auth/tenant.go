package auth

import (
	"context"
	"database/sql"
	"errors"

	sensorrepo "sensorgrid-cloud/internal/sensors/infrastructure/postgres"
)

var (
	// ErrTenantMismatch indicates resource belongs to a different tenant.
	ErrTenantMismatch = errors.New("tenant mismatch")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("resource not found")
)

// SensorTenantChecker validates sensor tenant ownership.
type SensorTenantChecker interface {
	EnsureSensorTenant(ctx context.Context, tenantID, sensorID string) error
}

// SensorChecker checks sensor ownership against the sensor store.
type SensorChecker struct {
	repo *sensorrepo.SensorRepository
}

// NewSensorChecker constructs a SensorChecker.
func NewSensorChecker(db *sql.DB) *SensorChecker {
	if db == nil {
		return nil
	}
	return &SensorChecker{repo: sensorrepo.NewSensorRepository(db)}
}

// EnsureSensorTenant verifies the sensor belongs to the tenant. The sensor
// store already filters by (id, owner_id), so a foreign sensor reads as
// missing rather than leaking its existence across tenants.
func (c *SensorChecker) EnsureSensorTenant(ctx context.Context, tenantID, sensorID string) error {
	if c == nil || c.repo == nil {
		return nil
	}
	if tenantID == "" || sensorID == "" {
		return nil
	}
	sensor, err := c.repo.Get(ctx, sensorID, tenantID)
	if err != nil {
		return err
	}
	if sensor == nil {
		return ErrNotFound
	}
	return nil
}
