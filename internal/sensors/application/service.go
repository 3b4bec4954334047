package application

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"strings"

	"sensorgrid-cloud/internal/auth"
	sensors "sensorgrid-cloud/internal/sensors/domain"
)

// SensorRepository persists provisioned sensors.
type SensorRepository interface {
	Get(ctx context.Context, id, ownerID string) (*sensors.Sensor, error)
	ListByOwner(ctx context.Context, ownerID string) ([]sensors.Sensor, error)
	Save(ctx context.Context, sensor *sensors.Sensor) error
	Disable(ctx context.Context, id, ownerID string) error
}

// ProvisionInput describes a sensor to create or reconfigure.
type ProvisionInput struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Unit      string   `json:"unit"`
	Threshold float64  `json:"threshold"`
	Min       *float64 `json:"min"`
	Max       *float64 `json:"max"`
}

// Service provisions and reconfigures sensors for a tenant. Provisioning is
// explicit: ingestion never auto-creates sensors.
type Service struct {
	sensors  SensorRepository
	tenantID string
}

// NewService constructs a sensor service.
func NewService(repo SensorRepository, tenantID string) (*Service, error) {
	if repo == nil {
		return nil, errors.New("sensors: nil repository")
	}
	if tenantID == "" {
		return nil, errors.New("sensors: empty tenant id")
	}
	return &Service{sensors: repo, tenantID: tenantID}, nil
}

// Provision upserts a sensor for the calling tenant.
func (s *Service) Provision(ctx context.Context, input ProvisionInput) (*sensors.Sensor, error) {
	if s == nil {
		return nil, errors.New("sensors: nil service")
	}
	ownerID := s.callerTenant(ctx)

	sensorType, ok := sensors.NormalizeType(input.Type)
	if !ok {
		return nil, errors.New("sensors: invalid type")
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = stableID(ownerID, input.Name)
	}

	sensor := &sensors.Sensor{
		ID:        id,
		OwnerID:   ownerID,
		Name:      strings.TrimSpace(input.Name),
		Type:      sensorType,
		Unit:      strings.TrimSpace(input.Unit),
		Threshold: input.Threshold,
		Min:       input.Min,
		Max:       input.Max,
		Enabled:   true,
	}
	if existing, err := s.sensors.Get(ctx, id, ownerID); err == nil && existing != nil {
		sensor.CreatedAt = existing.CreatedAt
	}
	if err := sensor.Validate(); err != nil {
		return nil, err
	}
	if err := s.sensors.Save(ctx, sensor); err != nil {
		return nil, err
	}
	return sensor, nil
}

// Disable soft-disables a sensor; its readings stay queryable.
func (s *Service) Disable(ctx context.Context, id string) error {
	if s == nil {
		return errors.New("sensors: nil service")
	}
	if id == "" {
		return errors.New("sensors: sensor id required")
	}
	return s.sensors.Disable(ctx, id, s.callerTenant(ctx))
}

// List returns the tenant's enabled sensors.
func (s *Service) List(ctx context.Context) ([]sensors.Sensor, error) {
	if s == nil {
		return nil, errors.New("sensors: nil service")
	}
	return s.sensors.ListByOwner(ctx, s.callerTenant(ctx))
}

func (s *Service) callerTenant(ctx context.Context) string {
	if tenantID := auth.TenantIDFromContext(ctx); tenantID != "" {
		return tenantID
	}
	return s.tenantID
}

func stableID(ownerID, name string) string {
	sum := sha1.Sum([]byte(ownerID + "|" + strings.ToLower(strings.TrimSpace(name))))
	return "sensor-" + hex.EncodeToString(sum[:8])
}
