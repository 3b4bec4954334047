package application

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	alerts "sensorgrid-cloud/internal/alerts/domain"
	"sensorgrid-cloud/internal/auth"
	"sensorgrid-cloud/internal/observability/metrics"
	readings "sensorgrid-cloud/internal/readings/domain"
	sensors "sensorgrid-cloud/internal/sensors/domain"
)

// Alert lifecycle event types.
const (
	EventCreated      = "created"
	EventAcknowledged = "acknowledged"
	EventResolved     = "resolved"
)

// AlertNotifier publishes alert lifecycle events.
type AlertNotifier interface {
	Notify(ctx context.Context, event AlertEvent)
}

// AlertEvent represents a lifecycle update.
type AlertEvent struct {
	Type  string       `json:"type"`
	Alert alerts.Alert `json:"alert"`
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Service is the per-sensor, per-type alert state machine:
// NONE -> ACTIVE -> ACKNOWLEDGED -> RESOLVED, with ACTIVE -> RESOLVED for
// manual and automatic resolution.
type Service struct {
	alerts   alerts.AlertRepository
	notifier AlertNotifier
	clock    Clock
	tenantID string
}

// ServiceOption customizes the alert service.
type ServiceOption func(*Service)

// WithNotifier assigns a notifier.
func WithNotifier(notifier AlertNotifier) ServiceOption {
	return func(s *Service) {
		s.notifier = notifier
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		s.clock = clock
	}
}

// NewService constructs an alert service.
func NewService(repo alerts.AlertRepository, tenantID string, opts ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("alerts: nil repository")
	}
	if tenantID == "" {
		return nil, errors.New("alerts: empty tenant id")
	}
	service := &Service{
		alerts:   repo,
		tenantID: tenantID,
		clock:    systemClock{},
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// HandleReading applies one classified reading to the state machine. A normal
// reading auto-resolves every open alert for the sensor; warning and critical
// readings raise at most one alert per type. Repeated breaches while an
// active row exists are deliberate no-ops, not errors.
func (s *Service) HandleReading(ctx context.Context, sensor *sensors.Sensor, reading readings.Reading) error {
	if s == nil {
		return errors.New("alerts: nil service")
	}
	if reading.SensorID == "" || reading.OwnerID == "" {
		return errors.New("alerts: reading missing sensor/owner")
	}

	if reading.Status == readings.StatusNormal {
		resolvedAt := atOrNow(reading.TS, s.clock)
		resolved, err := s.alerts.ResolveAllOpenBySensor(ctx, reading.OwnerID, reading.SensorID, resolvedAt)
		if err != nil {
			return err
		}
		for _, alert := range resolved {
			s.notify(ctx, EventResolved, alert)
		}
		return nil
	}

	existing, err := s.alerts.FindActive(ctx, reading.OwnerID, reading.SensorID, reading.Status)
	if err != nil {
		return err
	}
	if existing != nil {
		metrics.IncAlertEvent(metrics.AlertEventSuppressed)
		return nil
	}

	createdAt := atOrNow(reading.TS, s.clock)
	label := sensorLabel(sensor, reading.SensorID)
	alert := &alerts.Alert{
		ID:         buildAlertID(reading.OwnerID, reading.SensorID, reading.Status, createdAt),
		SensorID:   reading.SensorID,
		SensorName: label,
		OwnerID:    reading.OwnerID,
		Type:       reading.Status,
		Message:    fmt.Sprintf("%s: %s reading %.2f (threshold %.2f)", label, reading.Status, reading.Value, thresholdOf(sensor)),
		Status:     alerts.StatusActive,
		CreatedAt:  createdAt,
	}
	created, err := s.alerts.Create(ctx, alert)
	if err != nil {
		return err
	}
	if !created {
		// Lost the race against a concurrent breach; the unique index is
		// the source of truth.
		metrics.IncAlertEvent(metrics.AlertEventSuppressed)
		return nil
	}
	s.notify(ctx, EventCreated, *alert)
	return nil
}

// Acknowledge transitions an active alert to acknowledged. Operator action.
func (s *Service) Acknowledge(ctx context.Context, id string) (*alerts.Alert, error) {
	alert, err := s.getOwned(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Status != alerts.StatusActive {
		return nil, alerts.ErrNotFound
	}
	ackedAt := s.clock.Now().UTC()
	if err := s.alerts.MarkAcknowledged(ctx, alert.ID, ackedAt); err != nil {
		return nil, err
	}
	alert.Status = alerts.StatusAcknowledged
	alert.AckedAt = ackedAt
	s.notify(ctx, EventAcknowledged, *alert)
	return alert, nil
}

// Resolve transitions an active or acknowledged alert to resolved. Terminal.
func (s *Service) Resolve(ctx context.Context, id string) (*alerts.Alert, error) {
	alert, err := s.getOwned(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Status != alerts.StatusActive && alert.Status != alerts.StatusAcknowledged {
		return nil, alerts.ErrNotFound
	}
	resolvedAt := s.clock.Now().UTC()
	if err := s.alerts.MarkResolved(ctx, alert.ID, resolvedAt); err != nil {
		return nil, err
	}
	alert.Status = alerts.StatusResolved
	alert.ResolvedAt = resolvedAt
	s.notify(ctx, EventResolved, *alert)
	return alert, nil
}

// List returns alerts for the calling tenant.
func (s *Service) List(ctx context.Context, status string, from, to time.Time) ([]alerts.Alert, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	if to.IsZero() {
		to = s.clock.Now().Add(time.Minute)
	}
	return s.alerts.ListByOwner(ctx, s.callerTenant(ctx), status, from.UTC(), to.UTC())
}

func (s *Service) getOwned(ctx context.Context, id string) (*alerts.Alert, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	if id == "" {
		return nil, errors.New("alerts: alert id required")
	}
	alert, err := s.alerts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, alerts.ErrNotFound
	}
	if tenantID := s.callerTenant(ctx); tenantID != "" && alert.OwnerID != tenantID {
		return nil, auth.ErrTenantMismatch
	}
	return alert, nil
}

func (s *Service) callerTenant(ctx context.Context) string {
	tenantID := auth.TenantIDFromContext(ctx)
	if tenantID == "" {
		tenantID = s.tenantID
	}
	return tenantID
}

func (s *Service) notify(ctx context.Context, eventType string, alert alerts.Alert) {
	if s == nil {
		return
	}
	metrics.IncAlertEvent(eventType)
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, AlertEvent{Type: eventType, Alert: alert})
}

func sensorLabel(sensor *sensors.Sensor, fallback string) string {
	if sensor != nil && sensor.Name != "" {
		return sensor.Name
	}
	return fallback
}

func thresholdOf(sensor *sensors.Sensor) float64 {
	if sensor == nil {
		return 0
	}
	return sensor.Threshold
}

func buildAlertID(ownerID, sensorID, alertType string, createdAt time.Time) string {
	sum := sha1.Sum([]byte(ownerID + "|" + sensorID + "|" + alertType + "|" + createdAt.Format(time.RFC3339Nano)))
	return "alert-" + hex.EncodeToString(sum[:8])
}

func atOrNow(value time.Time, clock Clock) time.Time {
	if value.IsZero() {
		return clock.Now().UTC()
	}
	return value.UTC()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
