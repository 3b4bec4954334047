package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	alerts "sensorgrid-cloud/internal/alerts/domain"
)

// AlertRepository is an in-memory implementation used by tests and by
// deployments that run without a database. It enforces the same
// one-active-row-per-(sensor, type, owner) rule as the Postgres index.
type AlertRepository struct {
	mu     sync.Mutex
	byID   map[string]*alerts.Alert
	sorted []string
}

// NewAlertRepository constructs an empty repository.
func NewAlertRepository() *AlertRepository {
	return &AlertRepository{byID: make(map[string]*alerts.Alert)}
}

// Create inserts unless an active duplicate exists.
func (r *AlertRepository) Create(_ context.Context, alert *alerts.Alert) (bool, error) {
	if r == nil {
		return false, errors.New("alert repo: nil repository")
	}
	if alert == nil {
		return false, errors.New("alert repo: nil alert")
	}
	if alert.ID == "" || alert.SensorID == "" || alert.OwnerID == "" || alert.Type == "" {
		return false, errors.New("alert repo: missing fields")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.byID {
		if existing.Status == alerts.StatusActive &&
			existing.OwnerID == alert.OwnerID &&
			existing.SensorID == alert.SensorID &&
			existing.Type == alert.Type {
			return false, nil
		}
	}
	if _, ok := r.byID[alert.ID]; ok {
		return false, errors.New("alert repo: duplicate id")
	}
	stored := *alert
	r.byID[alert.ID] = &stored
	r.sorted = append(r.sorted, alert.ID)
	return true, nil
}

// GetByID fetches an alert by id.
func (r *AlertRepository) GetByID(_ context.Context, id string) (*alerts.Alert, error) {
	if r == nil {
		return nil, errors.New("alert repo: nil repository")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if alert, ok := r.byID[id]; ok {
		copied := *alert
		return &copied, nil
	}
	return nil, nil
}

// FindActive returns the active alert for the dedup key, if any.
func (r *AlertRepository) FindActive(_ context.Context, ownerID, sensorID, alertType string) (*alerts.Alert, error) {
	if r == nil {
		return nil, errors.New("alert repo: nil repository")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, alert := range r.byID {
		if alert.Status == alerts.StatusActive &&
			alert.OwnerID == ownerID &&
			alert.SensorID == sensorID &&
			alert.Type == alertType {
			copied := *alert
			return &copied, nil
		}
	}
	return nil, nil
}

// MarkAcknowledged marks an alert as acknowledged.
func (r *AlertRepository) MarkAcknowledged(_ context.Context, id string, ackedAt time.Time) error {
	if r == nil {
		return errors.New("alert repo: nil repository")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if alert, ok := r.byID[id]; ok {
		alert.Status = alerts.StatusAcknowledged
		alert.AckedAt = ackedAt
	}
	return nil
}

// MarkResolved marks an alert as resolved.
func (r *AlertRepository) MarkResolved(_ context.Context, id string, resolvedAt time.Time) error {
	if r == nil {
		return errors.New("alert repo: nil repository")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if alert, ok := r.byID[id]; ok {
		alert.Status = alerts.StatusResolved
		alert.ResolvedAt = resolvedAt
	}
	return nil
}

// ResolveAllOpenBySensor resolves every open alert for the sensor.
func (r *AlertRepository) ResolveAllOpenBySensor(_ context.Context, ownerID, sensorID string, resolvedAt time.Time) ([]alerts.Alert, error) {
	if r == nil {
		return nil, errors.New("alert repo: nil repository")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var resolved []alerts.Alert
	for _, id := range r.sorted {
		alert := r.byID[id]
		if alert.OwnerID != ownerID || alert.SensorID != sensorID {
			continue
		}
		if alert.Status != alerts.StatusActive && alert.Status != alerts.StatusAcknowledged {
			continue
		}
		alert.Status = alerts.StatusResolved
		alert.ResolvedAt = resolvedAt
		resolved = append(resolved, *alert)
	}
	return resolved, nil
}

// ListByOwner lists alerts for a tenant within [from, to), newest first.
func (r *AlertRepository) ListByOwner(_ context.Context, ownerID, status string, from, to time.Time) ([]alerts.Alert, error) {
	if r == nil {
		return nil, errors.New("alert repo: nil repository")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []alerts.Alert
	for i := len(r.sorted) - 1; i >= 0; i-- {
		alert := r.byID[r.sorted[i]]
		if alert.OwnerID != ownerID {
			continue
		}
		if status != "" && alert.Status != status {
			continue
		}
		if alert.CreatedAt.Before(from) || !alert.CreatedAt.Before(to) {
			continue
		}
		result = append(result, *alert)
	}
	return result, nil
}
