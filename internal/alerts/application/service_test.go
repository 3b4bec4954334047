package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	alerts "sensorgrid-cloud/internal/alerts/domain"
	"sensorgrid-cloud/internal/alerts/infrastructure/memory"
	"sensorgrid-cloud/internal/auth"
	readings "sensorgrid-cloud/internal/readings/domain"
	sensors "sensorgrid-cloud/internal/sensors/domain"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type recordingNotifier struct {
	mu     sync.Mutex
	events []AlertEvent
}

func (n *recordingNotifier) Notify(_ context.Context, event AlertEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	types := make([]string, 0, len(n.events))
	for _, event := range n.events {
		types = append(types, event.Type)
	}
	return types
}

func newTestService(t *testing.T) (*Service, *memory.AlertRepository, *fakeClock, *recordingNotifier) {
	t.Helper()
	repo := memory.NewAlertRepository()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	notifier := &recordingNotifier{}
	service, err := NewService(repo, "tenant-1", WithClock(clock), WithNotifier(notifier))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return service, repo, clock, notifier
}

func testSensor() *sensors.Sensor {
	return &sensors.Sensor{
		ID:        "boiler_press",
		OwnerID:   "tenant-1",
		Name:      "Boiler pressure",
		Type:      sensors.TypePressure,
		Threshold: 12,
		Enabled:   true,
	}
}

func criticalReading(value float64, ts time.Time) readings.Reading {
	return readings.Reading{
		SensorID: "boiler_press",
		OwnerID:  "tenant-1",
		Value:    value,
		Status:   readings.StatusCritical,
		TS:       ts,
	}
}

func normalReading(value float64, ts time.Time) readings.Reading {
	reading := criticalReading(value, ts)
	reading.Status = readings.StatusNormal
	return reading
}

func activeAlerts(t *testing.T, repo *memory.AlertRepository, clock *fakeClock) []alerts.Alert {
	t.Helper()
	open, err := repo.ListByOwner(context.Background(), "tenant-1", alerts.StatusActive, time.Time{}, clock.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	return open
}

func TestHandleReadingDeduplicates(t *testing.T) {
	service, repo, clock, notifier := newTestService(t)
	ctx := context.Background()
	sensor := testSensor()

	if err := service.HandleReading(ctx, sensor, criticalReading(13, clock.Now())); err != nil {
		t.Fatalf("HandleReading: %v", err)
	}
	clock.advance(time.Minute)
	if err := service.HandleReading(ctx, sensor, criticalReading(14, clock.Now())); err != nil {
		t.Fatalf("HandleReading: %v", err)
	}

	open := activeAlerts(t, repo, clock)
	if len(open) != 1 {
		t.Fatalf("active alerts = %d, want 1", len(open))
	}
	if got := notifier.types(); len(got) != 1 || got[0] != EventCreated {
		t.Fatalf("notifications = %v, want [created]", got)
	}
}

func TestHandleReadingSeparatesTypes(t *testing.T) {
	service, repo, clock, _ := newTestService(t)
	ctx := context.Background()
	sensor := testSensor()

	warning := criticalReading(10, clock.Now())
	warning.Status = readings.StatusWarning
	if err := service.HandleReading(ctx, sensor, warning); err != nil {
		t.Fatalf("HandleReading: %v", err)
	}
	clock.advance(time.Minute)
	if err := service.HandleReading(ctx, sensor, criticalReading(13, clock.Now())); err != nil {
		t.Fatalf("HandleReading: %v", err)
	}

	open := activeAlerts(t, repo, clock)
	if len(open) != 2 {
		t.Fatalf("active alerts = %d, want one per type", len(open))
	}
}

func TestHandleReadingAutoResolves(t *testing.T) {
	service, repo, clock, notifier := newTestService(t)
	ctx := context.Background()
	sensor := testSensor()

	if err := service.HandleReading(ctx, sensor, criticalReading(13, clock.Now())); err != nil {
		t.Fatalf("HandleReading: %v", err)
	}
	created := activeAlerts(t, repo, clock)[0]

	clock.advance(5 * time.Minute)
	if err := service.HandleReading(ctx, sensor, normalReading(8, clock.Now())); err != nil {
		t.Fatalf("HandleReading: %v", err)
	}

	if open := activeAlerts(t, repo, clock); len(open) != 0 {
		t.Fatalf("active alerts = %d after recovery, want 0", len(open))
	}
	stored, err := repo.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != alerts.StatusResolved {
		t.Fatalf("status = %q, want resolved", stored.Status)
	}
	if stored.ResolvedAt.Before(stored.CreatedAt) {
		t.Fatalf("resolved_at %v precedes created_at %v", stored.ResolvedAt, stored.CreatedAt)
	}
	if got := notifier.types(); len(got) != 2 || got[1] != EventResolved {
		t.Fatalf("notifications = %v, want [created resolved]", got)
	}
}

func TestHandleReadingResolvesAcknowledged(t *testing.T) {
	service, repo, clock, _ := newTestService(t)
	ctx := context.Background()
	sensor := testSensor()

	if err := service.HandleReading(ctx, sensor, criticalReading(13, clock.Now())); err != nil {
		t.Fatalf("HandleReading: %v", err)
	}
	created := activeAlerts(t, repo, clock)[0]
	clock.advance(time.Minute)
	if _, err := service.Acknowledge(ctx, created.ID); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}

	clock.advance(time.Minute)
	if err := service.HandleReading(ctx, sensor, normalReading(8, clock.Now())); err != nil {
		t.Fatalf("HandleReading: %v", err)
	}
	stored, err := repo.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != alerts.StatusResolved {
		t.Fatalf("status = %q, want resolved", stored.Status)
	}
}

func TestAcknowledgeLifecycle(t *testing.T) {
	service, repo, clock, _ := newTestService(t)
	ctx := context.Background()
	sensor := testSensor()

	if err := service.HandleReading(ctx, sensor, criticalReading(13, clock.Now())); err != nil {
		t.Fatalf("HandleReading: %v", err)
	}
	created := activeAlerts(t, repo, clock)[0]

	clock.advance(time.Minute)
	acked, err := service.Acknowledge(ctx, created.ID)
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if acked.Status != alerts.StatusAcknowledged || acked.AckedAt.IsZero() {
		t.Fatalf("acknowledged alert = %+v", acked)
	}

	// acknowledge is active-only
	if _, err := service.Acknowledge(ctx, created.ID); !errors.Is(err, alerts.ErrNotFound) {
		t.Fatalf("second Acknowledge err = %v, want ErrNotFound", err)
	}

	clock.advance(time.Minute)
	resolved, err := service.Resolve(ctx, created.ID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Status != alerts.StatusResolved || resolved.ResolvedAt.IsZero() {
		t.Fatalf("resolved alert = %+v", resolved)
	}

	// resolved is terminal
	if _, err := service.Resolve(ctx, created.ID); !errors.Is(err, alerts.ErrNotFound) {
		t.Fatalf("Resolve after resolve err = %v, want ErrNotFound", err)
	}
	if _, err := service.Acknowledge(ctx, created.ID); !errors.Is(err, alerts.ErrNotFound) {
		t.Fatalf("Acknowledge after resolve err = %v, want ErrNotFound", err)
	}
}

func TestAcknowledgeUnknownID(t *testing.T) {
	service, _, _, _ := newTestService(t)
	if _, err := service.Acknowledge(context.Background(), "alert-missing"); !errors.Is(err, alerts.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTenantScoping(t *testing.T) {
	service, repo, clock, _ := newTestService(t)
	ctx := context.Background()
	sensor := testSensor()

	if err := service.HandleReading(ctx, sensor, criticalReading(13, clock.Now())); err != nil {
		t.Fatalf("HandleReading: %v", err)
	}
	created := activeAlerts(t, repo, clock)[0]

	foreign := auth.WithIdentity(ctx, "tenant-2", auth.RoleOperator, "mallory")
	if _, err := service.Acknowledge(foreign, created.ID); !errors.Is(err, auth.ErrTenantMismatch) {
		t.Fatalf("cross-tenant Acknowledge err = %v, want ErrTenantMismatch", err)
	}
	if _, err := service.Resolve(foreign, created.ID); !errors.Is(err, auth.ErrTenantMismatch) {
		t.Fatalf("cross-tenant Resolve err = %v, want ErrTenantMismatch", err)
	}

	listed, err := service.List(foreign, "", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("cross-tenant List = %+v, want empty", listed)
	}

	owned := auth.WithIdentity(ctx, "tenant-1", auth.RoleOperator, "alice")
	listed, err = service.List(owned, "", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("owned List = %d alerts, want 1", len(listed))
	}
}

func TestListFiltersStatus(t *testing.T) {
	service, repo, clock, _ := newTestService(t)
	ctx := context.Background()
	sensor := testSensor()

	if err := service.HandleReading(ctx, sensor, criticalReading(13, clock.Now())); err != nil {
		t.Fatalf("HandleReading: %v", err)
	}
	created := activeAlerts(t, repo, clock)[0]
	clock.advance(time.Minute)
	if _, err := service.Resolve(ctx, created.ID); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	clock.advance(time.Minute)
	if err := service.HandleReading(ctx, sensor, criticalReading(14, clock.Now())); err != nil {
		t.Fatalf("HandleReading: %v", err)
	}

	active, err := service.List(ctx, alerts.StatusActive, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(active) != 1 || active[0].Status != alerts.StatusActive {
		t.Fatalf("List(active) = %+v", active)
	}
	all, err := service.List(ctx, "", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("List() = %d alerts, want 2", len(all))
	}
}
