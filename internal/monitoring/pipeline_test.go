package monitoring

import (
	"context"
	"errors"
	"log"
	"math"
	"sync"
	"testing"
	"time"

	alertsapp "sensorgrid-cloud/internal/alerts/application"
	alerts "sensorgrid-cloud/internal/alerts/domain"
	"sensorgrid-cloud/internal/alerts/infrastructure/memory"
	readings "sensorgrid-cloud/internal/readings/domain"
	sensors "sensorgrid-cloud/internal/sensors/domain"
)

type stubResolver struct {
	sensors map[string]*sensors.Sensor
}

func (r *stubResolver) Get(_ context.Context, id, ownerID string) (*sensors.Sensor, error) {
	sensor, ok := r.sensors[ownerID+"|"+id]
	if !ok {
		return nil, nil
	}
	return sensor, nil
}

type recordingStore struct {
	mu       sync.Mutex
	readings []readings.Reading
}

func (s *recordingStore) Insert(_ context.Context, reading *readings.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, *reading)
	return nil
}

func (s *recordingStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readings)
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func testPipeline(t *testing.T, resolver *stubResolver, repo alerts.AlertRepository, clock *fakeClock, opts ...PipelineOption) *Pipeline {
	t.Helper()
	service, err := alertsapp.NewService(repo, "tenant-1", alertsapp.WithClock(clock))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	cfg := Config{Defaults: Tuning{WindowSize: 20, ZScoreLimit: DefaultZScoreLimit}}
	opts = append(opts, WithPipelineClock(clock))
	pipeline, err := NewPipeline(resolver, service, cfg, log.New(testWriter{t}, "", 0), opts...)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return pipeline
}

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func pressureSensor(id string) *sensors.Sensor {
	return &sensors.Sensor{
		ID:        id,
		OwnerID:   "tenant-1",
		Name:      "Boiler pressure",
		Type:      sensors.TypePressure,
		Unit:      "bar",
		Threshold: 12,
		Enabled:   true,
	}
}

func TestPipelineAlertLifecycle(t *testing.T) {
	resolver := &stubResolver{sensors: map[string]*sensors.Sensor{
		"tenant-1|boiler_press": pressureSensor("boiler_press"),
	}}
	repo := memory.NewAlertRepository()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	pipeline := testPipeline(t, resolver, repo, clock)
	ctx := context.Background()

	result, err := pipeline.Ingest(ctx, "tenant-1", "boiler_press", 13.0, clock.Now())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.Reading.Status != readings.StatusCritical {
		t.Fatalf("status = %q, want critical", result.Reading.Status)
	}
	if result.Health != 98 {
		t.Fatalf("health = %v, want 98", result.Health)
	}

	open, err := repo.ListByOwner(ctx, "tenant-1", alerts.StatusActive, time.Time{}, clock.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("active alerts = %d, want 1", len(open))
	}
	first := open[0]

	// a repeated breach must not raise a second alert
	clock.advance(time.Minute)
	if _, err := pipeline.Ingest(ctx, "tenant-1", "boiler_press", 13.5, clock.Now()); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	open, err = repo.ListByOwner(ctx, "tenant-1", alerts.StatusActive, time.Time{}, clock.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(open) != 1 || open[0].ID != first.ID {
		t.Fatalf("active alerts = %+v, want only %s", open, first.ID)
	}

	// recovery auto-resolves
	clock.advance(time.Minute)
	result, err = pipeline.Ingest(ctx, "tenant-1", "boiler_press", 8.0, clock.Now())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.Reading.Status != readings.StatusNormal {
		t.Fatalf("status = %q, want normal", result.Reading.Status)
	}
	stored, err := repo.GetByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != alerts.StatusResolved {
		t.Fatalf("status = %q, want resolved", stored.Status)
	}
	if stored.ResolvedAt.IsZero() || stored.ResolvedAt.Before(stored.CreatedAt) {
		t.Fatalf("resolved_at %v precedes created_at %v", stored.ResolvedAt, stored.CreatedAt)
	}
}

func TestPipelineSensorIsolation(t *testing.T) {
	resolver := &stubResolver{sensors: map[string]*sensors.Sensor{
		"tenant-1|boiler_press": pressureSensor("boiler_press"),
		"tenant-1|intake_press": pressureSensor("intake_press"),
	}}
	repo := memory.NewAlertRepository()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	pipeline := testPipeline(t, resolver, repo, clock)
	ctx := context.Background()

	if _, err := pipeline.Ingest(ctx, "tenant-1", "boiler_press", 13.0, clock.Now()); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := pipeline.Ingest(ctx, "tenant-1", "intake_press", 14.0, clock.Now()); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	// recovery on one sensor leaves the other's alert open
	if _, err := pipeline.Ingest(ctx, "tenant-1", "intake_press", 5.0, clock.Now()); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	open, err := repo.ListByOwner(ctx, "tenant-1", alerts.StatusActive, time.Time{}, clock.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(open) != 1 || open[0].SensorID != "boiler_press" {
		t.Fatalf("active alerts = %+v, want one for boiler_press", open)
	}
}

func TestPipelineRejectsUnknownSensor(t *testing.T) {
	resolver := &stubResolver{sensors: map[string]*sensors.Sensor{}}
	repo := memory.NewAlertRepository()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	pipeline := testPipeline(t, resolver, repo, clock)

	if _, err := pipeline.Ingest(context.Background(), "tenant-1", "ghost", 1.0, clock.Now()); !errors.Is(err, sensors.ErrUnknownSensor) {
		t.Fatalf("err = %v, want ErrUnknownSensor", err)
	}
}

func TestPipelineRejectsDisabledSensor(t *testing.T) {
	sensor := pressureSensor("boiler_press")
	sensor.Enabled = false
	resolver := &stubResolver{sensors: map[string]*sensors.Sensor{"tenant-1|boiler_press": sensor}}
	repo := memory.NewAlertRepository()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	pipeline := testPipeline(t, resolver, repo, clock)

	if _, err := pipeline.Ingest(context.Background(), "tenant-1", "boiler_press", 1.0, clock.Now()); !errors.Is(err, sensors.ErrUnknownSensor) {
		t.Fatalf("err = %v, want ErrUnknownSensor", err)
	}
}

func TestPipelineRejectsNonFiniteValue(t *testing.T) {
	resolver := &stubResolver{sensors: map[string]*sensors.Sensor{
		"tenant-1|boiler_press": pressureSensor("boiler_press"),
	}}
	repo := memory.NewAlertRepository()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	pipeline := testPipeline(t, resolver, repo, clock)

	for _, value := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := pipeline.Ingest(context.Background(), "tenant-1", "boiler_press", value, clock.Now()); !errors.Is(err, ErrInvalidValue) {
			t.Fatalf("Ingest(%v) err = %v, want ErrInvalidValue", value, err)
		}
	}
}

func TestPipelinePersistsReadings(t *testing.T) {
	resolver := &stubResolver{sensors: map[string]*sensors.Sensor{
		"tenant-1|boiler_press": pressureSensor("boiler_press"),
	}}
	repo := memory.NewAlertRepository()
	store := &recordingStore{}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	pipeline := testPipeline(t, resolver, repo, clock, WithStore(store))
	ctx := context.Background()

	for _, value := range []float64{5, 6, 13} {
		if _, err := pipeline.Ingest(ctx, "tenant-1", "boiler_press", value, clock.Now()); err != nil {
			t.Fatalf("Ingest(%v): %v", value, err)
		}
		clock.advance(time.Second)
	}
	pipeline.Drain()
	if got := store.len(); got != 3 {
		t.Fatalf("stored readings = %d, want 3", got)
	}
}

func TestPipelineTenantSnapshot(t *testing.T) {
	resolver := &stubResolver{sensors: map[string]*sensors.Sensor{
		"tenant-1|boiler_press": pressureSensor("boiler_press"),
		"tenant-1|intake_press": pressureSensor("intake_press"),
	}}
	repo := memory.NewAlertRepository()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	pipeline := testPipeline(t, resolver, repo, clock)
	ctx := context.Background()

	if _, err := pipeline.Ingest(ctx, "tenant-1", "intake_press", 6.0, clock.Now()); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := pipeline.Ingest(ctx, "tenant-1", "boiler_press", 13.0, clock.Now()); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	snapshots := pipeline.TenantSnapshot("tenant-1")
	if len(snapshots) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snapshots))
	}
	if snapshots[0].ID != "boiler_press" || snapshots[1].ID != "intake_press" {
		t.Fatalf("snapshot order = [%s %s], want sorted by id", snapshots[0].ID, snapshots[1].ID)
	}
	if snapshots[0].Status != readings.StatusCritical || snapshots[0].Health != 98 {
		t.Fatalf("boiler snapshot = %+v", snapshots[0])
	}
	if leaked := pipeline.TenantSnapshot("tenant-2"); len(leaked) != 0 {
		t.Fatalf("snapshot leaked across tenants: %+v", leaked)
	}
}

func TestPipelineConcurrentBreachesRaiseOneAlert(t *testing.T) {
	resolver := &stubResolver{sensors: map[string]*sensors.Sensor{
		"tenant-1|boiler_press": pressureSensor("boiler_press"),
	}}
	repo := memory.NewAlertRepository()
	store := &recordingStore{}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	pipeline := testPipeline(t, resolver, repo, clock, WithStore(store))
	ctx := context.Background()

	const writers = 32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := pipeline.Ingest(ctx, "tenant-1", "boiler_press", 13.0, clock.Now()); err != nil {
				t.Errorf("Ingest: %v", err)
			}
		}()
	}
	wg.Wait()
	pipeline.Drain()

	open, err := repo.ListByOwner(ctx, "tenant-1", alerts.StatusActive, time.Time{}, clock.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("active alerts = %d, want exactly 1", len(open))
	}
	if got := store.len(); got != writers {
		t.Fatalf("stored readings = %d, want %d", got, writers)
	}
}

func TestPipelineSeedWindow(t *testing.T) {
	resolver := &stubResolver{sensors: map[string]*sensors.Sensor{
		"tenant-1|boiler_press": pressureSensor("boiler_press"),
	}}
	repo := memory.NewAlertRepository()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	pipeline := testPipeline(t, resolver, repo, clock)

	pipeline.SeedWindow("tenant-1", "boiler_press", sensors.TypePressure, []float64{5, 5.2, 5, 5.2, 5, 5.2, 5, 5.2, 5, 5.2})
	result, err := pipeline.Ingest(context.Background(), "tenant-1", "boiler_press", 9.0, clock.Now())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !result.Score.IsAnomaly {
		t.Fatalf("score = %+v, want anomaly from seeded history", result.Score)
	}
}
