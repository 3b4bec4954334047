package monitoring

import (
	"context"
	"errors"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"sensorgrid-cloud/internal/eventing"
	"sensorgrid-cloud/internal/observability/metrics"
	"sensorgrid-cloud/internal/readings/application/events"
	readings "sensorgrid-cloud/internal/readings/domain"
	sensors "sensorgrid-cloud/internal/sensors/domain"
)

// ErrInvalidValue indicates a non-finite reading value.
var ErrInvalidValue = errors.New("monitoring: non-finite value")

// SensorResolver loads a sensor scoped to its owning tenant.
type SensorResolver interface {
	Get(ctx context.Context, id, ownerID string) (*sensors.Sensor, error)
}

// AlertHandler applies a classified reading to the alert state machine.
type AlertHandler interface {
	HandleReading(ctx context.Context, sensor *sensors.Sensor, reading readings.Reading) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Result is the outcome of one ingested reading, returned to the caller and
// fanned out to subscribers.
type Result struct {
	Reading readings.Reading `json:"reading"`
	Health  float64          `json:"health"`
	Score   Score            `json:"score"`
}

// Snapshot is the current state of one sensor as seen by subscribers.
type Snapshot struct {
	ID        string    `json:"id"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
	Health    float64   `json:"health"`
	IsAnomaly bool      `json:"isAnomaly"`
	ZScore    float64   `json:"zScore"`
}

// Pipeline owns all per-sensor mutable state: rolling window, health score,
// and the serialized path through classification and alert evaluation.
// Readings for one sensor are strictly ordered; different sensors proceed in
// parallel. The store write and event publish happen off the ingest path and
// are best-effort.
type Pipeline struct {
	sensors SensorResolver
	alerts  AlertHandler
	store   readings.ReadingRepository
	bus     eventing.EventBus
	cfg     Config
	logger  *log.Logger
	clock   Clock

	mu     sync.Mutex
	states map[string]*sensorState

	writes sync.WaitGroup
}

type sensorState struct {
	mu       sync.Mutex
	window   *Window
	detector *Detector
	health   float64
	last     Snapshot
	seen     bool
}

// PipelineOption customizes the pipeline.
type PipelineOption func(*Pipeline)

// WithStore assigns the reading store.
func WithStore(store readings.ReadingRepository) PipelineOption {
	return func(p *Pipeline) {
		p.store = store
	}
}

// WithBus assigns the event bus for processed-reading fan-out.
func WithBus(bus eventing.EventBus) PipelineOption {
	return func(p *Pipeline) {
		p.bus = bus
	}
}

// WithPipelineClock assigns a clock.
func WithPipelineClock(clock Clock) PipelineOption {
	return func(p *Pipeline) {
		p.clock = clock
	}
}

// NewPipeline constructs a pipeline.
func NewPipeline(resolver SensorResolver, alertHandler AlertHandler, cfg Config, logger *log.Logger, opts ...PipelineOption) (*Pipeline, error) {
	if resolver == nil {
		return nil, errors.New("monitoring: nil sensor resolver")
	}
	if alertHandler == nil {
		return nil, errors.New("monitoring: nil alert handler")
	}
	if logger == nil {
		logger = log.Default()
	}
	pipeline := &Pipeline{
		sensors: resolver,
		alerts:  alertHandler,
		cfg:     cfg,
		logger:  logger,
		clock:   systemClock{},
		states:  make(map[string]*sensorState),
	}
	for _, opt := range opts {
		opt(pipeline)
	}
	return pipeline, nil
}

// Ingest processes one reading end to end: resolve the sensor, score it
// against prior history, update health, classify, and run the alert state
// machine, all serialized per sensor. Unknown sensors and non-finite values
// are rejected with no side effects.
func (p *Pipeline) Ingest(ctx context.Context, ownerID, sensorID string, value float64, receivedAt time.Time) (*Result, error) {
	if p == nil {
		return nil, errors.New("monitoring: nil pipeline")
	}
	if ownerID == "" || sensorID == "" {
		return nil, errors.New("monitoring: missing sensor/owner id")
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, ErrInvalidValue
	}

	sensor, err := p.sensors.Get(ctx, sensorID, ownerID)
	if err != nil {
		return nil, err
	}
	if sensor == nil || !sensor.Enabled {
		return nil, sensors.ErrUnknownSensor
	}

	ts := receivedAt.UTC()
	if receivedAt.IsZero() {
		ts = p.clock.Now().UTC()
	}

	state := p.state(ownerID, sensorID, sensor.Type)
	state.mu.Lock()
	score := state.detector.Evaluate(state.window, value)
	state.window.Push(value)
	state.health = UpdateHealth(state.health, value, sensor.Threshold)

	reading := readings.Reading{
		SensorID: sensorID,
		OwnerID:  ownerID,
		Value:    value,
		Status:   readings.Classify(value, sensor),
		TS:       ts,
	}
	result := &Result{Reading: reading, Health: state.health, Score: score}

	if err := p.alerts.HandleReading(ctx, sensor, reading); err != nil {
		// In-memory updates stand; durability gaps are acceptable for
		// this telemetry class.
		p.logger.Printf("alert evaluation failed for sensor %s: %v", sensorID, err)
		metrics.IncPersistenceError("alerts")
	}

	state.last = Snapshot{
		ID:        sensorID,
		Value:     value,
		Timestamp: ts,
		Status:    reading.Status,
		Health:    state.health,
		IsAnomaly: score.IsAnomaly,
		ZScore:    score.ZScore,
	}
	state.seen = true
	state.mu.Unlock()

	if score.IsAnomaly {
		metrics.IncAnomaly(sensor.Type)
	}

	p.persist(reading)
	p.publish(result)
	return result, nil
}

// SeedWindow preloads a sensor's rolling history, chronological order.
// Used to rebuild statistics from recent readings after a restart.
func (p *Pipeline) SeedWindow(ownerID, sensorID, sensorType string, values []float64) {
	if p == nil || len(values) == 0 {
		return
	}
	state := p.state(ownerID, sensorID, sensorType)
	state.mu.Lock()
	for _, value := range values {
		state.window.Push(value)
	}
	state.mu.Unlock()
}

// TenantSnapshot returns the current state of every observed sensor for a
// tenant, ordered by sensor id.
func (p *Pipeline) TenantSnapshot(ownerID string) []Snapshot {
	if p == nil || ownerID == "" {
		return nil
	}
	prefix := ownerID + "|"

	p.mu.Lock()
	states := make([]*sensorState, 0, len(p.states))
	for key, state := range p.states {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			states = append(states, state)
		}
	}
	p.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(states))
	for _, state := range states {
		state.mu.Lock()
		if state.seen {
			snapshots = append(snapshots, state.last)
		}
		state.mu.Unlock()
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].ID < snapshots[j].ID })
	return snapshots
}

// Drain waits for in-flight store writes and event publishes. Used on
// shutdown and by tests.
func (p *Pipeline) Drain() {
	if p == nil {
		return
	}
	p.writes.Wait()
}

func (p *Pipeline) state(ownerID, sensorID, sensorType string) *sensorState {
	key := ownerID + "|" + sensorID
	p.mu.Lock()
	defer p.mu.Unlock()
	if state, ok := p.states[key]; ok {
		return state
	}
	tuning := p.cfg.TuningForType(sensorType)
	state := &sensorState{
		window:   NewWindow(tuning.WindowSize),
		detector: NewDetector(tuning.ZScoreLimit),
		health:   HealthMax,
	}
	p.states[key] = state
	return state
}

func (p *Pipeline) persist(reading readings.Reading) {
	if p.store == nil {
		return
	}
	p.writes.Add(1)
	go func() {
		defer p.writes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.store.Insert(ctx, &reading); err != nil {
			p.logger.Printf("reading write failed for sensor %s: %v", reading.SensorID, err)
			metrics.IncPersistenceError("readings")
		}
	}()
}

func (p *Pipeline) publish(result *Result) {
	if p.bus == nil {
		return
	}
	event := events.ReadingProcessed{
		TenantID:   result.Reading.OwnerID,
		SensorID:   result.Reading.SensorID,
		Value:      result.Reading.Value,
		Status:     result.Reading.Status,
		Health:     result.Health,
		IsAnomaly:  result.Score.IsAnomaly,
		ZScore:     result.Score.ZScore,
		OccurredAt: result.Reading.TS,
	}
	p.writes.Add(1)
	go func() {
		defer p.writes.Done()
		if err := p.bus.Publish(context.Background(), event); err != nil {
			p.logger.Printf("reading publish failed for sensor %s: %v", event.SensorID, err)
		}
	}()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
