package realtime

import (
	"context"
	"errors"
	"time"

	alertsapp "sensorgrid-cloud/internal/alerts/application"
	"sensorgrid-cloud/internal/eventing"
	"sensorgrid-cloud/internal/monitoring"
	"sensorgrid-cloud/internal/readings/application/events"
)

// Broadcast event types.
const (
	EventSensorData         = "sensorData"
	EventHardwareSensorData = "hardwareSensorData"
	EventNewAlert           = "newAlert"
	EventAlertUpdated       = "alertUpdated"
)

// SnapshotProvider supplies the per-tenant sensor state for full-state frames.
type SnapshotProvider interface {
	TenantSnapshot(ownerID string) []monitoring.Snapshot
}

// readingFrame is the hardwareSensorData payload: one raw sample, no tenant
// internals.
type readingFrame struct {
	ID        string    `json:"id"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// alertFrame is the newAlert/alertUpdated payload.
type alertFrame struct {
	ID         string     `json:"id"`
	SensorID   string     `json:"sensor_id"`
	SensorName string     `json:"sensor_name"`
	Type       string     `json:"type"`
	Message    string     `json:"message"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Consumer bridges processed readings and alert events onto the hub. Each
// processed reading produces a hardwareSensorData frame with the raw sample
// and a sensorData frame with the tenant's full current state.
type Consumer struct {
	hub       *Hub
	snapshots SnapshotProvider
}

// NewConsumer constructs a consumer.
func NewConsumer(hub *Hub, snapshots SnapshotProvider) (*Consumer, error) {
	if hub == nil {
		return nil, errors.New("realtime: nil hub")
	}
	return &Consumer{hub: hub, snapshots: snapshots}, nil
}

// BindSnapshots wires the live-state provider. The pipeline is constructed
// after the alert notifier chain, so binding happens late during startup.
func (c *Consumer) BindSnapshots(snapshots SnapshotProvider) {
	if c != nil {
		c.snapshots = snapshots
	}
}

// Register subscribes the consumer to processed-reading events.
func (c *Consumer) Register(bus eventing.EventBus) {
	if c == nil || bus == nil {
		return
	}
	bus.Subscribe(eventing.EventTypeOf[events.ReadingProcessed](), c.handleReading)
}

func (c *Consumer) handleReading(_ context.Context, event any) error {
	processed, ok := event.(events.ReadingProcessed)
	if !ok {
		return nil
	}
	c.hub.Broadcast(processed.TenantID, Envelope{
		Type: EventHardwareSensorData,
		Payload: readingFrame{
			ID:        processed.SensorID,
			Value:     processed.Value,
			Timestamp: processed.OccurredAt,
		},
	})
	if c.snapshots != nil {
		c.hub.Broadcast(processed.TenantID, Envelope{
			Type:    EventSensorData,
			Payload: c.snapshots.TenantSnapshot(processed.TenantID),
		})
	}
	return nil
}

// Notify implements alertsapp.AlertNotifier, forwarding alert lifecycle
// events to the owning tenant's subscribers.
func (c *Consumer) Notify(_ context.Context, event alertsapp.AlertEvent) {
	if c == nil || c.hub == nil {
		return
	}
	frameType := EventAlertUpdated
	if event.Type == alertsapp.EventCreated {
		frameType = EventNewAlert
	}
	frame := alertFrame{
		ID:         event.Alert.ID,
		SensorID:   event.Alert.SensorID,
		SensorName: event.Alert.SensorName,
		Type:       event.Alert.Type,
		Message:    event.Alert.Message,
		Status:     event.Alert.Status,
		CreatedAt:  event.Alert.CreatedAt,
	}
	if !event.Alert.ResolvedAt.IsZero() {
		resolvedAt := event.Alert.ResolvedAt
		frame.ResolvedAt = &resolvedAt
	}
	c.hub.Broadcast(event.Alert.OwnerID, Envelope{
		Type:    frameType,
		Payload: frame,
	})
}
