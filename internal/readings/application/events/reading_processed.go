package events

import "time"

// ReadingProcessed is raised after a reading has passed classification,
// anomaly scoring, health update, and alert evaluation for its sensor.
type ReadingProcessed struct {
	TenantID   string    `json:"tenant_id"`
	SensorID   string    `json:"sensor_id"`
	Value      float64   `json:"value"`
	Status     string    `json:"status"`
	Health     float64   `json:"health"`
	IsAnomaly  bool      `json:"isAnomaly"`
	ZScore     float64   `json:"zScore"`
	OccurredAt time.Time `json:"occurred_at"`
}
