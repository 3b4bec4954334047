package readings

import (
	"context"
	"time"

	sensors "sensorgrid-cloud/internal/sensors/domain"
)

// Reading statuses derived at ingestion time.
const (
	StatusNormal   = "normal"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// WarningRatio is the fraction of the critical threshold that classifies warning.
const WarningRatio = 0.8

// Reading is a single ingested sample. Rows are append-only.
type Reading struct {
	SensorID string    `json:"sensor_id"`
	OwnerID  string    `json:"owner_id"`
	Value    float64   `json:"value"`
	Status   string    `json:"status"`
	TS       time.Time `json:"timestamp"`
}

// Classify derives a reading status from the sensor's threshold and optional
// min/max bounds. Values outside [min, max] classify critical.
func Classify(value float64, sensor *sensors.Sensor) string {
	if sensor == nil {
		return StatusNormal
	}
	if sensor.Min != nil && value < *sensor.Min {
		return StatusCritical
	}
	if sensor.Max != nil && value > *sensor.Max {
		return StatusCritical
	}
	if value >= sensor.Threshold {
		return StatusCritical
	}
	if value >= WarningRatio*sensor.Threshold {
		return StatusWarning
	}
	return StatusNormal
}

// ReadingRepository persists readings.
type ReadingRepository interface {
	Insert(ctx context.Context, reading *Reading) error
}

// ReadingQuery loads reading history for a sensor.
type ReadingQuery interface {
	ListRange(ctx context.Context, sensorID, ownerID string, from, to time.Time) ([]Reading, error)
}
