package sensors

import (
	"errors"
	"strings"
	"time"
)

// Sensor types supported by the platform.
const (
	TypeTemperature = "temperature"
	TypeHumidity    = "humidity"
	TypePressure    = "pressure"
	TypeVibration   = "vibration"
	TypePower       = "power"
	TypeRelay       = "relay"
	TypeGeneric     = "generic"
)

// Sensor is a provisioned telemetry source owned by exactly one tenant.
type Sensor struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Unit      string    `json:"unit,omitempty"`
	Threshold float64   `json:"threshold"`
	Min       *float64  `json:"min,omitempty"`
	Max       *float64  `json:"max,omitempty"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizeType validates a sensor type string.
func NormalizeType(value string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case TypeTemperature:
		return TypeTemperature, true
	case TypeHumidity:
		return TypeHumidity, true
	case TypePressure:
		return TypePressure, true
	case TypeVibration:
		return TypeVibration, true
	case TypePower:
		return TypePower, true
	case TypeRelay:
		return TypeRelay, true
	case TypeGeneric, "":
		return TypeGeneric, true
	default:
		return "", false
	}
}

// Validate checks required fields.
func (s *Sensor) Validate() error {
	if s == nil {
		return errors.New("sensor: nil sensor")
	}
	if s.ID == "" {
		return errors.New("sensor: empty id")
	}
	if s.OwnerID == "" {
		return errors.New("sensor: empty owner id")
	}
	if s.Name == "" {
		return errors.New("sensor: empty name")
	}
	if _, ok := NormalizeType(s.Type); !ok {
		return errors.New("sensor: invalid type")
	}
	if s.Threshold <= 0 {
		return errors.New("sensor: threshold must be positive")
	}
	if s.Min != nil && s.Max != nil && *s.Min >= *s.Max {
		return errors.New("sensor: min must be below max")
	}
	return nil
}
