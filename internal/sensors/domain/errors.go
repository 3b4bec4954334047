package sensors

import "errors"

// ErrUnknownSensor indicates a reading for an unprovisioned or foreign-tenant sensor.
var ErrUnknownSensor = errors.New("sensor: unknown sensor")

// ErrNotFound indicates a missing sensor record.
var ErrNotFound = errors.New("sensor: not found")
