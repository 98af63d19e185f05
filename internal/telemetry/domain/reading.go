package telemetry

import (
	"context"
	"errors"
	"time"
)

// Metric identifies what a pump reading measures.
const (
	MetricCurrentA     = "current_a"
	MetricPressurePSI  = "pressure_psi"
	MetricTemperatureC = "temperature_c"
	MetricFlowGPM      = "flow_gpm"
)

// Reading is a raw pump telemetry value written to storage.
type Reading struct {
	Device  string    `json:"device"`
	Metric  string    `json:"metric"`
	TS      time.Time `json:"ts"`
	Value   float64   `json:"value"`
	Quality string    `json:"quality,omitempty"`
}

// Validate checks a reading is storable.
func (r Reading) Validate() error {
	if r.Device == "" {
		return errors.New("reading: empty device")
	}
	if r.Metric == "" {
		return errors.New("reading: empty metric")
	}
	if r.TS.IsZero() {
		return errors.New("reading: zero timestamp")
	}
	return nil
}

// Repository persists pump readings.
type Repository interface {
	InsertReadings(ctx context.Context, readings []Reading) error
}

// Query loads readings for the monitor and the dashboard.
type Query interface {
	// LatestByDevice returns the most recent reading per device.
	LatestByDevice(ctx context.Context) ([]Reading, error)
	// LastSeen returns the most recent reading timestamp per device.
	LastSeen(ctx context.Context) (map[string]time.Time, error)
}
