package memory

import (
	"context"
	"sync"
	"time"

	telemetry "pumpwatch/internal/telemetry/domain"
)

// ReadingRepository is an in-memory reading store for tests and local runs.
type ReadingRepository struct {
	mu       sync.RWMutex
	readings []telemetry.Reading
}

// NewReadingRepository constructs an empty store.
func NewReadingRepository() *ReadingRepository {
	return &ReadingRepository{}
}

// InsertReadings stores readings.
func (r *ReadingRepository) InsertReadings(_ context.Context, readings []telemetry.Reading) error {
	for _, reading := range readings {
		if err := reading.Validate(); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.readings = append(r.readings, readings...)
	r.mu.Unlock()
	return nil
}

// LatestByDevice returns the most recent reading per device.
func (r *ReadingRepository) LatestByDevice(_ context.Context) ([]telemetry.Reading, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	latest := make(map[string]telemetry.Reading)
	for _, reading := range r.readings {
		current, ok := latest[reading.Device]
		if !ok || reading.TS.After(current.TS) {
			latest[reading.Device] = reading
		}
	}
	out := make([]telemetry.Reading, 0, len(latest))
	for _, reading := range latest {
		out = append(out, reading)
	}
	return out, nil
}

// LastSeen returns the most recent reading timestamp per device.
func (r *ReadingRepository) LastSeen(_ context.Context) (map[string]time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]time.Time)
	for _, reading := range r.readings {
		if ts, ok := seen[reading.Device]; !ok || reading.TS.After(ts) {
			seen[reading.Device] = reading.TS
		}
	}
	return seen, nil
}
