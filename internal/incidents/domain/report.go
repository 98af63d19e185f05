package incidents

import (
	"errors"
	"time"
)

// Report is one inbound observation from a sensor device stating whether a
// condition is currently active, with supporting telemetry. Duration is the
// elapsed milliseconds reported by the device, never recomputed locally.
type Report struct {
	Device         string
	ConditionType  ConditionType
	Timestamp      time.Time
	StartTime      time.Time
	Value          float64
	Threshold      float64
	DurationMillis int64
	Active         bool
	Description    string
	Location       string
}

// Validate checks report invariants. Malformed reports are the caller's
// fault and must be rejected before the tracker runs.
func (r Report) Validate() error {
	if r.Device == "" {
		return errors.New("report: empty device")
	}
	if !r.ConditionType.Valid() {
		return errors.New("report: invalid condition type")
	}
	if r.Description == "" {
		return errors.New("report: empty description")
	}
	if r.Location == "" {
		return errors.New("report: empty location")
	}
	if r.Timestamp.IsZero() {
		return errors.New("report: zero timestamp")
	}
	if r.Active && r.StartTime.IsZero() {
		return errors.New("report: zero start time")
	}
	if r.DurationMillis < 0 {
		return errors.New("report: negative duration")
	}
	return nil
}
