package incidents

import "time"

// ConditionType classifies what triggered an incident.
type ConditionType string

const (
	ConditionHighCurrent    ConditionType = "high_current"
	ConditionLowPressure    ConditionType = "low_pressure"
	ConditionLowTemperature ConditionType = "low_temperature"
	ConditionSensorError    ConditionType = "sensor_error"
	ConditionSystemError    ConditionType = "system_error"
	ConditionMissingData    ConditionType = "missing_data"
)

// ConditionTypeFromCode maps the wire code a device sends to a condition type.
// Code 6 (missing data) is reserved for the staleness monitor and is not
// accepted on the ingest path.
func ConditionTypeFromCode(code int) (ConditionType, bool) {
	switch code {
	case 1:
		return ConditionHighCurrent, true
	case 2:
		return ConditionLowPressure, true
	case 3:
		return ConditionLowTemperature, true
	case 4:
		return ConditionSensorError, true
	case 5:
		return ConditionSystemError, true
	default:
		return "", false
	}
}

// Code returns the wire code for a condition type, 0 when unknown.
func (c ConditionType) Code() int {
	switch c {
	case ConditionHighCurrent:
		return 1
	case ConditionLowPressure:
		return 2
	case ConditionLowTemperature:
		return 3
	case ConditionSensorError:
		return 4
	case ConditionSystemError:
		return 5
	case ConditionMissingData:
		return 6
	default:
		return 0
	}
}

// Valid returns true when the condition type is a known value.
func (c ConditionType) Valid() bool {
	switch c {
	case ConditionHighCurrent, ConditionLowPressure, ConditionLowTemperature,
		ConditionSensorError, ConditionSystemError, ConditionMissingData:
		return true
	default:
		return false
	}
}

// Incident is a persisted record of a condition that was true for some time
// span on some device. At most one incident per (device, condition type) may
// be active at a time.
type Incident struct {
	ID             string        `json:"id"`
	Device         string        `json:"device"`
	ConditionType  ConditionType `json:"condition_type"`
	Location       string        `json:"location"`
	Value          float64       `json:"value"`
	Threshold      float64       `json:"threshold"`
	Description    string        `json:"description"`
	StartTime      time.Time     `json:"start_time"`
	Timestamp      time.Time     `json:"timestamp"`
	DurationMillis int64         `json:"duration_ms"`
	Active         bool          `json:"active"`
	Acknowledged   bool          `json:"acknowledged"`
	AcknowledgedAt time.Time     `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string        `json:"acknowledged_by,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Key identifies the dedupe scope of an incident.
func (i Incident) Key() string {
	return i.Device + "|" + string(i.ConditionType)
}
