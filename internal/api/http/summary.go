package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	devices "pumpwatch/internal/devices/domain"
	incidents "pumpwatch/internal/incidents/domain"
	telemetry "pumpwatch/internal/telemetry/domain"
)

// IncidentLister loads incidents for the dashboard.
type IncidentLister interface {
	ListIncidents(ctx context.Context, device, status string, from, to time.Time) ([]incidents.Incident, error)
}

// DeviceLister loads registered devices.
type DeviceLister interface {
	List(ctx context.Context) ([]devices.Device, error)
}

// ReadingQuery loads latest pump readings.
type ReadingQuery interface {
	LatestByDevice(ctx context.Context) ([]telemetry.Reading, error)
}

// Summary is the dashboard snapshot.
type Summary struct {
	GeneratedAt    time.Time      `json:"generated_at"`
	OpenIncidents  int            `json:"open_incidents"`
	Unacknowledged int            `json:"unacknowledged"`
	OpenByType     map[string]int `json:"open_by_type"`
	Devices        []DeviceStatus `json:"devices"`
}

// DeviceStatus is one device row in the dashboard summary.
type DeviceStatus struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Location      string     `json:"location"`
	Enabled       bool       `json:"enabled"`
	LastSeenAt    *time.Time `json:"last_seen_at,omitempty"`
	LatestMetric  string     `json:"latest_metric,omitempty"`
	LatestValue   float64    `json:"latest_value,omitempty"`
	OpenIncidents int        `json:"open_incidents"`
}

// SummaryHandler serves the dashboard summary.
type SummaryHandler struct {
	incidents IncidentLister
	devices   DeviceLister
	readings  ReadingQuery
	logger    *log.Logger
}

// NewSummaryHandler constructs a summary handler. The reading query is optional.
func NewSummaryHandler(incidentLister IncidentLister, deviceLister DeviceLister, readings ReadingQuery, logger *log.Logger) (*SummaryHandler, error) {
	if incidentLister == nil {
		return nil, errors.New("summary: nil incident lister")
	}
	if deviceLister == nil {
		return nil, errors.New("summary: nil device lister")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &SummaryHandler{incidents: incidentLister, devices: deviceLister, readings: readings, logger: logger}, nil
}

// ServeHTTP handles GET /api/v1/summary.
func (h *SummaryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	open, err := h.incidents.ListIncidents(ctx, "", "active", time.Time{}, time.Time{})
	if err != nil {
		h.logger.Printf("summary: list incidents: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	registered, err := h.devices.List(ctx)
	if err != nil {
		h.logger.Printf("summary: list devices: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	latest := map[string]telemetry.Reading{}
	if h.readings != nil {
		readings, err := h.readings.LatestByDevice(ctx)
		if err != nil {
			h.logger.Printf("summary: latest readings: %v", err)
		} else {
			for _, reading := range readings {
				latest[reading.Device] = reading
			}
		}
	}

	summary := Summary{
		GeneratedAt: time.Now().UTC(),
		OpenByType:  make(map[string]int),
	}
	openPerDevice := make(map[string]int)
	for _, incident := range open {
		summary.OpenIncidents++
		summary.OpenByType[string(incident.ConditionType)]++
		openPerDevice[incident.Device]++
		if !incident.Acknowledged {
			summary.Unacknowledged++
		}
	}

	summary.Devices = make([]DeviceStatus, 0, len(registered))
	for _, device := range registered {
		status := DeviceStatus{
			ID:            device.ID,
			Name:          device.Name,
			Location:      device.Location,
			Enabled:       device.Enabled,
			OpenIncidents: openPerDevice[device.ID],
		}
		if !device.LastSeenAt.IsZero() {
			seen := device.LastSeenAt.UTC()
			status.LastSeenAt = &seen
		}
		if reading, ok := latest[device.ID]; ok {
			status.LatestMetric = reading.Metric
			status.LatestValue = reading.Value
			if status.LastSeenAt == nil || reading.TS.After(*status.LastSeenAt) {
				ts := reading.TS.UTC()
				status.LastSeenAt = &ts
			}
		}
		summary.Devices = append(summary.Devices, status)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(summary)
}
