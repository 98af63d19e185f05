package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"pumpwatch/internal/auth"
	"pumpwatch/internal/observability/metrics"
	telemetry "pumpwatch/internal/telemetry/domain"
)

// LastSeenToucher records when a device was last heard from.
type LastSeenToucher interface {
	TouchLastSeen(ctx context.Context, id string, at time.Time) error
}

// IngestHandler handles telemetry ingestion from pump controllers.
type IngestHandler struct {
	repo    telemetry.Repository
	devices LastSeenToucher
	logger  *log.Logger
}

// NewIngestHandler constructs an ingest handler. The device toucher is optional.
func NewIngestHandler(repo telemetry.Repository, devices LastSeenToucher, logger *log.Logger) (*IngestHandler, error) {
	if repo == nil {
		return nil, errors.New("telemetry ingest: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{repo: repo, devices: devices, logger: logger}, nil
}

// ServeHTTP handles POST /ingest/telemetry.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		metrics.IncIngestError("read_body")
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		metrics.IncIngestError("decode")
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	readings, err := req.toReadings()
	if err != nil {
		metrics.IncIngestError("validate")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if authed := auth.DeviceFromContext(r.Context()); authed != "" && authed != req.Device {
		metrics.IncIngestError("device_mismatch")
		http.Error(w, "device mismatch", http.StatusForbidden)
		return
	}

	if err := h.repo.InsertReadings(r.Context(), readings); err != nil {
		h.logger.Printf("telemetry ingest: insert error: device=%s: %v", req.Device, err)
		metrics.ObserveIngest("telemetry", metrics.ResultError, time.Since(start))
		http.Error(w, "insert error", http.StatusInternalServerError)
		return
	}
	if h.devices != nil {
		if err := h.devices.TouchLastSeen(r.Context(), req.Device, time.Now().UTC()); err != nil {
			h.logger.Printf("telemetry ingest: touch last seen: device=%s: %v", req.Device, err)
		}
	}
	metrics.ObserveIngest("telemetry", metrics.ResultSuccess, time.Since(start))

	resp := map[string]any{"inserted": len(readings)}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

type ingestRequest struct {
	Device  string             `json:"device"`
	TS      int64              `json:"ts"`
	Values  map[string]float64 `json:"values"`
	Quality string             `json:"quality"`
	Points  []ingestPoint      `json:"points"`
}

type ingestPoint struct {
	TS      int64              `json:"ts"`
	Values  map[string]float64 `json:"values"`
	Quality string             `json:"quality"`
}

func (r ingestRequest) toReadings() ([]telemetry.Reading, error) {
	if r.Device == "" {
		return nil, errors.New("missing device")
	}

	points := r.Points
	if len(points) == 0 && r.TS != 0 {
		points = []ingestPoint{{TS: r.TS, Values: r.Values, Quality: r.Quality}}
	}
	if len(points) == 0 {
		return nil, errors.New("no telemetry points")
	}

	readings := make([]telemetry.Reading, 0, len(points))
	for _, point := range points {
		ts, err := parseTimestamp(point.TS)
		if err != nil {
			return nil, err
		}
		if len(point.Values) == 0 {
			return nil, errors.New("empty values")
		}
		for metric, value := range point.Values {
			readings = append(readings, telemetry.Reading{
				Device:  r.Device,
				Metric:  metric,
				TS:      ts,
				Value:   value,
				Quality: point.Quality,
			})
		}
	}
	return readings, nil
}

// parseTimestamp interprets the epoch-millisecond values devices send.
func parseTimestamp(ts int64) (time.Time, error) {
	if ts <= 0 {
		return time.Time{}, errors.New("invalid ts")
	}
	return time.UnixMilli(ts).UTC(), nil
}
