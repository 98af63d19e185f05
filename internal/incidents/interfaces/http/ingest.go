package http

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"pumpwatch/internal/auth"
	"pumpwatch/internal/incidents/application"
	incidents "pumpwatch/internal/incidents/domain"
	"pumpwatch/internal/observability/metrics"
)

// IngestHandler accepts condition reports from pump controllers and feeds
// them through the incident tracker.
type IngestHandler struct {
	tracker *application.Tracker
	logger  *log.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(tracker *application.Tracker, logger *log.Logger) (*IngestHandler, error) {
	if tracker == nil {
		return nil, errors.New("event ingest: nil tracker")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{tracker: tracker, logger: logger}, nil
}

type reportRequest struct {
	Device      string   `json:"device"`
	Type        int      `json:"type"`
	Timestamp   string   `json:"timestamp"`
	StartTime   string   `json:"startTime"`
	Value       *float64 `json:"value"`
	Threshold   *float64 `json:"threshold"`
	Duration    *int64   `json:"duration"`
	Active      *bool    `json:"active"`
	Description string   `json:"description"`
	Location    string   `json:"location"`
}

// ServeHTTP handles POST /ingest/events.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		metrics.IncIngestError("read_body")
		respondError(w, http.StatusBadRequest, "read body error")
		return
	}
	defer r.Body.Close()

	var req reportRequest
	if err := json.Unmarshal(body, &req); err != nil {
		metrics.IncIngestError("decode")
		respondError(w, http.StatusBadRequest, "invalid json")
		return
	}

	report, err := req.toReport()
	if err != nil {
		metrics.IncIngestError("validate")
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Token-authenticated device must match the report it submits.
	if authed := auth.DeviceFromContext(r.Context()); authed != "" && authed != report.Device {
		metrics.IncIngestError("device_mismatch")
		respondError(w, http.StatusForbidden, "device mismatch")
		return
	}

	outcome, err := h.tracker.Submit(r.Context(), report)
	if err != nil {
		h.logger.Printf("event ingest: submit error: device=%s type=%s: %v", report.Device, report.ConditionType, err)
		metrics.ObserveIngest("events", metrics.ResultError, time.Since(start))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	metrics.ObserveIngest("events", metrics.ResultSuccess, time.Since(start))

	switch outcome.Kind {
	case incidents.OutcomeCreated:
		respondJSON(w, http.StatusCreated, map[string]any{"success": true, "id": outcome.IncidentID, "created": true})
	case incidents.OutcomeUpdated:
		respondJSON(w, http.StatusOK, map[string]any{"success": true, "id": outcome.IncidentID, "updated": true})
	case incidents.OutcomeResolved:
		respondJSON(w, http.StatusOK, map[string]any{"success": true, "id": outcome.IncidentID, "resolved": true})
	case incidents.OutcomeNoOpClear:
		respondJSON(w, http.StatusOK, map[string]any{"success": true, "message": "No active event to resolve"})
	default:
		h.logger.Printf("event ingest: unknown outcome %q", outcome.Kind)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (r reportRequest) toReport() (incidents.Report, error) {
	if r.Device == "" {
		return incidents.Report{}, errors.New("device is required")
	}
	condition, ok := incidents.ConditionTypeFromCode(r.Type)
	if !ok {
		return incidents.Report{}, errors.New("type must be 1..5")
	}
	if r.Active == nil {
		return incidents.Report{}, errors.New("active is required")
	}
	if r.Description == "" {
		return incidents.Report{}, errors.New("description is required")
	}
	if r.Location == "" {
		return incidents.Report{}, errors.New("location is required")
	}
	ts, err := parseEpochMillis(r.Timestamp)
	if err != nil {
		return incidents.Report{}, errors.New("timestamp must be epoch milliseconds")
	}
	var startTime time.Time
	if *r.Active {
		startTime, err = parseEpochMillis(r.StartTime)
		if err != nil {
			return incidents.Report{}, errors.New("startTime must be epoch milliseconds")
		}
	}
	var duration int64
	if r.Duration != nil {
		duration = *r.Duration
	}
	if duration < 0 {
		return incidents.Report{}, errors.New("duration must be non-negative")
	}
	report := incidents.Report{
		Device:         r.Device,
		ConditionType:  condition,
		Timestamp:      ts,
		StartTime:      startTime,
		DurationMillis: duration,
		Active:         *r.Active,
		Description:    r.Description,
		Location:       r.Location,
	}
	if r.Value != nil {
		report.Value = *r.Value
	}
	if r.Threshold != nil {
		report.Threshold = *r.Threshold
	}
	return report, nil
}

// parseEpochMillis parses the epoch-millisecond strings devices send.
func parseEpochMillis(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	millis, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if millis <= 0 {
		return time.Time{}, errors.New("invalid timestamp")
	}
	return time.UnixMilli(millis).UTC(), nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{"error": message})
}
