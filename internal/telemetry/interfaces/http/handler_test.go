package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pumpwatch/internal/telemetry/infrastructure/memory"
	telemetryhttp "pumpwatch/internal/telemetry/interfaces/http"
)

type recordingToucher struct {
	device string
	at     time.Time
}

func (r *recordingToucher) TouchLastSeen(_ context.Context, id string, at time.Time) error {
	r.device = id
	r.at = at
	return nil
}

func TestTelemetryIngestStoresReadings(t *testing.T) {
	repo := memory.NewReadingRepository()
	toucher := &recordingToucher{}
	handler, err := telemetryhttp.NewIngestHandler(repo, toucher, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	payload := map[string]any{
		"device": "pump-07",
		"ts":     time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC).UnixMilli(),
		"values": map[string]float64{
			"current_a":    8.2,
			"pressure_psi": 42.5,
		},
	}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/ingest/telemetry", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["inserted"] != float64(2) {
		t.Fatalf("inserted = %v, want 2", resp["inserted"])
	}
	if toucher.device != "pump-07" {
		t.Fatalf("expected last seen touch for pump-07, got %q", toucher.device)
	}

	seen, err := repo.LastSeen(context.Background())
	if err != nil {
		t.Fatalf("last seen: %v", err)
	}
	if _, ok := seen["pump-07"]; !ok {
		t.Fatalf("expected pump-07 in last seen map, got %v", seen)
	}
}

func TestTelemetryIngestBatchPoints(t *testing.T) {
	repo := memory.NewReadingRepository()
	handler, err := telemetryhttp.NewIngestHandler(repo, nil, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	payload := map[string]any{
		"device": "pump-07",
		"points": []map[string]any{
			{"ts": base.UnixMilli(), "values": map[string]float64{"current_a": 8.0}},
			{"ts": base.Add(time.Minute).UnixMilli(), "values": map[string]float64{"current_a": 8.4}},
		},
	}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/ingest/telemetry", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	latest, err := repo.LatestByDevice(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(latest) != 1 || !latest[0].TS.Equal(base.Add(time.Minute)) {
		t.Fatalf("unexpected latest readings: %+v", latest)
	}
}

func TestTelemetryIngestRejectsBadPayloads(t *testing.T) {
	repo := memory.NewReadingRepository()
	handler, err := telemetryhttp.NewIngestHandler(repo, nil, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", "{oops"},
		{"missing device", `{"ts": 1767052800000, "values": {"current_a": 1}}`},
		{"no points", `{"device": "pump-07"}`},
		{"empty values", `{"device": "pump-07", "ts": 1767052800000, "values": {}}`},
		{"bad ts", `{"device": "pump-07", "ts": -5, "values": {"current_a": 1}}`},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/ingest/telemetry", bytes.NewReader([]byte(tc.body)))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", tc.name, rec.Code)
		}
	}
}
