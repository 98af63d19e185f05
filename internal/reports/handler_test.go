package reports

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	incidents "pumpwatch/internal/incidents/domain"
)

type stubLister struct {
	list []incidents.Incident
	err  error
}

func (s stubLister) ListIncidents(_ context.Context, _ string, _ string, _ time.Time, _ time.Time) ([]incidents.Incident, error) {
	return s.list, s.err
}

func sampleIncidents() []incidents.Incident {
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	return []incidents.Incident{
		{
			ID:             "inc-1",
			Device:         "pump-07",
			ConditionType:  incidents.ConditionLowPressure,
			Location:       "field-3",
			Value:          1.4,
			Threshold:      2.0,
			Description:    "pressure below threshold",
			StartTime:      start,
			Timestamp:      start.Add(5 * time.Minute),
			DurationMillis: 300000,
			Active:         false,
		},
		{
			ID:            "inc-2",
			Device:        "pump-09",
			ConditionType: incidents.ConditionHighCurrent,
			Location:      "field-1",
			Value:         15.1,
			Threshold:     10,
			Description:   "current above threshold",
			StartTime:     start.Add(time.Hour),
			Timestamp:     start.Add(time.Hour),
			Active:        true,
			Acknowledged:  true,
		},
	}
}

func TestExportXLSX(t *testing.T) {
	handler, err := NewExportHandler(stubLister{list: sampleIncidents()}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents/export.xlsx?device=pump-07", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("content type = %s", ct)
	}
	// XLSX files are zip archives.
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Fatalf("expected zip payload, got %q", rec.Body.Bytes()[:4])
	}
}

func TestExportPDF(t *testing.T) {
	handler, err := NewExportHandler(stubLister{list: sampleIncidents()}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents/export.pdf", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("content type = %s", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("expected pdf payload, got %q", rec.Body.Bytes()[:4])
	}
}

func TestExportRejectsBadRequests(t *testing.T) {
	handler, err := NewExportHandler(stubLister{}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents/export.csv", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown format: status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/incidents/export.xlsx?status=open", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad status filter: status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/incidents/export.pdf?from=yesterday", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad from filter: status = %d", rec.Code)
	}
}
