package reports

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	incidents "pumpwatch/internal/incidents/domain"
	"pumpwatch/internal/observability/metrics"
)

// IncidentLister loads incidents for export.
type IncidentLister interface {
	ListIncidents(ctx context.Context, device, status string, from, to time.Time) ([]incidents.Incident, error)
}

// ExportHandler serves incident report downloads.
type ExportHandler struct {
	lister IncidentLister
	logger *log.Logger
}

// NewExportHandler constructs an export handler.
func NewExportHandler(lister IncidentLister, logger *log.Logger) (*ExportHandler, error) {
	if lister == nil {
		return nil, errors.New("report export: nil lister")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ExportHandler{lister: lister, logger: logger}, nil
}

// ServeHTTP handles GET /api/v1/incidents/export.xlsx and export.pdf.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	format := ""
	switch {
	case strings.HasSuffix(r.URL.Path, ".xlsx"):
		format = "xlsx"
	case strings.HasSuffix(r.URL.Path, ".pdf"):
		format = "pdf"
	default:
		http.Error(w, "unsupported format", http.StatusNotFound)
		return
	}

	params, err := parseParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()
	list, err := h.lister.ListIncidents(r.Context(), params.Device, params.Status, params.From, params.To)
	if err != nil {
		h.logger.Printf("report export: list: %v", err)
		metrics.ObserveExport(format, metrics.ResultError, time.Since(start))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	generatedAt := time.Now().UTC()
	var payload []byte
	switch format {
	case "xlsx":
		payload, err = BuildIncidentXLSX(params, list, generatedAt)
	case "pdf":
		payload, err = BuildIncidentPDF(params, list, generatedAt)
	}
	if err != nil {
		h.logger.Printf("report export: build %s: %v", format, err)
		metrics.ObserveExport(format, metrics.ResultError, time.Since(start))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport(format, metrics.ResultSuccess, time.Since(start))

	filename := "incidents-" + generatedAt.Format("20060102-150405") + "." + format
	if format == "xlsx" {
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	} else {
		w.Header().Set("Content-Type", "application/pdf")
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write(payload)
}

func parseParams(r *http.Request) (ExportParams, error) {
	params := ExportParams{
		Device: r.URL.Query().Get("device"),
		Status: r.URL.Query().Get("status"),
	}
	switch params.Status {
	case "", "active", "inactive":
	default:
		return params, errors.New("status must be active or inactive")
	}
	if value := r.URL.Query().Get("from"); value != "" {
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return params, errors.New("from must be RFC3339")
		}
		params.From = parsed.UTC()
	}
	if value := r.URL.Query().Get("to"); value != "" {
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return params, errors.New("to must be RFC3339")
		}
		params.To = parsed.UTC()
	}
	return params, nil
}
