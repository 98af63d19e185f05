package reports

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	incidents "pumpwatch/internal/incidents/domain"
)

// ExportParams describes the filter the export was built from.
type ExportParams struct {
	Device string
	Status string
	From   time.Time
	To     time.Time
}

// BuildIncidentPDF renders a PDF incident report.
func BuildIncidentPDF(params ExportParams, list []incidents.Incident, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Incident Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	if params.Device != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Device: %s", params.Device))
		pdf.Ln(5)
	}
	if params.Status != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Status: %s", params.Status))
		pdf.Ln(5)
	}
	if !params.From.IsZero() {
		pdf.Cell(0, 6, fmt.Sprintf("From: %s", params.From.UTC().Format(time.RFC3339)))
		pdf.Ln(5)
	}
	if !params.To.IsZero() {
		pdf.Cell(0, 6, fmt.Sprintf("To: %s", params.To.UTC().Format(time.RFC3339)))
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Incidents: %d", len(list)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(34, 6, "ID", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 6, "Device", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Condition", "1", 0, "C", false, 0, "")
	pdf.CellFormat(38, 6, "Start", "1", 0, "C", false, 0, "")
	pdf.CellFormat(26, 6, "Duration (s)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(22, 6, "Status", "1", 0, "C", false, 0, "")
	pdf.CellFormat(22, 6, "Acked", "1", 0, "C", false, 0, "")
	pdf.CellFormat(70, 6, "Description", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, incident := range list {
		pdf.CellFormat(34, 6, incident.ID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(28, 6, incident.Device, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, string(incident.ConditionType), "1", 0, "L", false, 0, "")
		pdf.CellFormat(38, 6, incident.StartTime.UTC().Format(time.RFC3339), "1", 0, "L", false, 0, "")
		pdf.CellFormat(26, 6, fmt.Sprintf("%.0f", float64(incident.DurationMillis)/1000), "1", 0, "R", false, 0, "")
		pdf.CellFormat(22, 6, statusLabel(incident), "1", 0, "C", false, 0, "")
		pdf.CellFormat(22, 6, ackLabel(incident), "1", 0, "C", false, 0, "")
		pdf.CellFormat(70, 6, incident.Description, "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildIncidentXLSX renders an XLSX incident report.
func BuildIncidentXLSX(params ExportParams, list []incidents.Incident, generatedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	incidentsSheet := "incidents"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(incidentsSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Incident Report")
	_ = f.SetCellValue(summarySheet, "A3", "Generated")
	_ = f.SetCellValue(summarySheet, "B3", generatedAt.UTC().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A4", "Device")
	_ = f.SetCellValue(summarySheet, "B4", orAll(params.Device))
	_ = f.SetCellValue(summarySheet, "A5", "Status")
	_ = f.SetCellValue(summarySheet, "B5", orAll(params.Status))
	if !params.From.IsZero() {
		_ = f.SetCellValue(summarySheet, "A6", "From")
		_ = f.SetCellValue(summarySheet, "B6", params.From.UTC().Format(time.RFC3339))
	}
	if !params.To.IsZero() {
		_ = f.SetCellValue(summarySheet, "A7", "To")
		_ = f.SetCellValue(summarySheet, "B7", params.To.UTC().Format(time.RFC3339))
	}
	_ = f.SetCellValue(summarySheet, "A8", "Incidents")
	_ = f.SetCellValue(summarySheet, "B8", len(list))

	headers := []string{"ID", "Device", "Condition", "Location", "Value", "Threshold", "Start", "Last Report", "Duration (ms)", "Status", "Acknowledged", "Acknowledged By", "Description"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(incidentsSheet, cell, header)
	}
	for i, incident := range list {
		row := i + 2
		values := []any{
			incident.ID,
			incident.Device,
			string(incident.ConditionType),
			incident.Location,
			incident.Value,
			incident.Threshold,
			incident.StartTime.UTC().Format(time.RFC3339),
			incident.Timestamp.UTC().Format(time.RFC3339),
			incident.DurationMillis,
			statusLabel(incident),
			ackLabel(incident),
			incident.AcknowledgedBy,
			incident.Description,
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(incidentsSheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func statusLabel(incident incidents.Incident) string {
	if incident.Active {
		return "active"
	}
	return "resolved"
}

func ackLabel(incident incidents.Incident) string {
	if incident.Acknowledged {
		return "yes"
	}
	return "no"
}

func orAll(value string) string {
	if value == "" {
		return "all"
	}
	return value
}
