package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[Incident {{.EventLabel}}]
Device: {{.Device}}
Location: {{.Location}}
Condition: {{.Condition}}
Reported Value: {{.Value}}
Threshold: {{.Threshold}}
Start Time: {{.StartTime}}
Current Status: {{.Status}}
Severity: {{.Severity}}
Suggestion: {{.Suggestion}}
{{ if .DetailURL }}
Details: {{.DetailURL}}
{{ end }}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Device      string
	DeviceID    string
	Location    string
	Condition   string
	Value       string
	Threshold   string
	StartTime   string
	Status      string
	Severity    string
	Suggestion  string
	Description string
	DetailURL   string
	Event       string
	EventLabel  string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("incident-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("incident template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
