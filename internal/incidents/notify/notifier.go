package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	devices "pumpwatch/internal/devices/domain"
	"pumpwatch/internal/incidents/application"
	incidents "pumpwatch/internal/incidents/domain"
)

// IncidentReader loads incident records.
type IncidentReader interface {
	GetByID(ctx context.Context, id string) (*incidents.Incident, error)
}

// DeviceReader loads device metadata.
type DeviceReader interface {
	Get(ctx context.Context, id string) (*devices.Device, error)
}

// Clock provides time for scheduling.
type Clock interface {
	Now() time.Time
}

// DetailURLResolver provides a dashboard link for an incident when available.
type DetailURLResolver func(ctx context.Context, incident incidents.Incident) string

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier sends incident notifications via a channel and escalates
// incidents that stay unacknowledged.
type Notifier struct {
	incidents      IncidentReader
	devices        DeviceReader
	channel        Channel
	template       *Template
	escalation     time.Duration
	clock          Clock
	mu             sync.Mutex
	timers         map[string]*time.Timer
	sent           map[string]sendRecord
	cooldown       time.Duration
	dedupeWindow   time.Duration
	detailURL      DetailURLResolver
	requestTimeout time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithEscalation configures escalation delay.
func WithEscalation(after time.Duration) Option {
	return func(n *Notifier) {
		if after > 0 {
			n.escalation = after
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithRequestTimeout overrides the default timeout for escalation checks.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same incident and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithDeviceReader injects a device metadata reader.
func WithDeviceReader(reader DeviceReader) Option {
	return func(n *Notifier) {
		if reader != nil {
			n.devices = reader
		}
	}
}

// WithDetailURLResolver injects a dashboard link resolver.
func WithDetailURLResolver(resolver DetailURLResolver) Option {
	return func(n *Notifier) {
		if resolver != nil {
			n.detailURL = resolver
		}
	}
}

// NewNotifier constructs an incident notifier.
func NewNotifier(reader IncidentReader, channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if reader == nil {
		return nil, errors.New("incident notifier: nil incident reader")
	}
	if channel == nil {
		return nil, errors.New("incident notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		incidents:      reader,
		channel:        channel,
		template:       template,
		escalation:     0,
		clock:          systemClock{},
		timers:         make(map[string]*time.Timer),
		sent:           make(map[string]sendRecord),
		requestTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements application.Notifier.
func (n *Notifier) Notify(ctx context.Context, event application.IncidentEvent) {
	if n == nil || n.channel == nil {
		return
	}
	device := n.lookupDevice(ctx, event.Incident.Device)
	n.dispatch(ctx, event.Type, event.Incident, device)

	switch event.Type {
	case "created":
		n.scheduleEscalation(event.Incident)
	case "resolved":
		n.cancelEscalation(event.Incident.ID)
	}
}

// Close stops all pending escalation timers.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.mu.Lock()
	timers := n.timers
	n.timers = make(map[string]*time.Timer)
	n.mu.Unlock()
	for _, timer := range timers {
		if timer != nil {
			timer.Stop()
		}
	}
}

func (n *Notifier) lookupDevice(ctx context.Context, id string) *devices.Device {
	if n.devices == nil || id == "" {
		return nil
	}
	device, err := n.devices.Get(ctx, id)
	if err != nil {
		return nil
	}
	return device
}

func (n *Notifier) dispatch(ctx context.Context, eventType string, incident incidents.Incident, device *devices.Device) {
	detailURL := ""
	if n != nil && n.detailURL != nil {
		detailURL = n.detailURL(ctx, incident)
	}
	data := buildTemplateData(eventType, incident, device, detailURL)
	content, err := n.template.Render(data)
	if err != nil {
		return
	}
	if !n.shouldSend(incident.ID, eventType, content) {
		return
	}
	if err := n.channel.Send(ctx, content); err != nil {
		return
	}
	n.markSent(incident.ID, eventType, content)
}

func (n *Notifier) scheduleEscalation(incident incidents.Incident) {
	if n == nil || n.escalation <= 0 || incident.ID == "" {
		return
	}
	if !severityAtLeast(SeverityFor(incident.ConditionType), "high") {
		return
	}
	n.mu.Lock()
	if existing, ok := n.timers[incident.ID]; ok {
		if existing != nil {
			existing.Stop()
		}
	}
	timer := time.AfterFunc(n.escalation, func() {
		n.runEscalation(incident.ID)
	})
	n.timers[incident.ID] = timer
	n.mu.Unlock()
}

func (n *Notifier) cancelEscalation(incidentID string) {
	if n == nil || incidentID == "" {
		return
	}
	n.mu.Lock()
	timer := n.timers[incidentID]
	delete(n.timers, incidentID)
	n.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (n *Notifier) runEscalation(incidentID string) {
	if n == nil || incidentID == "" {
		return
	}
	n.mu.Lock()
	delete(n.timers, incidentID)
	n.mu.Unlock()

	ctx := context.Background()
	if n.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.requestTimeout)
		defer cancel()
	}

	incident, err := n.incidents.GetByID(ctx, incidentID)
	if err != nil || incident == nil {
		return
	}
	if !incident.Active || incident.Acknowledged {
		return
	}
	device := n.lookupDevice(ctx, incident.Device)
	n.dispatch(ctx, "escalated", *incident, device)
}

func buildTemplateData(eventType string, incident incidents.Incident, device *devices.Device, detailURL string) TemplateData {
	deviceName := incident.Device
	if device != nil && device.Name != "" {
		deviceName = device.Name
	}
	location := incident.Location
	if location == "" && device != nil {
		location = device.Location
	}
	startAt := incident.StartTime
	if startAt.IsZero() {
		startAt = incident.CreatedAt
	}
	status := "active"
	if !incident.Active {
		status = "resolved"
	} else if incident.Acknowledged {
		status = "acknowledged"
	}
	severity := SeverityFor(incident.ConditionType)

	return TemplateData{
		Device:      deviceName,
		DeviceID:    incident.Device,
		Location:    location,
		Condition:   conditionLabel(incident.ConditionType),
		Value:       formatFloat(incident.Value),
		Threshold:   formatFloat(incident.Threshold),
		StartTime:   startAt.UTC().Format(time.RFC3339),
		Status:      status,
		Severity:    severity,
		Suggestion:  suggestionFor(severity),
		Description: incident.Description,
		DetailURL:   detailURL,
		Event:       eventType,
		EventLabel:  eventLabel(eventType),
	}
}

func conditionLabel(condition incidents.ConditionType) string {
	switch condition {
	case incidents.ConditionHighCurrent:
		return "High Current"
	case incidents.ConditionLowPressure:
		return "Low Pressure"
	case incidents.ConditionLowTemperature:
		return "Low Temperature"
	case incidents.ConditionSensorError:
		return "Sensor Error"
	case incidents.ConditionSystemError:
		return "System Error"
	case incidents.ConditionMissingData:
		return "Missing Data"
	default:
		return string(condition)
	}
}

func eventLabel(event string) string {
	switch event {
	case "created":
		return "Opened"
	case "updated":
		return "Updated"
	case "resolved":
		return "Resolved"
	case "escalated":
		return "Escalated"
	default:
		return event
	}
}

// SeverityFor maps a condition type onto a notification severity.
func SeverityFor(condition incidents.ConditionType) string {
	switch condition {
	case incidents.ConditionSensorError, incidents.ConditionSystemError:
		return "critical"
	case incidents.ConditionHighCurrent:
		return "high"
	case incidents.ConditionLowPressure, incidents.ConditionLowTemperature:
		return "medium"
	case incidents.ConditionMissingData:
		return "medium"
	default:
		return "low"
	}
}

func suggestionFor(severity string) string {
	switch strings.TrimSpace(strings.ToLower(severity)) {
	case "critical", "high":
		return "Dispatch a technician and inspect the pump immediately."
	case "medium":
		return "Verify the condition and take action if needed."
	default:
		return "Monitor the condition."
	}
}

func severityAtLeast(value, target string) bool {
	return severityRank(value) >= severityRank(target)
}

func severityRank(value string) int {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "critical":
		return 4
	case "high":
		return 3
	case "medium":
		return 2
	case "low":
		return 1
	default:
		return 0
	}
}

func formatFloat(value float64) string {
	return fmt.Sprintf("%.2f", value)
}

func (n *Notifier) shouldSend(incidentID, eventType, content string) bool {
	if n == nil {
		return false
	}
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	key := notificationKey(incidentID, eventType)
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(incidentID, eventType, content string) {
	if n == nil {
		return
	}
	key := notificationKey(incidentID, eventType)
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func notificationKey(incidentID, eventType string) string {
	return incidentID + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
