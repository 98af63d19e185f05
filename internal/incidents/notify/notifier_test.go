package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	devices "pumpwatch/internal/devices/domain"
	"pumpwatch/internal/incidents/application"
	incidents "pumpwatch/internal/incidents/domain"
)

type stubIncidentRepo struct {
	incident *incidents.Incident
}

func (s stubIncidentRepo) GetByID(_ context.Context, _ string) (*incidents.Incident, error) {
	return s.incident, nil
}

type stubDeviceRepo struct {
	device *devices.Device
}

func (s stubDeviceRepo) Get(_ context.Context, _ string) (*devices.Device, error) {
	return s.device, nil
}

func sampleIncident(active bool) *incidents.Incident {
	return &incidents.Incident{
		ID:            "inc-1",
		Device:        "pump-07",
		ConditionType: incidents.ConditionHighCurrent,
		Location:      "field-3",
		Value:         14.2,
		Threshold:     10,
		Description:   "current above threshold",
		StartTime:     time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC),
		Timestamp:     time.Date(2026, 3, 10, 8, 0, 30, 0, time.UTC),
		Active:        active,
		CreatedAt:     time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC),
	}
}

func TestWebhookNotifierPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	tpl, err := NewTemplate("")
	if err != nil {
		t.Fatalf("new template: %v", err)
	}

	incident := sampleIncident(true)
	device := &devices.Device{ID: "pump-07", Name: "Pump 07", Location: "field-3"}

	notifier, err := NewNotifier(
		stubIncidentRepo{incident: incident},
		channel,
		tpl,
		WithDeviceReader(stubDeviceRepo{device: device}),
		WithDetailURLResolver(func(_ context.Context, _ incidents.Incident) string {
			return "http://example.com/incidents/inc-1"
		}),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), application.IncidentEvent{Type: "created", Incident: *incident})

	select {
	case payload := <-payloadCh:
		if payload.MsgType != "text" {
			t.Fatalf("expected msgtype text, got %s", payload.MsgType)
		}
		content := payload.Text.Content
		checks := []string{
			"[Incident Opened]",
			"Device: Pump 07",
			"Condition: High Current",
			"Reported Value: 14.20",
			"Threshold: 10.00",
			"Start Time: 2026-03-10T08:00:00Z",
			"Current Status: active",
			"Severity: high",
			"Suggestion:",
			"Details: http://example.com/incidents/inc-1",
		}
		for _, expected := range checks {
			if !strings.Contains(content, expected) {
				t.Fatalf("expected content to include %q, got %s", expected, content)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for webhook payload")
	}
}

type recordingChannel struct {
	mu       sync.Mutex
	contents []string
}

func (r *recordingChannel) Send(_ context.Context, content string) error {
	r.mu.Lock()
	r.contents = append(r.contents, content)
	r.mu.Unlock()
	return nil
}

func (r *recordingChannel) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contents)
}

func (r *recordingChannel) Latest() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.contents) == 0 {
		return ""
	}
	return r.contents[len(r.contents)-1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestNotifierCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	incident := sampleIncident(true)

	notifier, err := NewNotifier(
		stubIncidentRepo{incident: incident},
		channel,
		nil,
		WithClock(clock),
		WithCooldown(10*time.Minute),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), application.IncidentEvent{Type: "created", Incident: *incident})
	notifier.Notify(context.Background(), application.IncidentEvent{Type: "created", Incident: *incident})
	if got := channel.Count(); got != 1 {
		t.Fatalf("expected 1 notification during cooldown, got %d", got)
	}

	clock.Add(11 * time.Minute)
	notifier.Notify(context.Background(), application.IncidentEvent{Type: "created", Incident: *incident})
	if got := channel.Count(); got != 2 {
		t.Fatalf("expected 2 notifications after cooldown, got %d", got)
	}
}

func TestNotifierDedupeWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	incident := sampleIncident(true)

	notifier, err := NewNotifier(
		stubIncidentRepo{incident: incident},
		channel,
		nil,
		WithClock(clock),
		WithDedupeWindow(30*time.Minute),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), application.IncidentEvent{Type: "created", Incident: *incident})
	clock.Add(5 * time.Minute)
	notifier.Notify(context.Background(), application.IncidentEvent{Type: "created", Incident: *incident})
	if got := channel.Count(); got != 1 {
		t.Fatalf("expected 1 notification during dedupe window, got %d", got)
	}

	incident.Value = 16.7
	notifier.Notify(context.Background(), application.IncidentEvent{Type: "created", Incident: *incident})
	if got := channel.Count(); got != 2 {
		t.Fatalf("expected notification when content changes, got %d", got)
	}
}

func TestNotifierEscalatesUnacknowledged(t *testing.T) {
	channel := &recordingChannel{}
	incident := sampleIncident(true)

	notifier, err := NewNotifier(
		stubIncidentRepo{incident: incident},
		channel,
		nil,
		WithEscalation(20*time.Millisecond),
		WithRequestTimeout(200*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), application.IncidentEvent{Type: "created", Incident: *incident})

	deadline := time.After(300 * time.Millisecond)
	for {
		if channel.Count() >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected escalation notification, got %d", channel.Count())
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	if !strings.Contains(channel.Latest(), "Escalated") {
		t.Fatalf("expected escalated notification content, got %s", channel.Latest())
	}
}

func TestNotifierSkipsEscalationWhenAcknowledged(t *testing.T) {
	channel := &recordingChannel{}
	incident := sampleIncident(true)
	incident.Acknowledged = true

	notifier, err := NewNotifier(
		stubIncidentRepo{incident: incident},
		channel,
		nil,
		WithEscalation(20*time.Millisecond),
		WithRequestTimeout(200*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), application.IncidentEvent{Type: "created", Incident: *incident})

	time.Sleep(100 * time.Millisecond)
	if got := channel.Count(); got != 1 {
		t.Fatalf("expected no escalation for acknowledged incident, got %d notifications", got)
	}
}
