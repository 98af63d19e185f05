package retention

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"pumpwatch/internal/incidents/application"
	incidents "pumpwatch/internal/incidents/domain"
	"pumpwatch/internal/incidents/infrastructure/memory"
)

type stubClock struct {
	now time.Time
}

func (s *stubClock) Now() time.Time { return s.now }

func submit(t *testing.T, tracker *application.Tracker, device string, at time.Time, active bool) {
	t.Helper()
	report := incidents.Report{
		Device:        device,
		ConditionType: incidents.ConditionLowPressure,
		Timestamp:     at,
		StartTime:     at.Add(-time.Minute),
		Value:         1.2,
		Threshold:     2.0,
		Active:        active,
		Description:   "pressure below threshold",
		Location:      "field-3",
	}
	if !active {
		report.StartTime = time.Time{}
		report.DurationMillis = 60000
	}
	if _, err := tracker.Submit(context.Background(), report); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func TestJanitorPrunesOldInactiveOnly(t *testing.T) {
	store := memory.NewIncidentRepository()
	tracker, err := application.NewTracker(store, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	ctx := context.Background()

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	submit(t, tracker, "pump-01", old, true)
	submit(t, tracker, "pump-01", old.Add(time.Minute), false)

	recent := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	submit(t, tracker, "pump-02", recent, true)
	submit(t, tracker, "pump-02", recent.Add(time.Minute), false)

	// Still open, must survive any retention pass.
	submit(t, tracker, "pump-03", old, true)

	clock := &stubClock{now: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)}
	janitor, err := NewJanitor(store, 30*24*time.Hour, log.New(io.Discard, "", 0), WithClock(clock))
	if err != nil {
		t.Fatalf("new janitor: %v", err)
	}

	removed, err := janitor.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	remaining, err := store.List(ctx, "", "", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 remaining incidents, got %d", len(remaining))
	}
	for _, incident := range remaining {
		if incident.Device == "pump-01" {
			t.Fatalf("old inactive incident should have been pruned: %+v", incident)
		}
	}
}

func TestJanitorRejectsBadConfig(t *testing.T) {
	if _, err := NewJanitor(nil, time.Hour, nil); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := NewJanitor(memory.NewIncidentRepository(), 0, nil); err == nil {
		t.Fatal("expected error for zero max age")
	}
}
