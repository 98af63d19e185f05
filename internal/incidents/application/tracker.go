package application

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	incidents "pumpwatch/internal/incidents/domain"
	"pumpwatch/internal/observability/metrics"
)

// KeyTx exposes the storage mutations available inside one per-key
// transaction. All calls operate on the (device, condition type) key the
// transaction was opened for.
type KeyTx interface {
	FindOpen(ctx context.Context) ([]incidents.Incident, error)
	Create(ctx context.Context, incident *incidents.Incident) error
	Refresh(ctx context.Context, id string, at time.Time, value float64, durationMillis int64, description string) error
	Resolve(ctx context.Context, id string, at time.Time, durationMillis int64) error
}

// Store is the storage capability the tracker depends on. WithinKey runs fn
// atomically with respect to every other WithinKey call for the same
// (device, condition type) key; this is what keeps two concurrent active
// reports from both observing "no open incident".
type Store interface {
	WithinKey(ctx context.Context, device string, condition incidents.ConditionType, fn func(ctx context.Context, tx KeyTx) error) error
	GetByID(ctx context.Context, id string) (*incidents.Incident, error)
	MarkAcknowledged(ctx context.Context, id, actor string, at time.Time) error
	MarkResolved(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context, device, status string, from, to time.Time) ([]incidents.Incident, error)
}

// Notifier publishes incident lifecycle events.
type Notifier interface {
	Notify(ctx context.Context, event IncidentEvent)
}

// IncidentEvent represents a lifecycle update.
type IncidentEvent struct {
	Type     string             `json:"type"`
	Incident incidents.Incident `json:"incident"`
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Tracker turns a stream of condition reports into deduplicated incident
// records, keeping at most one open incident per (device, condition type).
type Tracker struct {
	store    Store
	notifier Notifier
	clock    Clock
	logger   *log.Logger
}

// TrackerOption customizes the tracker.
type TrackerOption func(*Tracker)

// WithNotifier assigns a notifier.
func WithNotifier(notifier Notifier) TrackerOption {
	return func(t *Tracker) {
		t.notifier = notifier
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) TrackerOption {
	return func(t *Tracker) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// NewTracker constructs a tracker.
func NewTracker(store Store, logger *log.Logger, opts ...TrackerOption) (*Tracker, error) {
	if store == nil {
		return nil, errors.New("incidents: nil store")
	}
	if logger == nil {
		logger = log.Default()
	}
	tracker := &Tracker{
		store:  store,
		clock:  systemClock{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(tracker)
	}
	return tracker, nil
}

// Submit applies one condition report. The decision and its mutation run in
// a single per-key transaction; the outcome says which branch was taken.
// Re-submitting the same report content is safe: an active report refreshes
// the same open incident, a clear with nothing open is a no-op.
func (t *Tracker) Submit(ctx context.Context, report incidents.Report) (incidents.Outcome, error) {
	if t == nil {
		return incidents.Outcome{}, errors.New("incidents: nil tracker")
	}
	if err := report.Validate(); err != nil {
		return incidents.Outcome{}, err
	}

	var (
		outcome incidents.Outcome
		event   *IncidentEvent
	)
	err := t.store.WithinKey(ctx, report.Device, report.ConditionType, func(ctx context.Context, tx KeyTx) error {
		open, err := tx.FindOpen(ctx)
		if err != nil {
			return err
		}
		current := t.authoritative(report, open)

		if report.Active {
			if current != nil {
				at := report.Timestamp.UTC()
				if err := tx.Refresh(ctx, current.ID, at, report.Value, report.DurationMillis, report.Description); err != nil {
					return err
				}
				outcome = incidents.Outcome{Kind: incidents.OutcomeUpdated, IncidentID: current.ID}
				return nil
			}
			now := t.clock.Now().UTC()
			incident := &incidents.Incident{
				ID:             newIncidentID(),
				Device:         report.Device,
				ConditionType:  report.ConditionType,
				Location:       report.Location,
				Value:          report.Value,
				Threshold:      report.Threshold,
				Description:    report.Description,
				StartTime:      report.StartTime.UTC(),
				Timestamp:      report.Timestamp.UTC(),
				DurationMillis: report.DurationMillis,
				Active:         true,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := tx.Create(ctx, incident); err != nil {
				return err
			}
			outcome = incidents.Outcome{Kind: incidents.OutcomeCreated, IncidentID: incident.ID}
			event = &IncidentEvent{Type: "created", Incident: *incident}
			return nil
		}

		if current == nil {
			outcome = incidents.Outcome{Kind: incidents.OutcomeNoOpClear}
			return nil
		}
		at := report.Timestamp.UTC()
		if err := tx.Resolve(ctx, current.ID, at, report.DurationMillis); err != nil {
			return err
		}
		resolved := *current
		resolved.Active = false
		resolved.Timestamp = at
		resolved.DurationMillis = report.DurationMillis
		resolved.UpdatedAt = at
		outcome = incidents.Outcome{Kind: incidents.OutcomeResolved, IncidentID: current.ID}
		event = &IncidentEvent{Type: "resolved", Incident: resolved}
		return nil
	})
	if err != nil {
		return incidents.Outcome{}, err
	}

	metrics.IncIncidentOutcome(string(outcome.Kind))
	if event != nil {
		t.notify(ctx, *event)
	}
	return outcome, nil
}

// Acknowledge marks an incident as seen by an operator. Active state is
// untouched; a second acknowledge is a no-op.
func (t *Tracker) Acknowledge(ctx context.Context, id, actor string) (*incidents.Incident, error) {
	if t == nil {
		return nil, errors.New("incidents: nil tracker")
	}
	if id == "" {
		return nil, errors.New("incidents: incident id required")
	}
	if actor == "" {
		return nil, errors.New("incidents: actor required")
	}
	incident, err := t.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident == nil {
		return nil, incidents.ErrNotFound
	}
	if incident.Acknowledged {
		return incident, nil
	}
	ackedAt := t.clock.Now().UTC()
	if err := t.store.MarkAcknowledged(ctx, incident.ID, actor, ackedAt); err != nil {
		return nil, err
	}
	incident.Acknowledged = true
	incident.AcknowledgedAt = ackedAt
	incident.AcknowledgedBy = actor
	incident.UpdatedAt = ackedAt
	t.notify(ctx, IncidentEvent{Type: "acknowledged", Incident: *incident})
	return incident, nil
}

// ResolveManually forces an incident inactive without a device report.
// Resolving an already-resolved incident is a no-op.
func (t *Tracker) ResolveManually(ctx context.Context, id string) (*incidents.Incident, error) {
	if t == nil {
		return nil, errors.New("incidents: nil tracker")
	}
	if id == "" {
		return nil, errors.New("incidents: incident id required")
	}
	incident, err := t.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident == nil {
		return nil, incidents.ErrNotFound
	}
	if !incident.Active {
		return incident, nil
	}
	resolvedAt := t.clock.Now().UTC()
	if err := t.store.MarkResolved(ctx, incident.ID, resolvedAt); err != nil {
		return nil, err
	}
	incident.Active = false
	incident.Timestamp = resolvedAt
	incident.UpdatedAt = resolvedAt
	t.notify(ctx, IncidentEvent{Type: "resolved", Incident: *incident})
	return incident, nil
}

// GetByID loads a single incident.
func (t *Tracker) GetByID(ctx context.Context, id string) (*incidents.Incident, error) {
	if t == nil {
		return nil, errors.New("incidents: nil tracker")
	}
	return t.store.GetByID(ctx, id)
}

// ListIncidents returns incidents filtered by device, status and time window.
func (t *Tracker) ListIncidents(ctx context.Context, device, status string, from, to time.Time) ([]incidents.Incident, error) {
	if t == nil {
		return nil, errors.New("incidents: nil tracker")
	}
	return t.store.List(ctx, device, status, from.UTC(), to.UTC())
}

// authoritative picks the open incident to operate on. The model allows at
// most one; more than one means storage is inconsistent, which is surfaced
// to operators and never silently repaired. The most recently touched row
// wins.
func (t *Tracker) authoritative(report incidents.Report, open []incidents.Incident) *incidents.Incident {
	if len(open) == 0 {
		return nil
	}
	latest := open[0]
	for _, candidate := range open[1:] {
		if candidate.Timestamp.After(latest.Timestamp) {
			latest = candidate
		}
	}
	if len(open) > 1 {
		metrics.IncIncidentInvariantViolation()
		t.logger.Printf("incidents: invariant violation: %d open incidents for device=%s type=%s, using %s",
			len(open), report.Device, report.ConditionType, latest.ID)
	}
	return &latest
}

func (t *Tracker) notify(ctx context.Context, event IncidentEvent) {
	if t == nil {
		return
	}
	metrics.IncIncidentEvent(event.Type)
	if t.notifier == nil {
		return
	}
	t.notifier.Notify(ctx, event)
}

func newIncidentID() string {
	return "inc-" + uuid.NewString()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
